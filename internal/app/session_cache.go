package app

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"quizbot/internal/domain"
)

// SessionStore abstracts where user sessions are persisted (Redis, in-memory).
type SessionStore interface {
	Get(ctx context.Context, userID int64) (domain.UserSession, bool, error)
	GetMany(ctx context.Context, userIDs []int64) (map[int64]domain.UserSession, error)
	Put(ctx context.Context, userID int64, session domain.UserSession) error
	Save(ctx context.Context, batch map[int64]domain.UserSession) error
	Delete(ctx context.Context, userID int64) error
}

// SessionCache keeps the working set of active users for one execution (or a
// long-lived process) and defers every write until Flush.
type SessionCache struct {
	store SessionStore
	log   *slog.Logger
	sf    singleflight.Group

	mu       sync.Mutex
	active   map[int64]struct{}
	sessions map[int64]domain.UserSession
	dirty    map[int64]struct{}

	// epoch advances on every Forget. forgotten holds the epoch at which a user
	// was last forgotten, kept while any hydration is in flight.
	epoch     uint64
	forgotten map[int64]uint64
	inflight  int
}

type hydration struct {
	loaded map[int64]domain.UserSession
	epoch  uint64
}

func NewSessionCache(store SessionStore, log *slog.Logger) *SessionCache {
	if log == nil {
		log = slog.Default()
	}
	return &SessionCache{
		store:    store,
		log:      log.With("component", "session.cache"),
		active:   make(map[int64]struct{}),
		sessions: make(map[int64]domain.UserSession),
		dirty:    make(map[int64]struct{}),

		forgotten: make(map[int64]uint64),
	}
}

// maxHydrateRounds bounds how often MarkActive refetches a user whose batch
// started before that user was last forgotten.
const maxHydrateRounds = 3

// MarkActive adds userID to the active set and hydrates every active user that
// has no cached session yet. Already cached users are never overwritten, and a
// user forgotten while a batch was in flight only takes data fetched after that.
func (c *SessionCache) MarkActive(ctx context.Context, userID int64) error {
	c.mu.Lock()
	c.active[userID] = struct{}{}
	c.mu.Unlock()

	for round := 0; round < maxHydrateRounds; round++ {
		c.mu.Lock()
		missing := c.missingLocked()
		_, cached := c.sessions[userID]
		if len(missing) == 0 || (round > 0 && cached) {
			c.mu.Unlock()
			return nil
		}
		c.inflight++
		c.mu.Unlock()

		err := c.hydrate(ctx, missing)

		c.mu.Lock()
		c.inflight--
		if c.inflight == 0 {
			clear(c.forgotten)
		}
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	c.log.LogAttrs(ctx, slog.LevelWarn, "",
		slog.String("event", "cache.hydrate.gave_up"),
		slog.Int64("user_id", userID),
	)
	return nil
}

func (c *SessionCache) hydrate(ctx context.Context, missing []int64) error {
	// Concurrent callers that see the same missing set share one round trip,
	// which must not depend on whichever caller started it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(setKey(missing), func() (interface{}, error) {
		c.mu.Lock()
		epoch := c.epoch
		c.mu.Unlock()
		loaded, err := c.store.GetMany(fetchCtx, missing)
		return hydration{loaded: loaded, epoch: epoch}, err
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-ch:
	}

	h, _ := res.Val.(hydration)
	if res.Err != nil {
		if !domain.IsTransient(res.Err) {
			return res.Err
		}
		c.log.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "cache.hydrate.degraded"),
			slog.String("err", res.Err.Error()),
		)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	merged := 0
	for _, id := range missing {
		if _, ok := c.sessions[id]; ok {
			continue
		}
		if _, ok := c.active[id]; !ok {
			continue
		}
		if at, ok := c.forgotten[id]; ok && at > h.epoch {
			continue
		}
		if sess, ok := h.loaded[id]; ok {
			c.sessions[id] = sess.Clone()
		} else {
			c.sessions[id] = domain.DefaultSession()
		}
		merged++
	}
	c.log.LogAttrs(ctx, slog.LevelDebug, "",
		slog.String("event", "cache.hydrate"),
		slog.Int("requested", len(missing)),
		slog.Int("found", len(h.loaded)),
		slog.Int("merged", merged),
	)
	return nil
}

func (c *SessionCache) missingLocked() []int64 {
	var missing []int64
	for id := range c.active {
		if _, ok := c.sessions[id]; !ok {
			missing = append(missing, id)
		}
	}
	slices.Sort(missing)
	return missing
}

// Get returns the cached session or the default idle session. It never reads
// the store; call MarkActive first to see persisted data.
func (c *SessionCache) Get(userID int64) domain.UserSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[userID]; ok {
		return sess.Clone()
	}
	return domain.DefaultSession()
}

// Update replaces the cached session. It reports false (and does not mark the
// user dirty) when the value equals what is already cached.
func (c *SessionCache) Update(userID int64, session domain.UserSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.sessions[userID]
	if !ok {
		current = domain.DefaultSession()
	}
	if current.Equal(session) {
		if !ok {
			c.sessions[userID] = current
		}
		return false
	}
	c.sessions[userID] = session.Clone()
	c.dirty[userID] = struct{}{}
	return true
}

// Dirty reports how many users have unflushed changes.
func (c *SessionCache) Dirty() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

// Flush writes every dirty session to the store in one batch. Transient store
// failures keep the entries dirty for the next flush and are not returned.
func (c *SessionCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.dirty) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := make(map[int64]domain.UserSession, len(c.dirty))
	for id := range c.dirty {
		batch[id] = c.sessions[id].Clone()
	}
	c.dirty = make(map[int64]struct{})
	c.mu.Unlock()

	err := c.store.Save(ctx, batch)
	if err == nil {
		c.log.LogAttrs(ctx, slog.LevelDebug, "",
			slog.String("event", "cache.flush"),
			slog.Int("sessions", len(batch)),
		)
		return nil
	}

	c.mu.Lock()
	for id, written := range batch {
		// A newer update already re-marked the user dirty with a fresher value.
		if _, again := c.dirty[id]; again {
			continue
		}
		if cur, ok := c.sessions[id]; ok && cur.Equal(written) {
			c.dirty[id] = struct{}{}
		}
	}
	c.mu.Unlock()

	if domain.IsTransient(err) {
		c.log.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "cache.flush.degraded"),
			slog.Int("sessions", len(batch)),
			slog.String("err", err.Error()),
		)
		return nil
	}
	return err
}

// Forget drops a clean user from the working set. Dirty users are kept until
// flushed.
func (c *SessionCache) Forget(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dirty := c.dirty[userID]; dirty {
		return
	}
	delete(c.active, userID)
	delete(c.sessions, userID)
	c.epoch++
	if c.inflight > 0 {
		c.forgotten[userID] = c.epoch
	}
}

// Active reports whether userID is in the active set.
func (c *SessionCache) Active(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[userID]
	return ok
}

func setKey(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
