package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"quizbot/internal/domain"
)

// SessionStore persists user sessions as fields of a single Redis hash:
//
//	HSET {namespace} user:{id} {"<poll_id>":n,"score":n,"number":n,"quiz_number":n}
//
// One namespace key per deployment keeps every user reachable in one round
// trip (HMGET) and one pipelined write.
type SessionStore struct {
	client    *redis.Client
	namespace string
	log       *slog.Logger
	resets    atomic.Int64
}

func NewSessionStore(client *redis.Client, namespace string, log *slog.Logger) *SessionStore {
	if log == nil {
		log = slog.Default()
	}
	return &SessionStore{
		client:    client,
		namespace: namespace,
		log:       log.With("component", "session.store"),
	}
}

// Ping checks connectivity. Failure is not fatal for callers: every operation
// degrades on its own.
func (s *SessionStore) Ping(ctx context.Context) error {
	return classify(s.client.Ping(ctx).Err())
}

func (s *SessionStore) Get(ctx context.Context, userID int64) (domain.UserSession, bool, error) {
	raw, err := s.client.HGet(ctx, s.namespace, userField(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.UserSession{}, false, nil
	}
	if err != nil {
		return domain.UserSession{}, false, classify(err)
	}
	sess, ok := s.decode(ctx, userID, raw)
	return sess, ok, nil
}

// GetMany loads several users with one HMGET. Users without a record are
// omitted. A failed batch degrades every user to absent; only a done context
// is returned as an error.
func (s *SessionStore) GetMany(ctx context.Context, userIDs []int64) (map[int64]domain.UserSession, error) {
	out := make(map[int64]domain.UserSession, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	fields := make([]string, len(userIDs))
	for i, id := range userIDs {
		fields[i] = userField(id)
	}
	values, err := s.client.HMGet(ctx, s.namespace, fields...).Result()
	if err != nil {
		err = classify(err)
		if !domain.IsTransient(err) {
			return nil, err
		}
		s.log.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "store.get_many.degraded"),
			slog.Int("users", len(userIDs)),
			slog.String("err", err.Error()),
		)
		return out, nil
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if sess, ok := s.decode(ctx, userIDs[i], []byte(raw)); ok {
			out[userIDs[i]] = sess
		}
	}
	return out, nil
}

// Put overwrites one user's record.
func (s *SessionStore) Put(ctx context.Context, userID int64, session domain.UserSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session for user %d: %w", userID, err)
	}
	return s.writeWithRecovery(ctx, map[string]interface{}{userField(userID): raw}, nil)
}

// Save writes a batch in one pipeline: in-progress sessions are stored, idle
// sessions are removed.
func (s *SessionStore) Save(ctx context.Context, batch map[int64]domain.UserSession) error {
	if len(batch) == 0 {
		return nil
	}
	values := make(map[string]interface{}, len(batch))
	var deletes []string
	for id, sess := range batch {
		if !sess.InProgress() {
			deletes = append(deletes, userField(id))
			continue
		}
		raw, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session for user %d: %w", id, err)
		}
		values[userField(id)] = raw
	}
	return s.writeWithRecovery(ctx, values, deletes)
}

// Delete removes a user's record. Deleting an absent record succeeds.
func (s *SessionStore) Delete(ctx context.Context, userID int64) error {
	return classify(s.client.HDel(ctx, s.namespace, userField(userID)).Err())
}

// Resets reports how many times the namespace key had to be recreated.
func (s *SessionStore) Resets() int64 {
	return s.resets.Load()
}

func (s *SessionStore) writeWithRecovery(ctx context.Context, values map[string]interface{}, deletes []string) error {
	err := s.write(ctx, values, deletes)
	if !isConflict(err) {
		return classify(err)
	}

	// The namespace key holds a non-hash value. Recreating it drops every other
	// user's record, so it is logged loudly and only retried once.
	n := s.resets.Add(1)
	level := slog.LevelWarn
	if n > 1 {
		level = slog.LevelError
	}
	s.log.LogAttrs(ctx, level, "",
		slog.String("event", "store.namespace_reset"),
		slog.String("namespace", s.namespace),
		slog.Int64("resets", n),
		slog.String("err", err.Error()),
	)
	if err := s.client.Del(ctx, s.namespace).Err(); err != nil {
		return classify(err)
	}
	return classify(s.write(ctx, values, deletes))
}

func (s *SessionStore) write(ctx context.Context, values map[string]interface{}, deletes []string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(values) > 0 {
			pipe.HSet(ctx, s.namespace, values)
		}
		if len(deletes) > 0 {
			pipe.HDel(ctx, s.namespace, deletes...)
		}
		return nil
	})
	return err
}

func (s *SessionStore) decode(ctx context.Context, userID int64, raw []byte) (domain.UserSession, bool) {
	var sess domain.UserSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "store.decode_failed"),
			slog.Int64("user_id", userID),
			slog.String("err", err.Error()),
		)
		return domain.UserSession{}, false
	}
	return sess, true
}

func userField(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func isConflict(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

// classify wraps backend failures as transient. A done context is returned
// unchanged so the caller's deadline stays visible.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
