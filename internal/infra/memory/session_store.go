package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"quizbot/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. Records are
// kept JSON-encoded, exactly as the Redis store writes them.
type SessionStore struct {
	mu      sync.RWMutex
	records map[int64][]byte
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		records: make(map[int64][]byte),
	}
}

func (s *SessionStore) Get(_ context.Context, userID int64) (domain.UserSession, bool, error) {
	s.mu.RLock()
	raw, ok := s.records[userID]
	s.mu.RUnlock()
	if !ok {
		return domain.UserSession{}, false, nil
	}
	var sess domain.UserSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return domain.UserSession{}, false, nil
	}
	return sess, true, nil
}

func (s *SessionStore) GetMany(ctx context.Context, userIDs []int64) (map[int64]domain.UserSession, error) {
	out := make(map[int64]domain.UserSession, len(userIDs))
	for _, id := range userIDs {
		if sess, ok, _ := s.Get(ctx, id); ok {
			out[id] = sess
		}
	}
	return out, nil
}

func (s *SessionStore) Put(_ context.Context, userID int64, session domain.UserSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	s.mu.Lock()
	s.records[userID] = raw
	s.mu.Unlock()
	return nil
}

// Save stores in-progress sessions and removes idle ones.
func (s *SessionStore) Save(ctx context.Context, batch map[int64]domain.UserSession) error {
	for id, sess := range batch {
		if !sess.InProgress() {
			_ = s.Delete(ctx, id)
			continue
		}
		if err := s.Put(ctx, id, sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
	return nil
}

// Len reports how many user records are stored.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
