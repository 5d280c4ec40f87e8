package memory

import (
	"context"
	"testing"

	"quizbot/internal/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	if _, ok, err := store.Get(ctx, 1); ok || err != nil {
		t.Fatalf("expected absent session, got ok=%v err=%v", ok, err)
	}

	sess := domain.NewAttempt(0).WithPendingPoll("p1", 1)
	if err := store.Put(ctx, 1, sess); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := store.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("expected session present, ok=%v err=%v", ok, err)
	}
	if !got.Equal(sess) {
		t.Fatalf("expected %+v, got %+v", sess, got)
	}

	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, 1); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestSessionStoreSaveDropsIdleSessions(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	_ = store.Put(ctx, 2, domain.NewAttempt(1))

	err := store.Save(ctx, map[int64]domain.UserSession{
		1: domain.NewAttempt(0),
		2: domain.DefaultSession(),
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetMany(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only user 1, got %+v", got)
	}
	if _, ok := got[1]; !ok {
		t.Fatalf("expected user 1 present")
	}
}
