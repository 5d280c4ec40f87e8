package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizbot/internal/app"
	"quizbot/internal/domain"
)

func TestGetUnknownUserReturnsDefault(t *testing.T) {
	cache := app.NewSessionCache(newCountingStore(), nil)
	require.NoError(t, cache.MarkActive(context.Background(), 10))

	for _, id := range []int64{10, 11} {
		sess := cache.Get(id)
		assert.Equal(t, 0, sess.Score)
		assert.False(t, sess.InProgress())
		assert.Empty(t, sess.PendingPolls)
	}
}

func TestGetBeforeMarkActiveDoesNotTouchStore(t *testing.T) {
	store := newCountingStore()
	require.NoError(t, store.Put(context.Background(), 1, domain.NewAttempt(0)))
	cache := app.NewSessionCache(store, nil)

	assert.False(t, cache.Get(1).InProgress())
	getMany, _, _ := store.counts()
	assert.Zero(t, getMany)

	require.NoError(t, cache.MarkActive(context.Background(), 1))
	assert.True(t, cache.Get(1).InProgress())
}

func TestUpdateThenGetReadsYourWrites(t *testing.T) {
	cache := app.NewSessionCache(newCountingStore(), nil)
	sess := domain.NewAttempt(1).WithPendingPoll("p", 2)
	sess.Score = 4

	assert.True(t, cache.Update(3, sess))
	got := cache.Get(3)
	assert.True(t, sess.Equal(got))

	// Returned values are copies.
	got.PendingPolls["q"] = 1
	assert.Len(t, cache.Get(3).PendingPolls, 1)
}

func TestUpdateWithEqualValueDoesNotDirty(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	cache := app.NewSessionCache(store, nil)
	sess := domain.NewAttempt(0).WithPendingPoll("p", 1)

	require.True(t, cache.Update(1, sess))
	require.NoError(t, cache.Flush(ctx))
	_, saves, written := store.counts()
	require.Equal(t, 1, saves)
	require.Equal(t, 1, written)

	assert.False(t, cache.Update(1, sess.Clone()))
	assert.Zero(t, cache.Dirty())
	require.NoError(t, cache.Flush(ctx))
	_, saves, written = store.counts()
	assert.Equal(t, 1, saves)
	assert.Equal(t, 1, written)

	// Default value for an unknown user is also a no-op.
	assert.False(t, cache.Update(2, domain.DefaultSession()))
}

func TestFlushThenFreshCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	sess := domain.NewAttempt(1).WithPendingPoll("poll-9", 0)
	sess.Score = 1
	sess.QuestionNumber = 1

	first := app.NewSessionCache(store, nil)
	require.NoError(t, first.MarkActive(ctx, 5))
	first.Update(5, sess)
	require.NoError(t, first.Flush(ctx))

	second := app.NewSessionCache(store, nil)
	require.NoError(t, second.MarkActive(ctx, 5))
	assert.True(t, sess.Equal(second.Get(5)))
}

func TestMarkActiveNeverOverwritesCachedSession(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	require.NoError(t, store.Put(ctx, 1, domain.NewAttempt(0)))

	cache := app.NewSessionCache(store, nil)
	local := domain.NewAttempt(1)
	cache.Update(1, local)

	require.NoError(t, cache.MarkActive(ctx, 1))
	require.NoError(t, cache.MarkActive(ctx, 2))
	assert.Equal(t, 1, *cache.Get(1).QuizIndex)

	getMany, _, _ := store.counts()
	// User 1 was cached already, so only user 2 needed hydration.
	assert.Equal(t, 1, getMany)
}

func TestMarkActiveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	cache := app.NewSessionCache(store, nil)

	require.NoError(t, cache.MarkActive(ctx, 1))
	require.NoError(t, cache.MarkActive(ctx, 1))
	getMany, _, _ := store.counts()
	assert.Equal(t, 1, getMany)
	assert.True(t, cache.Active(1))
}

func TestFlushTransientFailureKeepsDirty(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.failSave = domain.ErrStoreUnavailable
	cache := app.NewSessionCache(store, nil)
	cache.Update(1, domain.NewAttempt(0))

	require.NoError(t, cache.Flush(ctx))
	assert.Equal(t, 1, cache.Dirty())

	store.failSave = nil
	require.NoError(t, cache.Flush(ctx))
	assert.Zero(t, cache.Dirty())
	_, ok, _ := store.Get(ctx, 1)
	assert.True(t, ok)
}

func TestFlushPropagatesNonTransientFailure(t *testing.T) {
	store := newCountingStore()
	store.failSave = context.Canceled
	cache := app.NewSessionCache(store, nil)
	cache.Update(1, domain.NewAttempt(0))

	assert.ErrorIs(t, cache.Flush(context.Background()), context.Canceled)
}

func TestForgetKeepsDirtyUsers(t *testing.T) {
	ctx := context.Background()
	cache := app.NewSessionCache(newCountingStore(), nil)
	require.NoError(t, cache.MarkActive(ctx, 1))
	cache.Update(1, domain.NewAttempt(0))

	cache.Forget(1)
	assert.True(t, cache.Active(1))

	require.NoError(t, cache.Flush(ctx))
	cache.Forget(1)
	assert.False(t, cache.Active(1))
}

func TestConcurrentUpdatesForDifferentUsers(t *testing.T) {
	ctx := context.Background()
	cache := app.NewSessionCache(newCountingStore(), nil)

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = cache.MarkActive(ctx, id)
			sess := domain.NewAttempt(int(id % 2))
			sess.Score = int(id)
			cache.Update(id, sess)
		}(i)
	}
	wg.Wait()

	for i := int64(1); i <= 20; i++ {
		assert.Equal(t, int(i), cache.Get(i).Score)
	}
	require.NoError(t, cache.Flush(ctx))
	assert.Zero(t, cache.Dirty())
}

func nextCall(t *testing.T, store *gatedStore) gatedCall {
	t.Helper()
	select {
	case call := <-store.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("store was not called")
		return gatedCall{}
	}
}

func markActiveAsync(ctx context.Context, cache *app.SessionCache, id int64) <-chan error {
	done := make(chan error, 1)
	go func() { done <- cache.MarkActive(ctx, id) }()
	return done
}

func TestBatchStartedBeforeForgetDoesNotRestoreStaleSession(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	cache := app.NewSessionCache(store, nil)

	first := markActiveAsync(ctx, cache, 1)
	c1 := nextCall(t, store)
	assert.Equal(t, []int64{1}, c1.ids)

	second := markActiveAsync(ctx, cache, 2)
	c2 := nextCall(t, store)
	assert.Equal(t, []int64{1, 2}, c2.ids)

	close(c1.release)
	require.NoError(t, <-first)

	attempt := domain.NewAttempt(0).WithPendingPoll("poll-A", 1)
	require.True(t, cache.Update(1, attempt))
	require.NoError(t, cache.Flush(ctx))
	cache.Forget(1)

	close(c2.release)
	require.NoError(t, <-second)

	store.open.Store(true)
	require.NoError(t, cache.MarkActive(ctx, 1))
	got := cache.Get(1)
	assert.True(t, got.InProgress())
	assert.Equal(t, map[string]int{"poll-A": 1}, got.PendingPolls)
	assert.False(t, cache.Get(2).InProgress())
}

func TestReactivatedUserRefetchesAfterStaleBatch(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	cache := app.NewSessionCache(store, nil)

	first := markActiveAsync(ctx, cache, 1)
	c1 := nextCall(t, store)
	second := markActiveAsync(ctx, cache, 2)
	c2 := nextCall(t, store)

	close(c1.release)
	require.NoError(t, <-first)
	require.True(t, cache.Update(1, domain.NewAttempt(1).WithPendingPoll("poll-B", 0)))
	require.NoError(t, cache.Flush(ctx))
	cache.Forget(1)

	// User 1 comes back while the older {1,2} batch is still parked and may
	// share it.
	store.open.Store(true)
	again := markActiveAsync(ctx, cache, 1)
	time.Sleep(20 * time.Millisecond)
	close(c2.release)
	require.NoError(t, <-second)
	require.NoError(t, <-again)

	got := cache.Get(1)
	assert.True(t, got.InProgress())
	assert.Equal(t, map[string]int{"poll-B": 0}, got.PendingPolls)
}

func TestCancelledCallerDoesNotFailSharedHydration(t *testing.T) {
	store := newGatedStore()
	require.NoError(t, store.Put(context.Background(), 1, domain.NewAttempt(0)))
	cache := app.NewSessionCache(store, nil)

	cancelCtx, cancel := context.WithCancel(context.Background())
	first := markActiveAsync(cancelCtx, cache, 1)
	call := nextCall(t, store)
	cancel()

	// Joins the fetch the cancelled caller started.
	second := markActiveAsync(context.Background(), cache, 1)
	time.Sleep(20 * time.Millisecond)
	close(call.release)
	assert.ErrorIs(t, <-first, context.Canceled)

	select {
	case err := <-second:
		require.NoError(t, err)
	case extra := <-store.calls:
		close(extra.release)
		require.NoError(t, <-second)
	}
	assert.True(t, cache.Get(1).InProgress())
}
