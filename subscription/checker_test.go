package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]*Record
	err     error
	calls   int
}

func (s *fakeStore) GetActive(ctx context.Context, userID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.records[userID], nil
}

func (s *fakeStore) set(userID string, rec *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[userID] = rec
}

func newTestChecker(t *testing.T, store *fakeStore, clock *fakeClock) *Checker {
	t.Helper()
	c, err := NewChecker(CheckerOptions{
		Store:  store,
		Logger: zap.NewNop(),
		Now:    clock.Now,
	})
	require.NoError(t, err)
	return c
}

func TestNewCheckerValidation(t *testing.T) {
	_, err := NewChecker(CheckerOptions{Logger: zap.NewNop()})
	assert.Error(t, err)
	_, err = NewChecker(CheckerOptions{Store: &fakeStore{}})
	assert.Error(t, err)
}

func TestCheckerCachesAnswers(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{records: map[string]*Record{
		"sub": {UserID: "sub", Status: StatusActive},
	}}
	c := newTestChecker(t, store, clock)
	ctx := context.Background()

	assert.True(t, c.IsSubscriber(ctx, "sub"))
	assert.True(t, c.IsSubscriber(ctx, "sub"))
	assert.Equal(t, 1, store.calls)

	assert.False(t, c.IsSubscriber(ctx, "free"))
	assert.False(t, c.IsSubscriber(ctx, "free"))
	assert.Equal(t, 2, store.calls)
}

func TestCheckerBoundedStaleness(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{records: map[string]*Record{}}
	c := newTestChecker(t, store, clock)
	ctx := context.Background()

	assert.False(t, c.IsSubscriber(ctx, "u1"))

	store.set("u1", &Record{UserID: "u1", Status: StatusActive})
	assert.False(t, c.IsSubscriber(ctx, "u1"), "still cached")

	clock.Advance(30 * time.Second)
	assert.True(t, c.IsSubscriber(ctx, "u1"), "negative entry expired")
}

func TestCheckerInvalidate(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{records: map[string]*Record{
		"u1": {UserID: "u1", Status: StatusActive},
	}}
	c := newTestChecker(t, store, clock)
	ctx := context.Background()

	assert.True(t, c.IsSubscriber(ctx, "u1"))

	store.set("u1", nil)
	c.Invalidate("u1")
	assert.False(t, c.IsSubscriber(ctx, "u1"))
}

func TestCheckerExpiredTrial(t *testing.T) {
	clock := newFakeClock()
	ended := clock.Now().Add(-time.Minute)
	store := &fakeStore{records: map[string]*Record{
		"u1": {UserID: "u1", Status: StatusTrialing, TrialEndsAt: &ended},
	}}
	c := newTestChecker(t, store, clock)

	assert.False(t, c.IsSubscriber(context.Background(), "u1"))
}

func TestCheckerStoreErrorIsNotSubscriberAndNotCached(t *testing.T) {
	clock := newFakeClock()
	store := &fakeStore{records: map[string]*Record{
		"u1": {UserID: "u1", Status: StatusActive},
	}, err: errors.New("connection refused")}
	c := newTestChecker(t, store, clock)
	ctx := context.Background()

	assert.False(t, c.IsSubscriber(ctx, "u1"))

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	assert.True(t, c.IsSubscriber(ctx, "u1"))
}

func TestCheckerEmptyUser(t *testing.T) {
	store := &fakeStore{records: map[string]*Record{}}
	c := newTestChecker(t, store, newFakeClock())
	assert.False(t, c.IsSubscriber(context.Background(), ""))
	assert.Equal(t, 0, store.calls)
}

// pausingStore parks the first GetActive after reading the record until released
type pausingStore struct {
	fakeStore
	reading chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pausingStore) GetActive(ctx context.Context, userID string) (*Record, error) {
	rec, err := s.fakeStore.GetActive(ctx, userID)
	s.once.Do(func() {
		close(s.reading)
		<-s.release
	})
	return rec, err
}

func TestCheckerInvalidateDuringLookup(t *testing.T) {
	store := &pausingStore{
		fakeStore: fakeStore{records: map[string]*Record{}},
		reading:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	c, err := NewChecker(CheckerOptions{
		Store:  store,
		Logger: zap.NewNop(),
		Now:    newFakeClock().Now,
	})
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan bool)
	go func() {
		done <- c.IsSubscriber(ctx, "u1")
	}()

	// the lookup has read "no subscription" when the checkout completes
	<-store.reading
	store.set("u1", &Record{UserID: "u1", Status: StatusActive})
	c.Invalidate("u1")
	close(store.release)

	assert.False(t, <-done)

	// the answer from before the invalidation must not have been cached
	assert.True(t, c.IsSubscriber(ctx, "u1"))
	assert.Equal(t, 2, store.calls)
}
