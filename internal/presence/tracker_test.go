package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/logger"
)

type update struct {
	userID   int64
	status   Status
	lastSeen time.Time
}

type recordingStore struct {
	mu      sync.Mutex
	updates []update
	err     error
}

func (s *recordingStore) UpdateStatus(_ context.Context, userID int64, status Status, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update{userID: userID, status: status, lastSeen: lastSeen})
	return s.err
}

func (s *recordingStore) all() []update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]update(nil), s.updates...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}


// blockingStore holds every write until release is closed or the write's
// context expires.
type blockingStore struct {
	release chan struct{}
	recordingStore
}

func newBlockingStore() *blockingStore {
	return &blockingStore{release: make(chan struct{})}
}

func (s *blockingStore) UpdateStatus(ctx context.Context, userID int64, status Status, lastSeen time.Time) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.recordingStore.UpdateStatus(ctx, userID, status, lastSeen)
}

func newTestTracker(store Store) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tr := NewTracker(store, Config{IdleThreshold: 2 * time.Minute},
		WithClock(clock.Now), WithLogger(logger.Discard()))
	return tr, clock
}

// runTracker starts tr.Run and stops it when the test ends.
func runTracker(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}

func flush(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Flush(ctx))
}

func status(t *testing.T, tr *Tracker, userID int64) Status {
	t.Helper()
	rec, ok := tr.Lookup(userID)
	require.True(t, ok, "no record for user %d", userID)
	return rec.Status
}

func TestLoginMarksOnline(t *testing.T) {
	store := &recordingStore{}
	tr, clock := newTestTracker(store)
	runTracker(t, tr)

	tr.Login(7)

	rec, ok := tr.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, clock.Now(), rec.LastActivity)

	flush(t, tr)
	assert.Equal(t, []update{{userID: 7, status: StatusOnline, lastSeen: clock.Now()}}, store.all())
}

func TestSweepWithinIdleThresholdKeepsOnline(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Login(1)
	clock.Advance(time.Minute)
	tr.Sweep()

	assert.Equal(t, StatusOnline, status(t, tr, 1))
}

func TestSweepAfterIdleThresholdDemotesToAway(t *testing.T) {
	store := &recordingStore{}
	tr, clock := newTestTracker(store)
	runTracker(t, tr)

	tr.Login(1)
	loginAt := clock.Now()
	flush(t, tr)

	clock.Advance(2*time.Minute + time.Second)
	tr.Sweep()
	assert.Equal(t, StatusAway, status(t, tr, 1))

	flush(t, tr)
	updates := store.all()
	require.Len(t, updates, 2)
	assert.Equal(t, update{userID: 1, status: StatusAway, lastSeen: loginAt}, updates[1])
}

func TestActivityRevivesAwayUser(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Login(1)
	clock.Advance(3 * time.Minute)
	tr.Sweep()
	require.Equal(t, StatusAway, status(t, tr, 1))

	tr.Activity(1)
	rec, _ := tr.Lookup(1)
	assert.Equal(t, StatusOnline, rec.Status)
	assert.Equal(t, clock.Now(), rec.LastActivity)
}

func TestActivityIgnoredForOfflineAndUnknownUsers(t *testing.T) {
	store := &recordingStore{}
	tr, _ := newTestTracker(store)
	runTracker(t, tr)

	tr.Activity(42)
	_, ok := tr.Lookup(42)
	assert.False(t, ok)

	tr.Login(5)
	tr.Logout(5)
	tr.Activity(5)
	assert.Equal(t, StatusOffline, status(t, tr, 5))

	flush(t, tr)
	updates := store.all()
	require.NotEmpty(t, updates)
	assert.Equal(t, StatusOffline, updates[len(updates)-1].status)
	for _, u := range updates {
		assert.Equal(t, int64(5), u.userID)
	}
}

func TestLogoutIsNeverRevivedBySweep(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Login(9)
	tr.Logout(9)

	for i := 0; i < 3; i++ {
		clock.Advance(5 * time.Minute)
		tr.Sweep()
		assert.Equal(t, StatusOffline, status(t, tr, 9))
	}
}

func TestLastActivityNeverRegresses(t *testing.T) {
	tr, clock := newTestTracker(nil)

	tr.Login(3)
	first, _ := tr.Lookup(3)

	clock.Set(first.LastActivity.Add(-time.Hour))
	tr.Activity(3)

	rec, _ := tr.Lookup(3)
	assert.Equal(t, first.LastActivity, rec.LastActivity)
}

func TestPersistenceFailureKeepsInMemoryState(t *testing.T) {
	store := &recordingStore{err: errors.New("database is locked")}
	tr, _ := newTestTracker(store)
	runTracker(t, tr)

	tr.Login(11)
	flush(t, tr)

	assert.Equal(t, StatusOnline, status(t, tr, 11))
	assert.Len(t, store.all(), 1)
}

// TestSlowStoreNeverBlocksEvents verifies that a store which never answers
// cannot hold up event submission, however many events arrive.
func TestSlowStoreNeverBlocksEvents(t *testing.T) {
	store := newBlockingStore()
	tr := NewTracker(store, Config{StoreTimeout: time.Minute}, WithLogger(logger.Discard()))
	runTracker(t, tr)
	t.Cleanup(func() { close(store.release) })

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Login(1)
		for i := 0; i < 5000; i++ {
			tr.Activity(1)
		}
		tr.Logout(2)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events blocked behind a stalled store")
	}
	assert.Equal(t, StatusOnline, status(t, tr, 1))
	assert.Equal(t, StatusOffline, status(t, tr, 2))
}

// TestBacklogKeepsNewestStatePerUser verifies writes queued behind a stalled
// store collapse to each user's latest state once it recovers.
func TestBacklogKeepsNewestStatePerUser(t *testing.T) {
	store := newBlockingStore()
	tr, _ := newTestTracker(store)
	runTracker(t, tr)

	tr.Login(1)
	for i := 0; i < 100; i++ {
		tr.Activity(1)
	}
	tr.Login(2)
	tr.Logout(1)

	close(store.release)
	flush(t, tr)

	last := map[int64]Status{}
	for _, u := range store.all() {
		last[u.userID] = u.status
	}
	assert.Equal(t, map[int64]Status{1: StatusOffline, 2: StatusOnline}, last)
	assert.LessOrEqual(t, len(store.all()), 4)
}

func TestRunWritesQueuedStateAndStops(t *testing.T) {
	store := &recordingStore{}
	tr, _ := newTestTracker(store)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(stopped)
	}()

	tr.Login(1)
	tr.Activity(1)
	tr.Logout(1)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	updates := store.all()
	require.NotEmpty(t, updates)
	assert.Equal(t, StatusOffline, updates[len(updates)-1].status)

	// After stopping, events still update memory but are not persisted.
	written := len(store.all())
	tr.Login(2)
	assert.Equal(t, StatusOnline, status(t, tr, 2))
	require.NoError(t, tr.Flush(context.Background()))
	assert.Len(t, store.all(), written)
}

func TestRunSweepsOnInterval(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	tr := NewTracker(nil, Config{SweepInterval: 10 * time.Millisecond, IdleThreshold: time.Minute},
		WithClock(clock.Now), WithLogger(logger.Discard()))
	runTracker(t, tr)

	tr.Login(4)
	clock.Advance(2 * time.Minute)

	assert.Eventually(t, func() bool {
		rec, ok := tr.Lookup(4)
		return ok && rec.Status == StatusAway
	}, time.Second, 5*time.Millisecond)
}

func TestSnapshotCopiesRecords(t *testing.T) {
	tr, _ := newTestTracker(nil)
	tr.Login(1)
	tr.Login(2)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)

	snap[0].Status = StatusAway
	for _, rec := range tr.Snapshot() {
		assert.Equal(t, StatusOnline, rec.Status)
	}
}
