// Package presence tracks a coarse online/away/offline status per user.
//
// A Tracker applies login, activity and logout events and a periodic idle
// sweep to an in-memory table as they are submitted, so events for one user
// take effect in submission order and callers never wait on storage. Every
// transition is queued for a Store and written by the Run loop's writer on a
// best effort basis: writes are merged per user, so a backlog only keeps the
// newest state, and persistence failures are logged while the in-memory
// record keeps the new state.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultSweepInterval = 30 * time.Second
	DefaultIdleThreshold = 2 * time.Minute
	DefaultStoreTimeout  = 5 * time.Second
)

// Config tunes the tracker. Zero fields fall back to the defaults above.
type Config struct {
	SweepInterval time.Duration
	IdleThreshold time.Duration
	StoreTimeout  time.Duration
}

func (c Config) sanitized() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = DefaultIdleThreshold
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	return c
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger used for persistence failures and transitions.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// pendingWrite is the newest unwritten state of one user.
type pendingWrite struct {
	status   Status
	lastSeen time.Time
}

// Tracker owns the presence table. Create it with NewTracker and drive
// persistence and the idle sweep with Run; every method is safe for
// concurrent use and none of them blocks on the Store.
type Tracker struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[int64]*Record

	// Write-behind state, guarded by mu. queued counts transitions handed
	// to the writer and written is the highest count known to be stored.
	pending  map[int64]pendingWrite
	queued   uint64
	written  uint64
	progress chan struct{}
	stopped  bool

	wake chan struct{}
	quit chan struct{}
	once sync.Once
}

// NewTracker creates a tracker persisting through store. A nil store keeps
// presence in memory only.
func NewTracker(store Store, cfg Config, opts ...Option) *Tracker {
	t := &Tracker{
		store:    store,
		cfg:      cfg.sanitized(),
		logger:   slog.Default(),
		now:      time.Now,
		records:  make(map[int64]*Record),
		pending:  make(map[int64]pendingWrite),
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Login marks userID online.
func (t *Tracker) Login(userID int64) { t.transition(userID, StatusOnline, false) }

// Activity refreshes userID if it is online or away.
func (t *Tracker) Activity(userID int64) { t.transition(userID, StatusOnline, true) }

// Logout marks userID offline.
func (t *Tracker) Logout(userID int64) { t.transition(userID, StatusOffline, false) }

// Sweep demotes every online user idle for longer than the threshold to away.
// Run calls it every SweepInterval.
func (t *Tracker) Sweep() { t.sweep() }

// Flush blocks until every transition made before it has been handed to the
// Store, the tracker stops, or ctx is done.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	target := t.queued
	for t.written < target && !t.stopped {
		progress := t.progress
		t.mu.Unlock()

		select {
		case <-progress:
		case <-t.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		t.mu.Lock()
	}
	t.mu.Unlock()
	return nil
}

// Run writes queued transitions and sweeps every SweepInterval until ctx is
// cancelled. Transitions still queued at cancellation are written before Run
// returns; later ones stay in memory only.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	writerDone := make(chan struct{})
	defer func() {
		ticker.Stop()
		<-writerDone
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		t.once.Do(func() { close(t.quit) })
	}()

	go func() {
		defer close(writerDone)
		t.writeLoop(ctx)
	}()

	t.logger.Info("presence tracker started",
		"sweep_interval", t.cfg.SweepInterval,
		"idle_threshold", t.cfg.IdleThreshold)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("presence tracker stopped")
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// writeLoop is the only caller of the Store, so a slow store delays writes
// but never the callers of Login, Activity or Logout.
func (t *Tracker) writeLoop(ctx context.Context) {
	for {
		select {
		case <-t.wake:
			t.writePending()
		case <-ctx.Done():
			t.writePending()
			return
		}
	}
}

// writePending stores the newest state of every user queued so far.
func (t *Tracker) writePending() {
	t.mu.Lock()
	batch := t.pending
	upto := t.queued
	t.pending = make(map[int64]pendingWrite)
	t.mu.Unlock()

	for userID, w := range batch {
		t.persist(userID, w.status, w.lastSeen)
	}

	t.mu.Lock()
	if upto > t.written {
		t.written = upto
	}
	close(t.progress)
	t.progress = make(chan struct{})
	t.mu.Unlock()
}

// Lookup returns the record for userID.
func (t *Tracker) Lookup(userID int64) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Snapshot returns a copy of every known record.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	return out
}

// transition moves userID to status. With activeOnly set the event is ignored
// unless the user is currently online or away.
func (t *Tracker) transition(userID int64, status Status, activeOnly bool) {
	now := t.now()

	t.mu.Lock()
	rec, ok := t.records[userID]
	if activeOnly && (!ok || rec.Status == StatusOffline) {
		t.mu.Unlock()
		t.logger.Debug("ignoring activity from inactive user", "user_id", userID)
		return
	}
	if !ok {
		rec = &Record{UserID: userID, Status: StatusOffline}
		t.records[userID] = rec
	}
	if now.Before(rec.LastActivity) {
		now = rec.LastActivity
	}
	prev := rec.Status
	rec.Status = status
	rec.LastActivity = now
	t.queueLocked(userID, status, now)
	t.mu.Unlock()

	if prev != status {
		t.logger.Debug("presence changed", "user_id", userID, "from", prev, "to", status)
	}
	t.signal()
}

func (t *Tracker) sweep() {
	now := t.now()
	demoted := 0

	t.mu.Lock()
	for id, rec := range t.records {
		if rec.Status == StatusOnline && now.Sub(rec.LastActivity) > t.cfg.IdleThreshold {
			rec.Status = StatusAway
			t.queueLocked(id, StatusAway, rec.LastActivity)
			demoted++
		}
	}
	t.mu.Unlock()

	if demoted > 0 {
		t.logger.Debug("presence sweep demoted idle users", "count", demoted)
		t.signal()
	}
}

// queueLocked records the newest state of userID for the writer. t.mu must be
// held.
func (t *Tracker) queueLocked(userID int64, status Status, lastSeen time.Time) {
	if t.store == nil {
		return
	}
	if t.stopped {
		t.logger.Debug("presence tracker stopped; not persisting", "user_id", userID, "status", status)
		return
	}
	t.pending[userID] = pendingWrite{status: status, lastSeen: lastSeen}
	t.queued++
}

// signal wakes the writer without blocking; one pending wake-up is enough
// because the writer takes the whole batch.
func (t *Tracker) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) persist(userID int64, status Status, lastSeen time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.StoreTimeout)
	defer cancel()

	if err := t.store.UpdateStatus(ctx, userID, status, lastSeen); err != nil {
		t.logger.Error("failed to persist presence",
			"user_id", userID,
			"status", status,
			"error", err)
	}
}
