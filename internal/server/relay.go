package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/presence"
)

// MembershipChecker decides whether a user may connect to a room. The relay
// trusts its answer and performs no authorization of its own.
type MembershipChecker interface {
	IsMember(ctx context.Context, userID, roomID int64) (bool, error)
}

// Relay is the process-wide supervisor. It owns the room registry and the
// presence tracker and wires a Session to every accepted connection.
type Relay struct {
	cfg      Config
	rooms    *RoomRegistry
	presence *presence.Tracker
	members  MembershipChecker
	origins  originPolicy
	logger   *slog.Logger

	presenceOpts []presence.Option

	mu       sync.Mutex
	clients  map[*Client]struct{}
	draining bool
	wg       sync.WaitGroup

	cancel      context.CancelFunc
	trackerDone chan struct{}
}

// RelayOption customizes a Relay.
type RelayOption func(*Relay)

// WithMembershipChecker validates (user, room) pairs before upgrading. Without
// it every pair is admitted.
func WithMembershipChecker(m MembershipChecker) RelayOption {
	return func(r *Relay) { r.members = m }
}

// WithLogger sets the logger shared by the relay, its registry and tracker.
func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithPresenceOptions passes options through to the presence tracker.
func WithPresenceOptions(opts ...presence.Option) RelayOption {
	return func(r *Relay) { r.presenceOpts = append(r.presenceOpts, opts...) }
}

// NewRelay builds the registry and a tracker persisting through store.
func NewRelay(cfg Config, store presence.Store, opts ...RelayOption) *Relay {
	r := &Relay{
		cfg:     SanitizeConfig(cfg),
		logger:  slog.Default(),
		clients: make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.rooms = NewRoomRegistry(r.logger.With("component", "rooms"))
	r.origins = newOriginPolicy(r.cfg.AllowedOrigins, r.logger)

	trackerOpts := append([]presence.Option{
		presence.WithLogger(r.logger.With("component", "presence")),
	}, r.presenceOpts...)
	r.presence = presence.NewTracker(store, presence.Config{
		SweepInterval: r.cfg.Presence.SweepInterval,
		IdleThreshold: r.cfg.Presence.IdleThreshold,
	}, trackerOpts...)

	return r
}

// Rooms returns the relay's room registry.
func (r *Relay) Rooms() *RoomRegistry { return r.rooms }

// Presence returns the relay's presence tracker.
func (r *Relay) Presence() *presence.Tracker { return r.presence }

// Start launches the presence tracker and its periodic sweep. It runs until
// Shutdown or until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.trackerDone != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.trackerDone = make(chan struct{})

	go func() {
		defer close(r.trackerDone)
		r.presence.Run(ctx)
	}()
	r.logger.Info("relay started and ready to manage WebSocket connections")
}

// Accept binds h to a new Session for (userID, roomID) and opens it.
func (r *Relay) Accept(h Handle, userID, roomID int64) *Session {
	s := NewSession(userID, roomID, h, r.rooms, r.presence,
		WithEcho(r.cfg.EchoToSender),
		WithSessionLogger(r.logger.With("component", "session")))
	s.Open()
	return s
}

// serve registers client and starts its pumps. It returns false when the
// relay is shutting down.
func (r *Relay) serve(client *Client, session *Session) bool {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return false
	}
	r.clients[client] = struct{}{}
	total := len(r.clients)
	r.wg.Add(2)
	r.mu.Unlock()

	r.logger.Info("client registered", "addr", client.addr, "clients", total)

	go func() {
		defer r.wg.Done()
		client.writePump()
	}()
	go func() {
		defer r.wg.Done()
		defer r.forget(client)
		client.readPump(session)
	}()
	return true
}

func (r *Relay) forget(client *Client) {
	r.mu.Lock()
	delete(r.clients, client)
	total := len(r.clients)
	r.mu.Unlock()

	r.logger.Info("client unregistered", "addr", client.addr, "clients", total)
}

// Clients returns the number of live connections.
func (r *Relay) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Shutdown closes every live connection, waits for their sessions to finish
// and then stops the presence tracker after it has applied the resulting
// logouts. It returns context.DeadlineExceeded if that takes longer than
// timeout.
func (r *Relay) Shutdown(timeout time.Duration) error {
	r.logger.Info("initiating relay shutdown")
	deadline := time.After(timeout)

	r.mu.Lock()
	r.draining = true
	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.Unlock()

	for _, client := range clients {
		_ = client.Close()
	}
	r.logger.Info("closing client connections", "count", len(clients))

	pumpsDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(pumpsDone)
	}()

	select {
	case <-pumpsDone:
	case <-deadline:
		r.logger.Warn("relay shutdown timeout reached; some connections may still be open")
		r.stopTracker()
		return context.DeadlineExceeded
	}

	if trackerDone := r.stopTracker(); trackerDone != nil {
		select {
		case <-trackerDone:
		case <-deadline:
			r.logger.Warn("relay shutdown timeout reached; presence tracker still running")
			return context.DeadlineExceeded
		}
	}

	r.logger.Info("relay shutdown completed successfully")
	return nil
}

// stopTracker cancels the tracker and returns the channel closed when its
// loop has exited, or nil if it was never started.
func (r *Relay) stopTracker() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	if r.trackerDone == nil {
		return nil
	}
	return r.trackerDone
}
