package server

import (
	"log/slog"
	"sync"
	"unicode/utf8"
)

// PresenceTracker receives the presence events a Session produces.
// *presence.Tracker satisfies it.
type PresenceTracker interface {
	Login(userID int64)
	Activity(userID int64)
	Logout(userID int64)
}

// SessionState is the lifecycle position of a Session.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// FrameKind is the type of an inbound transport frame.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
	FrameControl
)

// Session binds one connection handle to an immutable (user, room) pair and
// turns the connection lifecycle into registry and presence calls.
type Session struct {
	userID   int64
	roomID   int64
	handle   Handle
	rooms    *RoomRegistry
	presence PresenceTracker
	echo     bool
	logger   *slog.Logger

	mu    sync.Mutex
	state SessionState
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithEcho makes the session's own chat messages come back to it.
func WithEcho(echo bool) SessionOption {
	return func(s *Session) { s.echo = echo }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a session in the connecting state.
func NewSession(userID, roomID int64, h Handle, rooms *RoomRegistry, presence PresenceTracker, opts ...SessionOption) *Session {
	s := &Session{
		userID:   userID,
		roomID:   roomID,
		handle:   h,
		rooms:    rooms,
		presence: presence,
		logger:   slog.Default(),
		state:    StateConnecting,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("user_id", userID, "room_id", roomID, "handle", h.ID())
	return s
}

// UserID returns the session's user.
func (s *Session) UserID() int64 { return s.userID }

// RoomID returns the session's room.
func (s *Session) RoomID() int64 { return s.roomID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Open joins the room, reports the login and announces the user to the whole
// room, the joining connection included. It only acts from the connecting state.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		return
	}

	s.rooms.Join(s.roomID, s.handle)
	s.presence.Login(s.userID)
	s.state = StateActive

	s.rooms.Broadcast(Message{
		RoomID:   s.roomID,
		SenderID: s.userID,
		Kind:     KindJoin,
	})
	s.logger.Info("session opened")
}

// HandleFrame processes one inbound frame. Text frames refresh presence and
// are then relayed to the room; anything else is ignored. The tracker applies
// Activity before returning, so the refreshed last activity is readable
// before any peer receives the line. Only the store write happens later.
func (s *Session) HandleFrame(kind FrameKind, payload []byte) {
	if kind != FrameText {
		return
	}
	if !utf8.Valid(payload) {
		s.logger.Debug("dropping text frame with invalid UTF-8")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return
	}

	s.presence.Activity(s.userID)

	msg := Message{
		RoomID:   s.roomID,
		SenderID: s.userID,
		Kind:     KindChat,
		Text:     string(payload),
	}
	if !s.echo {
		msg.Origin = s.handle
	}
	s.rooms.Broadcast(msg)
}

// Close leaves the room and reports the logout, exactly once. Later calls,
// and calls on a session that never opened, do nothing.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = StateClosed
	if prev != StateActive {
		return
	}

	s.rooms.Leave(s.roomID, s.handle)
	s.presence.Logout(s.userID)
	s.logger.Info("session closed")
}
