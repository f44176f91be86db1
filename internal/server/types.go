// Package server defines the connection handle contract, the relayed message
// type and the wire text helpers shared by the registry, sessions and clients.
package server

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandleClosed is returned by Send once the handle has been closed.
	ErrHandleClosed = errors.New("connection handle closed")
	// ErrSlowConsumer is returned by Send when the peer's outbound buffer is
	// full. The handle closes itself when this happens.
	ErrSlowConsumer = errors.New("connection send buffer full")
)

// Handle is one live client connection as seen by the room registry.
// Implementations must be comparable (pointer types) and safe for concurrent use.
type Handle interface {
	// ID is an opaque identity used in logs.
	ID() string
	// Send queues a text payload without blocking.
	Send(payload []byte) error
	// Close releases the connection. Calling it more than once is allowed.
	Close() error
}

// MessageKind distinguishes relayed chat lines from system announcements.
type MessageKind int

const (
	KindChat MessageKind = iota
	KindJoin
)

// Message is a transient broadcast. It is rendered once and discarded after
// the delivery attempts.
type Message struct {
	RoomID   int64
	SenderID int64
	// Origin, when set, is excluded from delivery.
	Origin Handle
	Kind   MessageKind
	Text   string
}

// Payload renders the wire text for m.
func (m Message) Payload() []byte {
	switch m.Kind {
	case KindJoin:
		return []byte(JoinAnnouncement(m.SenderID, m.RoomID))
	default:
		return []byte(ChatLine(m.SenderID, m.Text))
	}
}

// JoinAnnouncement is the system line sent when a user enters a room.
func JoinAnnouncement(userID, roomID int64) string {
	return fmt.Sprintf("User %d joined room %d and is online", userID, roomID)
}

// ChatLine is the relayed form of a chat message.
func ChatLine(userID int64, text string) string {
	return fmt.Sprintf("User %d: %s", userID, text)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
