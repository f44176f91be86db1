package presence

import (
	"context"
	"time"
)

// Status is the coarse presence state of a user.
type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
)

// Record is the tracker's view of one user.
type Record struct {
	UserID       int64     `json:"user_id"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
}

// Store persists presence transitions. Implementations must be safe for use
// from the tracker's run loop; they are never called concurrently by it.
type Store interface {
	UpdateStatus(ctx context.Context, userID int64, status Status, lastSeen time.Time) error
}
