package store

import (
	"time"

	"github.com/Tyrowin/roomrelay/internal/presence"
)

// User is a chat account. Status and LastSeen are owned by the presence
// tracker; the API only reads them.
type User struct {
	ID           int64           `gorm:"primaryKey" json:"id"`
	Username     string          `gorm:"size:64;uniqueIndex;not null" json:"username"`
	PasswordHash string          `gorm:"not null" json:"-"`
	Status       presence.Status `gorm:"size:16;not null;default:offline" json:"status"`
	LastSeen     time.Time       `json:"last_seen"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// ChatRoom is a persisted room. Its ID is the room identifier used on the
// WebSocket route.
type ChatRoom struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"-"`
}

// TableName returns the table name for ChatRoom.
func (ChatRoom) TableName() string {
	return "chat_rooms"
}

// Membership authorizes a user to connect to a room.
type Membership struct {
	UserID    int64 `gorm:"primaryKey;autoIncrement:false"`
	RoomID    int64 `gorm:"primaryKey;autoIncrement:false;index"`
	CreatedAt time.Time
}

// TableName returns the table name for Membership.
func (Membership) TableName() string {
	return "user_chat_room_memberships"
}
