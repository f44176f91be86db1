// Package store is the relational collaborator of the relay: accounts, rooms
// and memberships in SQLite through GORM. It also persists presence
// transitions for the presence tracker and answers membership checks for the
// WebSocket route.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/roomrelay/internal/presence"
)

var (
	// ErrNotFound is returned when a user or room does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique username or room name is taken.
	ErrConflict = errors.New("record already exists")
	// ErrInvalidCredentials is returned by Authenticate.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string, debug bool) (*gorm.DB, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// SQLite serializes writers anyway, and ":memory:" is per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&User{}, &ChatRoom{}, &Membership{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Repository provides access to account, room and presence storage.
type Repository struct {
	db     *gorm.DB
	hasher *PasswordHasher
}

// NewRepository creates a repository. A nil hasher uses the default cost.
func NewRepository(db *gorm.DB, hasher *PasswordHasher) *Repository {
	if hasher == nil {
		hasher = NewPasswordHasher(DefaultBcryptCost)
	}
	return &Repository{db: db, hasher: hasher}
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// UpdateStatus persists a presence transition.
func (r *Repository) UpdateStatus(ctx context.Context, userID int64, status presence.Status, lastSeen time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"status": status, "last_seen": lastSeen})
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update status of user %d: %w", userID, err)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// IsMember reports whether userID has joined roomID.
func (r *Repository) IsMember(ctx context.Context, userID, roomID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Membership{}).
		Where("user_id = ? AND room_id = ?", userID, roomID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return count > 0, nil
}

// CreateUser registers a new offline account.
func (r *Repository) CreateUser(ctx context.Context, username, password string) (*User, error) {
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &User{
		Username:     username,
		PasswordHash: hash,
		Status:       presence.StatusOffline,
		LastSeen:     time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("username %q: %w", username, ErrConflict)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate returns the user whose password matches.
func (r *Repository) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !r.hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// FindUser retrieves a user by ID.
func (r *Repository) FindUser(ctx context.Context, id int64) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// RoomsForUser lists the rooms userID has joined.
func (r *Repository) RoomsForUser(ctx context.Context, userID int64) ([]ChatRoom, error) {
	var rooms []ChatRoom
	err := r.db.WithContext(ctx).
		Joins("JOIN user_chat_room_memberships m ON m.room_id = chat_rooms.id").
		Where("m.user_id = ?", userID).
		Order("chat_rooms.id").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms for user: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates a room and makes creatorID its first member.
func (r *Repository) CreateRoom(ctx context.Context, name string, creatorID int64) (*ChatRoom, error) {
	room := &ChatRoom{Name: name}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(room).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("room %q: %w", name, ErrConflict)
			}
			return fmt.Errorf("failed to create room: %w", err)
		}
		if err := tx.Create(&Membership{UserID: creatorID, RoomID: room.ID}).Error; err != nil {
			return fmt.Errorf("failed to add creator to room: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// ListRooms returns every room.
func (r *Repository) ListRooms(ctx context.Context) ([]ChatRoom, error) {
	var rooms []ChatRoom
	if err := r.db.WithContext(ctx).Order("id").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// JoinRoom adds userID to roomID. Joining twice is not an error.
func (r *Repository) JoinRoom(ctx context.Context, userID, roomID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ChatRoom{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to find room: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
		}

		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Membership{UserID: userID, RoomID: roomID}).Error
		if err != nil {
			return fmt.Errorf("failed to join room: %w", err)
		}
		return nil
	})
}

// DeleteRoom removes a room and its memberships. Live sessions in the room
// are unaffected.
func (r *Repository) DeleteRoom(ctx context.Context, roomID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&Membership{}).Error; err != nil {
			return fmt.Errorf("failed to delete memberships: %w", err)
		}
		result := tx.Delete(&ChatRoom{}, "id = ?", roomID)
		if err := result.Error; err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
		}
		return nil
	})
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
