package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tyrowin/roomrelay/internal/presence"
)

// setupTestRepo creates a repository over an in-memory SQLite database.
func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	db, err := Open(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	return NewRepository(db, NewPasswordHasher(bcrypt.MinCost))
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, presence.StatusOffline, user.Status)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	got, err := repo.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = repo.Authenticate(ctx, "bob", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateUser(ctx, "alice", "a")
	require.NoError(t, err)

	_, err = repo.CreateUser(ctx, "alice", "b")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateStatus(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	user, err := repo.CreateUser(ctx, "carol", "pw")
	require.NoError(t, err)

	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateStatus(ctx, user.ID, presence.StatusOnline, seen))

	got, err := repo.FindUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, presence.StatusOnline, got.Status)
	assert.True(t, seen.Equal(got.LastSeen), "last_seen = %v", got.LastSeen)

	err = repo.UpdateStatus(ctx, 9999, presence.StatusAway, seen)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestRoomLifecycleAndMembership(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	owner, err := repo.CreateUser(ctx, "owner", "pw")
	require.NoError(t, err)
	guest, err := repo.CreateUser(ctx, "guest", "pw")
	require.NoError(t, err)

	room, err := repo.CreateRoom(ctx, "general", owner.ID)
	require.NoError(t, err)

	_, err = repo.CreateRoom(ctx, "general", guest.ID)
	assert.ErrorIs(t, err, ErrConflict)

	ok, err := repo.IsMember(ctx, owner.ID, room.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsMember(ctx, guest.ID, room.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.JoinRoom(ctx, guest.ID, room.ID))
	require.NoError(t, repo.JoinRoom(ctx, guest.ID, room.ID))

	ok, err = repo.IsMember(ctx, guest.ID, room.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	rooms, err := repo.RoomsForUser(ctx, guest.ID)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)

	assert.ErrorIs(t, repo.JoinRoom(ctx, guest.ID, 404), ErrNotFound)

	require.NoError(t, repo.DeleteRoom(ctx, room.ID))
	assert.ErrorIs(t, repo.DeleteRoom(ctx, room.ID), ErrNotFound)

	ok, err = repo.IsMember(ctx, guest.ID, room.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := repo.ListRooms(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPasswordHasherFallsBackToDefaultCost(t *testing.T) {
	h := NewPasswordHasher(0)
	assert.Equal(t, DefaultBcryptCost, h.cost)
}
