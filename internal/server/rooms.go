package server

import (
	"log/slog"
	"sync"
)

// room is one member set. dead is set when the registry prunes the entry so
// a concurrent Join that still holds the pointer retries on a fresh entry.
type room struct {
	mu      sync.RWMutex
	members map[Handle]struct{}
	dead    bool
}

// RoomRegistry maps room IDs to the handles currently joined and fans out
// broadcasts. Each room has its own lock; the registry lock only guards the
// room index, so operations on different rooms do not contend.
type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[int64]*room
	logger *slog.Logger
}

// NewRoomRegistry creates an empty registry. A nil logger uses slog.Default.
func NewRoomRegistry(logger *slog.Logger) *RoomRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomRegistry{
		rooms:  make(map[int64]*room),
		logger: logger,
	}
}

func (r *RoomRegistry) lookup(roomID int64) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (r *RoomRegistry) lookupOrCreate(roomID int64) *room {
	if rm := r.lookup(roomID); rm != nil {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{members: make(map[Handle]struct{})}
		r.rooms[roomID] = rm
	}
	return rm
}

// Join adds h to roomID, creating the room if needed. Joining twice is a no-op.
func (r *RoomRegistry) Join(roomID int64, h Handle) {
	for {
		rm := r.lookupOrCreate(roomID)
		rm.mu.Lock()
		if rm.dead {
			rm.mu.Unlock()
			continue
		}
		rm.members[h] = struct{}{}
		count := len(rm.members)
		rm.mu.Unlock()

		r.logger.Debug("joined room", "room_id", roomID, "handle", h.ID(), "members", count)
		return
	}
}

// Leave removes h from roomID. Leaving a room the handle is not in is a no-op.
func (r *RoomRegistry) Leave(roomID int64, h Handle) {
	rm := r.lookup(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	_, present := rm.members[h]
	delete(rm.members, h)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if present {
		r.logger.Debug("left room", "room_id", roomID, "handle", h.ID())
	}
	if empty {
		r.prune(roomID, rm)
	}
}

func (r *RoomRegistry) prune(roomID int64, rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.members) == 0 && r.rooms[roomID] == rm {
		rm.dead = true
		delete(r.rooms, roomID)
	}
}

// snapshot returns the members of roomID at call time.
func (r *RoomRegistry) snapshot(roomID int64) []Handle {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}

	rm.mu.RLock()
	defer rm.mu.RUnlock()

	members := make([]Handle, 0, len(rm.members))
	for h := range rm.members {
		members = append(members, h)
	}
	return members
}

// Broadcast delivers msg to every member of msg.RoomID except msg.Origin and
// returns the number of successful deliveries. Failures are logged per
// recipient and never abort the fan-out. Sends are non-blocking, so a stuck
// peer cannot delay the others.
func (r *RoomRegistry) Broadcast(msg Message) int {
	members := r.snapshot(msg.RoomID)
	if len(members) == 0 {
		return 0
	}

	payload := msg.Payload()
	delivered := 0
	for _, h := range members {
		if msg.Origin != nil && h == msg.Origin {
			continue
		}
		if err := h.Send(payload); err != nil {
			r.logger.Warn("delivery failed",
				"room_id", msg.RoomID,
				"handle", h.ID(),
				"error", err)
			continue
		}
		delivered++
	}

	r.logger.Debug("broadcast", "room_id", msg.RoomID, "sender", msg.SenderID, "delivered", delivered)
	return delivered
}

// Members returns the number of handles joined to roomID.
func (r *RoomRegistry) Members(roomID int64) int {
	rm := r.lookup(roomID)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// Contains reports whether h is joined to roomID.
func (r *RoomRegistry) Contains(roomID int64, h Handle) bool {
	rm := r.lookup(roomID)
	if rm == nil {
		return false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	_, ok := rm.members[h]
	return ok
}

// Rooms returns the number of room entries currently tracked. Entries are
// pruned when their last member leaves.
func (r *RoomRegistry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
