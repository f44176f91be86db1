// Package api is the JSON CRUD surface around the relay: signup, signin, user
// lookup and room management. It only talks to the store; connecting to a
// room goes through the WebSocket route of package server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/store"
)

// Store is the subset of store.Repository the handlers need.
type Store interface {
	CreateUser(ctx context.Context, username, password string) (*store.User, error)
	Authenticate(ctx context.Context, username, password string) (*store.User, error)
	FindUser(ctx context.Context, id int64) (*store.User, error)
	RoomsForUser(ctx context.Context, userID int64) ([]store.ChatRoom, error)
	CreateRoom(ctx context.Context, name string, creatorID int64) (*store.ChatRoom, error)
	ListRooms(ctx context.Context) ([]store.ChatRoom, error)
	JoinRoom(ctx context.Context, userID, roomID int64) error
	DeleteRoom(ctx context.Context, roomID int64) error
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type signinResponse struct {
	UserID int64 `json:"user_id"`
}

type createRoomRequest struct {
	Name   string `json:"name"`
	UserID int64  `json:"user_id"`
}

type joinRoomRequest struct {
	UserID int64 `json:"user_id"`
	RoomID int64 `json:"room_id"`
}

type envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

type userWithRooms struct {
	User      *store.User      `json:"user"`
	ChatRooms []store.ChatRoom `json:"chat_rooms"`
}

// Handler serves the CRUD routes.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil logger uses slog.Default.
func NewHandler(s Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: s, logger: logger}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", h.signup)
	mux.HandleFunc("POST /api/auth/signin", h.signin)
	mux.HandleFunc("GET /api/users/{id}", h.getUser)
	mux.HandleFunc("POST /api/chat_rooms", h.createRoom)
	mux.HandleFunc("GET /api/chat_rooms", h.listRooms)
	mux.HandleFunc("POST /api/chat_rooms/join", h.joinRoom)
	mux.HandleFunc("DELETE /api/chat_rooms/{id}", h.deleteRoom)
}

func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "Username already exists", http.StatusBadRequest)
		return
	case err != nil:
		h.fail(w, "failed to register user", err)
		return
	}

	h.logger.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: map[string]any{"user": user}})
}

func (h *Handler) signin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := h.store.Authenticate(r.Context(), strings.TrimSpace(req.Username), req.Password)
	switch {
	case errors.Is(err, store.ErrInvalidCredentials):
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		h.fail(w, "failed to sign in", err)
		return
	}

	writeJSON(w, http.StatusOK, signinResponse{UserID: user.ID})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	user, err := h.store.FindUser(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "User not found", http.StatusNotFound)
		return
	case err != nil:
		h.fail(w, "failed to load user", err)
		return
	}

	rooms, err := h.store.RoomsForUser(r.Context(), id)
	if err != nil {
		h.fail(w, "failed to load rooms", err)
		return
	}
	if rooms == nil {
		rooms = []store.ChatRoom{}
	}

	writeJSON(w, http.StatusOK, envelope{Status: "success", Data: userWithRooms{User: user, ChatRooms: rooms}})
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.UserID <= 0 {
		http.Error(w, "name and user_id are required", http.StatusBadRequest)
		return
	}

	room, err := h.store.CreateRoom(r.Context(), req.Name, req.UserID)
	switch {
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "Chat room already exists", http.StatusBadRequest)
		return
	case err != nil:
		h.fail(w, "failed to create chat room", err)
		return
	}

	h.logger.Info("chat room created", "room_id", room.ID, "user_id", req.UserID)
	writeJSON(w, http.StatusOK, room)
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.store.ListRooms(r.Context())
	if err != nil {
		h.fail(w, "failed to list chat rooms", err)
		return
	}
	if rooms == nil {
		rooms = []store.ChatRoom{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID <= 0 || req.RoomID <= 0 {
		http.Error(w, "user_id and room_id are required", http.StatusBadRequest)
		return
	}

	err := h.store.JoinRoom(r.Context(), req.UserID, req.RoomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Chat room not found", http.StatusNotFound)
		return
	case err != nil:
		h.fail(w, "failed to join chat room", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Joined chat room successfully"))
}

func (h *Handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteRoom(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Chat room not found", http.StatusNotFound)
		return
	case err != nil:
		h.fail(w, "failed to delete chat room", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Chat room deleted successfully"))
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
