package core

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Room is a shared collaboration space with bounded participant capacity.
// ownerId is immutable after creation; participantCount never exceeds
// maxParticipants; maxParticipants never exceeds the owner's XP-derived cap.
type Room struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	OwnerID          string   `json:"ownerId"`
	MaxParticipants  int      `json:"maxParticipants"`
	ParticipantCount int      `json:"participantCount"`
	Participants     []string `json:"participants"`
	// InvitationCode is empty until the owner generates one.
	InvitationCode string `json:"invitationCode,omitempty"`
}

// RoomCreateInput is the caller-provided shape for room creation.
type RoomCreateInput struct {
	Name            string `json:"name" validate:"required,min=3"`
	Description     string `json:"description"`
	MaxParticipants int    `json:"maxParticipants" validate:"required,min=1"`
}

func (in *RoomCreateInput) Validate() error {
	return validate.Struct(in)
}

// RoomUpdateInput carries owner-editable settings.
type RoomUpdateInput struct {
	Name        string `json:"name" validate:"required,min=3"`
	Description string `json:"description"`
}

func (in *RoomUpdateInput) Validate() error {
	return validate.Struct(in)
}

// RoomAPI is the collaborator contract for room persistence. Every call can
// fail with a classified *Error (NotFound/Permission/Capacity/Transport).
type RoomAPI interface {
	CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error)
	GetRooms(ctx context.Context) ([]Room, error)
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	UpdateRoom(ctx context.Context, roomID string, input RoomUpdateInput) (*Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
	JoinRoomByCode(ctx context.Context, code string) (*Room, error)
	GenerateInvitationCode(ctx context.Context, roomID string) (string, error)
	InviteUser(ctx context.Context, roomID, userID string) error
	AcceptInvitation(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	EnterRoom(ctx context.Context, roomID string) (*Room, error)
}

// Registry tracks the caller's visible rooms and enforces the client-side
// rules (name validation, XP-gated capacity, owner-only mutations) before
// any collaborator call. The collaborator remains the source of truth; the
// registry mirrors its responses into the visible set.
type Registry struct {
	api      RoomAPI
	sessions SessionAPI
	userID   string
	// xp reports the caller's current XP total for the capacity fallback.
	xp     func() int
	logger *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]Room
	current string
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(api RoomAPI, sessions SessionAPI, userID string, xp func() int, opts ...RegistryOption) *Registry {
	r := &Registry{
		api:      api,
		sessions: sessions,
		userID:   userID,
		xp:       xp,
		logger:   slog.Default(),
		rooms:    make(map[string]Room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// capacityLimit resolves the caller's participant cap: the collaborator's
// privileges endpoint when reachable, the local formula otherwise.
func (r *Registry) capacityLimit(ctx context.Context) int {
	if r.sessions != nil {
		if p, err := r.sessions.Privileges(ctx); err == nil && p.MaxParticipants > 0 {
			return p.MaxParticipants
		} else if err != nil {
			r.logger.Debug(fmt.Sprintf("privileges unavailable, using local formula: %v", err))
		}
	}
	return MaxAllowedParticipants(r.xp())
}

// CreateRoom validates the input, enforces the XP-derived capacity cap, and
// creates the room with the caller as owner.
func (r *Registry) CreateRoom(ctx context.Context, input RoomCreateInput) (*Room, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid room: %v", err))
	}
	if limit := r.capacityLimit(ctx); input.MaxParticipants > limit {
		return nil, NewCapacityError(
			fmt.Sprintf("%d participants exceeds your cap of %d", input.MaxParticipants, limit),
			RequiredXPForParticipants(input.MaxParticipants),
		)
	}
	room, err := r.api.CreateRoom(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	r.put(*room)
	return room, nil
}

// JoinRoomByCode resolves an invitation code and adds the room to the
// caller's visible set. Idempotent: joining a room already in the set
// replaces the entry rather than duplicating it.
func (r *Registry) JoinRoomByCode(ctx context.Context, code string) (*Room, error) {
	if code == "" {
		return nil, NewValidationError("invitation code is required")
	}
	room, err := r.api.JoinRoomByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	r.put(*room)
	r.setCurrent(room.ID)
	return room, nil
}

// EnterRoom marks the caller as an active participant of the room's shared
// space. Independent of the chat/call connection.
func (r *Registry) EnterRoom(ctx context.Context, roomID string) (*Room, error) {
	room, err := r.api.EnterRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("enter room: %w", err)
	}
	r.put(*room)
	r.setCurrent(room.ID)
	return room, nil
}

// LeaveRoom removes the caller from the room's participants and drops it
// from the visible set. An owner may leave without deleting; ownership is
// not transferred and the room is left ownerless (deletion remains the only
// destructive owner exit).
func (r *Registry) LeaveRoom(ctx context.Context, roomID string) error {
	if room, ok := r.Room(roomID); ok && room.OwnerID == r.userID {
		r.logger.Warn(fmt.Sprintf("owner leaving room %s without deleting it", roomID))
	}
	if err := r.api.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	r.remove(roomID)
	return nil
}

// UpdateRoom edits room settings. Owner-only.
func (r *Registry) UpdateRoom(ctx context.Context, roomID string, input RoomUpdateInput) (*Room, error) {
	if err := input.Validate(); err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid room: %v", err))
	}
	if err := r.requireOwner(roomID); err != nil {
		return nil, err
	}
	room, err := r.api.UpdateRoom(ctx, roomID, input)
	if err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}
	r.put(*room)
	return room, nil
}

// DeleteRoom destroys the room. Owner-only; the room disappears from every
// participant's visible set on their next refresh.
func (r *Registry) DeleteRoom(ctx context.Context, roomID string) error {
	if err := r.requireOwner(roomID); err != nil {
		return err
	}
	if err := r.api.DeleteRoom(ctx, roomID); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	r.remove(roomID)
	return nil
}

// GenerateInvitationCode mints a fresh opaque code for the room,
// invalidating any previous one. Owner-only.
func (r *Registry) GenerateInvitationCode(ctx context.Context, roomID string) (string, error) {
	if err := r.requireOwner(roomID); err != nil {
		return "", err
	}
	code, err := r.api.GenerateInvitationCode(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("generate invitation code: %w", err)
	}
	r.mu.Lock()
	if room, ok := r.rooms[roomID]; ok {
		room.InvitationCode = code
		r.rooms[roomID] = room
	}
	r.mu.Unlock()
	return code, nil
}

// InviteUser creates a pending invitation for the target. Gated on the
// room's remaining capacity.
func (r *Registry) InviteUser(ctx context.Context, roomID, targetUserID string) error {
	room, ok := r.Room(roomID)
	if !ok {
		return NewNotFoundError("room not found")
	}
	if room.ParticipantCount >= room.MaxParticipants {
		return NewCapacityError(
			"room is at maximum capacity",
			RequiredXPForParticipants(room.MaxParticipants+1),
		)
	}
	if err := r.api.InviteUser(ctx, roomID, targetUserID); err != nil {
		return fmt.Errorf("invite user: %w", err)
	}
	return nil
}

// AcceptInvitation accepts a pending room invitation and refreshes the
// visible set.
func (r *Registry) AcceptInvitation(ctx context.Context, roomID string) error {
	if err := r.api.AcceptInvitation(ctx, roomID); err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	return r.Refresh(ctx)
}

// Refresh re-pulls the caller's visible rooms from the collaborator.
func (r *Registry) Refresh(ctx context.Context) error {
	rooms, err := r.api.GetRooms(ctx)
	if err != nil {
		return fmt.Errorf("refresh rooms: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[string]Room, len(rooms))
	for _, room := range rooms {
		r.rooms[room.ID] = room
	}
	if _, ok := r.rooms[r.current]; !ok {
		r.current = ""
	}
	return nil
}

// Rooms returns the visible set sorted by name.
func (r *Registry) Rooms() []Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	slices.SortFunc(rooms, func(a, b Room) int {
		if a.Name == b.Name {
			return compareStrings(a.ID, b.ID)
		}
		return compareStrings(a.Name, b.Name)
	})
	return rooms
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (r *Registry) Room(roomID string) (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// Current returns the room whose shared space is open, if any.
func (r *Registry) Current() (Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[r.current]
	return room, ok
}

func (r *Registry) requireOwner(roomID string) error {
	room, ok := r.Room(roomID)
	if !ok {
		return NewNotFoundError("room not found")
	}
	if room.OwnerID != r.userID {
		return NewPermissionError("only the room owner may do that")
	}
	return nil
}

func (r *Registry) put(room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.ID] = room
}

func (r *Registry) remove(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
	if r.current == roomID {
		r.current = ""
	}
}

func (r *Registry) setCurrent(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = roomID
}
