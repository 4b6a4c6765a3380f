package collabtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/putto11262002/studyroom/core"
)

const (
	baseSharedRooms  = 3
	sharedRoomXPStep = 500
)

type userRecord struct {
	ID        string
	Username  string
	XP        int
	Pomodoros int
}

type sessionRecord struct {
	ID       string
	UserID   string
	Start    time.Time
	End      time.Time
	EarnedXP int
	Ended    bool
}

type todoRecord struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	RoomID    string `json:"roomId"`
	IsShared  bool   `json:"isShared"`
	Completed bool   `json:"completed"`
}

type materialRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RoomID   string `json:"roomId"`
	IsShared bool   `json:"isShared"`
}

type noteRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	RoomID   string `json:"roomId"`
	IsShared bool   `json:"isShared"`
}

// Service is the in-memory collaborator used in tests: the REST surface the
// engine's HTTP clients speak, plus the realtime hub under /ws. Bearer tokens
// are user IDs. All state is held in memory and inspectable through the
// accessors.
type Service struct {
	logger *slog.Logger
	hub    *Hub
	router chi.Router

	mu       sync.Mutex
	users    map[string]*userRecord
	rooms    map[string]*core.Room
	codes    map[string]string
	invites  map[string]map[string]struct{}
	sessions map[string]*sessionRecord

	todos     map[string][]todoRecord
	materials map[string][]materialRecord
	notes     map[string][]noteRecord
}

func New(logger *slog.Logger) *Service {
	s := &Service{
		logger:    logger,
		hub:       NewHub(logger),
		users:     make(map[string]*userRecord),
		rooms:     make(map[string]*core.Room),
		codes:     make(map[string]string),
		invites:   make(map[string]map[string]struct{}),
		sessions:  make(map[string]*sessionRecord),
		todos:     make(map[string][]todoRecord),
		materials: make(map[string][]materialRecord),
		notes:     make(map[string][]noteRecord),
	}
	s.router = s.routes()
	return s
}

func (s *Service) Handler() http.Handler { return s.router }

func (s *Service) Hub() *Hub { return s.hub }

// Close drops every realtime connection.
func (s *Service) Close() { s.hub.Close() }

// AddUser seeds a user the service will accept as a bearer token.
func (s *Service) AddUser(id, username string, xp int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = &userRecord{ID: id, Username: username, XP: xp}
}

// UserXP reports a seeded user's current XP total.
func (s *Service) UserXP(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u.XP
	}
	return 0
}

// Room returns a copy of the room record.
func (s *Service) Room(id string) (core.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return core.Room{}, false
	}
	return *room, true
}

// SessionsFor returns every session the user has opened, ended or not.
func (s *Service) SessionsFor(userID string) []core.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sessions []core.Session
	for _, rec := range s.sessions {
		if rec.UserID != userID {
			continue
		}
		sessions = append(sessions, core.Session{
			ID:        rec.ID,
			StartTime: rec.Start,
			EndTime:   rec.End,
			EarnedXP:  rec.EarnedXP,
		})
	}
	return sessions
}

// RoomTodoTexts returns the text of every todo shared into the room.
func (s *Service) RoomTodoTexts(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, 0, len(s.todos[roomID]))
	for _, td := range s.todos[roomID] {
		texts = append(texts, td.Text)
	}
	return texts
}

func (s *Service) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/ws", s.hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)

		r.Route("/rooms", func(r chi.Router) {
			r.Post("/", s.createRoom)
			r.Get("/", s.getRooms)
			r.Post("/join", s.joinByCode)
			r.Route("/{roomID}", func(r chi.Router) {
				r.Get("/", s.getRoom)
				r.Put("/", s.updateRoom)
				r.Delete("/", s.deleteRoom)
				r.Post("/invitation-code", s.generateCode)
				r.Post("/invite", s.inviteUser)
				r.Post("/accept", s.acceptInvitation)
				r.Post("/leave", s.leaveRoom)
				r.Post("/enter", s.enterRoom)
				r.Get("/todos", s.roomTodos)
				r.Get("/materials", s.roomMaterials)
				r.Get("/notes", s.roomNotes)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/start", s.startSession)
			r.Post("/end", s.endSession)
			r.Get("/stats", s.stats)
			r.Get("/privileges", s.privileges)
		})

		r.Post("/xp", s.addXP)
		r.Post("/todos", s.createTodo)
		r.Post("/materials", s.createMaterial)
		r.Post("/notes", s.createNote)
	})

	return r
}

type ctxKey int

const userKey ctxKey = 0

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userKey).(string)
	return id
}

func (s *Service) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.users[token]
		s.mu.Unlock()
		if token == "" || !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), token)))
	})
}

func (s *Service) createRoom(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	var input core.RoomCreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := input.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[userID]
	if limit := core.MaxAllowedParticipants(user.XP); input.MaxParticipants > limit {
		writeCapacity(w, fmt.Sprintf("capacity %d exceeds your cap of %d", input.MaxParticipants, limit),
			core.RequiredXPForParticipants(input.MaxParticipants))
		return
	}
	room := &core.Room{
		ID:               uuid.NewString(),
		Name:             input.Name,
		Description:      input.Description,
		OwnerID:          userID,
		MaxParticipants:  input.MaxParticipants,
		ParticipantCount: 1,
		Participants:     []string{userID},
	}
	s.rooms[room.ID] = room
	writeJSON(w, http.StatusCreated, map[string]any{"room": room})
}

func (s *Service) getRooms(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]core.Room, 0)
	for _, room := range s.rooms {
		if slices.Contains(room.Participants, userID) {
			rooms = append(rooms, *room)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

func (s *Service) getRoom(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[chi.URLParam(r, "roomID")]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *Service) updateRoom(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	var input core.RoomUpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if err := input.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[chi.URLParam(r, "roomID")]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.OwnerID != userID {
		writeError(w, http.StatusForbidden, "only the owner may update the room")
		return
	}
	room.Name = input.Name
	room.Description = input.Description
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *Service) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := chi.URLParam(r, "roomID")
	room, ok := s.rooms[roomID]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.OwnerID != userID {
		writeError(w, http.StatusForbidden, "only the owner may delete the room")
		return
	}
	delete(s.rooms, roomID)
	for code, id := range s.codes {
		if id == roomID {
			delete(s.codes, code)
		}
	}
	delete(s.invites, roomID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) joinByCode(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	var body struct {
		InvitationCode string `json:"invitationCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InvitationCode == "" {
		writeError(w, http.StatusBadRequest, "invitation code is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID, ok := s.codes[body.InvitationCode]
	if !ok {
		writeError(w, http.StatusNotFound, "invalid invitation code")
		return
	}
	room := s.rooms[roomID]
	if err := s.addParticipant(w, room, userID); err != nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

func (s *Service) generateCode(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := chi.URLParam(r, "roomID")
	room, ok := s.rooms[roomID]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.OwnerID != userID {
		writeError(w, http.StatusForbidden, "only the owner may generate codes")
		return
	}
	// a fresh code invalidates the previous one
	for code, id := range s.codes {
		if id == roomID {
			delete(s.codes, code)
		}
	}
	code := uuid.NewString()
	s.codes[code] = roomID
	room.InvitationCode = code
	writeJSON(w, http.StatusOK, map[string]string{"invitationCode": code})
}

func (s *Service) inviteUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := chi.URLParam(r, "roomID")
	room, ok := s.rooms[roomID]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if room.ParticipantCount >= room.MaxParticipants {
		writeCapacity(w, "room is at maximum capacity",
			core.RequiredXPForParticipants(room.MaxParticipants+1))
		return
	}
	if s.invites[roomID] == nil {
		s.invites[roomID] = make(map[string]struct{})
	}
	s.invites[roomID][body.UserID] = struct{}{}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := chi.URLParam(r, "roomID")
	room, ok := s.rooms[roomID]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if _, invited := s.invites[roomID][userID]; !invited {
		writeError(w, http.StatusNotFound, "no pending invitation")
		return
	}
	if err := s.addParticipant(w, room, userID); err != nil {
		return
	}
	delete(s.invites[roomID], userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[chi.URLParam(r, "roomID")]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if idx := slices.Index(room.Participants, userID); idx >= 0 {
		room.Participants = slices.Delete(room.Participants, idx, idx+1)
		room.ParticipantCount = len(room.Participants)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) enterRoom(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[chi.URLParam(r, "roomID")]
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	if !slices.Contains(room.Participants, userID) {
		writeError(w, http.StatusForbidden, "not a participant of this room")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room": room})
}

// addParticipant enforces capacity; joining twice is a no-op. Writes the
// error response itself and reports it so handlers can stop.
func (s *Service) addParticipant(w http.ResponseWriter, room *core.Room, userID string) error {
	if slices.Contains(room.Participants, userID) {
		return nil
	}
	if room.ParticipantCount >= room.MaxParticipants {
		writeCapacity(w, "room is at maximum capacity",
			core.RequiredXPForParticipants(room.MaxParticipants+1))
		return fmt.Errorf("room full")
	}
	room.Participants = append(room.Participants, userID)
	room.ParticipantCount = len(room.Participants)
	return nil
}

func (s *Service) startSession(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	var body struct {
		StartTime time.Time `json:"startTime"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StartTime.IsZero() {
		writeError(w, http.StatusBadRequest, "startTime is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &sessionRecord{
		ID:     uuid.NewString(),
		UserID: userID,
		Start:  body.StartTime,
	}
	s.sessions[rec.ID] = rec
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": rec.ID})
}

func (s *Service) endSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string    `json:"sessionId"`
		EndTime   time.Time `json:"endTime"`
		EarnedXP  int       `json:"earnedXP"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[body.SessionID]
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	rec.End = body.EndTime
	rec.EarnedXP = body.EarnedXP
	rec.Ended = true
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) stats(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[userID]
	stats := core.SessionStats{
		TotalXPEarned:      user.XP,
		TotalPomodoroCount: user.Pomodoros,
	}
	for _, rec := range s.sessions {
		if rec.UserID != userID || !rec.Ended {
			continue
		}
		stats.TotalSessions++
		stats.TotalDuration += int64(rec.End.Sub(rec.Start) / time.Second)
	}
	if stats.TotalSessions > 0 {
		stats.AverageDuration = stats.TotalDuration / int64(stats.TotalSessions)
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Service) privileges(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[userID]
	writeJSON(w, http.StatusOK, core.Privileges{
		MaxParticipants: core.MaxAllowedParticipants(user.XP),
		MaxSharedRooms:  baseSharedRooms + user.XP/sharedRoomXPStep,
	})
}

func (s *Service) addXP(w http.ResponseWriter, r *http.Request) {
	userID := userFrom(r)
	var report core.XPReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil || report.XP <= 0 {
		writeError(w, http.StatusBadRequest, "xp must be positive")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[userID]
	user.XP += report.XP
	if report.Source == core.XPSourcePomodoro {
		user.Pomodoros++
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) roomTodos(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := chi.URLParam(r, "roomID")
	todos := s.todos[roomID]
	if todos == nil {
		todos = []todoRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"todos": todos})
}

func (s *Service) roomMaterials(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	materials := s.materials[chi.URLParam(r, "roomID")]
	if materials == nil {
		materials = []materialRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"materials": materials})
}

func (s *Service) roomNotes(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := s.notes[chi.URLParam(r, "roomID")]
	if notes == nil {
		notes = []noteRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": notes})
}

func (s *Service) createTodo(w http.ResponseWriter, r *http.Request) {
	var td todoRecord
	if err := json.NewDecoder(r.Body).Decode(&td); err != nil || td.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	td.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos[td.RoomID] = append(s.todos[td.RoomID], td)
	writeJSON(w, http.StatusCreated, td)
}

func (s *Service) createMaterial(w http.ResponseWriter, r *http.Request) {
	var m materialRecord
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil || m.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	m.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.materials[m.RoomID] = append(s.materials[m.RoomID], m)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Service) createNote(w http.ResponseWriter, r *http.Request) {
	var n noteRecord
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil || n.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	n.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.RoomID] = append(s.notes[n.RoomID], n)
	writeJSON(w, http.StatusCreated, n)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeCapacity(w http.ResponseWriter, msg string, requiredXP int) {
	writeJSON(w, http.StatusConflict, map[string]any{
		"error":      msg,
		"requiredXP": requiredXP,
	})
}
