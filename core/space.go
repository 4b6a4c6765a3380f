package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ChatMessage is one entry of a space's in-memory chat log.
type ChatMessage struct {
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SpaceConfig wires a shared space for one room.
type SpaceConfig struct {
	RoomID   string
	UserID   string
	Username string
	// RealtimeURL is the collaborator's websocket endpoint, already carrying
	// the room query and credentials.
	RealtimeURL string

	Devices MediaDevices
	Peers   PeerFactory

	Logger *slog.Logger
	Clock  Clock

	ChannelOptions []ChannelOption
}

// Space is the live view of one room while the caller has it open: the chat
// log, who is online, who is typing, and whether a call is running. It owns
// the room's realtime channel and call manager, routes every incoming event
// to the right piece of state, and tears both down exactly once on Dispose.
type Space struct {
	roomID   string
	userID   string
	username string

	channel *Channel
	call    *CallManager
	router  *EventRouter
	logger  *slog.Logger
	clock   Clock

	mu         sync.RWMutex
	messages   []ChatMessage
	online     map[string]string
	typing     map[string]struct{}
	callActive bool
	typingSent bool

	disposeOnce sync.Once
}

// NewSpace builds the space and its channel but does not dial; call Connect
// to go live. Events sent before Connect completes are queued by the channel.
func NewSpace(cfg SpaceConfig) *Space {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock
	}
	s := &Space{
		roomID:   cfg.RoomID,
		userID:   cfg.UserID,
		username: cfg.Username,
		logger:   logger.With(slog.String("space", cfg.RoomID)),
		clock:    clock,
		online:   make(map[string]string),
		typing:   make(map[string]struct{}),
	}
	s.router = NewEventRouter(s.logger)
	opts := append([]ChannelOption{WithChannelLogger(logger)}, cfg.ChannelOptions...)
	s.channel = NewChannel(cfg.RealtimeURL, cfg.RoomID, cfg.UserID, cfg.Username, s.router, opts...)
	s.call = NewCallManager(cfg.Devices, cfg.Peers, s.channel, cfg.RoomID, cfg.UserID, logger)
	s.route()
	return s
}

func (s *Space) route() {
	s.router.On(ChatEvent, s.handleChat)
	s.router.On(TypingStartEvent, s.handleTypingStart)
	s.router.On(TypingStopEvent, s.handleTypingStop)
	s.router.On(UserOnlineEvent, s.handleUserOnline)
	s.router.On(UserOfflineEvent, s.handleUserOffline)
	s.router.On(CallStartedEvent, s.handleCallStarted)
	s.router.On(CallEndedEvent, s.handleCallEnded)
	s.router.On(RTCOfferEvent, s.call.HandleSignal)
	s.router.On(RTCAnswerEvent, s.call.HandleSignal)
	s.router.On(RTCCandidateEvent, s.call.HandleSignal)
}

// Connect dials the room's realtime channel.
func (s *Space) Connect(ctx context.Context) error {
	return s.channel.Connect(ctx)
}

// Dispose leaves the space: the call ends first so call_ended still rides the
// open channel, then the channel closes. Idempotent.
func (s *Space) Dispose() {
	s.disposeOnce.Do(func() {
		s.call.EndCall()
		s.channel.Close()
	})
}

// SendChat queues a chat message for the room. The message lands in the local
// log when the relay echoes it back, keeping every participant's log in the
// relay's order.
func (s *Space) SendChat(content string) error {
	if content == "" {
		return NewValidationError("message content is required")
	}
	return s.channel.Send(ChatEvent, ChatPayload{
		RoomID:    s.roomID,
		SenderID:  s.userID,
		Content:   content,
		Timestamp: s.clock.Now(),
	})
}

// SetTyping reports the caller's typing state. Repeated calls with an
// unchanged state are collapsed so the channel only carries transitions.
func (s *Space) SetTyping(active bool) error {
	s.mu.Lock()
	if s.typingSent == active {
		s.mu.Unlock()
		return nil
	}
	s.typingSent = active
	s.mu.Unlock()

	eventType := TypingStopEvent
	if active {
		eventType = TypingStartEvent
	}
	return s.channel.Send(eventType, TypingPayload{RoomID: s.roomID, UserID: s.userID})
}

func (s *Space) handleChat(ctx context.Context, e *Event) error {
	var p ChatPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal chat: %w", err)
	}
	s.mu.Lock()
	s.messages = append(s.messages, ChatMessage{
		SenderID:  p.SenderID,
		Content:   p.Content,
		Timestamp: p.Timestamp,
	})
	s.mu.Unlock()
	return nil
}

func (s *Space) handleTypingStart(ctx context.Context, e *Event) error {
	var p TypingPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal typing: %w", err)
	}
	if p.UserID == "" || p.UserID == s.userID {
		return nil
	}
	s.mu.Lock()
	s.typing[p.UserID] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Space) handleTypingStop(ctx context.Context, e *Event) error {
	var p TypingPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal typing: %w", err)
	}
	s.mu.Lock()
	delete(s.typing, p.UserID)
	s.mu.Unlock()
	return nil
}

func (s *Space) handleUserOnline(ctx context.Context, e *Event) error {
	var p PresencePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal presence: %w", err)
	}
	if p.UserID == "" {
		return nil
	}
	s.mu.Lock()
	s.online[p.UserID] = p.Username
	s.mu.Unlock()
	return nil
}

func (s *Space) handleUserOffline(ctx context.Context, e *Event) error {
	var p PresencePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("unmarshal presence: %w", err)
	}
	s.mu.Lock()
	delete(s.online, p.UserID)
	delete(s.typing, p.UserID)
	s.mu.Unlock()
	s.call.DropPeer(p.UserID)
	return nil
}

func (s *Space) handleCallStarted(ctx context.Context, e *Event) error {
	s.mu.Lock()
	s.callActive = true
	s.mu.Unlock()
	return nil
}

func (s *Space) handleCallEnded(ctx context.Context, e *Event) error {
	s.mu.Lock()
	s.callActive = false
	s.mu.Unlock()
	return nil
}

// Messages returns a copy of the chat log in arrival order.
func (s *Space) Messages() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Online returns the online participants as userID to username.
func (s *Space) Online() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.online))
	for id, name := range s.online {
		out[id] = name
	}
	return out
}

// Typing returns the user IDs currently typing, excluding the caller.
func (s *Space) Typing() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	return out
}

// CallActive reports whether any participant has a call running in the room.
func (s *Space) CallActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callActive
}

func (s *Space) RoomID() string { return s.roomID }

// Call exposes the space's call session manager.
func (s *Space) Call() *CallManager { return s.call }

// Channel exposes the underlying realtime channel.
func (s *Space) Channel() *Channel { return s.channel }
