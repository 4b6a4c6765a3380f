package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
)

// Realtime event types carried over a room's channel. The envelope is a
// JSON object discriminated by "type" with a type-specific payload.
const (
	JoinRoomEvent     = "join_room"
	ChatEvent         = "chat"
	TypingStartEvent  = "typing_start"
	TypingStopEvent   = "typing_stop"
	UserOnlineEvent   = "user_online"
	UserOfflineEvent  = "user_offline"
	RTCOfferEvent     = "rtc_offer"
	RTCAnswerEvent    = "rtc_answer"
	RTCCandidateEvent = "rtc_candidate"
	CallStartedEvent  = "call_started"
	CallEndedEvent    = "call_ended"
)

// Event is the realtime envelope. Sender is filled in by the transport on
// receipt and never serialized.
type Event struct {
	Sender  string          `json:"-"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("Event{Sender: %s, Type: %s, Payload.Size: %d}", e.Sender, e.Type, len(e.Payload))
}

// NewEvent marshals payload into an envelope of the given type.
func NewEvent(t string, payload any) (*Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return &Event{Type: t, Payload: b}, nil
}

func EncodeEvent(w io.Writer, e *Event) error {
	if err := json.NewEncoder(w).Encode(e); err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return nil
}

func DecodeEvent(r io.Reader, e *Event) error {
	if err := json.NewDecoder(r).Decode(e); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	return nil
}

type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type ChatPayload struct {
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

type PresencePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

// RTCSessionPayload carries an offer or answer to one remote participant.
// FromUserID is stamped by the relay so the receiver can route the exchange
// to the right peer connection.
type RTCSessionPayload struct {
	TargetUserID string                    `json:"targetUserId"`
	FromUserID   string                    `json:"fromUserId,omitempty"`
	SDP          webrtc.SessionDescription `json:"sdp"`
}

type RTCCandidatePayload struct {
	TargetUserID string                  `json:"targetUserId"`
	FromUserID   string                  `json:"fromUserId,omitempty"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

type CallPayload struct {
	RoomID string `json:"roomId"`
}

// EventHandler consumes one decoded event.
type EventHandler func(context.Context, *Event) error

// EventRouter dispatches events to the handler registered for their type.
// Dispatch is synchronous so events are consumed in arrival order per
// connection, matching the transport's ordering guarantee.
type EventRouter struct {
	handlers map[string]EventHandler
	logger   *slog.Logger
}

func NewEventRouter(logger *slog.Logger) *EventRouter {
	return &EventRouter{
		handlers: make(map[string]EventHandler),
		logger:   logger,
	}
}

// On registers the handler for an event type. Registering the same type
// twice panics; routing tables are wired once at construction.
func (r *EventRouter) On(eventType string, h EventHandler) {
	if _, ok := r.handlers[eventType]; ok {
		panic(fmt.Sprintf("handler(%s): already registered", eventType))
	}
	r.handlers[eventType] = h
}

// Dispatch routes e to its handler. Unroutable events and handler errors are
// logged, never propagated: a malformed or unknown message must not take
// down the read loop.
func (r *EventRouter) Dispatch(ctx context.Context, e *Event) {
	h, ok := r.handlers[e.Type]
	if !ok {
		r.logger.Debug(fmt.Sprintf("no handler for %s", e.Type))
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(fmt.Sprintf("handler(%s) panic: %v", e.Type, rec))
		}
	}()
	if err := h(ctx, e); err != nil {
		r.logger.Error(fmt.Sprintf("handler(%s): %v", e.Type, err))
	}
}
