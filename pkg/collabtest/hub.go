package collabtest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/putto11262002/studyroom/core"
)

// Hub is the in-memory realtime relay: it registers each connection into its
// room on join_room and applies the routing rules the engine relies on. Chat
// echoes back to the sender; typing, presence, and call announcements go to
// the other members; rtc signals go only to their target with the sender
// stamped in.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]map[string]*conn
	conns map[*conn]struct{}
	wg    sync.WaitGroup
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rooms: make(map[string]map[string]*conn),
		conns: make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(fmt.Sprintf("upgrade: %v", err))
		return
	}
	c := &conn{
		ws:          ws,
		writeStream: make(chan *core.Event, 100),
		done:        make(chan struct{}),
		logger:      h.logger,
	}
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writeLoop()
	}()
	h.readLoop(c)
}

// Close drops every connection, registered in a room or not, and waits for
// the write loops.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.conns {
		c.close()
		c.ws.Close()
	}
	h.conns = make(map[*conn]struct{})
	h.rooms = make(map[string]map[string]*conn)
	h.mu.Unlock()
	h.wg.Wait()
}

// RoomMembers returns the user IDs currently registered in the room.
func (h *Hub) RoomMembers(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := make([]string, 0, len(h.rooms[roomID]))
	for id := range h.rooms[roomID] {
		members = append(members, id)
	}
	return members
}

func (h *Hub) readLoop(c *conn) {
	defer func() {
		h.unregister(c)
		c.close()
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		c.ws.Close()
	}()
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.ws.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug(fmt.Sprintf("expected close: %v", err))
			}
			return
		}
		if format != websocket.TextMessage {
			h.logger.Error(fmt.Sprintf("unexpected message format: %d", format))
			continue
		}
		var event core.Event
		if err := core.DecodeEvent(r, &event); err != nil {
			h.logger.Error(err.Error())
			continue
		}
		event.Sender = c.userID
		h.route(c, &event)
	}
}

func (h *Hub) route(c *conn, e *core.Event) {
	switch e.Type {
	case core.JoinRoomEvent:
		var p core.JoinRoomPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			h.logger.Error(fmt.Sprintf("unmarshal join: %v", err))
			return
		}
		h.register(c, p)
	case core.ChatEvent:
		var p core.ChatPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return
		}
		p.SenderID = c.userID
		stamped, err := core.NewEvent(core.ChatEvent, p)
		if err != nil {
			return
		}
		// chat echoes back to the sender; every member's log shares the
		// relay's order
		h.broadcast(c.roomID, stamped, "")
	case core.TypingStartEvent, core.TypingStopEvent:
		var p core.TypingPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return
		}
		p.UserID = c.userID
		stamped, err := core.NewEvent(e.Type, p)
		if err != nil {
			return
		}
		h.broadcast(c.roomID, stamped, c.userID)
	case core.CallStartedEvent, core.CallEndedEvent:
		h.broadcast(c.roomID, e, c.userID)
	case core.RTCOfferEvent, core.RTCAnswerEvent:
		var p core.RTCSessionPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return
		}
		p.FromUserID = c.userID
		stamped, err := core.NewEvent(e.Type, p)
		if err != nil {
			return
		}
		h.sendTo(c.roomID, p.TargetUserID, stamped)
	case core.RTCCandidateEvent:
		var p core.RTCCandidatePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return
		}
		p.FromUserID = c.userID
		stamped, err := core.NewEvent(e.Type, p)
		if err != nil {
			return
		}
		h.sendTo(c.roomID, p.TargetUserID, stamped)
	default:
		h.logger.Debug(fmt.Sprintf("unroutable event: %s", e.Type))
	}
}

// register adds the connection to its room, announces it to the other
// members, and replays the members already online to the newcomer.
func (h *Hub) register(c *conn, p core.JoinRoomPayload) {
	c.userID = p.UserID
	c.username = p.Username
	c.roomID = p.RoomID

	h.mu.Lock()
	members, ok := h.rooms[p.RoomID]
	if !ok {
		members = make(map[string]*conn)
		h.rooms[p.RoomID] = members
	}
	if prev, ok := members[p.UserID]; ok {
		prev.close()
		prev.ws.Close()
	}
	members[p.UserID] = c
	existing := make([]*conn, 0, len(members))
	for id, m := range members {
		if id != p.UserID {
			existing = append(existing, m)
		}
	}
	h.mu.Unlock()

	online, err := core.NewEvent(core.UserOnlineEvent, core.PresencePayload{
		UserID:   p.UserID,
		Username: p.Username,
	})
	if err != nil {
		return
	}
	for _, m := range existing {
		m.send(online)
		replay, err := core.NewEvent(core.UserOnlineEvent, core.PresencePayload{
			UserID:   m.userID,
			Username: m.username,
		})
		if err != nil {
			continue
		}
		c.send(replay)
	}
}

func (h *Hub) unregister(c *conn) {
	if c.roomID == "" {
		return
	}
	h.mu.Lock()
	members, ok := h.rooms[c.roomID]
	if !ok || members[c.userID] != c {
		h.mu.Unlock()
		return
	}
	delete(members, c.userID)
	if len(members) == 0 {
		delete(h.rooms, c.roomID)
	}
	h.mu.Unlock()
	c.close()

	offline, err := core.NewEvent(core.UserOfflineEvent, core.PresencePayload{
		UserID:   c.userID,
		Username: c.username,
	})
	if err != nil {
		return
	}
	h.broadcast(c.roomID, offline, c.userID)
}

// broadcast sends e to every member of the room except the excluded user.
func (h *Hub) broadcast(roomID string, e *core.Event, exclude string) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.rooms[roomID]))
	for id, m := range h.rooms[roomID] {
		if id == exclude {
			continue
		}
		targets = append(targets, m)
	}
	h.mu.Unlock()
	for _, m := range targets {
		m.send(e)
	}
}

func (h *Hub) sendTo(roomID, userID string, e *core.Event) {
	h.mu.Lock()
	target := h.rooms[roomID][userID]
	h.mu.Unlock()
	if target == nil {
		h.logger.Debug(fmt.Sprintf("no target %s in room %s for %s", userID, roomID, e.Type))
		return
	}
	target.send(e)
}
