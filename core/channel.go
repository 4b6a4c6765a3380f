package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// ReconnectDelay is the fixed wait before redialing a dropped channel.
	// No backoff and no attempt cap; callers needing a longer pause can
	// raise it via the option.
	ReconnectDelay = 3 * time.Second

	// outboundBuffer holds events sent before the dial completes and during
	// brief write stalls.
	outboundBuffer = 64
)

// Channel is the duplex realtime connection for one room: it carries chat,
// typing, presence, and call signaling. One channel exists per (user, room)
// while the room's shared space is open, owned exclusively by the space.
//
// On open the channel announces join_room, then pumps events both ways.
// Incoming events are dispatched through the router in arrival order. An
// unexpected close notifies the owner and redials after a fixed delay.
// Events sent before the dial completes sit in the outbound buffer and are
// delivered once the channel opens.
type Channel struct {
	url      string
	roomID   string
	userID   string
	username string

	dialer *websocket.Dialer
	router *EventRouter
	logger *slog.Logger

	reconnectDelay time.Duration
	onDisconnect   func(error)

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	out       chan *Event
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type ChannelOption func(*Channel)

func WithReconnectDelay(d time.Duration) ChannelOption {
	return func(c *Channel) { c.reconnectDelay = d }
}

func WithChannelLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) { c.logger = l }
}

func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// NewChannel builds an unconnected channel for one room. url is the
// collaborator's realtime websocket endpoint, already carrying the room
// query and credentials.
func NewChannel(url, roomID, userID, username string, router *EventRouter, opts ...ChannelOption) *Channel {
	c := &Channel{
		url:            url,
		roomID:         roomID,
		userID:         userID,
		username:       username,
		dialer:         websocket.DefaultDialer,
		router:         router,
		logger:         slog.Default(),
		reconnectDelay: ReconnectDelay,
		out:            make(chan *Event, outboundBuffer),
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("channel", roomID))
	return c
}

// OnDisconnect registers the owner's callback for unexpected closes. Must be
// set before Connect.
func (c *Channel) OnDisconnect(f func(error)) {
	c.onDisconnect = f
}

// Connect dials the endpoint, announces join_room, and starts the pumps.
// Dial failures are transport errors; the caller decides whether to retry.
func (c *Channel) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		return NewTransportError("connect realtime channel", err)
	}
	if !c.adoptConn(conn) {
		return ErrChannelClosed
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.supervise(ctx, conn)
	}()
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	join, err := NewEvent(JoinRoomEvent, JoinRoomPayload{
		RoomID:   c.roomID,
		UserID:   c.userID,
		Username: c.username,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := c.write(conn, join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("announce join: %w", err)
	}
	return conn, nil
}

// supervise owns the reconnect loop: pump until the connection dies, notify
// the owner, wait the fixed delay, redial.
func (c *Channel) supervise(ctx context.Context, conn *websocket.Conn) {
	for {
		err := c.pump(ctx, conn)
		c.setDisconnected()
		if c.isClosed() || ctx.Err() != nil {
			return
		}
		c.logger.Info(fmt.Sprintf("channel dropped: %v", err))
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}

		redialed := false
		for !redialed {
			select {
			case <-c.closed:
				return
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			next, err := c.dial(ctx)
			if err != nil {
				c.logger.Error(fmt.Sprintf("redial: %v", err))
				continue
			}
			if !c.adoptConn(next) {
				return
			}
			conn = next
			redialed = true
		}
	}
}

// pump runs the read and write loops for one connection and returns the read
// loop's terminal error.
func (c *Channel) pump(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(conn, stop)
	}()
	err := c.readPump(ctx, conn)
	close(stop)
	conn.Close()
	wg.Wait()
	return err
}

func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
			}
			return err
		}
		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %d", format))
			continue
		}
		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		c.router.Dispatch(ctx, &event)
	}
}

func (c *Channel) writePump(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case e := <-c.out:
			if err := c.write(conn, e); err != nil {
				c.logger.Error(fmt.Sprintf("write %s: %v", e.Type, err))
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("write ping: %v", err))
				conn.Close()
				return
			}
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, e *Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	if err := EncodeEvent(w, e); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Send queues an event of the given type for delivery. Sends racing Connect
// are held in the outbound buffer and flushed once the channel opens; sends
// after Close fail with ErrChannelClosed.
func (c *Channel) Send(eventType string, payload any) error {
	e, err := NewEvent(eventType, payload)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case c.out <- e:
		return nil
	default:
		return NewTransportError("outbound buffer full", nil)
	}
}

// Close shuts the channel down. Idempotent and safe on a channel that never
// connected; always invoked when the shared space closes.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}
	})
	c.wg.Wait()
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// adoptConn installs a freshly dialed connection. When Close won the race
// during the dial RTT the connection is discarded here instead; the mutex
// orders the check against Close reading c.conn, so a dialed socket is
// always either adopted and later closed by Close, or closed on the spot.
func (c *Channel) adoptConn(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		conn.Close()
		return false
	}
	c.conn = conn
	c.connected = true
	return true
}

func (c *Channel) setDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}
