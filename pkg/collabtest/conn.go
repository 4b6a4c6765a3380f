package collabtest

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/putto11262002/studyroom/core"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// conn is one client connection registered in a room.
type conn struct {
	ws       *websocket.Conn
	userID   string
	username string
	roomID   string

	writeStream chan *core.Event
	done        chan struct{}
	closeOnce   sync.Once
	logger      *slog.Logger
}

// send queues e for the write loop. A closed conn drops the event; routing
// snapshots its targets before sending, so a kicked or shut-down conn can
// still sit in an in-flight broadcast.
func (c *conn) send(e *core.Event) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.writeStream <- e:
	default:
		c.logger.Warn(fmt.Sprintf("dropping %s for %s: write stream full", e.Type, c.userID))
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e := <-c.writeStream:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.ws.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Error(fmt.Sprintf("next writer: %v", err))
				return
			}
			if err := core.EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			w.Close()
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("write ping: %v", err))
				return
			}
		}
	}
}
