package hub

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// conn is a live connection. It satisfies session.Sender so the Session
// Table can push frames and force closes without knowing about
// gorilla/websocket at all.
//
// Send and Close are called from different goroutines (a connection's own
// read pump, another connection's dispatch on session takeover, the hub's
// disconnect handlers), so the send channel's liveness is guarded by mu
// instead of relying on sync.Once around close alone: closing and sending
// on the same unbuffered-of-intent channel from separate goroutines with no
// shared lock is a send-on-closed-channel race, not just a double-close one.
type conn struct {
	id   session.ConnID
	ws   *websocket.Conn
	send chan frame.M
	hub  *Hub

	mu     sync.Mutex
	closed bool
}

func (c *conn) Send(m frame.M) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- m:
	default:
		// Slow consumer: drop the connection rather than block the hub or
		// leak an unbounded backlog, mirroring the teacher's broadcast
		// select/default eviction in WSManager.run.
		c.closed = true
		close(c.send)
	}
}

func (c *conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// HandleWebSocket upgrades the request and starts the connection's
// read/write pumps. It is the entry point wired to GET /ws.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := session.ConnID(h.nextConnID())
	c := &conn{id: id, ws: ws, send: make(chan frame.M, sendBufferSize), hub: h}
	h.sessions.Register(id, c)

	h.log.Info("connection accepted", zap.Uint64("conn_id", uint64(id)))

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.handleDisconnect(c.id)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Uint64("conn_id", uint64(c.id)), zap.Error(err))
			}
			return
		}

		in, err := frame.Decode(raw)
		if err != nil {
			c.hub.log.Warn("malformed frame dropped", zap.Uint64("conn_id", uint64(c.id)), zap.Int("bytes", len(raw)))
			continue
		}

		c.hub.dispatch(c.id, in)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(m); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
