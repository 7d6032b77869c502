package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paseo-dev/paseod/internal/crypto"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"go.uber.org/zap"
)

// Keepalive constants mirroring the teacher's gateway/websocket.Client,
// unchanged: the wire framing and liveness contract are the same
// regardless of what rides on top of it.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Connection is one client WebSocket, running its own ReadPump/WritePump
// goroutine pair. Outbound delivery is FIFO per SPEC_FULL.md §5's
// per-connection ordering guarantee; on send-buffer overflow the
// connection is torn down with SlowConsumer rather than blocking the hub.
type Connection struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	sendCh chan []byte

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]bool

	// pendingRequests tracks in-flight send_agent_message requestIds this
	// connection is waiting on a terminal response for, keyed by messageId
	// and valued by the agentId the turn runs on, per SPEC_FULL.md §4.3's
	// per-connection response correlation.
	pendingRequests map[string]string

	// cipherKey, when set, marks this connection as a relay data link: frames
	// are AES-256-GCM sealed/opened in place of the local transport's plain
	// text/binary framing. Nil for a direct local WebSocket client.
	cipherKey []byte

	logger *paseolog.Logger
}

// NewConnection wraps an accepted WebSocket connection.
func NewConnection(id string, conn *websocket.Conn, hub *Hub, log *paseolog.Logger) *Connection {
	return &Connection{
		id:              id,
		conn:            conn,
		hub:             hub,
		sendCh:          make(chan []byte, sendBuffer),
		subscriptions:   make(map[string]bool),
		pendingRequests: make(map[string]string),
		logger:          log.WithConnectionID(id),
	}
}

// NewRelayConnection wraps a relay data link whose frames are sealed with
// cipherKey (derived per SPEC_FULL.md §4.4's X25519+HKDF handshake), rather
// than sent as plain text frames.
func NewRelayConnection(id string, conn *websocket.Conn, cipherKey []byte, hub *Hub, log *paseolog.Logger) *Connection {
	return &Connection{
		id:              id,
		conn:            conn,
		hub:             hub,
		sendCh:          make(chan []byte, sendBuffer),
		subscriptions:   make(map[string]bool),
		pendingRequests: make(map[string]string),
		cipherKey:       cipherKey,
		logger:          log.WithConnectionID(id),
	}
}

// ReadPump reads frames until the connection closes or ctx is cancelled,
// dispatching each to the Dispatcher in its own goroutine so a
// long-running handler never blocks the read loop.
func (c *Connection) ReadPump(ctx context.Context, dispatch func(ctx context.Context, conn *Connection, data []byte)) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if c.cipherKey != nil {
			plain, err := crypto.OpenFrame(c.cipherKey, data)
			if err != nil {
				c.logger.Warn("failed to open relay frame, closing link", zap.Error(err))
				return
			}
			data = plain
		}
		go dispatch(ctx, c, data)
	}
}

// WritePump drains sendCh to the wire, writing each queued frame as its own
// message and keeping the connection alive with periodic pings.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if c.cipherKey != nil {
				sealed, err := crypto.SealFrame(c.cipherKey, data)
				if err != nil {
					c.logger.Error("failed to seal relay frame", zap.Error(err))
					return
				}
				if err := c.conn.WriteMessage(websocket.BinaryMessage, sealed); err != nil {
					return
				}
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue delivers a pre-marshaled frame, closing the connection with
// SlowConsumer semantics (the write pump observes the closed channel and
// tears down the socket) if its outbound queue is full.
func (c *Connection) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("outbound queue full, closing connection (slow consumer)")
		c.closeLocked()
	}
}

// send marshals payload and enqueues it.
func (c *Connection) send(payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal outbound message", zap.Error(err))
		return
	}
	c.enqueue(data)
}

// addPendingRequest records that this connection is waiting on a terminal
// response for messageID, started against agentID.
func (c *Connection) addPendingRequest(messageID, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingRequests[messageID] = agentID
}

// resolvePendingRequest clears messageID from the pending set, reporting
// whether it was present (i.e. this connection originated that request).
func (c *Connection) resolvePendingRequest(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pendingRequests[messageID]; !ok {
		return false
	}
	delete(c.pendingRequests, messageID)
	return true
}

func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.sendCh)
}
