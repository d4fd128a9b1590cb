package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// connState models the per-connection lifecycle:
// connecting -> unauthenticated -> authenticated -> closed.
type connState int

const (
	stateConnecting connState = iota
	stateUnauthenticated
	stateAuthenticated
	stateClosed
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Conn is one websocket client connection. Its inbound messages are
// handled on the read pump goroutine; outbound messages are serialized
// through the send channel and written by the write pump, which keeps
// per-connection delivery ordered.
type Conn struct {
	id  uuid.UUID
	hub *Hub
	ws  *websocket.Conn
	log *slog.Logger

	send chan []byte

	mu      sync.Mutex
	state   connState
	userID  int64
	isAlive bool

	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	id := uuid.New()
	return &Conn{
		id:      id,
		hub:     h,
		ws:      ws,
		log:     h.logger.With("client_id", id),
		send:    make(chan []byte, sendBufferSize),
		state:   stateConnecting,
		isAlive: true,
	}
}

// ID returns the server-generated client identifier.
func (c *Conn) ID() uuid.UUID {
	return c.id
}

// readPump reads inbound frames until the socket errors or closes. It
// owns connection teardown: whatever ends the loop, the connection is
// unregistered from the hub and every topic it subscribed to.
func (c *Conn) readPump() {
	defer c.hub.unregister(c)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", "error", err)
			}
			return
		}
		// Any inbound frame proves the peer is alive, not just pongs.
		c.markAlive()
		c.handleMessage(raw)
	}
}

// writePump writes queued outbound messages until the send channel is
// closed, then sends a close frame.
func (c *Conn) writePump() {
	for msg := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.log.Debug("websocket write failed", "error", err)
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

// handleMessage dispatches one inbound message. Protocol errors are
// reported to the client and never tear the connection down; only
// transport failures do that.
func (c *Conn) handleMessage(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Debug("malformed client message", "error", err)
		c.enqueue(errorMessage{Type: msgError, Message: "invalid message format"})
		return
	}

	switch msg.Type {
	case msgAuth:
		c.handleAuth(msg.Token)
	case msgSubscribe:
		c.handleSubscribe(msg.Resource, msg.ID)
	case msgUnsubscribe:
		c.handleUnsubscribe(msg.Resource, msg.ID)
	case msgPing:
		c.enqueue(pongMessage{Type: msgPong, Timestamp: time.Now().UnixMilli()})
	default:
		c.enqueue(errorMessage{Type: msgError, Message: "unknown message type: " + msg.Type})
	}
}

// handleAuth verifies the presented credential. Failure leaves the
// connection open so the client can retry with a fresh token.
func (c *Conn) handleAuth(token string) {
	identity, err := c.hub.verifier.Verify(c.hub.baseCtx, token)
	if err != nil {
		c.log.Debug("client authentication failed", "error", err)
		c.enqueue(authErrorMessage{Type: msgAuthError, Message: "authentication failed"})
		return
	}

	c.mu.Lock()
	if c.state != stateClosed {
		c.state = stateAuthenticated
		c.userID = identity.UserID
	}
	c.mu.Unlock()

	c.log.Info("client authenticated", "user_id", identity.UserID)
	c.enqueue(authSuccessMessage{
		Type:     msgAuthSuccess,
		UserID:   identity.UserID,
		Username: identity.Username,
		Role:     identity.Role,
	})
}

func (c *Conn) handleSubscribe(resource string, id int64) {
	if resource == "" {
		c.enqueue(errorMessage{Type: msgError, Message: "subscribe requires a resource"})
		return
	}
	if !c.authenticated() && !c.hub.allowUnauthenticated {
		c.enqueue(errorMessage{Type: msgError, Message: "authentication required"})
		return
	}

	c.hub.subscribe(c, Topic{Resource: resource, ID: id})
	c.enqueue(subscriptionMessage{Type: msgSubscribed, Resource: resource, ID: id})
}

func (c *Conn) handleUnsubscribe(resource string, id int64) {
	c.hub.unsubscribe(c, Topic{Resource: resource, ID: id})
	c.enqueue(subscriptionMessage{Type: msgUnsubscribed, Resource: resource, ID: id})
}

// enqueue marshals a message onto the send channel. Delivery is
// best-effort: a client whose buffer is full misses the message rather
// than blocking the hub.
func (c *Conn) enqueue(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Error("failed to marshal outbound message", "error", err)
		return
	}

	// The mutex orders this against close(): no send can race the
	// channel close.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}

	select {
	case c.send <- raw:
	default:
		c.log.Warn("send buffer full, dropping message")
	}
}

func (c *Conn) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateAuthenticated
}

func (c *Conn) markAlive() {
	c.mu.Lock()
	c.isAlive = true
	c.mu.Unlock()
}

// consumeAlive reports whether the connection answered since the last
// heartbeat sweep and arms the flag for the next one.
func (c *Conn) consumeAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	alive := c.isAlive
	c.isAlive = false
	return alive
}

// close transitions the connection to its terminal state and tears the
// socket down. Safe to call more than once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = stateClosed
		close(c.send)
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}

// ping sends a transport-level ping frame. WriteControl is safe to call
// concurrently with the write pump.
func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
