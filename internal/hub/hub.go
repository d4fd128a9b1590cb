// Package hub implements the websocket notification hub: it upgrades
// client connections, runs the auth/subscribe/unsubscribe/ping
// protocol, evicts dead peers via heartbeat, and fans pipeline events
// out to topic subscribers. Delivery is at-most-once, best-effort;
// subscriptions live only as long as the process.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskforge/pipeline-api/internal/auth"
	"github.com/taskforge/pipeline-api/internal/config"
	"github.com/taskforge/pipeline-api/internal/platform/metrics"
)

// Topic is a subscription key: one resource instance clients can watch.
type Topic struct {
	Resource string
	ID       int64
}

// Hub owns the connection set and the topic-subscription registry.
// All registry access goes through the mutex; fan-out sends happen
// outside it, through each connection's ordered send channel.
type Hub struct {
	verifier             auth.Verifier
	heartbeatInterval    time.Duration
	allowUnauthenticated bool
	logger               *slog.Logger
	upgrader             websocket.Upgrader

	// baseCtx is the process context, used for verifier calls made on
	// connection goroutines.
	baseCtx context.Context

	mu     sync.Mutex
	conns  map[*Conn]map[Topic]struct{}
	topics map[Topic]map[*Conn]struct{}
}

// New creates a Hub. Call Run to start the heartbeat sweep.
func New(cfg config.HubConfig, verifier auth.Verifier, logger *slog.Logger) *Hub {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		verifier:             verifier,
		heartbeatInterval:    interval,
		allowUnauthenticated: cfg.AllowUnauthenticated,
		logger:               logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the app's own origin; the
			// bearer-token auth step is the real gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
		conns:   make(map[*Conn]map[Topic]struct{}),
		topics:  make(map[Topic]map[*Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket connection and starts
// its read and write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(h, ws)

	h.mu.Lock()
	h.conns[c] = make(map[Topic]struct{})
	h.mu.Unlock()
	metrics.HubConnections.Inc()

	c.log.Info("client connected")
	go c.writePump()

	c.enqueue(connectionMessage{Type: msgConnection, ClientID: c.id.String()})
	c.mu.Lock()
	c.state = stateUnauthenticated
	c.mu.Unlock()

	go c.readPump()
}

// Run drives the heartbeat sweep until ctx is cancelled, then closes
// every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started", "heartbeat_interval", h.heartbeatInterval)

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			h.logger.Info("hub stopped")
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep terminates connections that did not answer the previous ping
// and pings the survivors. Two silent cycles kill a connection.
func (h *Hub) sweep() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.consumeAlive() {
			c.log.Info("heartbeat timed out, terminating connection")
			h.unregister(c)
			continue
		}
		if err := c.ping(); err != nil {
			c.log.Debug("heartbeat ping failed", "error", err)
			h.unregister(c)
		}
	}
}

// subscribe adds the connection to the topic's subscriber set.
// Idempotent.
func (h *Hub) subscribe(c *Conn, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.conns[c]
	if !ok {
		// Connection already torn down; do not resurrect registry
		// entries for it.
		return
	}
	subs[topic] = struct{}{}

	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Conn]struct{})
	}
	h.topics[topic][c] = struct{}{}

	c.log.Debug("subscribed", "resource", topic.Resource, "resource_id", topic.ID)
}

// unsubscribe removes the connection from the topic. Topics with no
// remaining subscribers are deleted from the registry.
func (h *Hub) unsubscribe(c *Conn, topic Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(c, topic)
}

func (h *Hub) unsubscribeLocked(c *Conn, topic Topic) {
	if subs, ok := h.conns[c]; ok {
		delete(subs, topic)
	}
	if set, ok := h.topics[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// unregister removes the connection from the hub and every topic it
// subscribed to, then closes it. Safe to call from any goroutine and
// more than once.
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	subs, ok := h.conns[c]
	if ok {
		delete(h.conns, c)
		for topic := range subs {
			h.unsubscribeLocked(c, topic)
		}
	}
	h.mu.Unlock()

	if ok {
		metrics.HubConnections.Dec()
		c.log.Info("client disconnected")
	}
	c.close()
}

// NotifySubscribers fans data out to every current subscriber of the
// (resource, id) topic. Connections that are closed or backed up are
// skipped silently; delivery is at-most-once.
func (h *Hub) NotifySubscribers(resource string, id int64, data any) {
	topic := Topic{Resource: resource, ID: id}

	h.mu.Lock()
	set := h.topics[topic]
	subscribers := make([]*Conn, 0, len(set))
	for c := range set {
		subscribers = append(subscribers, c)
	}
	h.mu.Unlock()

	if len(subscribers) == 0 {
		return
	}

	msg := updateMessage{
		Type:      msgUpdate,
		Resource:  resource,
		ID:        id,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, c := range subscribers {
		c.enqueue(msg)
	}
	metrics.HubEventsSent.WithLabelValues(resource).Add(float64(len(subscribers)))
}

// SubscriberCount returns the current number of subscribers on a topic.
func (h *Hub) SubscriberCount(topic Topic) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.unregister(c)
	}
}
