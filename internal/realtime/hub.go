package realtime

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	account "github.com/vadim/neo-social/internal/domain/account/entity"
	"github.com/vadim/neo-social/internal/metrics"
	"github.com/vadim/neo-social/internal/realtime/wire"
)

// Conn is one live client connection as seen by the hub. The transport
// drains Send and writes frames to the socket.
type Conn struct {
	ID       string
	Identity account.Identity

	send    chan []byte
	limiter *rate.Limiter
}

// ConnOptions configures a connection
type ConnOptions struct {
	SendBuffer int
	// RPS of zero disables inbound rate limiting.
	RPS   float64
	Burst int
}

// NewConn creates a connection for an authenticated identity
func NewConn(identity account.Identity, opts ConnOptions) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}

	c := &Conn{
		ID:       uuid.New().String(),
		Identity: identity,
		send:     make(chan []byte, opts.SendBuffer),
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RPS)
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return c
}

// Send returns the outbound frame queue. It is closed when the hub drops
// the connection.
func (c *Conn) Send() <-chan []byte {
	return c.send
}

// Allow consumes one token of the inbound event budget
func (c *Conn) Allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Hub maps channels to connections and publishes encoded frames to them.
// Delivery is best effort: a frame for a connection with a full buffer is
// dropped.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Conn
	channels map[string]map[string]*Conn
	joined   map[string]map[string]struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		conns:    make(map[string]*Conn),
		channels: make(map[string]map[string]*Conn),
		joined:   make(map[string]map[string]struct{}),
		logger:   logger,
		metrics:  m,
	}
}

// Add registers a connection without joining any channel
func (h *Hub) Add(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID] = c
	if _, ok := h.joined[c.ID]; !ok {
		h.joined[c.ID] = make(map[string]struct{})
	}
}

// Remove leaves every channel, closes the connection's queue and returns
// it, or nil if the connection was not registered
func (h *Hub) Remove(connID string) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return nil
	}

	for ch := range h.joined[connID] {
		members := h.channels[ch]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.channels, ch)
		}
	}
	delete(h.joined, connID)
	delete(h.conns, connID)
	close(c.send)
	return c
}

// Join adds a registered connection to a channel
func (h *Hub) Join(connID, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return false
	}

	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]*Conn)
		h.channels[channel] = members
	}
	members[connID] = c
	h.joined[connID][channel] = struct{}{}
	return true
}

// IsMember reports whether a connection has joined a channel
func (h *Hub) IsMember(connID, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := h.channels[channel][connID]
	return ok
}

// Channels returns the channels a connection has joined
func (h *Hub) Channels(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := make([]string, 0, len(h.joined[connID]))
	for ch := range h.joined[connID] {
		list = append(list, ch)
	}
	return list
}

// Len returns the number of registered connections
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish sends an event to every connection in a channel
func (h *Hub) Publish(channel, event string, payload any) {
	h.PublishExcept(channel, event, payload, "")
}

// PublishExcept sends an event to every connection in a channel but one
func (h *Hub) PublishExcept(channel, event string, payload any, exceptConnID string) {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.channels[channel] {
		if id == exceptConnID {
			continue
		}
		h.deliver(c, frame)
	}
}

// SendTo sends an event to a single connection
func (h *Hub) SendTo(connID, event string, payload any) {
	frame, err := wire.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.conns[connID]; ok {
		h.deliver(c, frame)
	}
}

// deliver must be called with at least the read lock held
func (h *Hub) deliver(c *Conn, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.metrics.OutboundDropped()
		h.logger.Debug("dropping frame for slow connection", "conn_id", c.ID, "user_id", c.Identity.UserID)
	}
}

// CloseAll drops every connection
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Remove(id)
	}
}
