package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
)

// Hub maintains live connections and their channel subscriptions.
type Hub struct {
	clients  map[*Client]map[string]struct{}
	channels map[string]map[*Client]struct{}
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:  make(map[*Client]map[string]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

// AddClient registers a connection so it receives broadcasts.
func (h *Hub) AddClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		h.clients[c] = make(map[string]struct{})
	}
}

// JoinOwnChannel subscribes the connection to the user's personal channel.
func (h *Hub) JoinOwnChannel(userID string, c *Client) {
	h.join(models.UserChannel(userID), c)
}

// JoinGroupChannel subscribes the connection to a group channel. Callers
// check membership first.
func (h *Hub) JoinGroupChannel(groupID string, c *Client) {
	h.join(models.GroupChannel(groupID), c)
}

// JoinGroupChannelForUser subscribes every live connection of userID to
// the group. Used when a user becomes a member while connected.
func (h *Hub) JoinGroupChannelForUser(groupID, userID string) {
	channel := models.GroupChannel(groupID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.UserID() == userID {
			h.joinLocked(channel, c)
		}
	}
}

func (h *Hub) join(channel string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(channel, c)
}

func (h *Hub) joinLocked(channel string, c *Client) {
	subs, ok := h.clients[c]
	if !ok {
		subs = make(map[string]struct{})
		h.clients[c] = subs
	}
	subs[channel] = struct{}{}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}
}

// RemoveClient discards the connection and all of its subscriptions.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for channel := range h.clients[c] {
		h.unsubscribeLocked(channel, c)
	}
	delete(h.clients, c)
}

// LeaveGroupChannel unsubscribes every connection of userID from the group.
func (h *Hub) LeaveGroupChannel(groupID, userID string) {
	channel := models.GroupChannel(groupID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.channels[channel] {
		if c.UserID() == userID {
			h.unsubscribeLocked(channel, c)
			delete(h.clients[c], channel)
		}
	}
}

// DropGroupChannel unsubscribes every connection from a deleted group.
func (h *Hub) DropGroupChannel(groupID string) {
	channel := models.GroupChannel(groupID)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.channels[channel] {
		delete(h.clients[c], channel)
	}
	delete(h.channels, channel)
}

func (h *Hub) unsubscribeLocked(channel string, c *Client) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
}

// Subscribed reports whether c is subscribed to channel.
func (h *Hub) Subscribed(channel string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][c]
	return ok
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish pushes event to every connection subscribed to any of the
// channels, once per connection. It returns how many pushes were queued.
func (h *Hub) Publish(event string, data any, channels ...string) int {
	payload, ok := h.encode(event, data)
	if !ok {
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0)
	seen := make(map[*Client]struct{})
	for _, channel := range channels {
		for c := range h.channels[channel] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, payload, event)
}

// BroadcastAll pushes event to every registered connection.
func (h *Hub) BroadcastAll(event string, data any) {
	payload, ok := h.encode(event, data)
	if !ok {
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	h.deliver(targets, payload, event)
}

// SendTo pushes event to a single connection.
func (h *Hub) SendTo(c *Client, event string, data any) bool {
	payload, ok := h.encode(event, data)
	if !ok {
		return false
	}
	return h.deliver([]*Client{c}, payload, event) == 1
}

func (h *Hub) encode(event string, data any) ([]byte, bool) {
	env, err := models.NewEnvelope(event, data)
	if err == nil {
		var payload []byte
		if payload, err = json.Marshal(env); err == nil {
			return payload, true
		}
	}
	h.logger.Error("encode push failed", zap.String("event", event), zap.Error(err))
	return nil, false
}

// deliver queues payload on each client. A full queue marks the client as
// too slow; it is closed and its read loop cleans up.
func (h *Hub) deliver(targets []*Client, payload []byte, event string) int {
	queued := 0
	for _, c := range targets {
		switch c.enqueue(payload) {
		case enqueued:
			queued++
		case queueFull:
			observability.IncPushDropped()
			h.logger.Warn("send queue full, closing connection", c.info.logFields(zap.String("event", event))...)
			publishWSEvent(c.info, "ws_slow_consumer", "send queue full")
			c.Close()
		case clientClosed:
			observability.IncPushDropped()
		}
	}
	return queued
}

// CloseAll closes every registered connection. Their read loops unregister
// them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Close()
	}
}
