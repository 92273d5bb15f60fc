package relay

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Connection is a live client link as seen by the relay.
type Connection interface {
	ID() string
	Send(data []byte) error
}

func UserChannel(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func ChatChannel(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

// Hub holds named broadcast channels and the connections subscribed to them.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[string]Connection // channel -> connID -> conn
	subs     map[string]map[string]struct{}   // connID -> channels
	logger   *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[string]Connection),
		subs:     make(map[string]map[string]struct{}),
		logger:   logger,
	}
}

func (h *Hub) Subscribe(channel string, conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.channels[channel]
	if members == nil {
		members = make(map[string]Connection)
		h.channels[channel] = members
	}
	members[conn.ID()] = conn

	joined := h.subs[conn.ID()]
	if joined == nil {
		joined = make(map[string]struct{})
		h.subs[conn.ID()] = joined
	}
	joined[channel] = struct{}{}
}

func (h *Hub) Unsubscribe(channel string, conn Connection) {
	h.mu.Lock()
	h.unsubscribeLocked(channel, conn.ID())
	h.mu.Unlock()
}

// UnsubscribeAll drops every subscription held by conn.
func (h *Hub) UnsubscribeAll(conn Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range h.subs[conn.ID()] {
		h.unsubscribeLocked(channel, conn.ID())
	}
	delete(h.subs, conn.ID())
}

// Publish sends data to every connection subscribed to channel and returns the
// number of successful hand-offs. Delivery is best effort.
func (h *Hub) Publish(channel string, data []byte) int {
	h.mu.RLock()
	members := make([]Connection, 0, len(h.channels[channel]))
	for _, conn := range h.channels[channel] {
		members = append(members, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if err := conn.Send(data); err != nil {
			h.logger.WithError(err).WithFields(logrus.Fields{
				"channel":       channel,
				"connection_id": conn.ID(),
			}).Warn("Dropped delivery")
			continue
		}
		delivered++
	}
	return delivered
}

func (h *Hub) Stats() (channels, subscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels = len(h.channels)
	for _, members := range h.channels {
		subscriptions += len(members)
	}
	return channels, subscriptions
}

func (h *Hub) unsubscribeLocked(channel, connID string) {
	if members := h.channels[channel]; members != nil {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	if joined := h.subs[connID]; joined != nil {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(h.subs, connID)
		}
	}
}
