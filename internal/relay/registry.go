package relay

import (
	"sync"
)

// Registry maps live connections to the user they identified as. A user may
// hold several connections at once. State lives in memory only and is lost
// on restart; running several relay processes would need a shared store here.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]int64
	hub     *Hub
}

func NewRegistry(hub *Hub) *Registry {
	return &Registry{
		entries: make(map[string]int64),
		hub:     hub,
	}
}

// Identify records conn as userID and subscribes it to the user's channel.
// Identifying an already identified connection replaces its user.
func (r *Registry) Identify(conn Connection, userID int64) {
	r.mu.Lock()
	previous, had := r.entries[conn.ID()]
	r.entries[conn.ID()] = userID
	r.mu.Unlock()

	if had && previous != userID {
		r.hub.Unsubscribe(UserChannel(previous), conn)
	}
	r.hub.Subscribe(UserChannel(userID), conn)
}

func (r *Registry) Lookup(connID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.entries[connID]
	return userID, ok
}

func (r *Registry) Forget(connID string) {
	r.mu.Lock()
	delete(r.entries, connID)
	r.mu.Unlock()
}

// Stats reports identified connections and distinct users among them.
func (r *Registry) Stats() (connections, users int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[int64]struct{}, len(r.entries))
	for _, userID := range r.entries {
		seen[userID] = struct{}{}
	}
	return len(r.entries), len(seen)
}
