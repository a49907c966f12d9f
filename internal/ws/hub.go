package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks active websocket sessions per user. A user may hold several
// sessions (multiple tabs/devices); the hub only does bookkeeping, message
// delivery is owned by each session's conversation view.
type Hub struct {
	sessions map[string]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[*websocket.Conn]ConnInfo)}
}

// AddSession registers a websocket connection for a user.
func (h *Hub) AddSession(userID string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[userID]; !ok {
		h.sessions[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.sessions[userID][conn] = info
}

// RemoveSession removes a websocket connection for a user.
func (h *Hub) RemoveSession(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.sessions[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.sessions, userID)
		}
	}
}

// SessionCount returns the number of active connections for a user.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// ConnInfoFor returns the registered info for a connection.
func (h *Hub) ConnInfoFor(userID string, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.sessions[userID]; ok {
		info, exists := conns[conn]
		return info, exists
	}
	return ConnInfo{}, false
}
