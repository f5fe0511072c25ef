package ws

import (
	"sync"

	"contentcollab/backend/internal/cache"
)

// Hub 维护 contentID → 连接集合的映射。房间里存连接而不是 userID：
// 同一用户可能开多个标签页/设备，广播要逐连接发。
type Hub struct {
	presence cache.PresenceCache

	mu sync.RWMutex
	// contentID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(contentID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[contentID] == nil {
		h.rooms[contentID] = make(map[*Conn]struct{})
	}
	h.rooms[contentID][c] = struct{}{}
}

func (h *Hub) Leave(contentID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[contentID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, contentID)
		}
	}
}

// BroadcastAll 发给房间内所有连接，包括发起者。
func (h *Hub) BroadcastAll(contentID string, msg Message) {
	h.mu.RLock()
	conns := h.rooms[contentID]
	targets := make([]*Conn, 0, len(conns))
	for c := range conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Enqueue(msg)
	}
}

// BroadcastExcept 发给房间内除 except 外的所有连接（避免回声）。
func (h *Hub) BroadcastExcept(contentID string, except *Conn, msg Message) {
	h.mu.RLock()
	conns := h.rooms[contentID]
	targets := make([]*Conn, 0, len(conns))
	for c := range conns {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.Enqueue(msg)
	}
}
