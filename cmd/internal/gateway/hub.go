package gateway

import (
	"log/slog"
	"sync"
)

// Hub owns the task rooms. Rooms are created on first join and dropped when
// their last member leaves.
type Hub struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:   log,
		rooms: make(map[string]*Room),
	}
}

// Join adds p to taskID's room, creating it when needed.
func (h *Hub) Join(taskID string, p *Peer) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[taskID]
	if !ok {
		r = NewRoom(h.log, taskID)
		h.rooms[taskID] = r
	}
	r.Join(p)
	return r
}

// Leave removes sessionID from taskID's room and drops the room when empty.
func (h *Hub) Leave(taskID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[taskID]
	if !ok {
		return
	}
	r.Leave(sessionID)
	if r.Len() == 0 {
		delete(h.rooms, taskID)
	}
}

// Room returns taskID's room or nil.
func (h *Hub) Room(taskID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[taskID]
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
