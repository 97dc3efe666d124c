package gateway

import (
	"log/slog"
	"sync"

	v1 "tasklink/contracts/realtime/v1"
)

// Room is the set of sessions subscribed to one task's broadcasts.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks and
// drops frames for members whose queue is full.
type Room struct {
	log    *slog.Logger
	TaskID string

	mu      sync.RWMutex
	members map[string]*Peer
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, taskID string) *Room {
	return &Room{
		log:     log,
		TaskID:  taskID,
		members: make(map[string]*Peer),
	}
}

// Join adds p. Joining twice is a no-op.
func (r *Room) Join(p *Peer) {
	if r == nil || p == nil || p.SessionID == "" {
		return
	}

	r.mu.Lock()
	r.members[p.SessionID] = p
	r.mu.Unlock()

	r.log.Debug("room.member.join", "task_id", r.TaskID, "session_id", p.SessionID)
}

// Leave removes the session. The peer itself keeps running: a session may be
// in several rooms.
func (r *Room) Leave(sessionID string) {
	if r == nil || sessionID == "" {
		return
	}

	r.mu.Lock()
	delete(r.members, sessionID)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "task_id", r.TaskID, "session_id", sessionID)
}

// Has reports whether sessionID is a member.
func (r *Room) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

// Len returns the member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans msg out to every member except the session except (empty
// means nobody is skipped). It returns how many members the frame was queued for.
func (r *Room) Broadcast(msg v1.Message, except string) int {
	if r == nil {
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id, m := range r.members {
		if m == nil || id == except {
			continue
		}
		if m.offer(msg) {
			n++
		}
	}
	return n
}
