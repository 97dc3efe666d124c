package realtime

import (
	"strings"

	v1 "tasklink/contracts/realtime/v1"
)

// JoinTaskRoom subscribes the connection to taskID's broadcasts. It returns
// false without sending when not open, when taskID is empty or already
// joined, or when the join frame cannot be written. A room whose frame failed
// stays tracked and is joined again on reconnect.
func (m *Manager) JoinTaskRoom(taskID string) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return false
	}

	m.mu.Lock()
	c := m.conn
	if m.state != StateOpen || c == nil {
		m.mu.Unlock()
		m.log.Warn("ws.join.skip", "task_id", taskID, "reason", "not connected")
		return false
	}
	if _, ok := m.rooms[taskID]; ok {
		m.mu.Unlock()
		return false
	}
	m.rooms[taskID] = struct{}{}
	m.mu.Unlock()

	if err := m.write(c, v1.JoinTask(taskID)); err != nil {
		m.log.Warn("ws.join.fail", "task_id", taskID, "err", err)
		return false
	}
	m.log.Debug("ws.join", "task_id", taskID)
	return true
}

// LeaveTaskRoom is the inverse of JoinTaskRoom. It returns false without
// sending when not open or when taskID is not joined.
func (m *Manager) LeaveTaskRoom(taskID string) bool {
	taskID = strings.TrimSpace(taskID)

	m.mu.Lock()
	c := m.conn
	if m.state != StateOpen || c == nil {
		m.mu.Unlock()
		m.log.Warn("ws.leave.skip", "task_id", taskID, "reason", "not connected")
		return false
	}
	if _, ok := m.rooms[taskID]; !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.rooms, taskID)
	m.mu.Unlock()

	if err := m.write(c, v1.LeaveTask(taskID)); err != nil {
		m.log.Warn("ws.leave.fail", "task_id", taskID, "err", err)
		return false
	}
	m.log.Debug("ws.leave", "task_id", taskID)
	return true
}

// JoinedRooms returns the tracked task rooms, sorted.
func (m *Manager) JoinedRooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedRoomsLocked()
}
