package realtime

import v1 "tasklink/contracts/realtime/v1"

// SendComment posts content to taskID and returns the correlation id the
// server echoes back as messageId. When not open the comment is recorded as
// pending and nothing is written; pending comments go out on the next open.
func (m *Manager) SendComment(taskID, content string) string {
	now := m.opts.Now()
	rec := Outbound{
		ID:        NewMessageID(now),
		TaskID:    taskID,
		Content:   content,
		Status:    StatusPending,
		CreatedAt: now,
	}

	m.mu.Lock()
	c := m.conn
	open := m.state == StateOpen && c != nil
	if open {
		rec.Status = StatusProcessed
	}
	m.out.put(rec)
	m.mu.Unlock()

	if !open {
		m.opts.Metrics.commentSent("pending")
		m.log.Warn("ws.comment.pending", "task_id", taskID, "message_id", rec.ID)
		return rec.ID
	}

	m.writeComment(c, rec)
	return rec.ID
}

// writeComment writes rec on c, downgrading it to pending on failure.
func (m *Manager) writeComment(c *connection, rec Outbound) {
	if err := m.write(c, v1.PostComment(rec.TaskID, rec.Content, rec.ID)); err != nil {
		m.mu.Lock()
		m.out.setStatus(rec.ID, StatusPending)
		m.mu.Unlock()

		m.opts.Metrics.commentSent("failed")
		m.log.Warn("ws.comment.write.fail", "task_id", rec.TaskID, "message_id", rec.ID, "err", err)
		return
	}
	m.opts.Metrics.commentSent("written")
}

// SendTypingIndicator is best effort and returns false when not open or the
// write fails.
func (m *Manager) SendTypingIndicator(taskID string, isTyping bool) bool {
	m.mu.Lock()
	c := m.conn
	open := m.state == StateOpen && c != nil
	m.mu.Unlock()

	if !open {
		m.log.Debug("ws.typing.skip", "task_id", taskID)
		return false
	}
	if err := m.write(c, v1.TypingIndicator(taskID, isTyping)); err != nil {
		m.log.Info("ws.typing.fail", "task_id", taskID, "err", err)
		return false
	}
	return true
}

// IsMessageProcessed reports whether id was written by this client.
func (m *Manager) IsMessageProcessed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.processed(id)
}

// MarkMessageAsProcessed records id as handled.
func (m *Manager) MarkMessageAsProcessed(id string) {
	if id == "" {
		return
	}
	m.mu.Lock()
	m.out.markProcessed(id, m.opts.Now())
	m.mu.Unlock()
}

// ClearOldProcessedMessages drops correlation records older than
// ProcessedTTL and returns how many were removed.
func (m *Manager) ClearOldProcessedMessages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.prune(m.opts.Now(), m.opts.ProcessedTTL)
}

// PendingMessages lists comments waiting for a connection, oldest first.
func (m *Manager) PendingMessages() []Outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.out.pending()
}
