package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tasklink/cmd/internal/notify"
	v1 "tasklink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// connection is one live transport plus the goroutine lifetime bound to it.
// Ping bookkeeping is guarded by Manager.mu.
type connection struct {
	t      Transport
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	lastPingSent    time.Time
	unansweredSince time.Time
}

func newConnection(t Transport, gen uint64) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{t: t, gen: gen, ctx: ctx, cancel: cancel}
}

// readLoop parses and dispatches frames in arrival order until the transport ends.
func (m *Manager) readLoop(c *connection) {
	for {
		data, err := c.t.Read(c.ctx)
		if err != nil {
			m.handleClosed(c, err)
			return
		}
		m.handleFrame(data)
	}
}

func (m *Manager) handleFrame(data []byte) {
	var msg v1.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		m.opts.Metrics.frameMalformed()
		m.log.Warn("ws.frame.malformed", "bytes", len(data), "err", err)
		return
	}
	m.opts.Metrics.frameIn(frameLabel(msg.Type))

	switch msg.Type {
	case v1.TypeConnectionEstablished:
		m.log.Info("ws.established", "user_id", msg.UserID)
		m.publish(notify.Notification{Level: notify.LevelInfo, Message: "Connected to realtime updates."})

	case v1.TypePong:
		m.onPong()

	case v1.TypeNewComment:
		if msg.MessageID != "" && m.IsMessageProcessed(msg.MessageID) {
			break
		}
		author := "Someone"
		if msg.Comment != nil && msg.Comment.UserName != "" {
			author = msg.Comment.UserName
		}
		m.publish(notify.Notification{Level: notify.LevelInfo, Message: fmt.Sprintf("%s commented on a task.", author)})

	case v1.TypeError:
		text := msg.Message
		if text == "" {
			text = msg.Error
		}
		m.log.Warn("ws.server.error", "code", msg.Error, "message", msg.Message)
		m.publish(notify.Notification{Level: notify.LevelError, Message: text})
	}

	m.bus.Dispatch(msg)
}

func (m *Manager) onPong() {
	now := m.opts.Now()

	m.mu.Lock()
	c := m.conn
	var rtt time.Duration
	if c != nil && !c.lastPingSent.IsZero() {
		rtt = now.Sub(c.lastPingSent)
		c.unansweredSince = time.Time{}
	}
	m.mu.Unlock()

	if rtt > 0 {
		m.opts.Metrics.observeRTT(rtt)
	}
	m.log.Debug("ws.pong", "rtt", rtt)
}

// handleClosed runs once the read loop of c stops. Transports torn down by
// Disconnect or a liveness reconnect are no longer current and are ignored.
func (m *Manager) handleClosed(c *connection, err error) {
	code := websocket.CloseStatus(err)

	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	c.cancel()

	if code == websocket.StatusNormalClosure {
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.log.Info("ws.close", "code", int(code))
		return
	}

	first := m.attempts == 0
	exhausted := m.scheduleReconnectLocked()
	m.mu.Unlock()

	m.log.Warn("ws.close.abnormal", "code", int(code), "err", err)
	m.afterAbnormal(first, exhausted)
}

// keepAlive sends application pings while c is current and forces a
// reconnect when one stays unanswered past PongTimeout.
func (m *Manager) keepAlive(c *connection) {
	t := time.NewTicker(m.opts.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
		}

		now := m.opts.Now()

		m.mu.Lock()
		if m.conn != c {
			m.mu.Unlock()
			return
		}
		if m.opts.PongTimeout > 0 && !c.unansweredSince.IsZero() && now.Sub(c.unansweredSince) >= m.opts.PongTimeout {
			since := c.unansweredSince
			m.mu.Unlock()
			m.log.Warn("ws.pong.timeout", "unanswered_for", now.Sub(since))
			m.forceReconnect(c)
			return
		}
		c.lastPingSent = now
		if c.unansweredSince.IsZero() {
			c.unansweredSince = now
		}
		m.mu.Unlock()

		if err := m.write(c, v1.Ping()); err != nil {
			m.log.Info("ws.ping.fail", "err", err)
		}
	}
}

// forceReconnect drops c as if it had closed abnormally.
func (m *Manager) forceReconnect(c *connection) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	first := m.attempts == 0
	exhausted := m.scheduleReconnectLocked()
	m.mu.Unlock()

	_ = c.t.Close(websocket.StatusGoingAway, "keep-alive timeout")
	c.cancel()
	m.afterAbnormal(first, exhausted)
}

func (m *Manager) afterAbnormal(first, exhausted bool) {
	switch {
	case exhausted:
		m.publishExhausted()
	case first:
		m.publish(notify.Notification{Level: notify.LevelWarning, Message: "Connection lost. Reconnecting..."})
	}
}

func (m *Manager) write(c *connection, msg v1.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", msg.Type, err)
	}

	ctx, cancel := context.WithTimeout(c.ctx, m.opts.WriteTimeout)
	defer cancel()
	return c.t.Write(ctx, b)
}

// frameLabel bounds the metrics label set to the known frame types.
func frameLabel(typ string) string {
	switch typ {
	case v1.TypePing, v1.TypePong, v1.TypeJoinTask, v1.TypeLeaveTask, v1.TypeNewComment,
		v1.TypeTypingIndicator, v1.TypeConnectionEstablished, v1.TypeError:
		return typ
	default:
		return "other"
	}
}
