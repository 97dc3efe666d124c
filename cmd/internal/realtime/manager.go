// Package realtime is the client side of the task comment channel: one
// persistent websocket per session with keep-alive, reconnection, task room
// membership and outbound comment correlation.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"tasklink/cmd/internal/dispatch"
	"tasklink/cmd/internal/notify"
	v1 "tasklink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	DefaultPingInterval     = 25 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
)

var (
	// ErrConnectInProgress is returned by Connect while a dial or close is pending.
	ErrConnectInProgress = errors.New("realtime: connect or disconnect already in progress")
	// ErrConnectAborted is returned when Disconnect interrupts a pending dial.
	ErrConnectAborted = errors.New("realtime: connect aborted")
)

// Notifier receives user-visible notices. *notify.Bus satisfies it.
type Notifier interface {
	Publish(n notify.Notification)
}

// Timer is a pending reconnect. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	// APIBaseURL is the REST base, e.g. https://host/api.
	APIBaseURL string

	Dialer   Dialer
	Logger   *slog.Logger
	Notifier Notifier
	Bus      *dispatch.Bus
	Metrics  *Metrics

	// PingInterval is the application keep-alive period. Negative disables pings.
	PingInterval time.Duration
	// PongTimeout forces a reconnect when a ping stays unanswered this long.
	// Zero means twice PingInterval; negative disables the check.
	PongTimeout time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// ProcessedTTL bounds how long correlation records are kept.
	ProcessedTTL time.Duration

	// DisableRejoin stops the Manager from re-sending join_task for tracked
	// rooms after a reconnect. Tracked rooms are then forgotten on open.
	DisableRejoin bool
	// DisablePendingDrain keeps pending comments unsent after open.
	DisablePendingDrain bool

	Now       func() time.Time
	AfterFunc AfterFunc
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Bus == nil {
		o.Bus = dispatch.NewBus(o.Logger)
	}
	if o.PingInterval == 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.PongTimeout == 0 && o.PingInterval > 0 {
		o.PongTimeout = 2 * o.PingInterval
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.ProcessedTTL <= 0 {
		o.ProcessedTTL = DefaultProcessedTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return o
}

// Manager owns the session's realtime connection. Create one per logged-in
// session and call Disconnect on logout. All methods are safe for concurrent use.
type Manager struct {
	opts Options
	log  *slog.Logger
	bus  *dispatch.Bus

	mu        sync.Mutex
	state     State
	conn      *connection
	gen       uint64
	token     string
	attempts  int
	exhausted bool
	timer     Timer
	timerSeq  uint64
	rooms     map[string]struct{}
	out       *outbox
}

// NewManager constructs a disconnected Manager.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		opts:  opts,
		log:   opts.Logger,
		bus:   opts.Bus,
		rooms: make(map[string]struct{}),
		out:   newOutbox(),
	}
	opts.Metrics.setState(StateDisconnected)
	return m
}

// Bus returns the dispatch bus inbound frames are delivered to.
func (m *Manager) Bus() *dispatch.Bus { return m.bus }

// On registers fn for inbound frames of type typ.
func (m *Manager) On(typ string, fn dispatch.Handler) *dispatch.Subscription {
	return m.bus.On(typ, fn)
}

// Off removes a registration made with On.
func (m *Manager) Off(typ string, sub *dispatch.Subscription) {
	m.bus.Off(typ, sub)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the transport is open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// Connect opens the connection with token. It returns nil immediately when
// already open and ErrConnectInProgress while a dial or close is pending.
// A handshake failure is returned as an error and leaves the Manager
// disconnected; failures after open are handled by the reconnect policy.
func (m *Manager) Connect(ctx context.Context, token string) error {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateConnecting, StateClosing:
		m.mu.Unlock()
		return ErrConnectInProgress
	}
	m.stopTimerLocked()
	m.token = token
	m.attempts = 0
	m.exhausted = false
	gen := m.beginDialLocked()
	m.mu.Unlock()

	return m.dial(ctx, gen, token, false)
}

// Disconnect leaves every joined room, closes the transport with a normal
// closure and cancels any pending reconnect. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopTimerLocked()
	m.token = ""
	m.attempts = 0
	m.exhausted = false

	rooms := m.sortedRoomsLocked()
	m.rooms = make(map[string]struct{})

	c := m.conn
	if c == nil {
		if m.state != StateDisconnected {
			// Abort an in-flight dial.
			m.gen++
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.setStateLocked(StateClosing)
	m.mu.Unlock()

	for _, taskID := range rooms {
		if err := m.write(c, v1.LeaveTask(taskID)); err != nil {
			m.log.Warn("ws.leave.fail", "task_id", taskID, "err", err)
		}
	}
	if err := c.t.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
		m.log.Debug("ws.close.fail", "err", err)
	}
	c.cancel()

	m.mu.Lock()
	if m.state == StateClosing {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	m.log.Info("ws.disconnect", "rooms_left", len(rooms))
}

// NetworkOnline reacts to the host regaining connectivity by dialing at once
// with the last token. It is a no-op while open, connecting or closing, after
// Disconnect, or once the reconnect policy has given up.
func (m *Manager) NetworkOnline(ctx context.Context) error {
	m.mu.Lock()
	if m.token == "" || m.exhausted {
		m.mu.Unlock()
		return nil
	}
	switch m.state {
	case StateOpen, StateConnecting, StateClosing:
		m.mu.Unlock()
		return nil
	}
	reconnecting := m.state == StateReconnecting
	m.stopTimerLocked()
	token := m.token
	gen := m.beginDialLocked()
	m.mu.Unlock()

	m.log.Info("ws.network.online", "reconnecting", reconnecting)
	return m.dial(ctx, gen, token, reconnecting)
}

// NetworkOffline reports lost connectivity to the user. The transport's own
// closure drives reconnection.
func (m *Manager) NetworkOffline() {
	m.log.Info("ws.network.offline")
	m.publish(notify.Notification{
		Level:   notify.LevelWarning,
		Message: "You are offline. Comments will sync when the connection returns.",
	})
}

func (m *Manager) beginDialLocked() uint64 {
	m.gen++
	m.setStateLocked(StateConnecting)
	return m.gen
}

// dial runs one handshake for generation gen. reconnecting selects whether a
// failure feeds the reconnect policy or leaves the Manager disconnected.
func (m *Manager) dial(ctx context.Context, gen uint64, token string, reconnecting bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	rawURL, err := WebSocketURL(m.opts.APIBaseURL, token)
	if err != nil {
		m.mu.Lock()
		if m.gen == gen && m.state == StateConnecting {
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()
		m.opts.Metrics.connectResult("error")
		return err
	}

	dctx, cancel := context.WithTimeout(ctx, m.opts.HandshakeTimeout)
	t, err := m.opts.Dialer.Dial(dctx, rawURL)
	cancel()

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close(websocket.StatusNormalClosure, "connect aborted")
		}
		m.opts.Metrics.connectResult("aborted")
		return ErrConnectAborted
	}

	if err != nil {
		var exhausted bool
		if reconnecting {
			exhausted = m.scheduleReconnectLocked()
		} else {
			m.setStateLocked(StateDisconnected)
		}
		m.mu.Unlock()

		m.opts.Metrics.connectResult("error")
		m.log.Warn("ws.connect.fail", "reconnecting", reconnecting, "err", err)
		if exhausted {
			m.publishExhausted()
		}
		return fmt.Errorf("realtime: dial: %w", err)
	}

	c := newConnection(t, gen)
	m.conn = c
	m.attempts = 0
	m.exhausted = false
	m.setStateLocked(StateOpen)

	pruned := m.out.prune(m.opts.Now(), m.opts.ProcessedTTL)

	var rooms []string
	if m.opts.DisableRejoin {
		m.rooms = make(map[string]struct{})
	} else {
		rooms = m.sortedRoomsLocked()
	}

	var pending []Outbound
	if !m.opts.DisablePendingDrain {
		pending = m.out.pending()
		for _, p := range pending {
			m.out.setStatus(p.ID, StatusProcessed)
		}
	}
	m.mu.Unlock()

	m.opts.Metrics.connectResult("ok")
	m.log.Info("ws.open", "gen", gen, "rooms", len(rooms), "pending", len(pending), "pruned", pruned)

	go m.readLoop(c)
	if m.opts.PingInterval > 0 {
		go m.keepAlive(c)
	}

	for _, taskID := range rooms {
		if err := m.write(c, v1.JoinTask(taskID)); err != nil {
			m.log.Warn("ws.rejoin.fail", "task_id", taskID, "err", err)
		}
	}
	for _, p := range pending {
		m.writeComment(c, p)
	}
	return nil
}

// scheduleReconnectLocked arms the next reconnect timer. It reports true when
// the attempt budget is spent, in which case the Manager is left disconnected.
func (m *Manager) scheduleReconnectLocked() bool {
	if m.attempts >= m.opts.MaxAttempts {
		m.exhausted = true
		m.setStateLocked(StateDisconnected)
		m.opts.Metrics.reconnectExhausted()
		m.log.Error("ws.reconnect.exhausted", "attempts", m.attempts)
		return true
	}

	m.attempts++
	delay := Backoff(m.attempts, m.opts.BaseDelay, m.opts.MaxDelay)

	m.stopTimerLocked()
	m.timerSeq++
	seq := m.timerSeq
	m.setStateLocked(StateReconnecting)
	m.timer = m.opts.AfterFunc(delay, func() { m.fireReconnect(seq) })

	m.opts.Metrics.reconnectScheduled()
	m.log.Info("ws.reconnect.schedule", "attempt", m.attempts, "delay", delay)
	return false
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	token := m.token
	gen := m.beginDialLocked()
	m.mu.Unlock()

	_ = m.dial(context.Background(), gen, token, true)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.log.Debug("ws.state", "from", m.state.String(), "to", s.String())
	m.state = s
	m.opts.Metrics.setState(s)
}

func (m *Manager) sortedRoomsLocked() []string {
	out := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) publish(n notify.Notification) {
	if m.opts.Notifier == nil {
		return
	}
	m.opts.Notifier.Publish(n)
}

func (m *Manager) publishExhausted() {
	m.publish(notify.Notification{
		Level:      notify.LevelError,
		Message:    "Lost connection to the realtime server. Please reload to reconnect.",
		Persistent: true,
	})
}
