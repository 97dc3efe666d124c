package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"tasklink/cmd/internal/notify"
	v1 "tasklink/contracts/realtime/v1"

	"github.com/coder/websocket"
)

var errTransportClosed = errors.New("fake transport closed")

type fakeTransport struct {
	inbox chan []byte
	done  chan struct{}
	once  sync.Once

	mu        sync.Mutex
	writes    [][]byte
	readErr   error
	writeErr  error
	closed    bool
	closeCode websocket.StatusCode
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox: make(chan []byte, 64),
		done:  make(chan struct{}),
	}
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.inbox:
		return b, nil
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return nil, f.readErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.closeCode = code
	f.readErr = websocket.CloseError{Code: code, Reason: reason}
	f.mu.Unlock()

	f.once.Do(func() { close(f.done) })
	return nil
}

// push delivers an inbound frame.
func (f *fakeTransport) push(t *testing.T, msg v1.Message) {
	t.Helper()
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.inbox <- b
}

func (f *fakeTransport) pushRaw(b []byte) { f.inbox <- b }

// serverClose simulates the peer closing with code.
func (f *fakeTransport) serverClose(code websocket.StatusCode) {
	f.mu.Lock()
	f.readErr = websocket.CloseError{Code: code}
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

// drop simulates the connection vanishing without a close frame.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.readErr = io.ErrUnexpectedEOF
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) sent(t *testing.T) []v1.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]v1.Message, 0, len(f.writes))
	for _, b := range f.writes {
		var m v1.Message
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal written frame: %v", err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) closedWith() (websocket.StatusCode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closed
}

type fakeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns []*fakeTransport
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, rawURL string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	if d.err != nil {
		return nil, d.err
	}
	t := newFakeTransport()
	d.conns = append(d.conns, t)
	return t, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeScheduler records reconnect timers instead of running them.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *fakeScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func (s *fakeScheduler) timer(i int) *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[i]
}

// fire runs timer i on the calling goroutine.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	f := s.fns[i]
	s.mu.Unlock()
	f()
}

type harness struct {
	m      *Manager
	dialer *fakeDialer
	sched  *fakeScheduler
	notes  *notify.Bus
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{
		dialer: &fakeDialer{},
		sched:  &fakeScheduler{},
		notes:  notify.NewBus(0),
	}
	opts := Options{
		APIBaseURL:   "https://tasks.example.com/api",
		Dialer:       h.dialer,
		Notifier:     h.notes,
		PingInterval: -1,
		AfterFunc:    h.sched.AfterFunc,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.m = NewManager(opts)
	t.Cleanup(h.m.Disconnect)
	return h
}

func (h *harness) connect(t *testing.T) *fakeTransport {
	t.Helper()
	if err := h.m.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return h.dialer.last()
}

func framesOfType(msgs []v1.Message, typ string) []v1.Message {
	var out []v1.Message
	for _, m := range msgs {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}
