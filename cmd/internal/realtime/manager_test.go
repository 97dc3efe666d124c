package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"tasklink/cmd/internal/notify"
	v1 "tasklink/contracts/realtime/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func TestManager_Connect_opens_and_uses_derived_url(t *testing.T) {
	h := newHarness(t, nil)

	h.connect(t)

	assert.Equal(t, StateOpen, h.m.State())
	assert.True(t, h.m.IsConnected())
	require.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, "wss://tasks.example.com/ws?token=tok", h.dialer.urls[0])
}

func TestManager_Connect_is_noop_when_open(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	require.NoError(t, h.m.Connect(context.Background(), "tok"))
	assert.Equal(t, 1, h.dialer.dials())
}

func TestManager_Connect_returns_handshake_error(t *testing.T) {
	h := newHarness(t, nil)
	h.dialer.setErr(errors.New("401 unauthorized"))

	err := h.m.Connect(context.Background(), "bad")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "realtime: dial")
	assert.Equal(t, StateDisconnected, h.m.State())
	assert.Zero(t, h.sched.count(), "handshake failures must not schedule reconnects")
}

func TestManager_JoinTaskRoom_is_idempotent(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	assert.True(t, h.m.JoinTaskRoom("task-1"))
	assert.False(t, h.m.JoinTaskRoom("task-1"))

	joins := framesOfType(tr.sent(t), v1.TypeJoinTask)
	require.Len(t, joins, 1)
	assert.Equal(t, "task-1", joins[0].TaskID)
	assert.Equal(t, []string{"task-1"}, h.m.JoinedRooms())
}

func TestManager_rooms_require_open_connection(t *testing.T) {
	h := newHarness(t, nil)

	assert.False(t, h.m.JoinTaskRoom("task-1"))
	assert.False(t, h.m.LeaveTaskRoom("task-1"))
	assert.Empty(t, h.m.JoinedRooms())
}

func TestManager_LeaveTaskRoom_only_for_joined(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	assert.False(t, h.m.LeaveTaskRoom("task-1"))
	require.True(t, h.m.JoinTaskRoom("task-1"))
	assert.True(t, h.m.LeaveTaskRoom("task-1"))
	assert.False(t, h.m.LeaveTaskRoom("task-1"))

	assert.Len(t, framesOfType(tr.sent(t), v1.TypeLeaveTask), 1)
	assert.Empty(t, h.m.JoinedRooms())
}

func TestManager_Disconnect_leaves_rooms_then_closes_normally(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)
	require.True(t, h.m.JoinTaskRoom("b"))
	require.True(t, h.m.JoinTaskRoom("a"))

	h.m.Disconnect()

	sent := tr.sent(t)
	require.Len(t, sent, 4)
	assert.Equal(t, v1.TypeLeaveTask, sent[2].Type)
	assert.Equal(t, "a", sent[2].TaskID)
	assert.Equal(t, v1.TypeLeaveTask, sent[3].Type)
	assert.Equal(t, "b", sent[3].TaskID)

	code, closed := tr.closedWith()
	assert.True(t, closed)
	assert.Equal(t, websocket.StatusNormalClosure, code)
	assert.Equal(t, StateDisconnected, h.m.State())
	assert.Empty(t, h.m.JoinedRooms())

	// Idempotent and never reconnects.
	h.m.Disconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.sched.count())
}

func TestManager_SendComment_while_disconnected_is_pending(t *testing.T) {
	h := newHarness(t, nil)

	id := h.m.SendComment("task-1", "hello")

	assert.Regexp(t, `^\d+-[0-9a-z]+$`, id)
	assert.Zero(t, h.dialer.dials())
	assert.False(t, h.m.IsMessageProcessed(id))

	pending := h.m.PendingMessages()
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, StatusPending, pending[0].Status)
	assert.Equal(t, "hello", pending[0].Content)
}

func TestManager_SendComment_when_open_writes_and_marks_processed(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	id := h.m.SendComment("task-1", "hello")

	assert.True(t, h.m.IsMessageProcessed(id))
	posts := framesOfType(tr.sent(t), v1.TypeNewComment)
	require.Len(t, posts, 1)
	assert.Equal(t, "task-1", posts[0].TaskID)
	assert.Equal(t, id, posts[0].MessageID)
	require.NotNil(t, posts[0].Comment)
	assert.Equal(t, "hello", posts[0].Comment.Content)
}

func TestManager_SendComment_write_failure_downgrades_to_pending(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)
	tr.setWriteErr(errors.New("broken pipe"))

	id := h.m.SendComment("task-1", "hello")

	assert.False(t, h.m.IsMessageProcessed(id))
	require.Len(t, h.m.PendingMessages(), 1)
}

func TestManager_pending_comments_drain_on_open(t *testing.T) {
	h := newHarness(t, nil)
	id := h.m.SendComment("task-1", "queued")

	tr := h.connect(t)

	posts := framesOfType(tr.sent(t), v1.TypeNewComment)
	require.Len(t, posts, 1)
	assert.Equal(t, id, posts[0].MessageID)
	assert.True(t, h.m.IsMessageProcessed(id))
	assert.Empty(t, h.m.PendingMessages())
}

func TestManager_pending_drain_can_be_disabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DisablePendingDrain = true })
	h.m.SendComment("task-1", "queued")

	tr := h.connect(t)

	assert.Empty(t, framesOfType(tr.sent(t), v1.TypeNewComment))
	assert.Len(t, h.m.PendingMessages(), 1)
}

func TestManager_SendTypingIndicator(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.m.SendTypingIndicator("task-1", true))

	tr := h.connect(t)
	assert.True(t, h.m.SendTypingIndicator("task-1", false))

	typing := framesOfType(tr.sent(t), v1.TypeTypingIndicator)
	require.Len(t, typing, 1)
	require.NotNil(t, typing[0].IsTyping)
	assert.False(t, *typing[0].IsTyping)
}

func TestManager_reconnect_backoff_sequence_and_exhaustion(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	h.dialer.setErr(errors.New("connection refused"))
	tr.serverClose(websocket.StatusAbnormalClosure)
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)
	assert.Equal(t, StateReconnecting, h.m.State())

	for i := 0; i < DefaultMaxAttempts; i++ {
		h.sched.fire(i)
	}

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2250 * time.Millisecond,
		3375 * time.Millisecond,
		5062500 * time.Microsecond,
		7593750 * time.Microsecond,
		11390625 * time.Microsecond,
		17085937500 * time.Nanosecond,
		25628906250 * time.Nanosecond,
		30 * time.Second,
	}
	assert.Equal(t, want, h.sched.scheduled(), "no 11th attempt may be scheduled")
	assert.Equal(t, StateDisconnected, h.m.State())
	assert.Equal(t, 1+DefaultMaxAttempts, h.dialer.dials())

	require.Eventually(t, func() bool { return len(h.notes.History()) == 2 }, waitFor, tick)
	var persistent []notify.Notification
	for _, n := range h.notes.History() {
		if n.Persistent {
			persistent = append(persistent, n)
		}
	}
	require.Len(t, persistent, 1)
	assert.Equal(t, notify.LevelError, persistent[0].Level)

	// Exhaustion is permanent until Connect.
	require.NoError(t, h.m.NetworkOnline(context.Background()))
	assert.Equal(t, 1+DefaultMaxAttempts, h.dialer.dials())
}

func TestManager_dropped_transport_reconnects(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	tr.drop()
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(h.notes.History()) == 1 }, waitFor, tick)

	hist := h.notes.History()
	assert.Equal(t, notify.LevelWarning, hist[0].Level)
	assert.False(t, hist[0].Persistent)
}

func TestManager_normal_closure_does_not_reconnect(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	tr.serverClose(websocket.StatusNormalClosure)
	require.Eventually(t, func() bool { return h.m.State() == StateDisconnected }, waitFor, tick)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, h.sched.count())
}

func TestManager_reconnect_rejoins_rooms_and_resets_attempts(t *testing.T) {
	h := newHarness(t, nil)
	first := h.connect(t)
	require.True(t, h.m.JoinTaskRoom("task-1"))

	first.drop()
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)
	h.sched.fire(0)

	require.Equal(t, StateOpen, h.m.State())
	second := h.dialer.last()
	require.NotSame(t, first, second)
	joins := framesOfType(second.sent(t), v1.TypeJoinTask)
	require.Len(t, joins, 1)
	assert.Equal(t, "task-1", joins[0].TaskID)

	// Attempts were reset: the next loss starts at the base delay again.
	second.drop()
	require.Eventually(t, func() bool { return h.sched.count() == 2 }, waitFor, tick)
	assert.Equal(t, DefaultBaseDelay, h.sched.scheduled()[1])
}

func TestManager_rejoin_can_be_disabled(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DisableRejoin = true })
	first := h.connect(t)
	require.True(t, h.m.JoinTaskRoom("task-1"))

	first.drop()
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)
	h.sched.fire(0)

	second := h.dialer.last()
	assert.Empty(t, framesOfType(second.sent(t), v1.TypeJoinTask))
	assert.Empty(t, h.m.JoinedRooms())
	assert.True(t, h.m.JoinTaskRoom("task-1"))
}

func TestManager_Disconnect_cancels_pending_reconnect(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	tr.drop()
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)

	h.m.Disconnect()
	assert.True(t, h.sched.timer(0).isStopped())
	assert.Equal(t, StateDisconnected, h.m.State())

	// A timer that fires anyway must not dial.
	h.sched.fire(0)
	assert.Equal(t, 1, h.dialer.dials())
	assert.Equal(t, StateDisconnected, h.m.State())
}

func TestManager_NetworkOnline_reconnects_immediately(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	tr.drop()
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)

	require.NoError(t, h.m.NetworkOnline(context.Background()))
	assert.Equal(t, StateOpen, h.m.State())
	assert.Equal(t, 2, h.dialer.dials())
	assert.True(t, h.sched.timer(0).isStopped())

	// Already open.
	require.NoError(t, h.m.NetworkOnline(context.Background()))
	assert.Equal(t, 2, h.dialer.dials())
}

func TestManager_NetworkOnline_after_Disconnect_is_noop(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.m.Disconnect()

	require.NoError(t, h.m.NetworkOnline(context.Background()))
	assert.Equal(t, 1, h.dialer.dials())
}

func TestManager_NetworkOffline_warns_only(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)

	h.m.NetworkOffline()

	assert.Equal(t, StateOpen, h.m.State())
	hist := h.notes.History()
	require.NotEmpty(t, hist)
	assert.Equal(t, notify.LevelWarning, hist[0].Level)
}

func TestManager_builtins_run_before_handlers(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	seen := make(chan int, 1)
	h.m.On(v1.TypeError, func(v1.Message) { seen <- len(h.notes.History()) })

	tr.push(t, v1.ErrorNotice("rate_limited", "slow down"))

	select {
	case n := <-seen:
		assert.Equal(t, 1, n, "toast must be published before dispatch")
	case <-time.After(waitFor):
		t.Fatal("handler not invoked")
	}
	hist := h.notes.History()
	assert.Equal(t, notify.LevelError, hist[0].Level)
	assert.Equal(t, "slow down", hist[0].Message)
}

func TestManager_own_comment_echo_skips_toast(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	got := make(chan v1.Message, 2)
	h.m.On(v1.TypeNewComment, func(m v1.Message) { got <- m })

	id := h.m.SendComment("task-1", "mine")
	tr.push(t, v1.BroadcastComment(v1.Comment{ID: "c1", TaskID: "task-1", Content: "mine"}, id))
	tr.push(t, v1.BroadcastComment(v1.Comment{ID: "c2", TaskID: "task-1", Content: "theirs", UserName: "Ada"}, "other-1"))

	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(waitFor):
			t.Fatal("comment not dispatched")
		}
	}

	hist := h.notes.History()
	require.Len(t, hist, 1)
	assert.Contains(t, hist[0].Message, "Ada")
}

func TestManager_malformed_frames_are_dropped(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	got := make(chan v1.Message, 1)
	h.m.On(v1.TypeTypingIndicator, func(m v1.Message) { got <- m })

	tr.pushRaw([]byte("{not json"))
	tr.pushRaw([]byte(`{"taskId":"x"}`))
	tr.push(t, v1.TypingIndicator("task-1", true))

	select {
	case m := <-got:
		assert.Equal(t, "task-1", m.TaskID)
	case <-time.After(waitFor):
		t.Fatal("valid frame after malformed ones not dispatched")
	}
	assert.Equal(t, StateOpen, h.m.State())
}

func TestManager_Off_stops_delivery(t *testing.T) {
	h := newHarness(t, nil)
	tr := h.connect(t)

	calls := make(chan struct{}, 4)
	sub := h.m.On(v1.TypePong, func(v1.Message) { calls <- struct{}{} })
	h.m.Off(v1.TypePong, sub)

	marker := make(chan struct{}, 1)
	h.m.On(v1.TypeConnectionEstablished, func(v1.Message) { marker <- struct{}{} })

	tr.push(t, v1.Pong())
	tr.push(t, v1.ConnectionEstablished("u1"))

	select {
	case <-marker:
	case <-time.After(waitFor):
		t.Fatal("marker not dispatched")
	}
	assert.Empty(t, calls)
}

func TestManager_unanswered_ping_forces_reconnect(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.PingInterval = 10 * time.Millisecond
		o.PongTimeout = 25 * time.Millisecond
	})
	tr := h.connect(t)

	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool {
		_, closed := tr.closedWith()
		return closed
	}, waitFor, tick)

	code, _ := tr.closedWith()
	assert.Equal(t, websocket.StatusGoingAway, code)
	assert.NotEmpty(t, framesOfType(tr.sent(t), v1.TypePing))
	assert.Equal(t, StateReconnecting, h.m.State())
}

func TestManager_pong_keeps_connection_alive(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.PingInterval = 10 * time.Millisecond
		o.PongTimeout = 45 * time.Millisecond
	})
	tr := h.connect(t)

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		tr.push(t, v1.Pong())
		time.Sleep(5 * time.Millisecond)
	}

	assert.Zero(t, h.sched.count())
	assert.Equal(t, StateOpen, h.m.State())
}

func TestManager_ClearOldProcessedMessages_on_open(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, func(o *Options) { o.Now = func() time.Time { return now } })

	stale := NewMessageID(now.Add(-25 * time.Hour))
	fresh := NewMessageID(now.Add(-time.Hour))
	h.m.MarkMessageAsProcessed(stale)
	h.m.MarkMessageAsProcessed(fresh)

	h.connect(t)

	assert.False(t, h.m.IsMessageProcessed(stale))
	assert.True(t, h.m.IsMessageProcessed(fresh))
	assert.Zero(t, h.m.ClearOldProcessedMessages())
}
