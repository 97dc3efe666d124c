package gateway

import (
	"sync"

	v1 "tasklink/contracts/realtime/v1"
)

// Peer is one connected websocket session.
//
// Send is never closed by the server so concurrent broadcasters cannot panic;
// done signals the session goroutines to stop. Close is idempotent.
type Peer struct {
	SessionID string
	UserID    string
	UserName  string
	Send      chan v1.Message

	done      chan struct{}
	closeOnce sync.Once
}

// NewPeer constructs a Peer with a bounded send queue.
func NewPeer(sessionID string, who Identity, sendQueueSize int) *Peer {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Peer{
		SessionID: sessionID,
		UserID:    who.UserID,
		UserName:  who.UserName,
		Send:      make(chan v1.Message, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the peer is shutting down.
func (p *Peer) Done() <-chan struct{} {
	if p == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Close signals the peer goroutines to stop.
func (p *Peer) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// offer queues msg without blocking. It reports false when the queue is full
// or the peer is shutting down.
func (p *Peer) offer(msg v1.Message) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	select {
	case p.Send <- msg:
		return true
	default:
		return false
	}
}
