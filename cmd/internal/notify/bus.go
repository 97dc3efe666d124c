// Package notify carries user-visible notifications (toasts) from the realtime
// layer to whatever renders them.
package notify

import (
	"fmt"
	"sync"
	"time"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one user-visible notice. Persistent notices stay on screen
// until dismissed; the rest are transient.
type Notification struct {
	ID         int64
	Level      Level
	Message    string
	Persistent bool
	CreatedAt  time.Time
}

// Subscriber is a callback invoked when a notification is published.
type Subscriber func(Notification)

const defaultHistorySize = 100

// Bus is a synchronous in-process notification bus. Publish dispatches to
// subscribers inline and keeps a bounded history.
type Bus struct {
	mu          sync.Mutex
	subscribers []Subscriber
	history     []Notification
	historySize int
	nextID      int64
}

// NewBus creates a bus keeping at most historySize notifications (default 100).
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	return &Bus{historySize: historySize}
}

// Subscribe registers a callback that will be invoked on every Publish.
func (b *Bus) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish records n and dispatches it to all subscribers.
func (b *Bus) Publish(n Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	b.mu.Lock()
	b.nextID++
	n.ID = b.nextID
	b.history = append(b.history, n)
	if over := len(b.history) - b.historySize; over > 0 {
		b.history = append([]Notification(nil), b.history[over:]...)
	}
	subs := make([]Subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

// Errorf publishes a transient error-level notification.
func (b *Bus) Errorf(format string, args ...any) {
	b.Publish(Notification{Level: LevelError, Message: fmt.Sprintf(format, args...)})
}

// Warnf publishes a transient warning-level notification.
func (b *Bus) Warnf(format string, args ...any) {
	b.Publish(Notification{Level: LevelWarning, Message: fmt.Sprintf(format, args...)})
}

// Infof publishes a transient info-level notification.
func (b *Bus) Infof(format string, args ...any) {
	b.Publish(Notification{Level: LevelInfo, Message: fmt.Sprintf(format, args...)})
}

// History returns the retained notifications, newest first.
func (b *Bus) History() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Notification, len(b.history))
	for i, n := range b.history {
		out[len(b.history)-1-i] = n
	}
	return out
}

// Clear drops the retained history.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}
