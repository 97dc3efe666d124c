// Package dispatch maps realtime message types to ordered handler lists.
package dispatch

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	v1 "tasklink/contracts/realtime/v1"
)

// Handler receives one inbound message.
type Handler func(v1.Message)

// Subscription is the handle returned by On. It identifies one registration
// and is what Off compares against.
type Subscription struct {
	typ string
	fn  Handler
}

// Type returns the message type the subscription was registered for.
func (s *Subscription) Type() string {
	if s == nil {
		return ""
	}
	return s.typ
}

// Bus is a typed publish/subscribe registry. Dispatch is synchronous and
// invokes handlers in registration order.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]*Subscription
	onPanic  []func(typ string, recovered any)
}

// NewBus constructs an empty Bus. A nil logger discards panic reports.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		log:      log,
		handlers: make(map[string][]*Subscription),
	}
}

// On appends fn to the handler list for typ. The same function may be
// registered for several types; every call returns a distinct Subscription.
func (b *Bus) On(typ string, fn Handler) *Subscription {
	sub := &Subscription{typ: typ, fn: fn}
	if fn == nil {
		return sub
	}

	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], sub)
	b.mu.Unlock()
	return sub
}

// Off removes the first registration matching sub from the list for typ.
// It is a no-op when sub is not registered for typ.
func (b *Bus) Off(typ string, sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[typ]
	for i, s := range list {
		if s != sub {
			continue
		}
		next := make([]*Subscription, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, typ)
		} else {
			b.handlers[typ] = next
		}
		return
	}
}

// OnPanic registers a hook invoked after a handler panic has been recovered.
func (b *Bus) OnPanic(fn func(typ string, recovered any)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.onPanic = append(b.onPanic, fn)
	b.mu.Unlock()
}

// Dispatch delivers msg to every handler registered for msg.Type.
// A panicking handler does not prevent the remaining handlers from running.
func (b *Bus) Dispatch(msg v1.Message) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.handlers[msg.Type]))
	copy(subs, b.handlers[msg.Type])
	b.mu.RUnlock()

	for i, s := range subs {
		b.invoke(i, s, msg)
	}
}

// Len reports how many handlers are registered for typ.
func (b *Bus) Len(typ string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[typ])
}

func (b *Bus) invoke(idx int, s *Subscription, msg v1.Message) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		b.log.Error("dispatch.handler.panic", "type", msg.Type, "index", idx, "panic", fmt.Sprint(r))
		b.runOnPanic(msg.Type, r)
	}()
	s.fn(msg)
}

func (b *Bus) runOnPanic(typ string, recovered any) {
	b.mu.RLock()
	hooks := make([]func(string, any), len(b.onPanic))
	copy(hooks, b.onPanic)
	b.mu.RUnlock()

	for _, fn := range hooks {
		func() {
			defer func() { _ = recover() }()
			fn(typ, recovered)
		}()
	}
}
