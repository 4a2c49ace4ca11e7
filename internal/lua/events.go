package lua

import (
	"log/slog"
	"sync"

	luar "github.com/yuin/gopher-lua"
)

// EventBus is simple fan-out pub/sub: every subscriber on a topic is called,
// in registration order, with whatever arguments were emitted. Unlike
// HookChains, subscribers don't transform a value or see each other's
// return — emit is fire-and-forget.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[string][]*luar.LFunction
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]*luar.LFunction)}
}

// On subscribes fn to topic.
func (b *EventBus) On(topic string, fn *luar.LFunction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], fn)
}

// Emit calls every subscriber on topic with args, logging (not propagating)
// any callback error so one bad subscriber can't block the rest.
func (b *EventBus) Emit(L *luar.LState, logger *slog.Logger, topic string, args ...luar.LValue) {
	b.mu.Lock()
	subs := make([]*luar.LFunction, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.Unlock()

	for _, fn := range subs {
		if err := L.CallByParam(luar.P{Fn: fn, NRet: 0, Protect: true}, args...); err != nil {
			logger.Warn("lua event subscriber failed", "topic", topic, "error", hookCallbackError(topic, err))
		}
	}
}

// Reset drops every subscription, used when a module owning subscribers is
// about to be reloaded so stale closures aren't called after reload.
func (b *EventBus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]*luar.LFunction)
}
