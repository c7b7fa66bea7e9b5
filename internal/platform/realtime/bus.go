package realtime

import (
	"context"
	"sort"
	"sync"
)

// AnyEvent subscribes a handler to every event on the bus.
const AnyEvent = "*"

type Handler func(ctx context.Context, event string, change Change)

// Bus is an in-process publish/subscribe hub keyed by event name. Handlers
// run synchronously on the emitting goroutine, in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]map[uint64]Handler
	next     uint64
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string]map[uint64]Handler)}
}

// On registers h for event and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (b *Bus) On(event string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	if b.handlers[event] == nil {
		b.handlers[event] = make(map[uint64]Handler)
	}
	b.handlers[event][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if hs, ok := b.handlers[event]; ok {
			delete(hs, id)
			if len(hs) == 0 {
				delete(b.handlers, event)
			}
		}
	}
}

// Emit calls every handler registered for event and for AnyEvent. It
// returns the number of handlers invoked.
func (b *Bus) Emit(ctx context.Context, event string, change Change) int {
	type entry struct {
		id uint64
		h  Handler
	}

	b.mu.RLock()
	var entries []entry
	for id, h := range b.handlers[event] {
		entries = append(entries, entry{id, h})
	}
	if event != AnyEvent {
		for id, h := range b.handlers[AnyEvent] {
			entries = append(entries, entry{id, h})
		}
	}
	b.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	for _, e := range entries {
		e.h(ctx, event, change)
	}
	return len(entries)
}

// HandlerCount returns the number of handlers registered for event.
func (b *Bus) HandlerCount(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[event])
}
