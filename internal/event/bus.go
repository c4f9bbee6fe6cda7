package event

import (
	"log"
	"runtime/debug"
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// wildcard is the subscription key matching every event type.
const wildcard = "*"

// Bus is a synchronous in-process pub-sub bus. Handlers run on the
// publisher's goroutine; a panicking handler is recovered and logged so
// it cannot stop delivery to the rest.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]entry
	types  map[uint64]string // subscription id -> its event type key
}

type entry struct {
	id      uint64
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:  make(map[string][]entry),
		types: make(map[uint64]string),
	}
}

// Subscribe registers a handler for one event type and returns an id
// usable with Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], entry{id: id, handler: handler})
	b.types[id] = eventType
	return id
}

// SubscribeAll registers a handler that receives every event type.
func (b *Bus) SubscribeAll(handler Handler) uint64 {
	return b.Subscribe(wildcard, handler)
}

// Unsubscribe removes a subscription. It reports whether the id was
// known.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.types[id]
	if !ok {
		return false
	}
	delete(b.types, id)

	entries := b.subs[eventType]
	for i := range entries {
		if entries[i].id == id {
			b.subs[eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
	return true
}

// Publish delivers the event to handlers subscribed to its type, then
// to wildcard handlers, each group in subscription order. The snapshot
// is taken up front, so handlers may subscribe or unsubscribe freely.
func (b *Bus) Publish(e Event) {
	eventType := e.EventType()

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[eventType])+len(b.subs[wildcard]))
	for _, ent := range b.subs[eventType] {
		handlers = append(handlers, ent.handler)
	}
	for _, ent := range b.subs[wildcard] {
		handlers = append(handlers, ent.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(h, e)
	}
}

// dispatch invokes one handler, containing any panic it raises.
func dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: event handler panicked for %s: %v\n%s",
				e.EventType(), r, debug.Stack())
		}
	}()
	h(e)
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]entry)
	b.types = make(map[uint64]string)
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.types)
}
