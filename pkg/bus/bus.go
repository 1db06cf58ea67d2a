package bus

import (
	"sync"

	"github.com/notifyhub/notifyhub/pkg/notify"
)

// Handler receives every record published on a channel the handler is
// subscribed to. Handlers run synchronously on the publisher's goroutine.
type Handler func(rec notify.NotificationRecord)

// Bus is an in-process publish/subscribe broadcaster. There is no buffering
// and no delivery to subscribers that attach after Publish returns; the
// durable path is the notification store, not the bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]Handler
	nextID      int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler on a channel and returns a function that
// removes it. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(channel string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[channel][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers[channel], id)
	}
}

// Publish delivers rec to every handler currently subscribed to channel.
// The handler set is snapshotted before iteration so handlers may subscribe
// or unsubscribe while a publish is in flight.
func (b *Bus) Publish(channel string, rec notify.NotificationRecord) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[channel]))
	for _, fn := range b.subscribers[channel] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(rec)
	}
}

// SubscriberCount returns the number of handlers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}
