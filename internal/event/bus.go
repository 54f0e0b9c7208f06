// Package event provides an in-process publish/subscribe bus for job
// lifecycle notifications.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Handler func(ctx context.Context, e JobEvent) error

type Bus interface {
	Publish(ctx context.Context, e JobEvent) error
	Subscribe(eventType EventType, handler Handler) (unsubscribe func())
}

func NewBus() Bus {
	return &memoryBus{
		subscribers: make(map[EventType][]subscriber),
	}
}

type subscriber struct {
	id      uint64
	handler Handler
}

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscriber
	nextID      uint64
}

// Publish delivers the event to all subscribers in order. Handler errors are
// logged and never stop delivery.
func (b *memoryBus) Publish(ctx context.Context, e JobEvent) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]subscriber, len(b.subscribers[e.Type]))
	copy(subs, b.subscribers[e.Type])
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler(ctx, e); err != nil {
			log.Error().Err(err).
				Str("event", string(e.Type)).
				Str("job_id", e.JobID).
				Msg("event handler error")
		}
	}
	return nil
}

func (b *memoryBus) Subscribe(eventType EventType, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber{
		id:      id,
		handler: handler,
	})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
}
