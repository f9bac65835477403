package events

import (
	"context"
	"sync"
)

// MemoryBus fans events out to in-process subscribers. Used for single-node
// deployments without Redis and in tests.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

// Publish delivers the event synchronously to every current subscriber of
// subject. The first handler error is returned after all handlers ran.
func (b *MemoryBus) Publish(ctx context.Context, subject string, event Event) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers handler until ctx is done
func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler Handler) error {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]Handler)
	}
	b.subs[subject][id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[subject], id)
		b.mu.Unlock()
	}()
	return nil
}
