package host

import (
	"context"
	"sync"
)

// Bus is an in-process EventSource. An embedded host, or a test, publishes
// into it directly.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), buffer: 64}
}

// Subscribe registers a new subscriber. It ends when ctx does or when the
// returned handle is closed.
func (b *Bus) Subscribe(ctx context.Context) (*Subscription, error) {
	var sub *Subscription
	sub = newSubscription(b.buffer, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	sub.closeWith(ctx)
	return sub, nil
}

// Subscribers reports how many subscriptions are open.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Emit delivers ev to every subscriber, waiting for slow ones.
func (b *Bus) Emit(ctx context.Context, ev Event) {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(ctx, ev)
	}
}

// Publish encodes payload and emits it under name.
func (b *Bus) Publish(name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return err
	}
	b.Emit(context.Background(), ev)
	return nil
}
