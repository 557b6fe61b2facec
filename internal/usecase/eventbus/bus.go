// Package eventbus fans asynchronous peer notifications out to subscribers.
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"discord-rpc/internal/domain"
	"discord-rpc/internal/usecase/queue"
)

// subscription delivers notifications to one handler, in publish order, on
// its own goroutine.
type subscription struct {
	id      uint64
	evt     domain.Event // empty for SubscribeAll
	handler domain.NotificationHandler
	mailbox *queue.Queue[delivery]
}

type delivery struct {
	ctx context.Context
	n   domain.Notification
}

// Bus is an in-process, goroutine-safe event bus. A slow handler only
// delays its own subscription.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID atomic.Uint64
	logger *slog.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ domain.EventBus = (*Bus)(nil)

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]*subscription),
		logger: logger,
	}
}

// Publish queues n for every subscriber of n.Type and every SubscribeAll
// subscriber. It never blocks on handlers.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.evt != "" && sub.evt != n.Type {
			continue
		}
		// Push only fails once the subscription is being torn down.
		_ = sub.mailbox.Push(delivery{ctx: context.WithoutCancel(ctx), n: n})
	}
}

// Subscribe registers a handler for a single event. Returns an unsubscribe
// function.
func (b *Bus) Subscribe(evt domain.Event, handler domain.NotificationHandler) func() {
	return b.add(evt, handler)
}

// SubscribeAll registers a handler that receives every notification.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.NotificationHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(evt domain.Event, handler domain.NotificationHandler) func() {
	sub := &subscription{
		id:      b.nextID.Add(1),
		evt:     evt,
		handler: handler,
		mailbox: queue.New[delivery](),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go b.deliver(sub)

	return func() {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		sub.mailbox.Close()
	}
}

func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()
	for {
		d, err := sub.mailbox.Pop(context.Background())
		if err != nil {
			return
		}
		b.invoke(sub, d)
	}
}

func (b *Bus) invoke(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification handler panicked",
				"evt", string(d.n.Type),
				"panic", r,
			)
		}
	}()
	sub.handler(d.ctx, d.n)
}

// Close stops accepting notifications, lets every subscriber drain what was
// already published, and waits for the handlers to return. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed.Swap(true) {
		b.mu.Unlock()
		return
	}
	for _, sub := range b.subs {
		sub.mailbox.Close()
	}
	b.mu.Unlock()
	b.wg.Wait()
}
