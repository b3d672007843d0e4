package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/enchanted-notify/internal/logger"
)

// DefaultSendTimeout bounds how long Publish waits on a slow subscriber.
const DefaultSendTimeout = 100 * time.Millisecond

// Bus is the in-process broadcaster. Slow subscribers miss events instead of
// blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	sendTimeout time.Duration
	logger      *logger.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logger.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		sendTimeout: DefaultSendTimeout,
		logger:      logger.WithComponent("events-bus"),
	}
}

// Subscribe registers a subscriber that lives until ctx is cancelled or
// Unsubscribe is called.
func (b *Bus) Subscribe(ctx context.Context, id string, bufferSize int) *Subscriber {
	sub := newSubscriber(ctx, id, bufferSize)

	b.mu.Lock()
	if old, ok := b.subscribers[id]; ok {
		old.cancel()
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	go func() {
		<-sub.ctx.Done()
		b.remove(sub)
	}()

	b.logger.Debug("subscriber joined", slog.String("subscriber_id", id))
	return sub
}

// Unsubscribe cancels and removes a subscriber. Its channel is closed once it
// is off the bus.
func (b *Bus) Unsubscribe(id string) {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()

	if ok {
		sub.cancel()
		b.remove(sub)
	}
}

func (b *Bus) remove(sub *Subscriber) {
	b.mu.Lock()
	current, ok := b.subscribers[sub.ID]
	if ok && current == sub {
		delete(b.subscribers, sub.ID)
	}
	b.mu.Unlock()

	sub.closeOnce.Do(func() {
		// Publish holds the read lock while sending, so taking the write lock
		// above guarantees no send is in flight.
		close(sub.Ch)
		b.logger.Debug("subscriber left", slog.String("subscriber_id", sub.ID))
	})
}

// Publish sends event to every subscriber.
func (b *Bus) Publish(ctx context.Context, event ChangedEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.Send(event, b.sendTimeout) {
			b.logger.Debug("dropped event for slow subscriber", slog.String("subscriber_id", sub.ID))
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}
