// Package notify fans typed events out to independent subscribers.
//
// Publishing never blocks: every subscriber owns a buffered channel and a
// subscriber that falls behind loses events rather than stalling the
// connection's reader goroutine.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const dropWarningInterval = 5 * time.Second

// Broker delivers values of type T to every current subscriber
type Broker[T any] struct {
	logger          *zap.Logger
	name            string
	mu              sync.Mutex
	subs            map[int]chan T
	nextID          int
	closed          bool
	lastDropWarning time.Time
}

// NewBroker creates a broker; name identifies the stream in log lines
func NewBroker[T any](logger *zap.Logger, name string) *Broker[T] {
	return &Broker[T]{
		logger: logger,
		name:   name,
		subs:   make(map[int]chan T),
	}
}

// Subscribe registers a new subscriber with the given channel buffer. The
// returned func unsubscribes and closes the channel; it is safe to call
// more than once.
func (b *Broker[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish offers v to every subscriber without blocking
func (b *Broker[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.logDropLocked()
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *Broker[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel and later publishes are no-ops.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// logDropLocked rate limits the "subscriber full" warning so a stalled
// consumer during a burst of clock ticks does not flood the log
func (b *Broker[T]) logDropLocked() {
	now := time.Now()
	if now.Sub(b.lastDropWarning) < dropWarningInterval {
		return
	}
	b.lastDropWarning = now
	b.logger.Warn("Subscriber buffer full, dropping event",
		zap.String("stream", b.name))
}
