package pubsub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 64

// Option configures a Broker.
type Option func(*options)

type options struct {
	bufferSize int
	keepLatest bool
}

// WithBuffer sets the per-subscriber buffer size. Sizes below one become one.
func WithBuffer(size int) Option {
	return func(o *options) { o.bufferSize = max(size, 1) }
}

// KeepLatest makes a full subscriber lose its oldest pending event instead
// of the new one. Use it for notifications where only the most recent
// revision matters, such as STATE_UPDATED.
func KeepLatest() Option {
	return func(o *options) { o.keepLatest = true }
}

// subscription is one subscriber's channel plus the hook that detaches it
// from its context.
type subscription[T any] struct {
	ch   chan Event[T]
	stop func() bool
}

// Broker fans events out to every live subscriber. Publishing never blocks;
// when a subscriber's buffer is full one event is dropped for it and the
// drop is counted.
type Broker[T any] struct {
	opts      options
	mu        sync.RWMutex
	subs      map[*subscription[T]]struct{}
	closed    bool
	published atomic.Int64
	dropped   atomic.Int64
}

// NewBroker creates a broker. Without options each subscriber buffers 64
// events and a full subscriber misses new ones.
func NewBroker[T any](opts ...Option) *Broker[T] {
	o := options{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Broker[T]{
		opts: o,
		subs: make(map[*subscription[T]]struct{}),
	}
}

// Subscribe returns a channel of future events. It is closed when ctx is
// cancelled or the broker is closed, whichever comes first.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := &subscription[T]{ch: make(chan Event[T], b.opts.bufferSize)}
	b.subs[sub] = struct{}{}
	sub.stop = context.AfterFunc(ctx, func() { b.unsubscribe(sub) })
	return sub.ch
}

func (b *Broker[T]) unsubscribe(sub *subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish sends an event to all subscribers.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	event := Event[T]{Type: eventType, Payload: payload, Timestamp: time.Now()}
	b.published.Add(1)
	for sub := range b.subs {
		b.deliver(sub.ch, event)
	}
}

func (b *Broker[T]) deliver(ch chan Event[T], event Event[T]) {
	select {
	case ch <- event:
		return
	default:
	}
	b.dropped.Add(1)
	if !b.opts.keepLatest {
		return
	}
	// make room; a concurrent publisher or the reader may win either step
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- event:
	default:
	}
}

// Close detaches and closes every subscriber. Later calls do nothing.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.stop()
		close(sub.ch)
	}
	clear(b.subs)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats reports how many events were published and how many deliveries
// were dropped because a subscriber was full.
func (b *Broker[T]) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}
