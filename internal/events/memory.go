package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryBusConfig holds configuration for the in-process bus.
type MemoryBusConfig struct {
	BufferSize     int           // buffer size for subscriber channels
	PublishTimeout time.Duration // how long Publish waits on a full subscriber
}

// DefaultMemoryBusConfig returns sensible defaults.
func DefaultMemoryBusConfig() *MemoryBusConfig {
	return &MemoryBusConfig{
		BufferSize:     1000,
		PublishTimeout: 10 * time.Millisecond,
	}
}

// BusMetrics tracks bus delivery statistics.
type BusMetrics struct {
	EventsPublished   int64
	EventsDelivered   int64
	EventsDropped     int64
	SubscribersActive int64
}

type memorySubscriber struct {
	id      string
	topic   string
	ch      chan *Envelope
	handler Handler
	done    chan struct{}
	closed  bool
	mu      sync.Mutex
}

func (s *memorySubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// trySend delivers an event to the subscriber channel, giving up after the
// timeout so one slow consumer cannot stall the publisher.
func (s *memorySubscriber) trySend(e *Envelope, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.ch <- e:
		return true
	case <-timer.C:
		return false
	}
}

// MemoryBus is an in-process Bus. Each subscriber owns a buffered channel
// drained by a dedicated goroutine that invokes the handler, so publishing
// never runs handlers inline.
type MemoryBus struct {
	config      *MemoryBusConfig
	subscribers map[string][]*memorySubscriber
	mu          sync.RWMutex
	metrics     BusMetrics
	closed      bool
	wg          sync.WaitGroup
}

// NewMemoryBus creates a new in-process bus.
func NewMemoryBus(config *MemoryBusConfig) *MemoryBus {
	if config == nil {
		config = DefaultMemoryBusConfig()
	}
	return &MemoryBus{
		config:      config,
		subscribers: make(map[string][]*memorySubscriber),
	}
}

// Publish implements Bus.
func (b *MemoryBus) Publish(_ context.Context, topic string, e *Envelope) error {
	if e == nil {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil
	}
	subs := make([]*memorySubscriber, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])
	b.mu.RUnlock()

	atomic.AddInt64(&b.metrics.EventsPublished, 1)
	for _, sub := range subs {
		if sub.trySend(e, b.config.PublishTimeout) {
			atomic.AddInt64(&b.metrics.EventsDelivered, 1)
		} else {
			atomic.AddInt64(&b.metrics.EventsDropped, 1)
		}
	}
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}, nil
	}

	sub := &memorySubscriber{
		id:      uuid.New().String(),
		topic:   topic,
		ch:      make(chan *Envelope, b.config.BufferSize),
		handler: h,
		done:    make(chan struct{}),
	}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	atomic.AddInt64(&b.metrics.SubscribersActive, 1)

	b.wg.Add(1)
	go b.pump(sub)

	return func() { b.unsubscribe(sub) }, nil
}

func (b *MemoryBus) pump(sub *memorySubscriber) {
	defer b.wg.Done()
	for e := range sub.ch {
		sub.handler(e)
	}
	close(sub.done)
}

func (b *MemoryBus) unsubscribe(sub *memorySubscriber) {
	b.mu.Lock()
	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subscribers[sub.topic] = append(subs[:i], subs[i+1:]...)
			atomic.AddInt64(&b.metrics.SubscribersActive, -1)
			break
		}
	}
	b.mu.Unlock()

	sub.close()
	<-sub.done
}

// Metrics returns a snapshot of delivery counters.
func (b *MemoryBus) Metrics() BusMetrics {
	return BusMetrics{
		EventsPublished:   atomic.LoadInt64(&b.metrics.EventsPublished),
		EventsDelivered:   atomic.LoadInt64(&b.metrics.EventsDelivered),
		EventsDropped:     atomic.LoadInt64(&b.metrics.EventsDropped),
		SubscribersActive: atomic.LoadInt64(&b.metrics.SubscribersActive),
	}
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscriber
	for _, subs := range b.subscribers {
		all = append(all, subs...)
	}
	b.subscribers = make(map[string][]*memorySubscriber)
	b.mu.Unlock()

	for _, sub := range all {
		sub.close()
	}
	b.wg.Wait()
	return nil
}

var _ Bus = (*MemoryBus)(nil)
