package gateway

import (
	"sync"
	"time"
)

// batcher coalesces high-frequency room updates into batch_update frames.
// Each (room, update type) pair gets its own window; within a window, updates
// sharing an entity key replace each other so the client only sees the latest
// state. Consensus outcomes and failures bypass the batcher entirely.
type batcher struct {
	window time.Duration
	send   func(room string, msg *ServerMessage)

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	closed  bool
}

type bucketKey struct {
	room       string
	updateType string
}

type bucket struct {
	timer *time.Timer
	order []string
	byKey map[string]Update
}

func newBatcher(window time.Duration, send func(room string, msg *ServerMessage)) *batcher {
	return &batcher{
		window:  window,
		send:    send,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Add queues one update. The first update for a (room, type) pair opens a
// window; the flush fires once the window elapses.
func (b *batcher) Add(room, updateType, entityKey string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	key := bucketKey{room: room, updateType: updateType}
	bkt, ok := b.buckets[key]
	if !ok {
		bkt = &bucket{byKey: make(map[string]Update)}
		bkt.timer = time.AfterFunc(b.window, func() { b.flush(key) })
		b.buckets[key] = bkt
	}

	if _, seen := bkt.byKey[entityKey]; !seen {
		bkt.order = append(bkt.order, entityKey)
	}
	bkt.byKey[entityKey] = Update{Type: updateType, Data: data}
}

func (b *batcher) flush(key bucketKey) {
	b.mu.Lock()
	bkt, ok := b.buckets[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.buckets, key)

	updates := make([]Update, 0, len(bkt.order))
	for _, ek := range bkt.order {
		updates = append(updates, bkt.byKey[ek])
	}
	b.mu.Unlock()

	if len(updates) == 0 {
		return
	}
	batchFlushes.Inc()
	b.send(key.room, &ServerMessage{
		Type:    MsgBatchUpdate,
		Room:    key.room,
		Updates: updates,
	})
}

// Close stops all pending windows without flushing.
func (b *batcher) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for key, bkt := range b.buckets {
		bkt.timer.Stop()
		delete(b.buckets, key)
	}
}
