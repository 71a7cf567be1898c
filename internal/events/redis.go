package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"dev.swarm.consensus/internal/config"
)

// RedisBus carries swarm events across processes over Redis pub/sub.
// Delivery is at-most-once: subscribers that are down miss events, matching
// the bus contract.
type RedisBus struct {
	client *redis.Client
	log    *logrus.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (*RedisBus, error) {
	if log == nil {
		log = logrus.New()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.WithField("addr", cfg.Addr).Info("Connected to Redis event bus")
	return &RedisBus{
		client: client,
		log:    log,
		subs:   make(map[*redisSubscription]struct{}),
	}, nil
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, topic string, e *Envelope) error {
	if e == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", e.Type, err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", e.Type, err)
	}
	return nil
}

// Subscribe implements Bus. The handler runs on a dedicated goroutine per
// subscription; malformed messages are logged and skipped.
func (b *RedisBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}, fmt.Errorf("redis bus closed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, topic)
	sub := &redisSubscription{pubsub: pubsub, cancel: cancel, done: make(chan struct{})}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	// Force the subscription to be established before returning, so events
	// published right after Subscribe are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		b.removeSub(sub)
		cancel()
		_ = pubsub.Close()
		close(sub.done)
		return func() {}, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		defer close(sub.done)
		ch := pubsub.Channel()
		for msg := range ch {
			var e Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.log.WithError(err).Warn("Dropping malformed swarm event")
				continue
			}
			h(&e)
		}
	}()

	return func() {
		b.removeSub(sub)
		sub.cancel()
		_ = sub.pubsub.Close()
		<-sub.done
	}, nil
}

func (b *RedisBus) removeSub(sub *redisSubscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*redisSubscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		_ = sub.pubsub.Close()
		<-sub.done
	}
	return b.client.Close()
}

var _ Bus = (*RedisBus)(nil)
