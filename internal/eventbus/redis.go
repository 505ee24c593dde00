package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisBroker implements Broker over Redis pub/sub. The teacher's main.go
// wires this broker type by name ("redis") against the same client used
// for the session store; here it gets its own client since the session
// store has been replaced by the file-backed store package.
type RedisBroker struct {
	client *redis.Client
	log    *logrus.Entry

	mu     sync.Mutex
	closed bool
}

// NewRedisBroker wraps an existing Redis client as an event broker.
func NewRedisBroker(client *redis.Client, log *logrus.Entry) *RedisBroker {
	return &RedisBroker{client: client, log: log}
}

// Publish marshals msg and publishes it to channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, msg Message) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	b.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.client.Publish(ctx, channel, data).Err()
}

// Subscribe returns a channel of decoded events from the given Redis
// pub/sub channel. The returned channel closes when ctx is cancelled or
// the subscription errors.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("broker is closed")
	}
	b.mu.Unlock()

	sub := b.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan Message, 100)
	go func() {
		defer close(out)
		defer sub.Close()
		defer func() {
			if r := recover(); r != nil && b.log != nil {
				b.log.WithField("panic", r).Error("redis subscription goroutine recovered from panic")
			}
		}()

		raw := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					if b.log != nil {
						b.log.WithError(err).Warn("redis message decode error")
					}
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the underlying Redis client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}
