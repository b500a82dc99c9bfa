// Package pubsub implements the bus-facing Subscriber described in spec.md §6: per-connection dynamic
// subscribe/unsubscribe over a small set of topics, backed by a single Valkey pub/sub connection (teacher's
// go-redis client, the same driver internal/gateway's predecessor used for its single global channel).
package pubsub

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Message is one delivery from the bus: the topic it arrived on and the raw event payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Subscriber is the narrow interface the session gateway depends on (spec.md §6): subscribe/unsubscribe to
// individual topics, a bulk reset, a blocking receive, and publish. One Subscriber belongs to exactly one
// connection; it is not safe to share across connections.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	UnsubscribeAll(ctx context.Context) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Publisher publishes an encoded event payload to a topic. It is safe for concurrent use across connections (every
// dispatcher path that fans an event back out onto the bus shares one Publisher).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Client wraps a *redis.Client to provide both Publisher and a Subscriber factory.
type Client struct {
	rdb *redis.Client
}

// NewClient adapts an existing Valkey client for use as the fanout bus.
func NewClient(rdb *redis.Client) *Client { return &Client{rdb: rdb} }

// Publish implements Publisher.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := c.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// NewSubscriber opens a dedicated pub/sub connection for one session gateway connection. The returned Subscriber
// starts with zero subscriptions; the caller drives Subscribe/Unsubscribe per spec.md §4.3's reconciliation outcome.
func (c *Client) NewSubscriber(ctx context.Context) Subscriber {
	return &redisSubscriber{ps: c.rdb.Subscribe(ctx)}
}

type redisSubscriber struct {
	ps *redis.PubSub
}

func (s *redisSubscriber) Subscribe(ctx context.Context, topic string) error {
	if err := s.ps.Subscribe(ctx, topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (s *redisSubscriber) Unsubscribe(ctx context.Context, topic string) error {
	if err := s.ps.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (s *redisSubscriber) UnsubscribeAll(ctx context.Context) error {
	if err := s.ps.Unsubscribe(ctx); err != nil {
		return fmt.Errorf("unsubscribe all: %w", err)
	}
	return nil
}

// Recv blocks until the next message arrives, the context is cancelled, or the underlying connection fails. A
// failure here is spec.md §7 case 5 ("subscriber failure"): the caller must terminate the connection.
func (s *redisSubscriber) Recv(ctx context.Context) (Message, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("receive: %w", err)
	}
	return Message{Topic: msg.Channel, Payload: []byte(msg.Payload)}, nil
}

func (s *redisSubscriber) Close() error {
	return s.ps.Close()
}
