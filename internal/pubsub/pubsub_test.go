package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClient(rdb)
}

func TestSubscriber_SubscribeAndRecv(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	sub := c.NewSubscriber(ctx)
	defer func() { _ = sub.Close() }()

	if err := sub.Subscribe(ctx, "server-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := c.Publish(ctx, "server-1", []byte(`{"t":"ServerUpdate"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.Recv(recvCtx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if msg.Topic != "server-1" {
		t.Fatalf("expected topic server-1, got %s", msg.Topic)
	}
	if string(msg.Payload) != `{"t":"ServerUpdate"}` {
		t.Fatalf("unexpected payload: %s", msg.Payload)
	}
}

func TestSubscriber_UnsubscribeStopsDelivery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	sub := c.NewSubscriber(ctx)
	defer func() { _ = sub.Close() }()

	if err := sub.Subscribe(ctx, "channel-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx, "channel-1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := c.Publish(ctx, "channel-1", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(recvCtx); err == nil {
		t.Fatalf("expected no delivery after unsubscribe")
	}
}

func TestSubscriber_UnsubscribeAll(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	sub := c.NewSubscriber(ctx)
	defer func() { _ = sub.Close() }()

	if err := sub.Subscribe(ctx, "a"); err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	if err := sub.Subscribe(ctx, "b"); err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	if err := sub.UnsubscribeAll(ctx); err != nil {
		t.Fatalf("unsubscribe all: %v", err)
	}

	if err := c.Publish(ctx, "a", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if _, err := sub.Recv(recvCtx); err == nil {
		t.Fatalf("expected no delivery after unsubscribe all")
	}
}
