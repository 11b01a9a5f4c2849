package bus

import (
	"context"
	"testing"
	"time"
)

func TestReplyBusPublishConsume(t *testing.T) {
	b := NewReplyBus(4)
	if !b.Publish(InboundFrame{Payload: []byte("a")}) {
		t.Fatalf("publish should succeed")
	}

	frame, ok := b.Consume(context.Background())
	if !ok || string(frame.Payload) != "a" {
		t.Fatalf("Consume = %q, %v", frame.Payload, ok)
	}
	if frame.ReceivedAt.IsZero() {
		t.Fatalf("publish should stamp ReceivedAt")
	}
}

func TestReplyBusConsumeHonorsContext(t *testing.T) {
	b := NewReplyBus(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := b.Consume(ctx); ok {
		t.Fatalf("consume on empty bus should stop with the context")
	}
}

func TestReplyBusCloseIsIdempotent(t *testing.T) {
	b := NewReplyBus(2)
	b.Publish(InboundFrame{Payload: []byte("queued")})
	b.Close()
	b.Close()

	if b.Publish(InboundFrame{Payload: []byte("late")}) {
		t.Fatalf("publish after close should be rejected")
	}
	if frame, ok := b.Consume(context.Background()); !ok || string(frame.Payload) != "queued" {
		t.Fatalf("queued frame should drain after close, got %q %v", frame.Payload, ok)
	}
	if _, ok := b.Consume(context.Background()); ok {
		t.Fatalf("drained closed bus should report !ok")
	}
}
