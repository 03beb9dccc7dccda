package queue

import (
	"context"
	"testing"
	"time"
)

func TestInMemory_PublishConsume(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := q.Publish(ctx, Message{Type: "redemption", Body: []byte(`{"session_id":"s1"}`)}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-msgs:
		if msg.Type != "redemption" {
			t.Errorf("type = %q, want %q", msg.Type, "redemption")
		}
		if string(msg.Body) != `{"session_id":"s1"}` {
			t.Errorf("body = %q", msg.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestInMemory_PublishHonorsCancellation(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := q.Publish(ctx, Message{Type: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cancel()
	// Queue is full and the context is done; Publish must not block.
	if err := q.Publish(ctx, Message{Type: "b"}); err == nil {
		t.Error("Publish on a cancelled context should fail")
	}
}

func TestInMemory_ConsumeStopsOnCancel(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	// Publish without reading so the forwarder is blocked on its send, then
	// cancel. The goroutine must exit and close the channel.
	if err := q.Publish(ctx, Message{Type: "redemption"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-msgs:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("consume channel not closed after cancellation")
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	msg := Message{Type: "redemption", Body: []byte(`{"ip":"10.0.0.1"}`)}
	got := deserialize(serialize(msg))
	if got.Type != msg.Type {
		t.Errorf("type = %q, want %q", got.Type, msg.Type)
	}
	if string(got.Body) != string(msg.Body) {
		t.Errorf("body = %q, want %q", got.Body, msg.Body)
	}
}

func TestDeserialize_NoSeparator(t *testing.T) {
	got := deserialize("rawpayload")
	if got.Type != "" {
		t.Errorf("type = %q, want empty", got.Type)
	}
	if string(got.Body) != "rawpayload" {
		t.Errorf("body = %q", got.Body)
	}
}
