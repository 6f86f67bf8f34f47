package serve

import (
	"testing"
	"time"
)

func TestBrokerPublishDelivers(t *testing.T) {
	broker := NewEventBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	broker.Publish(Frame{Type: "agent.created", Timestamp: time.Now()})

	select {
	case frame := <-ch:
		if frame.Type != "agent.created" {
			t.Errorf("Type = %q, want agent.created", frame.Type)
		}
	default:
		t.Fatal("frame not delivered")
	}
}

func TestBrokerSlowSubscriberDropsFrames(t *testing.T) {
	broker := NewEventBroker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	// Overfill the buffer; Publish must never block.
	for i := 0; i < 200; i++ {
		broker.Publish(Frame{Type: "event"})
	}

	if got := len(ch); got != cap(ch) {
		t.Errorf("buffered frames = %d, want full buffer %d", got, cap(ch))
	}
}

func TestBrokerSubscriberLimit(t *testing.T) {
	broker := NewEventBroker()
	defer broker.Close()

	for i := 0; i < maxSubscribers; i++ {
		if broker.Subscribe() == nil {
			t.Fatalf("Subscribe() refused at %d, limit is %d", i, maxSubscribers)
		}
	}
	if broker.Subscribe() != nil {
		t.Error("Subscribe() exceeded the subscriber limit")
	}
}

func TestBrokerCloseUnblocksSubscribers(t *testing.T) {
	broker := NewEventBroker()
	ch := broker.Subscribe()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()

	broker.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not unblocked by Close")
	}

	// Unsubscribe after Close is a no-op, not a double close.
	broker.Unsubscribe(ch)
}
