package warren

import (
	"testing"
)

func TestBusEmitDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()

	var first, second []EventType
	bus.Subscribe(func(e Event) { first = append(first, e.Type) })
	bus.Subscribe(func(e Event) { second = append(second, e.Type) })

	bus.Emit(EventAgentCreated, nil)
	bus.Emit(EventSessionUpdated, nil)

	want := []EventType{EventAgentCreated, EventSessionUpdated}
	for i, got := range [][]EventType{first, second} {
		if len(got) != len(want) {
			t.Fatalf("subscriber %d saw %d events, want %d", i, len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("subscriber %d event %d = %q, want %q", i, j, got[j], want[j])
			}
		}
	}
}

func TestBusSubscriptionOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	bus.Subscribe(func(Event) { order = append(order, 1) })
	bus.Subscribe(func(Event) { order = append(order, 2) })
	bus.Subscribe(func(Event) { order = append(order, 3) })

	bus.Emit(EventAgentReset, nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ })

	bus.Emit(EventAgentReset, nil)
	unsubscribe()
	bus.Emit(EventAgentReset, nil)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}
}

func TestBusHandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()

	delivered := false
	bus.Subscribe(func(Event) { panic("boom") })
	bus.Subscribe(func(Event) { delivered = true })

	bus.Emit(EventAgentReset, nil)

	if !delivered {
		t.Error("panicking handler blocked later subscribers")
	}
}

func TestBusEmitPayloadAndTimestamp(t *testing.T) {
	bus := NewBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Emit(EventSessionOutgoing, map[string]any{"text": "hi"})

	if got.Type != EventSessionOutgoing {
		t.Errorf("Type = %q, want %q", got.Type, EventSessionOutgoing)
	}
	payload, ok := got.Payload.(map[string]any)
	if !ok || payload["text"] != "hi" {
		t.Errorf("Payload = %v, want map with text=hi", got.Payload)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}
