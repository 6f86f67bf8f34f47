package warren

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// EventType names an engine event.
type EventType string

const (
	EventInit            EventType = "init"
	EventAgentCreated    EventType = "agent.created"
	EventAgentRestored   EventType = "agent.restored"
	EventAgentReset      EventType = "agent.reset"
	EventSessionUpdated  EventType = "session.updated"
	EventSessionOutgoing EventType = "session.outgoing"
	EventCronTaskAdded   EventType = "cron.task.added"
	EventCronTaskRan     EventType = "cron.task.ran"
	EventPluginLoaded    EventType = "plugin.loaded"
	EventPluginUnloaded  EventType = "plugin.unloaded"
	EventSignal          EventType = "signal.generated"
)

// Event is one engine event as delivered to subscribers and bridges.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. Handlers run synchronously on the emitting
// goroutine; panics are recovered and logged, never propagated.
type Handler func(Event)

// Bus is the in-process publish/subscribe used for dashboards and internal
// plumbing. There is no persistence and no replay: a late subscriber sees
// only future events, so bridges must read a snapshot before subscribing.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Subscribing or unsubscribing during an emit does not affect that emit.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Emit delivers the event to every current subscriber in subscription order.
func (b *Bus) Emit(eventType EventType, payload any) {
	event := Event{Type: eventType, Payload: payload, Timestamp: time.Now().UTC()}

	b.mu.Lock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	// Map iteration order is random; restore subscription order.
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		deliver(h, event)
	}
}

func deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}
