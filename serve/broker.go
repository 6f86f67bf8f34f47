package serve

import (
	"sync"
)

const maxSubscribers = 50

// EventBroker fans out frames to SSE subscribers.
type EventBroker struct {
	subscribers map[chan Frame]struct{}
	mu          sync.RWMutex
}

// NewEventBroker creates a new broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		subscribers: make(map[chan Frame]struct{}),
	}
}

// Subscribe returns a channel that receives frames.
// The caller must call Unsubscribe when done.
func (b *EventBroker) Subscribe() chan Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subscribers) >= maxSubscribers {
		return nil
	}

	ch := make(chan Frame, 64)
	b.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber channel.
func (b *EventBroker) Unsubscribe(ch chan Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Close closes all subscriber channels, causing SSE handlers to exit.
func (b *EventBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// Publish sends a frame to all subscribers.
// Non-blocking: if a subscriber's buffer is full, the frame is dropped for
// that subscriber.
func (b *EventBroker) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- frame:
		default:
			// Subscriber too slow, drop frame
		}
	}
}
