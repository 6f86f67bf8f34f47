package warren

import (
	"context"
	"sync"
)

// ItemKind discriminates inbox item variants.
type ItemKind string

const (
	ItemMessage    ItemKind = "message"
	ItemPermission ItemKind = "permission-decision"
	ItemReset      ItemKind = "reset"
	ItemRestore    ItemKind = "restore"
)

// InboxItem is one unit of work bound to an agent. Exactly one variant's
// payload is set, selected by Kind.
type InboxItem struct {
	Kind     ItemKind
	Source   string
	Message  Message
	Context  MessageContext
	Decision PermissionDecision

	// completion, if non-nil, resolves when the agent finishes the item.
	completion *Completion
}

// Completion is a one-shot future resolved when an inbox item finishes
// processing (or fails, or is abandoned at shutdown).
type Completion struct {
	mu        sync.RWMutex
	done      chan struct{}
	err       error
	completed bool
}

// NewCompletion creates an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Await blocks until the completion resolves or ctx expires.
func (c *Completion) Await(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.err
	}
}

// Done reports whether the completion has resolved.
func (c *Completion) Done() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completed
}

// Err returns the resolution error, or ErrNotCompleted before resolution.
func (c *Completion) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.completed {
		return ErrNotCompleted
	}
	return c.err
}

func (c *Completion) resolve(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completed {
		return
	}
	c.completed = true
	c.err = err
	close(c.done)
}

// Inbox is the FIFO work queue of exactly one agent. Posting is O(1) and
// thread-safe; draining is single-consumer. The queue is unbounded: items
// are small and overflow would be a programming error, not a transient.
type Inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []InboxItem
	closed bool
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	in := &Inbox{}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Post appends an item, preserving total order. The optional completion is
// attached to the item and resolves when the agent finishes it.
func (in *Inbox) Post(item InboxItem, completion *Completion) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		if completion != nil {
			completion.resolve(ErrInboxClosed)
		}
		return ErrInboxClosed
	}
	item.completion = completion
	in.items = append(in.items, item)
	in.cond.Signal()
	return nil
}

// Next blocks until an item is available and returns it. When the inbox is
// closed it returns ErrInboxClosed after the queue drains.
func (in *Inbox) Next() (InboxItem, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	for len(in.items) == 0 && !in.closed {
		in.cond.Wait()
	}
	if len(in.items) == 0 {
		return InboxItem{}, ErrInboxClosed
	}
	item := in.items[0]
	in.items = in.items[1:]
	return item, nil
}

// Len returns the number of pending items.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Close stops the inbox. Pending completions fail with ErrShutdown and the
// consumer unblocks once the queue is empty.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	in.closed = true
	for _, item := range in.items {
		if item.completion != nil {
			item.completion.resolve(ErrShutdown)
		}
	}
	in.items = nil
	in.cond.Broadcast()
}
