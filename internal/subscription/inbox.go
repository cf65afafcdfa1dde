package subscription

import (
	"context"
	"errors"
	"sync"
)

// ErrInboxClosed is returned by Next once a closed inbox is empty.
var ErrInboxClosed = errors.New("inbox closed")

// Inbox is a Subscriber that queues events for a consumer goroutine, so slow
// consumers never block frame handling. The queue is unbounded.
type Inbox struct {
	mu       sync.Mutex
	events   []Event
	closed   bool
	received int64
	taken    int64

	signal   chan struct{}
	closedCh chan struct{}
}

// InboxStats contains inbox statistics.
type InboxStats struct {
	Pending  int
	Received int64
	Taken    int64
}

// NewInbox creates an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{
		signal:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// HandleEvent queues ev. Events arriving after Close are dropped.
func (in *Inbox) HandleEvent(ev Event) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.events = append(in.events, ev)
	in.received++
	in.mu.Unlock()

	select {
	case in.signal <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, the inbox is closed and empty, or ctx
// is done.
func (in *Inbox) Next(ctx context.Context) (Event, error) {
	for {
		in.mu.Lock()
		if len(in.events) > 0 {
			ev := in.pop()
			in.mu.Unlock()
			return ev, nil
		}
		closed := in.closed
		in.mu.Unlock()

		if closed {
			return Event{}, ErrInboxClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-in.signal:
		case <-in.closedCh:
		}
	}
}

// Drain removes up to max queued events without blocking (all when max <= 0).
func (in *Inbox) Drain(max int) []Event {
	in.mu.Lock()
	defer in.mu.Unlock()

	n := len(in.events)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, in.pop())
	}
	return out
}

// Close stops accepting events. Queued events can still be taken.
func (in *Inbox) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	in.closed = true
	close(in.closedCh)
}

// Len returns the number of queued events.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.events)
}

// Stats returns inbox statistics.
func (in *Inbox) Stats() InboxStats {
	in.mu.Lock()
	defer in.mu.Unlock()
	return InboxStats{
		Pending:  len(in.events),
		Received: in.received,
		Taken:    in.taken,
	}
}

// pop removes the head event. Must be called with lock held.
func (in *Inbox) pop() Event {
	ev := in.events[0]
	in.events[0] = Event{} // drop the message reference
	in.events = in.events[1:]
	if len(in.events) == 0 {
		in.events = nil
	}
	in.taken++
	return ev
}
