package device

import (
	"context"
	"sync"
)

// Subscription delivers change events emitted after it was created.
//
// Events are queued without bound so a slow consumer never blocks a merge
// and never loses an event. Close the subscription when done so the
// Directory stops queueing for it.
type Subscription struct {
	dir *Directory
	id  uint64

	mu     sync.Mutex
	queue  []ChangeEvent
	closed bool

	// ready holds a token while queue is non-empty or the subscription is closed.
	ready chan struct{}
}

func newSubscription(dir *Directory, id uint64) *Subscription {
	return &Subscription{
		dir:   dir,
		id:    id,
		ready: make(chan struct{}, 1),
	}
}

// deliver appends an event. Called with the Directory lock held.
func (s *Subscription) deliver(ev ChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available, ctx is done or the
// subscription is closed. Events already queued are still returned after
// Close; ErrSubscriptionClosed follows once the queue is drained.
func (s *Subscription) Next(ctx context.Context) (ChangeEvent, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = ChangeEvent{}
			s.queue = s.queue[1:]
			more := len(s.queue) > 0
			s.mu.Unlock()
			if more {
				s.signal()
			}
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()

		if closed {
			return ChangeEvent{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return ChangeEvent{}, ctx.Err()
		case <-s.ready:
		}
	}
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close detaches the subscription from the Directory. It is safe to call
// more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.dir.unsubscribe(s.id)
	s.signal()
}
