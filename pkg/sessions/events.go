package sessions

import (
	"context"
	"sync"
)

// PlayerEvent is a change notification for a single session
type PlayerEvent int

const (
	PlaybackInfoChanged PlayerEvent = iota
	MediaPropertiesChanged
	TimelinePropertiesChanged
)

func (e PlayerEvent) String() string {
	switch e {
	case PlaybackInfoChanged:
		return "PlaybackInfoChanged"
	case MediaPropertiesChanged:
		return "MediaPropertiesChanged"
	case TimelinePropertiesChanged:
		return "TimelinePropertiesChanged"
	default:
		return "Unknown"
	}
}

// ManagerEvent is a change notification for the session registry
type ManagerEvent int

const (
	ActiveSessionChanged ManagerEvent = iota
	SystemSessionChanged
	SessionsChanged
)

func (e ManagerEvent) String() string {
	switch e {
	case ActiveSessionChanged:
		return "ActiveSessionChanged"
	case SystemSessionChanged:
		return "SystemSessionChanged"
	case SessionsChanged:
		return "SessionsChanged"
	default:
		return "Unknown"
	}
}

// eventSlot holds at most one pending event. Publishing replaces whatever is pending,
// so a consumer that polls infrequently only ever sees the latest notification.
type eventSlot[E any] struct {
	ch   chan E
	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newEventSlot[E any]() *eventSlot[E] {
	return &eventSlot[E]{
		ch:   make(chan E, 1),
		done: make(chan struct{}),
	}
}

// publish never blocks. It is a no-op once the slot is closed
func (s *eventSlot[E]) publish(event E) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// latest wins: drop the stale pending event, if any
	select {
	case <-s.ch:
	default:
	}

	s.ch <- event
}

// close ends the slot. A nil err means the source ended normally and waiters get
// "no event"; a non-nil err is handed to every subsequent waiter
func (s *eventSlot[E]) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	s.err = err

	// a destroyed slot doesn't hand out what was pending
	if err != nil {
		select {
		case <-s.ch:
		default:
		}
	}

	close(s.done)
}

// next waits for the pending event. ok is false when the slot ended without one
func (s *eventSlot[E]) next(ctx context.Context) (event E, ok bool, err error) {
	// a pending event is delivered even if the source ended after publishing it
	select {
	case event = <-s.ch:
		return event, true, nil
	default:
	}

	select {
	case event = <-s.ch:
		return event, true, nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.err != nil {
			return event, false, s.err
		}

		// published right before the source ended, select picked done first
		select {
		case event = <-s.ch:
			return event, true, nil
		default:
		}
		return event, false, nil
	case <-ctx.Done():
		return event, false, ctx.Err()
	}
}
