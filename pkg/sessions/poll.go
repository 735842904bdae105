package sessions

import (
	"context"
	"errors"
	"time"
)

// DefaultPollTimeout bounds every event poll unless configured otherwise
const DefaultPollTimeout = 2 * time.Second

// Outcome is the result kind of an event poll
type Outcome int

const (
	// OutcomeEvent means an event was delivered
	OutcomeEvent Outcome = iota
	// OutcomeNoEvent means the event source ended without a further event
	OutcomeNoEvent
	// OutcomeTimedOut means nothing happened before the timeout elapsed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEvent:
		return "Event"
	case OutcomeNoEvent:
		return "None"
	case OutcomeTimedOut:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// PollResult is what a poll call returns. Event is only meaningful for OutcomeEvent
type PollResult[E any] struct {
	Outcome Outcome
	Event   E
}

// String returns the event name, or "None"/"Timeout" for the other outcomes
func (r PollResult[E]) String() string {
	if r.Outcome != OutcomeEvent {
		return r.Outcome.String()
	}

	if s, ok := any(r.Event).(interface{ String() string }); ok {
		return s.String()
	}
	return r.Outcome.String()
}

// pollWithTimeout races wait against timeout. wait must honor ctx cancellation, which
// is how an abandoned wait gets torn down instead of piling up behind later polls.
// Only errors other than the timeout itself are returned
func pollWithTimeout[E any](ctx context.Context, timeout time.Duration, wait func(context.Context) (E, bool, error)) (PollResult[E], error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	event, ok, err := wait(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return PollResult[E]{Outcome: OutcomeTimedOut}, nil
		}
		return PollResult[E]{}, err
	}

	if !ok {
		return PollResult[E]{Outcome: OutcomeNoEvent}, nil
	}

	return PollResult[E]{Outcome: OutcomeEvent, Event: event}, nil
}
