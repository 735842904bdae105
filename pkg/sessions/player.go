package sessions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Player is the caller-facing handle of one tracked session. It stays cheap to copy
// and never keeps the session alive: once the registry drops the session, every call
// fails with ErrSessionGone
type Player struct {
	manager    *PlayerManager
	key        string
	generation uint64
	system     bool
}

// Key returns the stable identifier of the underlying playback source
func (p *Player) Key() string {
	return p.key
}

// PollNextEvent waits for the next event of this session, for at most timeout (the
// manager's default if timeout <= 0)
func (p *Player) PollNextEvent(ctx context.Context, timeout time.Duration) (PollResult[PlayerEvent], error) {
	var slot *eventSlot[PlayerEvent]

	err := p.withSession(func(e *entry) error {
		slot = e.events
		return nil
	})
	if err != nil {
		return PollResult[PlayerEvent]{}, err
	}

	// the slot has its own synchronization, the session stays unlocked while we wait
	return pollWithTimeout(ctx, p.manager.timeout(timeout), slot.next)
}

// Status fetches a fresh status snapshot
func (p *Player) Status(ctx context.Context) (Status, error) {
	var status Status

	err := p.withSession(func(e *entry) error {
		var err error
		status, err = e.session.Status(ctx)
		return err
	})
	if err != nil {
		return Status{}, fmt.Errorf("get status of %s: %w", p.key, err)
	}

	return status, nil
}

// Play resumes playback. The result tells whether the session accepted the command
func (p *Player) Play(ctx context.Context) (bool, error) {
	return p.transport(ctx, "play", Session.Play)
}

// Pause pauses playback
func (p *Player) Pause(ctx context.Context) (bool, error) {
	return p.transport(ctx, "pause", Session.Pause)
}

// PlayPause toggles between playing and paused
func (p *Player) PlayPause(ctx context.Context) (bool, error) {
	return p.transport(ctx, "play_pause", Session.PlayPause)
}

// Stop stops playback
func (p *Player) Stop(ctx context.Context) (bool, error) {
	return p.transport(ctx, "stop", Session.Stop)
}

// Next skips to the next track
func (p *Player) Next(ctx context.Context) (bool, error) {
	p.manager.logger.Debugw("Trying to play next", "key", p.key)
	return p.transport(ctx, "next", Session.Next)
}

// Previous goes back to the previous track
func (p *Player) Previous(ctx context.Context) (bool, error) {
	return p.transport(ctx, "previous", Session.Previous)
}

// SetShuffle changes the shuffle setting and remembers it if the session accepted it
func (p *Player) SetShuffle(ctx context.Context, value bool) (bool, error) {
	return p.command(ctx, "set_shuffle", func(e *entry) error {
		if err := e.session.SetShuffle(ctx, value); err != nil {
			return err
		}

		e.shuffle = value
		return nil
	})
}

// Shuffle returns the last shuffle setting accepted by the session. Sources can't be
// relied on to report it synchronously, so this is the cache of record
func (p *Player) Shuffle() (bool, error) {
	var shuffle bool

	err := p.withSession(func(e *entry) error {
		shuffle = e.shuffle
		return nil
	})

	return shuffle, err
}

// SetRepeat parses mode and changes the repeat setting. Unknown modes are rejected
// with an error matching ErrInvalidInput before the session is touched
func (p *Player) SetRepeat(ctx context.Context, mode string) (bool, error) {
	repeat, err := ParseRepeatMode(mode)
	if err != nil {
		return false, err
	}

	return p.command(ctx, "set_repeat", func(e *entry) error {
		if err := e.session.SetRepeat(ctx, repeat); err != nil {
			return err
		}

		e.repeat = repeat
		return nil
	})
}

// Repeat returns the last repeat setting accepted by the session
func (p *Player) Repeat() (RepeatMode, error) {
	var repeat RepeatMode

	err := p.withSession(func(e *entry) error {
		repeat = e.repeat
		return nil
	})

	return repeat, err
}

// Seek moves the playback position by offset (negative to rewind)
func (p *Player) Seek(ctx context.Context, offset time.Duration) (bool, error) {
	return p.command(ctx, "seek", func(e *entry) error {
		return e.session.Seek(ctx, offset)
	})
}

// SeekPercentage moves the playback position to percentage (0-100) of the track.
// It fails with ErrUnknownDuration if the session doesn't report a duration
func (p *Player) SeekPercentage(ctx context.Context, percentage float64) (bool, error) {
	if math.IsNaN(percentage) || percentage < 0 || percentage > 100 {
		return false, fmt.Errorf("%w: %v", ErrPercentageOutOfRange, percentage)
	}

	status, err := p.Status(ctx)
	if err != nil {
		if IsFatal(err) || errors.Is(err, ErrSessionGone) || ctx.Err() != nil {
			return false, err
		}

		p.manager.logger.Warnw("Failed to get timeline before seeking", "key", p.key, "error", err)
		return false, nil
	}

	duration := status.Timeline.Duration()
	if duration <= 0 {
		return false, fmt.Errorf("seek %s to %v%%: %w", p.key, percentage, ErrUnknownDuration)
	}

	target := status.Timeline.Start + time.Duration(float64(duration)*percentage/100)

	p.manager.logger.Debugw("Seeking to percentage", "key", p.key, "percentage", percentage, "target", target)

	return p.command(ctx, "seek_percentage", func(e *entry) error {
		return e.session.SetPosition(ctx, target)
	})
}

// SetPosition moves the playback position to an absolute offset in the track
func (p *Player) SetPosition(ctx context.Context, position time.Duration) (bool, error) {
	if position < 0 {
		return false, fmt.Errorf("%w: %v", ErrNegativePosition, position)
	}

	return p.command(ctx, "set_position", func(e *entry) error {
		return e.session.SetPosition(ctx, position)
	})
}

// GetPosition returns the playback position, or nil if the session has no timeline.
// With live set, a playing session's position is extrapolated from its last report
// using the elapsed time and playback rate; otherwise the last report is returned as is
func (p *Player) GetPosition(ctx context.Context, live bool) (*Position, error) {
	status, err := p.Status(ctx)
	if err != nil {
		return nil, err
	}

	timeline := status.Timeline
	if timeline == nil {
		return nil, nil
	}

	position := &Position{
		Position:    timeline.Position,
		Duration:    timeline.Duration(),
		LastUpdated: timeline.LastUpdated,
	}

	if !live || status.Playback != PlaybackStatusPlaying || timeline.LastUpdated.IsZero() {
		return position, nil
	}

	elapsed := p.manager.now().Sub(timeline.LastUpdated)
	if elapsed <= 0 {
		return position, nil
	}

	rate := timeline.Rate
	if rate == 0 {
		rate = 1
	}

	position.Position += time.Duration(float64(elapsed) * rate)
	position.Extrapolated = true

	if timeline.End > timeline.Start && position.Position > timeline.End {
		position.Position = timeline.End
	}

	return position, nil
}

func (p *Player) transport(ctx context.Context, name string, fn func(Session, context.Context) error) (bool, error) {
	return p.command(ctx, name, func(e *entry) error {
		return fn(e.session, ctx)
	})
}

// command runs a single session call. A rejected command is a false result, not an
// error; only handle errors, fatal errors and cancellation are returned
func (p *Player) command(ctx context.Context, name string, fn func(e *entry) error) (bool, error) {
	var accepted bool

	err := p.withSession(func(e *entry) error {
		if err := fn(e); err != nil {
			if IsFatal(err) {
				return err
			}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			p.manager.logger.Warnw("Session rejected command", "key", p.key, "command", name, "error", err)
			return nil
		}

		accepted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if accepted {
		p.manager.logger.Debugw("Session accepted command", "key", p.key, "command", name)
	}

	return accepted, nil
}

// withSession resolves the handle and runs fn with exclusive access to the session
func (p *Player) withSession(fn func(e *entry) error) error {
	e, err := p.manager.lookup(p.key, p.generation, p.system)
	if err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	// dropped between lookup and locking
	if e.gone.Load() {
		if p.manager.closed.Load() {
			return ErrClosed
		}
		return ErrSessionGone
	}

	// the source was replaced between lookup and locking
	if e.generation != p.generation {
		return ErrSessionGone
	}

	return fn(e)
}
