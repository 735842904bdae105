package sessions

import "errors"

var (
	// ErrSessionGone is returned by every Player call made after the registry
	// stopped tracking the session the Player was obtained for
	ErrSessionGone = errors.New("session gone")

	// ErrClosed is returned once the PlayerManager has been released. It is the only
	// fatal outcome callers are expected to see in normal operation
	ErrClosed = errors.New("player manager closed")

	// ErrSourceUnavailable can be wrapped by SessionFinder and Session implementations
	// to signal that the OS media subsystem itself went away. It is propagated instead
	// of being folded into a false command result
	ErrSourceUnavailable = errors.New("media session source unavailable")

	// ErrNotSupported is returned by sessions that can't perform an operation at all
	ErrNotSupported = errors.New("operation not supported by session")

	// ErrInvalidInput marks a call rejected because of the caller's arguments
	ErrInvalidInput = errors.New("invalid input")
)

// invalid input variants, all of them match ErrInvalidInput with errors.Is
var (
	ErrInvalidRepeatMode    = invalidInput("unsupported repeat mode")
	ErrPercentageOutOfRange = invalidInput("seek percentage out of range")
	ErrUnknownDuration      = invalidInput("timeline duration unknown")
	ErrNegativePosition     = invalidInput("position must not be negative")
)

type invalidInputError struct {
	msg string
}

func invalidInput(msg string) error {
	return &invalidInputError{msg: msg}
}

func (e *invalidInputError) Error() string {
	return e.msg
}

func (e *invalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// IsFatal reports whether err is an unrecoverable resource failure rather than
// one of the expected outcomes (gone, invalid input, timeout, rejected command)
func IsFatal(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, ErrSourceUnavailable)
}
