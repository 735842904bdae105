package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/nik9play/mediactl/pkg/mediactl"
	"github.com/nik9play/mediactl/pkg/sessions"
)

// Error types for common failure scenarios.
var (
	ErrNoSession       = errors.New("no media session to control")
	ErrSessionNotFound = errors.New("session not found")
	ErrCommandRejected = errors.New("session rejected the command")
	ErrNoPosition      = errors.New("session doesn't report a playback position")
	ErrInvalidArgument = errors.New("invalid argument")
)

// suggestion returns a hint for the given error, or "" if there's nothing useful to say
func suggestion(err error) string {
	switch {
	case errors.Is(err, ErrNoSession):
		return "Start playing something in a media player, or pick a session with --session"
	case errors.Is(err, ErrSessionNotFound):
		return "Run 'mediactl sessions' to see available sessions"
	case errors.Is(err, sessions.ErrSessionGone):
		return "The player went away while the command was running. Try again"
	case errors.Is(err, sessions.ErrSourceUnavailable):
		return "Make sure the desktop media service is running (D-Bus session bus on Linux)"
	case errors.Is(err, sessions.ErrNotSupported), errors.Is(err, ErrCommandRejected):
		return "Not every player supports every command. Try another session with --session"
	case errors.Is(err, sessions.ErrUnknownDuration):
		return "The player doesn't report the track length, use an offset instead of --percent"
	case errors.Is(err, sessions.ErrInvalidInput), errors.Is(err, ErrInvalidArgument):
		return "Run the command with --help to see the accepted values"
	case errors.Is(err, mediactl.ErrInvalidConfig):
		return "Fix the values above in your config file, or delete it to get the defaults back"
	case errors.Is(err, context.DeadlineExceeded):
		return "The player didn't answer in time. Try again"
	}

	return ""
}

// Format returns a formatted error message with suggestion if available.
func Format(err error) string {
	if err == nil {
		return ""
	}

	if hint := suggestion(err); hint != "" {
		return fmt.Sprintf("Error: %s\n\nSuggestion: %s", err.Error(), hint)
	}

	return fmt.Sprintf("Error: %s", err.Error())
}
