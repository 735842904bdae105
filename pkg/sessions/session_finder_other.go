//go:build !linux && !windows

package sessions

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// NewSessionFinder creates the session finder for the current platform
func NewSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	logger.Named("session_finder").Warnw("No media session source for this platform", "os", runtime.GOOS)

	return nil, fmt.Errorf("create session finder on %s: %w", runtime.GOOS, ErrSourceUnavailable)
}
