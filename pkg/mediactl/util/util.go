// Package util holds small OS helpers shared by the daemon and the CLI
package util

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// OpenExternal hands path to the desktop's default program for it, without waiting
// for that program to exit
func OpenExternal(logger *zap.SugaredLogger, path string) error {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	if err := openCommand(path).Start(); err != nil {
		logger.Warnw("Failed to open file", "path", path, "error", err)
		return fmt.Errorf("start opener for %s: %w", path, err)
	}

	logger.Debugw("Opened file in external program", "path", path)

	return nil
}

// EnsureDirExists creates the given directory path if it doesn't already exist
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}

	return nil
}

// FileExists reports whether filename is an existing regular file
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && info.Mode().IsRegular()
}

// SetupCloseHandler returns a channel that receives SIGINT and SIGTERM
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	return c
}

// FormatDuration renders a playback position as m:ss (or h:mm:ss for long media)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}

	d = d.Truncate(time.Second)
	hours := int(d / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	seconds := int(d % time.Minute / time.Second)

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}
