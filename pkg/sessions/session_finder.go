package sessions

import "context"

// SessionFinder represents an entity that can find all current media sessions
type SessionFinder interface {
	// GetAllSessions returns the live sessions in discovery order. A finder returns the
	// same Session value for a key for as long as that playback source lives
	GetAllSessions(ctx context.Context) ([]Session, error)

	// GetSystemSession returns the session the OS considers the default one, or nil
	GetSystemSession(ctx context.Context) (Session, error)

	Release() error
}

// SessionEvent represents a registry-level change reported by the OS
type SessionEvent struct {
	Type      SessionEventType
	SessionID string
}

// SessionEventType indicates what changed in the OS session list
type SessionEventType int

const (
	// SessionEventAdded indicates a new session was created
	SessionEventAdded SessionEventType = iota
	// SessionEventRemoved indicates a session was removed/disconnected
	SessionEventRemoved
	// SessionEventSystemChanged indicates the OS picked a different default session
	SessionEventSystemChanged
)

// EventDrivenSessionFinder is an optional interface for session finders that can push
// registry-level change notifications instead of only being polled
type EventDrivenSessionFinder interface {
	SessionFinder

	// SubscribeToSessionEvents returns a channel that emits session list changes
	SubscribeToSessionEvents() <-chan SessionEvent
}
