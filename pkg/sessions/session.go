package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Session represents a single playback source exposed by the OS media subsystem.
// Implementations are provided by a SessionFinder and are safe to call from one
// goroutine at a time; the PlayerManager serializes access to each of them
type Session interface {
	// Key returns the stable identifier of the playback source (an application
	// identity string), which is also the identity matched against denylists
	Key() string

	Status(ctx context.Context) (Status, error)

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	PlayPause(ctx context.Context) error
	Stop(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error

	SetShuffle(ctx context.Context, value bool) error
	SetRepeat(ctx context.Context, mode RepeatMode) error

	// Seek moves the playback position by offset relative to the current one
	Seek(ctx context.Context, offset time.Duration) error
	// SetPosition moves the playback position to an absolute offset in the track
	SetPosition(ctx context.Context, position time.Duration) error

	// Events returns a push-style notification channel. The session closes it when
	// the playback source ends
	Events() <-chan PlayerEvent

	Release()
}

// PlaybackStatus mirrors the playback status codes reported by the OS media subsystem
type PlaybackStatus int

const (
	PlaybackStatusClosed   PlaybackStatus = 0
	PlaybackStatusOpened   PlaybackStatus = 1
	PlaybackStatusChanging PlaybackStatus = 2
	PlaybackStatusStopped  PlaybackStatus = 3
	PlaybackStatusPlaying  PlaybackStatus = 4
	PlaybackStatusPaused   PlaybackStatus = 5
)

func (s PlaybackStatus) String() string {
	switch s {
	case PlaybackStatusClosed:
		return "closed"
	case PlaybackStatusOpened:
		return "opened"
	case PlaybackStatusChanging:
		return "changing"
	case PlaybackStatusStopped:
		return "stopped"
	case PlaybackStatusPlaying:
		return "playing"
	case PlaybackStatusPaused:
		return "paused"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Metadata describes the media item currently loaded into a session
type Metadata struct {
	TrackID     string   `json:"track_id,omitempty"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Album       string   `json:"album,omitempty"`
	AlbumArtist string   `json:"album_artist,omitempty"`
	TrackNumber int      `json:"track_number,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	ArtURL      string   `json:"art_url,omitempty"`
}

// Timeline is the last position report of a session
type Timeline struct {
	Start       time.Duration `json:"start"`
	End         time.Duration `json:"end"`
	Position    time.Duration `json:"position"`
	LastUpdated time.Time     `json:"last_updated"`
	Rate        float64       `json:"rate"`
}

// Duration returns the length of the timeline, or 0 if the source didn't report one
func (t *Timeline) Duration() time.Duration {
	if t == nil || t.End <= t.Start {
		return 0
	}
	return t.End - t.Start
}

// Status is an immutable snapshot of a session, re-fetched on every query
type Status struct {
	Playback PlaybackStatus `json:"status"`
	Metadata *Metadata      `json:"metadata,omitempty"`
	Timeline *Timeline      `json:"timeline,omitempty"`
}

// Position is the answer to a position query
type Position struct {
	Position     time.Duration `json:"position"`
	Duration     time.Duration `json:"duration"`
	LastUpdated  time.Time     `json:"last_updated"`
	Extrapolated bool          `json:"extrapolated"`
}

// RepeatMode is the repeat setting of a session
type RepeatMode string

const (
	RepeatOff     RepeatMode = "off"
	RepeatTrack   RepeatMode = "track"
	RepeatContext RepeatMode = "context"
)

// ParseRepeatMode maps user supplied repeat mode names onto a RepeatMode
func ParseRepeatMode(value string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "off", "none":
		return RepeatOff, nil
	case "track", "one":
		return RepeatTrack, nil
	case "context", "all", "list", "playlist":
		return RepeatContext, nil
	}

	return "", fmt.Errorf("%w: %q (must be off, track or context)", ErrInvalidRepeatMode, value)
}
