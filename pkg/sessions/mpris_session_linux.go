package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const dbusErrorServiceUnknown = "org.freedesktop.DBus.Error.ServiceUnknown"

// mprisSession is a single MPRIS media player on the session bus
type mprisSession struct {
	logger *zap.SugaredLogger

	conn    *dbus.Conn
	object  dbus.BusObject
	busName string
	key     string
	pid     int

	eventsLock sync.Mutex
	events     chan PlayerEvent
	ended      bool
}

func newMPRISSession(logger *zap.SugaredLogger, conn *dbus.Conn, busName, key string, pid int) *mprisSession {
	s := &mprisSession{
		logger:  logger.Named(key),
		conn:    conn,
		object:  conn.Object(busName, mprisPath),
		busName: busName,
		key:     key,
		pid:     pid,
		events:  make(chan PlayerEvent, 1),
	}

	s.logger.Debug("Created MPRIS session")

	return s
}

func (s *mprisSession) Key() string {
	return s.key
}

func (s *mprisSession) Status(ctx context.Context) (Status, error) {
	var properties map[string]dbus.Variant

	call := s.object.CallWithContext(ctx, methodGetAllProperties, 0, mprisPlayerInterface)
	if err := call.Store(&properties); err != nil {
		return Status{}, s.wrapError("get player properties", err)
	}

	status := Status{
		Playback: parsePlaybackStatus(variantString(properties["PlaybackStatus"])),
	}

	metadata, length := convertMetadata(properties["Metadata"])
	status.Metadata = metadata

	position, hasPosition := variantInt64(properties["Position"])
	if length > 0 || hasPosition {
		rate, ok := properties["Rate"].Value().(float64)
		if !ok {
			rate = 1
		}

		status.Timeline = &Timeline{
			End:         length,
			Position:    time.Duration(position) * time.Microsecond,
			LastUpdated: time.Now(),
			Rate:        rate,
		}
	}

	return status, nil
}

func (s *mprisSession) Play(ctx context.Context) error {
	return s.call(ctx, "Play")
}

func (s *mprisSession) Pause(ctx context.Context) error {
	return s.call(ctx, "Pause")
}

func (s *mprisSession) PlayPause(ctx context.Context) error {
	return s.call(ctx, "PlayPause")
}

func (s *mprisSession) Stop(ctx context.Context) error {
	return s.call(ctx, "Stop")
}

func (s *mprisSession) Next(ctx context.Context) error {
	return s.call(ctx, "Next")
}

func (s *mprisSession) Previous(ctx context.Context) error {
	return s.call(ctx, "Previous")
}

func (s *mprisSession) SetShuffle(ctx context.Context, value bool) error {
	return s.setProperty(ctx, "Shuffle", value)
}

func (s *mprisSession) SetRepeat(ctx context.Context, mode RepeatMode) error {
	return s.setProperty(ctx, "LoopStatus", loopStatusFor(mode))
}

func (s *mprisSession) Seek(ctx context.Context, offset time.Duration) error {
	return s.call(ctx, "Seek", offset.Microseconds())
}

func (s *mprisSession) SetPosition(ctx context.Context, position time.Duration) error {
	var metadata dbus.Variant

	call := s.object.CallWithContext(ctx, methodGetProperty, 0, mprisPlayerInterface, "Metadata")
	if err := call.Store(&metadata); err != nil {
		return s.wrapError("get metadata", err)
	}

	converted, _ := convertMetadata(metadata)
	if converted == nil || converted.TrackID == "" {
		return fmt.Errorf("set position without track id: %w", ErrNotSupported)
	}

	return s.call(ctx, "SetPosition", dbus.ObjectPath(converted.TrackID), position.Microseconds())
}

func (s *mprisSession) Events() <-chan PlayerEvent {
	return s.events
}

func (s *mprisSession) Release() {
	s.logger.Debug("Released MPRIS session")
}

// notify hands an event to whoever consumes Events, replacing an unconsumed one
func (s *mprisSession) notify(event PlayerEvent) {
	s.eventsLock.Lock()
	defer s.eventsLock.Unlock()

	if s.ended {
		return
	}

	select {
	case <-s.events:
	default:
	}

	s.events <- event
}

// end closes the event channel once the player left the bus
func (s *mprisSession) end() {
	s.eventsLock.Lock()
	defer s.eventsLock.Unlock()

	if s.ended {
		return
	}

	s.ended = true
	close(s.events)
}

func (s *mprisSession) call(ctx context.Context, method string, args ...interface{}) error {
	call := s.object.CallWithContext(ctx, mprisPlayerInterface+"."+method, 0, args...)
	if call.Err != nil {
		return s.wrapError(method, call.Err)
	}

	return nil
}

func (s *mprisSession) setProperty(ctx context.Context, property string, value interface{}) error {
	call := s.object.CallWithContext(ctx, methodSetProperty, 0, mprisPlayerInterface, property, dbus.MakeVariant(value))
	if call.Err != nil {
		return s.wrapError("set "+property, call.Err)
	}

	return nil
}

func (s *mprisSession) wrapError(action string, err error) error {
	if errors.Is(err, dbus.ErrClosed) {
		return fmt.Errorf("%s: %w", action, ErrSourceUnavailable)
	}

	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && dbusErr.Name == dbusErrorServiceUnknown {
		s.logger.Debugw("Player left the bus", "action", action)
	}

	return fmt.Errorf("%s: %w", action, err)
}

func parsePlaybackStatus(value string) PlaybackStatus {
	switch value {
	case "Playing":
		return PlaybackStatusPlaying
	case "Paused":
		return PlaybackStatusPaused
	case "Stopped":
		return PlaybackStatusStopped
	default:
		return PlaybackStatusChanging
	}
}

func loopStatusFor(mode RepeatMode) string {
	switch mode {
	case RepeatTrack:
		return "Track"
	case RepeatContext:
		return "Playlist"
	default:
		return "None"
	}
}

// convertMetadata turns the MPRIS metadata map into Metadata and the track length
func convertMetadata(variant dbus.Variant) (*Metadata, time.Duration) {
	values, ok := variant.Value().(map[string]dbus.Variant)
	if !ok || len(values) == 0 {
		return nil, 0
	}

	metadata := &Metadata{
		Title:  variantString(values["xesam:title"]),
		Album:  variantString(values["xesam:album"]),
		ArtURL: variantString(values["mpris:artUrl"]),
		Genres: variantStrings(values["xesam:genre"]),
	}

	if artists := variantStrings(values["xesam:artist"]); len(artists) > 0 {
		metadata.Artist = artists[0]
	}
	if albumArtists := variantStrings(values["xesam:albumArtist"]); len(albumArtists) > 0 {
		metadata.AlbumArtist = albumArtists[0]
	}
	if number, ok := variantInt64(values["xesam:trackNumber"]); ok {
		metadata.TrackNumber = int(number)
	}

	switch id := values["mpris:trackid"].Value().(type) {
	case dbus.ObjectPath:
		metadata.TrackID = string(id)
	case string:
		metadata.TrackID = id
	}

	length, _ := variantInt64(values["mpris:length"])

	return metadata, time.Duration(length) * time.Microsecond
}

func variantString(variant dbus.Variant) string {
	value, _ := variant.Value().(string)
	return value
}

func variantStrings(variant dbus.Variant) []string {
	switch value := variant.Value().(type) {
	case []string:
		return value
	case string:
		return []string{value}
	}
	return nil
}

// players disagree on the integer width of several properties
func variantInt64(variant dbus.Variant) (int64, bool) {
	switch value := variant.Value().(type) {
	case int64:
		return value, true
	case uint64:
		return int64(value), true
	case int32:
		return int64(value), true
	case uint32:
		return int64(value), true
	case float64:
		return int64(value), true
	}
	return 0, false
}
