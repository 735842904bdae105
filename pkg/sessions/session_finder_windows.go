package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"github.com/lxn/win"
	"go.uber.org/zap"
)

const mediaKeySessionKey = "system"

// mediaKeySessionFinder exposes a single session that drives whichever player
// Windows routes media keys to. It can't observe playback state.
type mediaKeySessionFinder struct {
	logger  *zap.SugaredLogger
	session *mediaKeySession

	lock   sync.Mutex
	closed bool
}

// NewSessionFinder creates the session finder for the current platform
func NewSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	sf := &mediaKeySessionFinder{
		logger:  logger.Named("session_finder"),
		session: newMediaKeySession(logger.Named("media_keys")),
	}

	sf.logger.Debug("Created media key session finder")

	return sf, nil
}

func (sf *mediaKeySessionFinder) GetAllSessions(_ context.Context) ([]Session, error) {
	sf.lock.Lock()
	defer sf.lock.Unlock()

	if sf.closed {
		return nil, ErrSourceUnavailable
	}

	return []Session{sf.session}, nil
}

func (sf *mediaKeySessionFinder) GetSystemSession(_ context.Context) (Session, error) {
	sf.lock.Lock()
	defer sf.lock.Unlock()

	if sf.closed {
		return nil, ErrSourceUnavailable
	}

	return sf.session, nil
}

func (sf *mediaKeySessionFinder) Release() error {
	sf.lock.Lock()
	defer sf.lock.Unlock()

	if sf.closed {
		return nil
	}

	sf.closed = true
	sf.session.end()

	sf.logger.Debug("Released media key session finder")
	return nil
}

type mediaKeySession struct {
	logger *zap.SugaredLogger

	lock   sync.Mutex
	events chan PlayerEvent
	ended  bool
}

func newMediaKeySession(logger *zap.SugaredLogger) *mediaKeySession {
	return &mediaKeySession{
		logger: logger,
		events: make(chan PlayerEvent, 1),
	}
}

func (s *mediaKeySession) Key() string {
	return mediaKeySessionKey
}

func (s *mediaKeySession) Status(_ context.Context) (Status, error) {
	return Status{Playback: PlaybackStatusOpened}, nil
}

func (s *mediaKeySession) Play(_ context.Context) error {
	return fmt.Errorf("play: %w", ErrNotSupported)
}

func (s *mediaKeySession) Pause(_ context.Context) error {
	return fmt.Errorf("pause: %w", ErrNotSupported)
}

func (s *mediaKeySession) PlayPause(_ context.Context) error {
	return s.press(win.VK_MEDIA_PLAY_PAUSE)
}

func (s *mediaKeySession) Stop(_ context.Context) error {
	return s.press(win.VK_MEDIA_STOP)
}

func (s *mediaKeySession) Next(_ context.Context) error {
	return s.press(win.VK_MEDIA_NEXT_TRACK)
}

func (s *mediaKeySession) Previous(_ context.Context) error {
	return s.press(win.VK_MEDIA_PREV_TRACK)
}

func (s *mediaKeySession) SetShuffle(_ context.Context, _ bool) error {
	return fmt.Errorf("set shuffle: %w", ErrNotSupported)
}

func (s *mediaKeySession) SetRepeat(_ context.Context, _ RepeatMode) error {
	return fmt.Errorf("set repeat: %w", ErrNotSupported)
}

func (s *mediaKeySession) Seek(_ context.Context, _ time.Duration) error {
	return fmt.Errorf("seek: %w", ErrNotSupported)
}

func (s *mediaKeySession) SetPosition(_ context.Context, _ time.Duration) error {
	return fmt.Errorf("set position: %w", ErrNotSupported)
}

func (s *mediaKeySession) Events() <-chan PlayerEvent {
	return s.events
}

func (s *mediaKeySession) Release() {
	s.logger.Debug("Released media key session")
}

func (s *mediaKeySession) end() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.ended {
		s.ended = true
		close(s.events)
	}
}

// press sends a key down and key up pair for a virtual media key
func (s *mediaKeySession) press(key uint16) error {
	inputs := []win.KEYBD_INPUT{
		{
			Type: win.INPUT_KEYBOARD,
			Ki:   win.KEYBDINPUT{WVk: key},
		},
		{
			Type: win.INPUT_KEYBOARD,
			Ki:   win.KEYBDINPUT{WVk: key, DwFlags: win.KEYEVENTF_KEYUP},
		},
	}

	sent := win.SendInput(uint32(len(inputs)), unsafe.Pointer(&inputs[0]), int32(unsafe.Sizeof(inputs[0])))
	if sent != uint32(len(inputs)) {
		return fmt.Errorf("send media key %#x: only %d of %d inputs accepted", key, sent, len(inputs))
	}

	s.logger.Debugw("Sent media key", "key", key)

	// the key changes playback somewhere we can't observe, let the manager re-check
	s.lock.Lock()
	if !s.ended {
		select {
		case <-s.events:
		default:
		}
		s.events <- PlaybackInfoChanged
	}
	s.lock.Unlock()

	return nil
}
