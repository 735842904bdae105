package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var errRefused = errors.New("refused by player")

// fakeSession records every call it gets and answers with canned values
type fakeSession struct {
	key string

	mu         sync.Mutex
	status     Status
	statusErr  error
	commandErr error
	calls      []string
	positions  []time.Duration
	seeks      []time.Duration
	released   int
	events     chan PlayerEvent
}

func newFakeSession(key string, playback PlaybackStatus) *fakeSession {
	return &fakeSession{
		key:    key,
		status: Status{Playback: playback},
		events: make(chan PlayerEvent, 16),
	}
}

func (s *fakeSession) setPlayback(playback PlaybackStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Playback = playback
}

func (s *fakeSession) setTimeline(timeline *Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Timeline = timeline
}

func (s *fakeSession) setCommandErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandErr = err
}

func (s *fakeSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func (s *fakeSession) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return s.commandErr
}

func (s *fakeSession) Key() string { return s.key }

func (s *fakeSession) Status(_ context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.statusErr
}

func (s *fakeSession) Play(_ context.Context) error      { return s.record("play") }
func (s *fakeSession) Pause(_ context.Context) error     { return s.record("pause") }
func (s *fakeSession) PlayPause(_ context.Context) error { return s.record("play_pause") }
func (s *fakeSession) Stop(_ context.Context) error      { return s.record("stop") }
func (s *fakeSession) Next(_ context.Context) error      { return s.record("next") }
func (s *fakeSession) Previous(_ context.Context) error  { return s.record("previous") }

func (s *fakeSession) SetShuffle(_ context.Context, _ bool) error {
	return s.record("set_shuffle")
}

func (s *fakeSession) SetRepeat(_ context.Context, _ RepeatMode) error {
	return s.record("set_repeat")
}

func (s *fakeSession) Seek(_ context.Context, offset time.Duration) error {
	if err := s.record("seek"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeks = append(s.seeks, offset)
	return nil
}

func (s *fakeSession) SetPosition(_ context.Context, position time.Duration) error {
	if err := s.record("set_position"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, position)
	return nil
}

func (s *fakeSession) Events() <-chan PlayerEvent { return s.events }

func (s *fakeSession) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released++
}

// fakeFinder serves a mutable session list
type fakeFinder struct {
	mu       sync.Mutex
	sessions []Session
	system   Session
	err      error
	released bool
}

func newFakeFinder(sessions ...*fakeSession) *fakeFinder {
	f := &fakeFinder{}
	f.set(sessions...)
	return f
}

func (f *fakeFinder) set(sessions ...*fakeSession) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions = f.sessions[:0]
	for _, s := range sessions {
		f.sessions = append(f.sessions, s)
	}
}

func (f *fakeFinder) setSystem(session *fakeSession) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if session == nil {
		f.system = nil
		return
	}
	f.system = session
}

func (f *fakeFinder) GetAllSessions(_ context.Context) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return append([]Session(nil), f.sessions...), nil
}

func (f *fakeFinder) GetSystemSession(_ context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.system, f.err
}

func (f *fakeFinder) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
	return nil
}

// notifyingFinder additionally pushes registry notifications
type notifyingFinder struct {
	*fakeFinder
	sessionEvents chan SessionEvent
}

func newNotifyingFinder(sessions ...*fakeSession) *notifyingFinder {
	return &notifyingFinder{
		fakeFinder:    newFakeFinder(sessions...),
		sessionEvents: make(chan SessionEvent, 16),
	}
}

func (f *notifyingFinder) SubscribeToSessionEvents() <-chan SessionEvent {
	return f.sessionEvents
}

func newTestManager(t *testing.T, finder SessionFinder, opts ...Option) (*PlayerManager, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)

	m, err := NewPlayerManager(zap.New(core).Sugar(), finder, opts...)
	if err != nil {
		t.Fatalf("NewPlayerManager() error = %v", err)
	}

	t.Cleanup(func() {
		_ = m.Release()
	})

	return m, logs
}

func mustUpdate(t *testing.T, m *PlayerManager, denylist ...string) {
	t.Helper()

	if err := m.UpdateSessions(context.Background(), denylist); err != nil {
		t.Fatalf("UpdateSessions() error = %v", err)
	}
}

func mustSession(t *testing.T, m *PlayerManager, key string) *Player {
	t.Helper()

	player, ok := m.GetSession(key)
	if !ok {
		t.Fatalf("GetSession(%q) found nothing", key)
	}
	return player
}
