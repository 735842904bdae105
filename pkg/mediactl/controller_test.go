package mediactl

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nik9play/mediactl/pkg/sessions"
)

type fakeSession struct {
	key string

	mu     sync.Mutex
	status sessions.Status
	calls  []string
	seeks  []time.Duration
	repeat []sessions.RepeatMode
	events chan sessions.PlayerEvent
}

func newFakeSession(key string, playback sessions.PlaybackStatus, artist, title string) *fakeSession {
	return &fakeSession{
		key: key,
		status: sessions.Status{
			Playback: playback,
			Metadata: &sessions.Metadata{Artist: artist, Title: title},
		},
		events: make(chan sessions.PlayerEvent, 4),
	}
}

func (s *fakeSession) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	return nil
}

func (s *fakeSession) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *fakeSession) setPlayback(playback sessions.PlaybackStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Playback = playback
}

func (s *fakeSession) Key() string { return s.key }

func (s *fakeSession) Status(context.Context) (sessions.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, nil
}

func (s *fakeSession) Play(context.Context) error      { return s.record("play") }
func (s *fakeSession) Pause(context.Context) error     { return s.record("pause") }
func (s *fakeSession) PlayPause(context.Context) error { return s.record("play_pause") }
func (s *fakeSession) Stop(context.Context) error      { return s.record("stop") }
func (s *fakeSession) Next(context.Context) error      { return s.record("next") }
func (s *fakeSession) Previous(context.Context) error  { return s.record("previous") }

func (s *fakeSession) SetShuffle(context.Context, bool) error { return s.record("set_shuffle") }

func (s *fakeSession) SetRepeat(_ context.Context, mode sessions.RepeatMode) error {
	s.mu.Lock()
	s.repeat = append(s.repeat, mode)
	s.mu.Unlock()
	return s.record("set_repeat")
}

func (s *fakeSession) Seek(_ context.Context, offset time.Duration) error {
	s.mu.Lock()
	s.seeks = append(s.seeks, offset)
	s.mu.Unlock()
	return s.record("seek")
}

func (s *fakeSession) SetPosition(context.Context, time.Duration) error {
	return s.record("set_position")
}

func (s *fakeSession) Events() <-chan sessions.PlayerEvent { return s.events }
func (s *fakeSession) Release()                            {}

type fakeFinder struct {
	mu       sync.Mutex
	sessions []sessions.Session
	system   sessions.Session
}

func (f *fakeFinder) GetAllSessions(context.Context) ([]sessions.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sessions.Session(nil), f.sessions...), nil
}

func (f *fakeFinder) GetSystemSession(context.Context) (sessions.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.system, nil
}

func (f *fakeFinder) Release() error { return nil }

func (f *fakeFinder) add(session sessions.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, session)
}

func (f *fakeFinder) setSystem(session sessions.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = session
}

// notifyingFinder pushes session list changes the way the desktop finders do
type notifyingFinder struct {
	fakeFinder
	events chan sessions.SessionEvent
}

func newNotifyingFinder(found ...sessions.Session) *notifyingFinder {
	return &notifyingFinder{
		fakeFinder: fakeFinder{sessions: found},
		events:     make(chan sessions.SessionEvent, 8),
	}
}

func (f *notifyingFinder) SubscribeToSessionEvents() <-chan sessions.SessionEvent {
	return f.events
}

func (c *sessionController) currentActiveKey() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.activeKey
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

func hasKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// newTestMediactl wires a Mediactl around finder without a tray, a desktop notifier
// or a serial port
func newTestMediactl(t *testing.T, finder sessions.SessionFinder, configContents string) (*Mediactl, *recordingNotifier, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core).Sugar()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if configContents != "" {
		if err := os.WriteFile(path, []byte(configContents), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	notifier := &recordingNotifier{}

	config, err := NewConfig(logger, notifier, path)
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	if err := config.Load(nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	m := &Mediactl{
		logger:      logger,
		notifier:    notifier,
		config:      config,
		stopChannel: make(chan bool, 1),
	}

	if m.remote, err = NewSerialRemote(m, logger); err != nil {
		t.Fatalf("NewSerialRemote() error = %v", err)
	}

	if m.controller, err = newSessionController(m, logger, finder); err != nil {
		t.Fatalf("newSessionController() error = %v", err)
	}

	t.Cleanup(func() {
		if err := m.controller.release(); err != nil {
			t.Errorf("release() error = %v", err)
		}
	})

	return m, notifier, logs
}

func TestControllerPicksPlayingSession(t *testing.T) {
	paused := newFakeSession("app1", sessions.PlaybackStatusPaused, "Artist A", "Song A")
	playing := newFakeSession("app2", sessions.PlaybackStatusPlaying, "Artist B", "Song B")

	m, notifier, _ := newTestMediactl(t, &fakeFinder{sessions: []sessions.Session{paused, playing}}, "")

	if err := m.controller.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	if m.controller.activeKey != "app2" {
		t.Errorf("activeKey = %q, want app2", m.controller.activeKey)
	}

	select {
	case label := <-m.controller.SubscribeToActiveSessionChanges():
		if want := "Artist B - Song B (app2)"; label != want {
			t.Errorf("label = %q, want %q", label, want)
		}
	default:
		t.Error("active session change wasn't published")
	}

	if len(notifier.titles) != 1 || notifier.titles[0] != "Now controlling app2" {
		t.Errorf("notifications = %v, want [Now controlling app2]", notifier.titles)
	}
	if notifier.messages[0] != "Artist B - Song B (app2)" {
		t.Errorf("notification message = %q", notifier.messages[0])
	}

	// nothing changed, nothing is announced
	m.controller.figureOutActiveSession(context.Background())
	if len(notifier.titles) != 1 {
		t.Errorf("got %d notifications after re-arbitration, want 1", len(notifier.titles))
	}

	// the other session starts playing once the first one stops
	playing.setPlayback(sessions.PlaybackStatusStopped)
	paused.setPlayback(sessions.PlaybackStatusPlaying)
	m.controller.figureOutActiveSession(context.Background())

	if m.controller.activeKey != "app1" {
		t.Errorf("activeKey = %q, want app1", m.controller.activeKey)
	}
}

func TestControllerHonorsDenylist(t *testing.T) {
	paused := newFakeSession("app1", sessions.PlaybackStatusPaused, "", "")
	playing := newFakeSession("app2", sessions.PlaybackStatusPlaying, "", "")

	m, _, _ := newTestMediactl(t, &fakeFinder{sessions: []sessions.Session{paused, playing}}, "denylist:\n  - app2\n")

	if err := m.controller.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	if m.controller.activeKey != "app1" {
		t.Errorf("activeKey = %q, want app1", m.controller.activeKey)
	}

	// no metadata, so the label is just the key
	if label := m.controller.describeSession(context.Background(), "app1"); label != "app1" {
		t.Errorf("describeSession() = %q, want app1", label)
	}
}

func TestControllerRunsRemoteCommands(t *testing.T) {
	session := newFakeSession("app1", sessions.PlaybackStatusPlaying, "", "")

	m, _, _ := newTestMediactl(t, &fakeFinder{sessions: []sessions.Session{session}}, "")

	if err := m.controller.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	for _, command := range []RemoteCommand{
		{Action: RemoteToggle},
		{Action: RemoteNext},
		{Action: RemotePrevious},
		{Action: RemoteShuffle},
		{Action: RemoteShuffle},
		{Action: RemoteRepeat},
		{Action: RemoteRepeat},
		{Action: RemoteSeek, Offset: -5 * time.Second},
		{Action: RemoteStop},
	} {
		m.controller.handleRemoteCommand(command)
	}

	want := []string{"play_pause", "next", "previous", "set_shuffle", "set_shuffle", "set_repeat", "set_repeat", "seek", "stop"}
	got := session.callLog()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}

	player, ok := m.controller.manager.GetActiveSession()
	if !ok {
		t.Fatal("GetActiveSession() found nothing")
	}

	// shuffle was toggled twice
	if shuffle, err := player.Shuffle(); err != nil || shuffle {
		t.Errorf("Shuffle() = %v, %v, want false, nil", shuffle, err)
	}

	if len(session.repeat) != 2 || session.repeat[0] != sessions.RepeatContext || session.repeat[1] != sessions.RepeatTrack {
		t.Errorf("repeat modes = %v, want [context track]", session.repeat)
	}

	if len(session.seeks) != 1 || session.seeks[0] != -5*time.Second {
		t.Errorf("seeks = %v, want [-5s]", session.seeks)
	}
}

func TestControllerFallsBackToSystemSession(t *testing.T) {
	system := newFakeSession("system", sessions.PlaybackStatusOpened, "", "")

	m, _, logs := newTestMediactl(t, &fakeFinder{system: system}, "")

	// nothing at all to control yet
	m.controller.handleRemoteCommand(RemoteCommand{Action: RemoteNext})
	if logs.FilterMessage("No session to control").Len() != 1 {
		t.Error("missing session wasn't logged")
	}

	if err := m.controller.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	m.controller.handleRemoteCommand(RemoteCommand{Action: RemoteNext})

	if calls := system.callLog(); len(calls) != 1 || calls[0] != "next" {
		t.Errorf("system session calls = %v, want [next]", calls)
	}
}

func TestRemoteCommandsReachController(t *testing.T) {
	session := newFakeSession("app1", sessions.PlaybackStatusPlaying, "", "")

	m, _, _ := newTestMediactl(t, &fakeFinder{sessions: []sessions.Session{session}}, "")

	if err := m.controller.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	m.remote.handleLine(m.logger, "pause\r\n")
	m.remote.handleLine(m.logger, "garbage\r\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := session.callLog(); len(calls) == 1 && calls[0] == "pause" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Errorf("session calls = %v, want [pause]", session.callLog())
}

func TestEventLoopTracksSessionAddedRightAfterRefresh(t *testing.T) {
	paused := newFakeSession("app1", sessions.PlaybackStatusPaused, "", "")
	finder := newNotifyingFinder(paused)

	m, _, _ := newTestMediactl(t, finder, "poll_timeout: 50ms\n")
	c := m.controller

	if err := c.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	c.start()

	if key := c.currentActiveKey(); key != "app1" {
		t.Fatalf("activeKey = %q, want app1", key)
	}

	// initialize just refreshed, so this lands inside the throttle window
	finder.add(newFakeSession("app2", sessions.PlaybackStatusPlaying, "", ""))
	finder.events <- sessions.SessionEvent{Type: sessions.SessionEventAdded, SessionID: "app2"}

	tracked := waitFor(t, minTimeBetweenSessionRefreshes+3*time.Second, func() bool {
		return hasKey(c.manager.SessionKeys(), "app2") && c.currentActiveKey() == "app2"
	})
	if !tracked {
		t.Fatalf("SessionKeys() = %v, activeKey = %q, want app2 tracked and active",
			c.manager.SessionKeys(), c.currentActiveKey())
	}
}

func TestEventLoopRefreshesOnSystemSessionChange(t *testing.T) {
	paused := newFakeSession("app1", sessions.PlaybackStatusPaused, "", "")
	finder := newNotifyingFinder(paused)

	m, _, _ := newTestMediactl(t, finder, "poll_timeout: 50ms\n")
	c := m.controller

	if err := c.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}

	// out of the throttle window
	c.lock.Lock()
	c.lastSessionRefresh = time.Now().Add(-minTimeBetweenSessionRefreshes)
	c.lock.Unlock()

	// the system hint right after the addition takes the pending list change's place
	finder.add(newFakeSession("app2", sessions.PlaybackStatusPlaying, "", ""))
	finder.setSystem(newFakeSession("system", sessions.PlaybackStatusOpened, "", ""))
	finder.events <- sessions.SessionEvent{Type: sessions.SessionEventAdded, SessionID: "app2"}
	finder.events <- sessions.SessionEvent{Type: sessions.SessionEventSystemChanged, SessionID: "system"}

	c.start()

	tracked := waitFor(t, 3*time.Second, func() bool {
		_, system := c.manager.GetSystemSession()
		return system && hasKey(c.manager.SessionKeys(), "app2") && c.currentActiveKey() == "app2"
	})
	if !tracked {
		_, system := c.manager.GetSystemSession()
		t.Fatalf("SessionKeys() = %v, system = %v, activeKey = %q, want app2 tracked and active",
			c.manager.SessionKeys(), system, c.currentActiveKey())
	}
}

func TestNextRepeatMode(t *testing.T) {
	tests := []struct {
		mode sessions.RepeatMode
		want sessions.RepeatMode
	}{
		{sessions.RepeatOff, sessions.RepeatContext},
		{sessions.RepeatContext, sessions.RepeatTrack},
		{sessions.RepeatTrack, sessions.RepeatOff},
		{"", sessions.RepeatOff},
	}

	for _, tt := range tests {
		if got := nextRepeatMode(tt.mode); got != tt.want {
			t.Errorf("nextRepeatMode(%q) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}
