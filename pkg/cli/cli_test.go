package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nik9play/mediactl/pkg/mediactl"
	"github.com/nik9play/mediactl/pkg/sessions"
)

func TestParseOffset(t *testing.T) {
	tests := []struct {
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"30", 30 * time.Second, false},
		{"-10", -10 * time.Second, false},
		{"+1.5", 1500 * time.Millisecond, false},
		{"+30s", 30 * time.Second, false},
		{"-1m", -time.Minute, false},
		{"1m30s", 90 * time.Second, false},
		{" 5s ", 5 * time.Second, false},
		{"soon", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := parseOffset(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseOffset(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("parseOffset(%q) error = %v, want %v", tt.value, err, ErrInvalidArgument)
		}
		if got != tt.want {
			t.Errorf("parseOffset(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseOnOff(t *testing.T) {
	for _, value := range []string{"on", "ON", "true", "yes", "1"} {
		if got, err := parseOnOff(value); err != nil || !got {
			t.Errorf("parseOnOff(%q) = %v, %v, want true, nil", value, got, err)
		}
	}

	for _, value := range []string{"off", "false", "no", "0"} {
		if got, err := parseOnOff(value); err != nil || got {
			t.Errorf("parseOnOff(%q) = %v, %v, want false, nil", value, got, err)
		}
	}

	if _, err := parseOnOff("maybe"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("parseOnOff(maybe) error = %v, want %v", err, ErrInvalidArgument)
	}
}

func TestFormatStatus(t *testing.T) {
	status := sessions.Status{
		Playback: sessions.PlaybackStatusPlaying,
		Metadata: &sessions.Metadata{Artist: "Daft Punk", Title: "One More Time", Album: "Discovery"},
	}
	position := &sessions.Position{Position: 62 * time.Second, Duration: 225 * time.Second}

	want := "▶ Daft Punk - One More Time\n  Discovery\n  1:02 / 3:45\n  (vlc, playing)\n"
	if got := formatStatus("vlc", status, position); got != want {
		t.Errorf("formatStatus() = %q, want %q", got, want)
	}

	// nothing but a status code
	want = "⏸ paused\n  (system, paused)\n"
	if got := formatStatus("system", sessions.Status{Playback: sessions.PlaybackStatusPaused}, nil); got != want {
		t.Errorf("formatStatus() = %q, want %q", got, want)
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer

	table := NewTableWriter(&buf, "SESSION", "STATUS")
	table.Row("vlc", "playing")
	table.Row("spotify", orDash(""))
	table.Flush()

	want := "SESSION  STATUS\nvlc      playing\nspotify  -\n"
	if buf.String() != want {
		t.Errorf("table = %q, want %q", buf.String(), want)
	}
}

type stubSession struct {
	key      string
	playback sessions.PlaybackStatus
	events   chan sessions.PlayerEvent
}

func newStubSession(key string, playback sessions.PlaybackStatus) *stubSession {
	return &stubSession{key: key, playback: playback, events: make(chan sessions.PlayerEvent)}
}

func (s *stubSession) Key() string { return s.key }
func (s *stubSession) Status(context.Context) (sessions.Status, error) {
	return sessions.Status{Playback: s.playback}, nil
}
func (s *stubSession) Play(context.Context) error                           { return nil }
func (s *stubSession) Pause(context.Context) error                          { return nil }
func (s *stubSession) PlayPause(context.Context) error                      { return nil }
func (s *stubSession) Stop(context.Context) error                           { return nil }
func (s *stubSession) Next(context.Context) error                           { return nil }
func (s *stubSession) Previous(context.Context) error                       { return nil }
func (s *stubSession) SetShuffle(context.Context, bool) error               { return nil }
func (s *stubSession) SetRepeat(context.Context, sessions.RepeatMode) error { return nil }
func (s *stubSession) Seek(context.Context, time.Duration) error            { return nil }
func (s *stubSession) SetPosition(context.Context, time.Duration) error     { return nil }
func (s *stubSession) Events() <-chan sessions.PlayerEvent                  { return s.events }
func (s *stubSession) Release()                                            {}

type stubFinder struct {
	sessions []sessions.Session
	system   sessions.Session
}

func (f *stubFinder) GetAllSessions(context.Context) ([]sessions.Session, error) {
	return f.sessions, nil
}

func (f *stubFinder) GetSystemSession(context.Context) (sessions.Session, error) {
	return f.system, nil
}

func (f *stubFinder) Release() error { return nil }

func TestResolvePlayer(t *testing.T) {
	logger = zap.NewNop().Sugar()

	newManager := func(t *testing.T, finder *stubFinder) *sessions.PlayerManager {
		t.Helper()

		manager, err := sessions.NewPlayerManager(logger, finder)
		if err != nil {
			t.Fatalf("NewPlayerManager() error = %v", err)
		}
		t.Cleanup(func() { _ = manager.Release() })

		ctx := context.Background()
		if err := manager.Initialize(ctx, nil); err != nil {
			t.Fatalf("Initialize() error = %v", err)
		}
		if _, _, err := manager.FigureOutActiveSession(ctx); err != nil {
			t.Fatalf("FigureOutActiveSession() error = %v", err)
		}

		return manager
	}

	finder := &stubFinder{
		sessions: []sessions.Session{
			newStubSession("spotify", sessions.PlaybackStatusPaused),
			newStubSession("vlc", sessions.PlaybackStatusPlaying),
		},
		system: newStubSession("system", sessions.PlaybackStatusOpened),
	}
	manager := newManager(t, finder)

	tests := []struct {
		key     string
		want    string
		wantErr error
	}{
		{"", "vlc", nil},
		{"spotify", "spotify", nil},
		{"system", "system", nil},
		{"mpv", "", ErrSessionNotFound},
	}

	for _, tt := range tests {
		player, err := resolvePlayer(manager, tt.key)
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("resolvePlayer(%q) error = %v, want %v", tt.key, err, tt.wantErr)
			continue
		}
		if err == nil && player.Key() != tt.want {
			t.Errorf("resolvePlayer(%q) = %s, want %s", tt.key, player.Key(), tt.want)
		}
	}

	// nothing active falls back to the system session
	idle := newManager(t, &stubFinder{
		sessions: []sessions.Session{newStubSession("vlc", sessions.PlaybackStatusStopped)},
		system:   newStubSession("system", sessions.PlaybackStatusOpened),
	})
	if player, err := resolvePlayer(idle, ""); err != nil || player.Key() != "system" {
		t.Errorf("resolvePlayer() on idle sessions = %v, %v, want system", player, err)
	}

	empty := newManager(t, &stubFinder{})
	if _, err := resolvePlayer(empty, ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("resolvePlayer() without sessions error = %v, want %v", err, ErrNoSession)
	}
}

func TestApplyRegistryEventRefreshesEverything(t *testing.T) {
	logger = zap.NewNop().Sugar()
	cfg = &mediactl.CanonicalConfig{PollTimeout: time.Second}

	finder := &stubFinder{
		sessions: []sessions.Session{newStubSession("spotify", sessions.PlaybackStatusPaused)},
	}
	manager, err := sessions.NewPlayerManager(logger, finder)
	if err != nil {
		t.Fatalf("NewPlayerManager() error = %v", err)
	}
	t.Cleanup(func() { _ = manager.Release() })

	ctx := context.Background()
	if err := manager.Initialize(ctx, nil); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	// a player and a system session appear, only the system hint arrives
	finder.sessions = append(finder.sessions, newStubSession("vlc", sessions.PlaybackStatusPlaying))
	finder.system = newStubSession("system", sessions.PlaybackStatusOpened)

	if err := applyRegistryEvent(ctx, manager, sessions.SystemSessionChanged); err != nil {
		t.Fatalf("applyRegistryEvent() error = %v", err)
	}

	keys := strings.Join(manager.SessionKeys(), ",")
	if keys != "spotify,vlc" {
		t.Errorf("SessionKeys() = %s, want spotify,vlc", keys)
	}
	if system, ok := manager.GetSystemSession(); !ok || system.Key() != "system" {
		t.Errorf("GetSystemSession() = %v, %v, want system", system, ok)
	}

	// and the other way around
	finder.sessions = finder.sessions[:1]
	finder.system = nil

	if err := applyRegistryEvent(ctx, manager, sessions.SessionsChanged); err != nil {
		t.Fatalf("applyRegistryEvent() error = %v", err)
	}
	if keys := strings.Join(manager.SessionKeys(), ","); keys != "spotify" {
		t.Errorf("SessionKeys() = %s, want spotify", keys)
	}
	if _, ok := manager.GetSystemSession(); ok {
		t.Error("GetSystemSession() found a session after it went away")
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"sessions", "status", "play", "pause", "toggle", "stop", "next", "prev",
		"shuffle", "repeat", "seek", "position", "watch", "run", "version"}

	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd == rootCmd {
			t.Errorf("command %q isn't registered", name)
			continue
		}
		if !strings.HasPrefix(cmd.Use, name) {
			t.Errorf("Find(%q) = %q", name, cmd.Use)
		}
	}
}
