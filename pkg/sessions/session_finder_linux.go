package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/mitchellh/go-ps"
	"go.uber.org/zap"
)

const (
	sessionEventChanSize = 100
	signalChanSize       = 64

	// how far up the process tree an audible client is matched against MPRIS owners
	maxProcessAncestors = 8

	mprisBusPrefix          = "org.mpris.MediaPlayer2."
	mprisPath               = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayerInterface    = "org.mpris.MediaPlayer2.Player"
	dbusInterface           = "org.freedesktop.DBus"
	dbusPropertiesInterface = "org.freedesktop.DBus.Properties"

	signalNameOwnerChanged  = dbusInterface + ".NameOwnerChanged"
	signalPropertiesChanged = dbusPropertiesInterface + ".PropertiesChanged"
	signalSeeked            = mprisPlayerInterface + ".Seeked"
	methodListNames         = dbusInterface + ".ListNames"
	methodGetNameOwner      = dbusInterface + ".GetNameOwner"
	methodGetConnectionPID  = dbusInterface + ".GetConnectionUnixProcessID"
	methodGetAllProperties  = dbusPropertiesInterface + ".GetAll"
	methodGetProperty       = dbusPropertiesInterface + ".Get"
	methodSetProperty       = dbusPropertiesInterface + ".Set"
)

// mprisSessionFinder discovers media players through their MPRIS D-Bus interface
type mprisSessionFinder struct {
	logger        *zap.SugaredLogger
	sessionLogger *zap.SugaredLogger

	conn  *dbus.Conn
	pulse *pulseWatcher

	mu      sync.RWMutex
	players map[string]*mprisSession
	order   []string
	owners  map[string]string // unique connection name -> session key
	closed  bool

	// key of the last reported system session, "" when none
	systemKey string

	signals       chan *dbus.Signal
	sessionEvents chan SessionEvent
	done          chan struct{}
}

// NewSessionFinder creates the session finder for the current platform
func NewSessionFinder(logger *zap.SugaredLogger) (SessionFinder, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	sf := &mprisSessionFinder{
		logger:        logger.Named("session_finder"),
		sessionLogger: logger.Named("mpris"),
		conn:          conn,
		players:       make(map[string]*mprisSession),
		owners:        make(map[string]string),
		signals:       make(chan *dbus.Signal, signalChanSize),
		sessionEvents: make(chan SessionEvent, sessionEventChanSize),
		done:          make(chan struct{}),
	}

	if err := sf.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	// the system session is picked by which client PulseAudio is actually playing,
	// without it there's simply no system session
	pulse, err := newPulseWatcher(logger)
	if err != nil {
		sf.logger.Warnw("PulseAudio unavailable, system session detection disabled", "error", err)
	} else {
		sf.pulse = pulse
	}

	sf.enumerateExistingSessions()

	go sf.signalLoop()

	sf.logger.Debug("Created event-driven MPRIS session finder")

	return sf, nil
}

func (sf *mprisSessionFinder) subscribe() error {
	rules := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(dbusInterface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg0Namespace("org.mpris.MediaPlayer2"),
		},
		{
			dbus.WithMatchObjectPath(mprisPath),
			dbus.WithMatchInterface(dbusPropertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchObjectPath(mprisPath),
			dbus.WithMatchInterface(mprisPlayerInterface),
			dbus.WithMatchMember("Seeked"),
		},
	}

	for _, rule := range rules {
		if err := sf.conn.AddMatchSignal(rule...); err != nil {
			return fmt.Errorf("add match signal: %w", err)
		}
	}

	sf.conn.Signal(sf.signals)

	return nil
}

func (sf *mprisSessionFinder) enumerateExistingSessions() {
	var names []string
	if err := sf.conn.BusObject().Call(methodListNames, 0).Store(&names); err != nil {
		sf.logger.Warnw("Failed to enumerate bus names", "error", err)
		return
	}

	count := 0
	for _, name := range names {
		if strings.HasPrefix(name, mprisBusPrefix) {
			sf.addPlayer(name, "")
			count++
		}
	}

	sf.logger.Debugw("Enumerated sessions", "count", count)
}

func (sf *mprisSessionFinder) signalLoop() {
	for {
		select {
		case <-sf.done:
			return
		case signal, ok := <-sf.signals:
			if !ok {
				sf.logger.Warn("D-Bus connection closed")
				return
			}

			sf.handleSignal(signal)
		}
	}
}

func (sf *mprisSessionFinder) handleSignal(signal *dbus.Signal) {
	switch signal.Name {
	case signalNameOwnerChanged:
		var name, oldOwner, newOwner string
		if err := dbus.Store(signal.Body, &name, &oldOwner, &newOwner); err != nil {
			sf.logger.Debugw("Malformed NameOwnerChanged signal", "error", err)
			return
		}

		if !strings.HasPrefix(name, mprisBusPrefix) {
			return
		}

		switch {
		case newOwner == "":
			sf.removePlayer(name)
		case oldOwner == "":
			sf.addPlayer(name, newOwner)
		default:
			sf.updateOwner(name, oldOwner, newOwner)
		}

	case signalPropertiesChanged:
		if len(signal.Body) < 2 {
			return
		}

		iface, _ := signal.Body[0].(string)
		if iface != mprisPlayerInterface {
			return
		}

		changed, _ := signal.Body[1].(map[string]dbus.Variant)

		var invalidated []string
		if len(signal.Body) > 2 {
			invalidated, _ = signal.Body[2].([]string)
		}

		session := sf.sessionBySender(signal.Sender)
		if session == nil {
			return
		}

		for _, event := range eventsForProperties(changed, invalidated) {
			session.notify(event)
		}

		if _, ok := changed["PlaybackStatus"]; ok {
			if key, moved := sf.systemWinnerChanged(); moved {
				sf.emitEvent(SessionEvent{Type: SessionEventSystemChanged, SessionID: key})
			}
		}

	case signalSeeked:
		if session := sf.sessionBySender(signal.Sender); session != nil {
			session.notify(TimelinePropertiesChanged)
		}
	}
}

// eventsForProperties maps changed MPRIS player properties onto session events
func eventsForProperties(changed map[string]dbus.Variant, invalidated []string) []PlayerEvent {
	seen := make(map[PlayerEvent]bool)
	var events []PlayerEvent

	add := func(property string) {
		var event PlayerEvent

		switch property {
		case "PlaybackStatus", "LoopStatus", "Shuffle", "CanPlay", "CanPause", "CanGoNext", "CanGoPrevious", "CanSeek":
			event = PlaybackInfoChanged
		case "Metadata":
			event = MediaPropertiesChanged
		case "Position", "Rate":
			event = TimelinePropertiesChanged
		default:
			return
		}

		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	for property := range changed {
		add(property)
	}
	for _, property := range invalidated {
		add(property)
	}

	return events
}

func (sf *mprisSessionFinder) addPlayer(busName, owner string) {
	if owner == "" {
		if err := sf.conn.BusObject().Call(methodGetNameOwner, 0, busName).Store(&owner); err != nil {
			sf.logger.Debugw("Failed to get bus name owner", "name", busName, "error", err)
			return
		}
	}

	var pid uint32
	if err := sf.conn.BusObject().Call(methodGetConnectionPID, 0, busName).Store(&pid); err != nil {
		sf.logger.Debugw("Failed to get bus name process id", "name", busName, "error", err)
	}

	key := strings.TrimPrefix(busName, mprisBusPrefix)

	sf.mu.Lock()
	if sf.closed {
		sf.mu.Unlock()
		return
	}
	if _, exists := sf.players[key]; exists {
		sf.owners[owner] = key
		sf.mu.Unlock()
		return
	}

	session := newMPRISSession(sf.sessionLogger, sf.conn, busName, key, int(pid))
	sf.players[key] = session
	sf.order = append(sf.order, key)
	sf.owners[owner] = key
	sf.mu.Unlock()

	sf.emitEvent(SessionEvent{Type: SessionEventAdded, SessionID: key})
	sf.logger.Debugw("Added session", "key", key, "pid", pid, "executable", executableName(int(pid)))
}

func (sf *mprisSessionFinder) removePlayer(busName string) {
	key := strings.TrimPrefix(busName, mprisBusPrefix)

	sf.mu.Lock()
	session, exists := sf.players[key]
	if !exists {
		sf.mu.Unlock()
		return
	}

	delete(sf.players, key)
	for i, k := range sf.order {
		if k == key {
			sf.order = append(sf.order[:i], sf.order[i+1:]...)
			break
		}
	}
	for owner, k := range sf.owners {
		if k == key {
			delete(sf.owners, owner)
		}
	}
	sf.mu.Unlock()

	session.end()

	sf.emitEvent(SessionEvent{Type: SessionEventRemoved, SessionID: key})
	sf.logger.Debugw("Removed session", "key", key)
}

func (sf *mprisSessionFinder) updateOwner(busName, oldOwner, newOwner string) {
	key := strings.TrimPrefix(busName, mprisBusPrefix)

	sf.mu.Lock()
	defer sf.mu.Unlock()

	delete(sf.owners, oldOwner)
	if _, exists := sf.players[key]; exists {
		sf.owners[newOwner] = key
	}
}

func (sf *mprisSessionFinder) sessionBySender(sender string) *mprisSession {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	if key, ok := sf.owners[sender]; ok {
		return sf.players[key]
	}

	// some senders show up under their well-known name
	return sf.players[strings.TrimPrefix(sender, mprisBusPrefix)]
}

func (sf *mprisSessionFinder) emitEvent(event SessionEvent) {
	select {
	case sf.sessionEvents <- event:
	default:
	}
}

func (sf *mprisSessionFinder) GetAllSessions(_ context.Context) ([]Session, error) {
	sf.mu.RLock()
	defer sf.mu.RUnlock()

	if sf.closed {
		return nil, ErrSourceUnavailable
	}

	sessions := make([]Session, 0, len(sf.order))
	for _, key := range sf.order {
		sessions = append(sessions, sf.players[key])
	}

	return sessions, nil
}

// GetSystemSession returns the first MPRIS player whose process (or one of its
// ancestors) owns a PulseAudio stream that is currently playing
func (sf *mprisSessionFinder) GetSystemSession(_ context.Context) (Session, error) {
	sf.mu.RLock()
	if sf.closed {
		sf.mu.RUnlock()
		return nil, ErrSourceUnavailable
	}

	byPID := make(map[int]*mprisSession, len(sf.players))
	for _, key := range sf.order {
		if session := sf.players[key]; session.pid > 0 {
			if _, taken := byPID[session.pid]; !taken {
				byPID[session.pid] = session
			}
		}
	}
	sf.mu.RUnlock()

	if sf.pulse == nil || len(byPID) == 0 {
		return nil, nil
	}

	pids, err := sf.pulse.audibleProcessIDs()
	if err != nil {
		sf.logger.Warnw("Failed to get audible PulseAudio clients", "error", err)
		return nil, nil
	}

	for _, pid := range pids {
		for _, candidate := range processAncestors(pid) {
			if session, ok := byPID[candidate]; ok {
				return session, nil
			}
		}
	}

	return nil, nil
}

// systemWinnerChanged recomputes the system session and reports whether it differs
// from the one seen last time
func (sf *mprisSessionFinder) systemWinnerChanged() (string, bool) {
	session, err := sf.GetSystemSession(context.Background())
	if err != nil {
		return "", false
	}

	key := ""
	if session != nil {
		key = session.Key()
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()

	if key == sf.systemKey {
		return key, false
	}
	sf.systemKey = key
	return key, true
}

func (sf *mprisSessionFinder) SubscribeToSessionEvents() <-chan SessionEvent {
	return sf.sessionEvents
}

func (sf *mprisSessionFinder) Release() error {
	sf.mu.Lock()
	if sf.closed {
		sf.mu.Unlock()
		return nil
	}
	sf.closed = true
	sessions := make([]*mprisSession, 0, len(sf.players))
	for _, session := range sf.players {
		sessions = append(sessions, session)
	}
	sf.mu.Unlock()

	close(sf.done)

	for _, session := range sessions {
		session.end()
	}

	if sf.pulse != nil {
		sf.pulse.Close()
	}

	if err := sf.conn.Close(); err != nil && !errors.Is(err, dbus.ErrClosed) {
		return fmt.Errorf("close D-Bus connection: %w", err)
	}

	sf.logger.Debug("Released MPRIS session finder")
	return nil
}

// processAncestors returns pid followed by its parent chain
func processAncestors(pid int) []int {
	chain := make([]int, 0, maxProcessAncestors)

	for i := 0; i < maxProcessAncestors && pid > 1; i++ {
		chain = append(chain, pid)

		process, err := ps.FindProcess(pid)
		if err != nil || process == nil {
			break
		}
		pid = process.PPid()
	}

	return chain
}

func executableName(pid int) string {
	if pid <= 0 {
		return ""
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return ""
	}

	return process.Executable()
}
