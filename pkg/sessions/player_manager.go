package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

// PlayerManager tracks the media sessions exposed by a SessionFinder, decides which of
// them is active and turns the OS notifications into pollable events
type PlayerManager struct {
	logger *zap.SugaredLogger

	finder      SessionFinder
	pollTimeout time.Duration
	now         func() time.Time

	lock           sync.Mutex
	entries        map[string]*entry
	order          []string
	system         *entry
	activeKey      string
	nextGeneration uint64
	closed         atomic.Bool

	events *eventSlot[ManagerEvent]

	stopChannel chan struct{}
	wg          sync.WaitGroup
}

// entry is the registry record of one tracked session. Players refer to it by key and
// generation only, so a dropped entry simply stops resolving
type entry struct {
	key        string
	generation uint64
	gone       atomic.Bool

	// guards everything below
	lock           sync.Mutex
	session        Session
	shuffle        bool
	repeat         RepeatMode
	events         *eventSlot[PlayerEvent]
	stopForwarding chan struct{}
}

// Option configures a PlayerManager
type Option func(*PlayerManager)

// WithPollTimeout sets the timeout used by event polls that don't specify one
func WithPollTimeout(timeout time.Duration) Option {
	return func(m *PlayerManager) {
		if timeout > 0 {
			m.pollTimeout = timeout
		}
	}
}

// WithClock replaces the wall clock used to extrapolate playback positions
func WithClock(now func() time.Time) Option {
	return func(m *PlayerManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewPlayerManager creates a PlayerManager on top of the given session finder
func NewPlayerManager(logger *zap.SugaredLogger, finder SessionFinder, opts ...Option) (*PlayerManager, error) {
	if finder == nil {
		return nil, errors.New("session finder is required")
	}

	logger = logger.Named("sessions")

	m := &PlayerManager{
		logger:      logger,
		finder:      finder,
		pollTimeout: DefaultPollTimeout,
		now:         time.Now,
		entries:     make(map[string]*entry),
		events:      newEventSlot[ManagerEvent](),
		stopChannel: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	logger.Debugw("Created player manager instance", "pollTimeout", m.pollTimeout)

	return m, nil
}

// Initialize subscribes to OS notifications (if the finder supports them) and performs
// the first session and system session refresh
func (m *PlayerManager) Initialize(ctx context.Context, denylist []string) error {
	if eventDrivenFinder, ok := m.finder.(EventDrivenSessionFinder); ok {
		m.setupOnSessionEvents(eventDrivenFinder)
		m.logger.Info("Using event-driven session notifications")
	} else {
		m.logger.Info("Session finder has no notifications, relying on caller-triggered refreshes")
	}

	if err := m.UpdateSessions(ctx, denylist); err != nil {
		m.logger.Warnw("Failed to get sessions during initialization", "error", err)
		return fmt.Errorf("update sessions during init: %w", err)
	}

	if err := m.UpdateSystemSession(ctx); err != nil {
		m.logger.Warnw("Failed to get system session during initialization", "error", err)
		return fmt.Errorf("update system session during init: %w", err)
	}

	return nil
}

// Release drops every tracked session, fails all pending and future calls with
// ErrClosed and releases the session finder
func (m *PlayerManager) Release() error {
	m.lock.Lock()
	if m.closed.Load() {
		m.lock.Unlock()
		return nil
	}
	m.closed.Store(true)

	dropped := make([]*entry, 0, len(m.entries)+1)
	for _, key := range m.order {
		dropped = append(dropped, m.entries[key])
	}
	if m.system != nil {
		dropped = append(dropped, m.system)
	}

	for _, e := range dropped {
		e.gone.Store(true)
		e.events.close(ErrClosed)
	}

	m.entries = make(map[string]*entry)
	m.order = nil
	m.system = nil
	m.activeKey = ""
	m.lock.Unlock()

	close(m.stopChannel)
	m.events.close(ErrClosed)
	m.wg.Wait()

	m.releaseEntries(dropped)

	if err := m.finder.Release(); err != nil {
		m.logger.Warnw("Failed to release session finder during player manager release", "error", err)
		return fmt.Errorf("release session finder: %w", err)
	}

	m.logger.Debug("Released player manager")

	return nil
}

// PollNextEvent waits for the next registry-level event, for at most timeout (the
// configured default if timeout <= 0)
func (m *PlayerManager) PollNextEvent(ctx context.Context, timeout time.Duration) (PollResult[ManagerEvent], error) {
	if m.closed.Load() {
		return PollResult[ManagerEvent]{}, ErrClosed
	}

	return pollWithTimeout(ctx, m.timeout(timeout), m.events.next)
}

// SessionKeys returns a snapshot of the tracked session keys in registry order
func (m *PlayerManager) SessionKeys() []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	keys := make([]string, len(m.order))
	copy(keys, m.order)

	return keys
}

// GetSession returns a Player for the given key, if it's currently tracked
func (m *PlayerManager) GetSession(key string) (*Player, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}

	return m.playerFor(e, false), true
}

// GetActiveSession returns a Player for the session picked by the last arbitration
func (m *PlayerManager) GetActiveSession() (*Player, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.activeKey == "" {
		return nil, false
	}

	e, ok := m.entries[m.activeKey]
	if !ok {
		return nil, false
	}

	return m.playerFor(e, false), true
}

// ActiveSessionKey returns the key cached by the last arbitration
func (m *PlayerManager) ActiveSessionKey() (string, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.activeKey, m.activeKey != ""
}

// GetSystemSession returns a Player for the OS-designated default session
func (m *PlayerManager) GetSystemSession() (*Player, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.system == nil {
		return nil, false
	}

	return m.playerFor(m.system, true), true
}

// UpdateSessions re-synchronizes the tracked sessions with the finder's live session
// list, leaving out every key present in denylist. Sessions that disappeared (or got
// denylisted) are dropped and their Players start failing with ErrSessionGone
func (m *PlayerManager) UpdateSessions(ctx context.Context, denylist []string) error {
	if m.closed.Load() {
		return ErrClosed
	}

	found, err := m.finder.GetAllSessions(ctx)
	if err != nil {
		m.logger.Warnw("Failed to get sessions from session finder", "error", err)
		return fmt.Errorf("get sessions from SessionFinder: %w", err)
	}

	m.lock.Lock()

	if m.closed.Load() {
		m.lock.Unlock()
		return ErrClosed
	}

	present := make(map[string]Session, len(found))
	for _, session := range found {
		key := session.Key()

		if funk.ContainsString(denylist, key) {
			m.logger.Debugw("Skipping denylisted session", "key", key)
			continue
		}

		if _, dup := present[key]; dup {
			continue
		}

		present[key] = session
	}

	var (
		added, removed []string
		dropped        []*entry
		replaced       []Session
		activeChanged  bool
	)

	order := make([]string, 0, len(present))

	// keep the discovery order of sessions we already track
	for _, key := range m.order {
		e := m.entries[key]

		session, ok := present[key]
		if !ok {
			m.dropEntry(e)
			delete(m.entries, key)

			dropped = append(dropped, e)
			removed = append(removed, key)

			if key == m.activeKey {
				m.activeKey = ""
				activeChanged = true
			}
			continue
		}

		if old := m.replaceSession(e, session); old != nil {
			replaced = append(replaced, old)
		}

		order = append(order, key)
	}

	for _, session := range found {
		key := session.Key()
		if present[key] != session {
			continue
		}

		if _, tracked := m.entries[key]; tracked {
			continue
		}

		m.entries[key] = m.newEntry(session)
		order = append(order, key)
		added = append(added, key)
	}

	m.order = order
	m.lock.Unlock()

	m.releaseEntries(dropped)
	for _, session := range replaced {
		session.Release()
	}

	if len(added) > 0 || len(removed) > 0 || len(replaced) > 0 {
		m.logger.Infow("Sessions changed", "added", added, "removed", removed, "replaced", len(replaced), "tracked", len(order))

		// the slot keeps only the latest event, SessionsChanged implies the rest
		if activeChanged {
			m.events.publish(ActiveSessionChanged)
		}
		m.events.publish(SessionsChanged)
	} else {
		m.logger.Debugw("Sessions unchanged", "tracked", len(order))
	}

	return nil
}

// UpdateSystemSession re-reads the OS-designated default session
func (m *PlayerManager) UpdateSystemSession(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}

	session, err := m.finder.GetSystemSession(ctx)
	if err != nil {
		m.logger.Warnw("Failed to get system session from session finder", "error", err)
		return fmt.Errorf("get system session from SessionFinder: %w", err)
	}

	m.lock.Lock()

	if m.closed.Load() {
		m.lock.Unlock()
		return ErrClosed
	}

	var (
		previous = m.system
		changed  bool
		dropped  []*entry
		replaced Session
	)

	switch {
	case session == nil && previous == nil:
	case session == nil:
		m.dropEntry(previous)
		dropped = append(dropped, previous)
		m.system = nil
		changed = true
	case previous == nil:
		m.system = m.newEntry(session)
		changed = true
	case previous.key != session.Key():
		m.dropEntry(previous)
		dropped = append(dropped, previous)
		m.system = m.newEntry(session)
		changed = true
	default:
		replaced = m.replaceSession(previous, session)
		changed = replaced != nil
	}

	m.lock.Unlock()

	m.releaseEntries(dropped)
	if replaced != nil {
		replaced.Release()
	}

	if changed {
		key := ""
		if session != nil {
			key = session.Key()
		}

		m.logger.Infow("System session changed", "key", key)
		m.events.publish(SystemSessionChanged)
	}

	return nil
}

// FigureOutActiveSession fetches the status of every tracked session and picks the
// active one: the first playing session, or else the first paused one. The result is
// cached for GetActiveSession and an ActiveSessionChanged event is published if it
// differs from the previous one
func (m *PlayerManager) FigureOutActiveSession(ctx context.Context) (string, bool, error) {
	m.lock.Lock()
	if m.closed.Load() {
		m.lock.Unlock()
		return "", false, ErrClosed
	}

	players := make([]*Player, 0, len(m.order))
	for _, key := range m.order {
		players = append(players, m.playerFor(m.entries[key], false))
	}
	m.lock.Unlock()

	candidates := make([]candidate, 0, len(players))
	for _, player := range players {
		status, err := player.Status(ctx)
		if err != nil {
			if errors.Is(err, ErrSessionGone) {
				m.logger.Debugw("No player found for session", "key", player.key)
				continue
			}

			if IsFatal(err) || ctx.Err() != nil {
				return "", false, err
			}

			m.logger.Warnw("Failed to get session status during arbitration", "key", player.key, "error", err)
			continue
		}

		m.logger.Debugw("Checked session status", "key", player.key, "status", status.Playback)
		candidates = append(candidates, candidate{key: player.key, status: status.Playback})
	}

	key, found := arbitrate(candidates)

	m.lock.Lock()
	if m.closed.Load() {
		m.lock.Unlock()
		return "", false, ErrClosed
	}

	// the winner may have been dropped while we were fetching statuses
	if _, tracked := m.entries[key]; found && !tracked {
		key, found = "", false
	}

	previous := m.activeKey
	m.activeKey = key
	m.lock.Unlock()

	m.logger.Debugw("Determined active session", "key", key, "found", found, "candidates", len(candidates))

	if previous != key {
		m.logger.Infow("Active session changed", "key", key, "previous", previous)
		m.events.publish(ActiveSessionChanged)
	}

	return key, found, nil
}

func (m *PlayerManager) String() string {
	return fmt.Sprintf("<%d media sessions>", len(m.SessionKeys()))
}

func (m *PlayerManager) timeout(timeout time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return m.pollTimeout
}

// assumes m.lock is held
func (m *PlayerManager) playerFor(e *entry, system bool) *Player {
	return &Player{
		manager:    m,
		key:        e.key,
		generation: e.generation,
		system:     system,
	}
}

// lookup resolves a Player handle to its registry entry
func (m *PlayerManager) lookup(key string, generation uint64, system bool) (*entry, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed.Load() {
		return nil, ErrClosed
	}

	e := m.entries[key]
	if system {
		e = m.system
	}

	if e == nil || e.key != key || e.generation != generation {
		return nil, ErrSessionGone
	}

	return e, nil
}

// assumes m.lock is held
func (m *PlayerManager) newEntry(session Session) *entry {
	m.nextGeneration++

	e := &entry{
		key:            session.Key(),
		generation:     m.nextGeneration,
		session:        session,
		repeat:         RepeatOff,
		events:         newEventSlot[PlayerEvent](),
		stopForwarding: make(chan struct{}),
	}

	m.wg.Add(1)
	go m.forwardSessionEvents(e.key, session.Events(), e.events, e.stopForwarding)

	m.logger.Debugw("Tracking session", "key", e.key, "generation", e.generation)

	return e
}

// assumes m.lock is held. The entry's session is released later by releaseEntries,
// once in-flight calls on it are done
func (m *PlayerManager) dropEntry(e *entry) {
	e.gone.Store(true)
	close(e.stopForwarding)
	e.events.close(ErrSessionGone)

	m.logger.Debugw("Dropped session", "key", e.key, "generation", e.generation)
}

// assumes m.lock is held. Swaps the entry's handle if the finder handed out a new one
// for the same key and returns the old handle, or nil if nothing changed. The new
// source starts a new generation with default shuffle/repeat, so Players obtained
// for the old one report ErrSessionGone
func (m *PlayerManager) replaceSession(e *entry, session Session) Session {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.session == session {
		return nil
	}

	old := e.session
	e.session = session

	m.nextGeneration++
	e.generation = m.nextGeneration
	e.shuffle = false
	e.repeat = RepeatOff

	close(e.stopForwarding)
	e.stopForwarding = make(chan struct{})

	// waiters on the old slot hold a handle of the old generation
	e.events.close(ErrSessionGone)
	e.events = newEventSlot[PlayerEvent]()

	m.wg.Add(1)
	go m.forwardSessionEvents(e.key, session.Events(), e.events, e.stopForwarding)

	m.logger.Debugw("Replaced session handle", "key", e.key, "generation", e.generation)

	return old
}

func (m *PlayerManager) releaseEntries(entries []*entry) {
	for _, e := range entries {
		e.lock.Lock()
		e.session.Release()
		e.lock.Unlock()
	}
}

// forwardSessionEvents adapts a session's push channel into its event slot
func (m *PlayerManager) forwardSessionEvents(key string, source <-chan PlayerEvent, slot *eventSlot[PlayerEvent], stop <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stop:
			return
		case <-m.stopChannel:
			return
		case event, ok := <-source:
			if !ok {
				m.logger.Debugw("Session event source ended", "key", key)
				slot.close(nil)
				return
			}

			slot.publish(event)
		}
	}
}

func (m *PlayerManager) setupOnSessionEvents(finder EventDrivenSessionFinder) {
	sessionEventsChan := finder.SubscribeToSessionEvents()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		for {
			select {
			case <-m.stopChannel:
				return
			case event, ok := <-sessionEventsChan:
				if !ok {
					m.logger.Debug("Session finder stopped sending notifications")
					return
				}

				m.logger.Debugw("Session notification received", "type", event.Type, "key", event.SessionID)

				switch event.Type {
				case SessionEventAdded, SessionEventRemoved:
					m.events.publish(SessionsChanged)
				case SessionEventSystemChanged:
					m.events.publish(SystemSessionChanged)
				}
			}
		}
	}()
}
