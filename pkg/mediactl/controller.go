package mediactl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nik9play/mediactl/pkg/sessions"
)

// sessionController keeps the player manager in sync with the desktop and routes
// tray and remote commands to the active session
type sessionController struct {
	mediactl *Mediactl
	logger   *zap.SugaredLogger

	manager *sessions.PlayerManager

	lock               sync.Mutex
	lastSessionRefresh time.Time
	refreshPending     bool
	activeKey          string

	// latest-wins notification for the tray, carries the active session's label
	activeChangeChan chan string

	stopChannel chan struct{}
	wg          sync.WaitGroup
}

const (
	// re-acquiring all sessions enumerates the whole bus, so event-driven refreshes are
	// throttled. A throttled refresh is deferred to the end of the window, never dropped
	minTimeBetweenSessionRefreshes = time.Second * 2

	// bounds every single call into a session
	sessionCallTimeout = 5 * time.Second
)

func newSessionController(mediactl *Mediactl, logger *zap.SugaredLogger, sessionFinder sessions.SessionFinder) (*sessionController, error) {
	logger = logger.Named("controller")

	manager, err := sessions.NewPlayerManager(logger, sessionFinder,
		sessions.WithPollTimeout(mediactl.config.PollTimeout))
	if err != nil {
		return nil, fmt.Errorf("create player manager: %w", err)
	}

	c := &sessionController{
		mediactl:         mediactl,
		logger:           logger,
		manager:          manager,
		activeChangeChan: make(chan string, 1),
		stopChannel:      make(chan struct{}),
	}

	logger.Debug("Created session controller instance")

	return c, nil
}

func (c *sessionController) initialize(ctx context.Context) error {
	if err := c.manager.Initialize(ctx, c.mediactl.config.Denylist); err != nil {
		return fmt.Errorf("initialize player manager: %w", err)
	}

	c.lock.Lock()
	c.lastSessionRefresh = time.Now()
	c.lock.Unlock()

	c.figureOutActiveSession(ctx)

	c.setupOnConfigReload()
	c.setupOnRemoteCommands()

	c.logger.Infow("Session controller initialized", "manager", c.manager)

	return nil
}

// start begins following registry events
func (c *sessionController) start() {
	c.wg.Add(1)
	go c.eventLoop()
}

func (c *sessionController) release() error {
	select {
	case <-c.stopChannel:
	default:
		close(c.stopChannel)
	}

	if err := c.manager.Release(); err != nil {
		c.logger.Warnw("Failed to release player manager", "error", err)
		return fmt.Errorf("release player manager: %w", err)
	}

	c.wg.Wait()

	return nil
}

// SubscribeToActiveSessionChanges returns a channel carrying the label of the newly
// active session ("" for none). Only the latest change is kept
func (c *sessionController) SubscribeToActiveSessionChanges() <-chan string {
	return c.activeChangeChan
}

func (c *sessionController) notifyActiveSessionChange(label string) {
	select {
	case <-c.activeChangeChan:
	default:
	}

	select {
	case c.activeChangeChan <- label:
	default:
	}
}

func (c *sessionController) setupOnConfigReload() {
	configReloadedChannel := c.mediactl.config.SubscribeToChanges()

	go func() {
		for {
			select {
			case <-c.stopChannel:
				return
			case <-configReloadedChannel:
				c.logger.Info("Detected config reload, attempting to re-acquire all media sessions")
				c.refreshSessions(true)
			}
		}
	}()
}

func (c *sessionController) setupOnRemoteCommands() {
	commandChannel := c.mediactl.remote.SubscribeToRemoteCommands()

	go func() {
		for {
			select {
			case <-c.stopChannel:
				return
			case command := <-commandChannel:
				c.handleRemoteCommand(command)
			}
		}
	}()
}

// eventLoop reacts to registry events. A timed out poll re-arbitrates as well,
// since play/pause changes inside a session don't surface as registry events.
// Registry events are latest-wins and may cover each other, so both list and
// system changes lead to a full refresh
func (c *sessionController) eventLoop() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-c.stopChannel
		cancel()
	}()

	for {
		timeout := c.runPendingRefresh()

		result, err := c.manager.PollNextEvent(ctx, timeout)
		if err != nil {
			if errors.Is(err, sessions.ErrClosed) || ctx.Err() != nil {
				c.logger.Debug("eventLoop: stop signal")
				return
			}

			c.logger.Warnw("Failed to poll session events", "error", err)
			continue
		}

		switch result.Outcome {
		case sessions.OutcomeNoEvent:
			c.logger.Debug("Registry event source ended")
			return

		case sessions.OutcomeTimedOut:
			c.figureOutActiveSession(ctx)

		case sessions.OutcomeEvent:
			c.logger.Debugw("Registry event", "event", result)

			switch result.Event {
			case sessions.SessionsChanged, sessions.SystemSessionChanged:
				c.refreshSessions(false)
			case sessions.ActiveSessionChanged:
				c.figureOutActiveSession(ctx)
			}
		}
	}
}

// runPendingRefresh performs a deferred refresh once its throttle window is over and
// returns how long the next poll may block
func (c *sessionController) runPendingRefresh() time.Duration {
	timeout := c.mediactl.config.PollTimeout

	c.lock.Lock()
	pending := c.refreshPending
	wait := time.Until(c.lastSessionRefresh.Add(minTimeBetweenSessionRefreshes))
	c.lock.Unlock()

	if !pending {
		return timeout
	}

	if wait <= 0 {
		c.logger.Debug("Running deferred session refresh")
		c.refreshSessions(true)
		return timeout
	}

	if wait < timeout {
		return wait
	}
	return timeout
}

// refreshSessions re-reads the session list with the configured denylist, then the
// system session, and re-arbitrates. Unless forced, a session list refresh closer than
// minTimeBetweenSessionRefreshes to the previous one is deferred
func (c *sessionController) refreshSessions(force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCallTimeout)
	defer cancel()

	c.lock.Lock()
	throttled := !force && c.lastSessionRefresh.Add(minTimeBetweenSessionRefreshes).After(time.Now())
	if throttled {
		c.refreshPending = true
	} else {
		c.lastSessionRefresh = time.Now()
		c.refreshPending = false
	}
	c.lock.Unlock()

	if throttled {
		c.logger.Debug("Deferring session refresh, last one was too recent")
	} else if err := c.manager.UpdateSessions(ctx, c.mediactl.config.Denylist); err != nil {
		c.logger.Warnw("Failed to refresh sessions", "error", err)

		c.lock.Lock()
		c.refreshPending = true
		c.lock.Unlock()
	} else {
		c.logger.Debugw("Refreshed sessions", "keys", c.manager.SessionKeys())
	}

	if err := c.manager.UpdateSystemSession(ctx); err != nil {
		c.logger.Warnw("Failed to refresh system session", "error", err)
	}

	c.figureOutActiveSession(ctx)
}

func (c *sessionController) figureOutActiveSession(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sessionCallTimeout)
	defer cancel()

	key, _, err := c.manager.FigureOutActiveSession(ctx)
	if err != nil {
		if !errors.Is(err, sessions.ErrClosed) {
			c.logger.Warnw("Failed to figure out active session", "error", err)
		}
		return
	}

	c.lock.Lock()
	previous := c.activeKey
	c.activeKey = key
	c.lock.Unlock()

	if key == previous {
		return
	}

	label := c.describeSession(ctx, key)
	c.notifyActiveSessionChange(label)

	if key == "" {
		return
	}

	c.mediactl.notifier.Notify(
		localize(c.mediactl.localizer, "ActiveSessionChangedTitle", "Now controlling {{.Session}}",
			map[string]string{"Session": key}),
		label,
	)
}

// refreshActiveLabel re-sends the active session's label to the tray
func (c *sessionController) refreshActiveLabel(ctx context.Context) {
	c.lock.Lock()
	key := c.activeKey
	c.lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sessionCallTimeout)
	defer cancel()

	c.notifyActiveSessionChange(c.describeSession(ctx, key))
}

// describeSession renders "artist - title (key)" for the tray and notifications
func (c *sessionController) describeSession(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}

	player, ok := c.manager.GetSession(key)
	if !ok {
		return key
	}

	status, err := player.Status(ctx)
	if err != nil || status.Metadata == nil {
		return key
	}

	parts := make([]string, 0, 2)
	if status.Metadata.Artist != "" {
		parts = append(parts, status.Metadata.Artist)
	}
	if status.Metadata.Title != "" {
		parts = append(parts, status.Metadata.Title)
	}

	if len(parts) == 0 {
		return key
	}

	return fmt.Sprintf("%s (%s)", strings.Join(parts, " - "), key)
}

// targetPlayer is the active session, or the system session if nothing is active
func (c *sessionController) targetPlayer() (*sessions.Player, bool) {
	if player, ok := c.manager.GetActiveSession(); ok {
		return player, true
	}

	return c.manager.GetSystemSession()
}

func (c *sessionController) handleRemoteCommand(command RemoteCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCallTimeout)
	defer cancel()

	player, ok := c.targetPlayer()
	if !ok {
		c.logger.Infow("No session to control", "action", command.Action)
		return
	}

	accepted, err := c.runCommand(ctx, player, command)
	if err != nil {
		c.logger.Warnw("Failed to run remote command", "action", command.Action, "key", player.Key(), "error", err)

		// the session went away under us, the next refresh picks a new one
		if errors.Is(err, sessions.ErrSessionGone) {
			c.refreshSessions(true)
		}
		return
	}

	c.logger.Debugw("Ran remote command", "action", command.Action, "key", player.Key(), "accepted", accepted)
}

func (c *sessionController) runCommand(ctx context.Context, player *sessions.Player, command RemoteCommand) (bool, error) {
	switch command.Action {
	case RemotePlay:
		return player.Play(ctx)
	case RemotePause:
		return player.Pause(ctx)
	case RemoteToggle:
		return player.PlayPause(ctx)
	case RemoteStop:
		return player.Stop(ctx)
	case RemoteNext:
		return player.Next(ctx)
	case RemotePrevious:
		return player.Previous(ctx)

	case RemoteShuffle:
		shuffle, err := player.Shuffle()
		if err != nil {
			return false, err
		}
		return player.SetShuffle(ctx, !shuffle)

	case RemoteRepeat:
		repeat, err := player.Repeat()
		if err != nil {
			return false, err
		}
		return player.SetRepeat(ctx, string(nextRepeatMode(repeat)))

	case RemoteSeek:
		return player.Seek(ctx, command.Offset)
	}

	return false, fmt.Errorf("unknown remote action %q", command.Action)
}

// nextRepeatMode cycles off -> context -> track -> off, like most players' repeat button
func nextRepeatMode(mode sessions.RepeatMode) sessions.RepeatMode {
	switch mode {
	case sessions.RepeatOff:
		return sessions.RepeatContext
	case sessions.RepeatContext:
		return sessions.RepeatTrack
	default:
		return sessions.RepeatOff
	}
}
