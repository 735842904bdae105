package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/nik9play/mediactl/pkg/sessions"
)

// bounds a whole one-shot command, including session discovery
const commandTimeout = 10 * time.Second

// openManager builds a player manager over the OS session source and runs the first
// arbitration, so GetActiveSession is meaningful right away
func openManager(ctx context.Context) (*sessions.PlayerManager, error) {
	finder, err := sessions.NewSessionFinder(logger)
	if err != nil {
		return nil, fmt.Errorf("create session finder: %w", err)
	}

	manager, err := sessions.NewPlayerManager(logger, finder, sessions.WithPollTimeout(cfg.PollTimeout))
	if err != nil {
		_ = finder.Release()
		return nil, fmt.Errorf("create player manager: %w", err)
	}

	if err := manager.Initialize(ctx, cfg.Denylist); err != nil {
		_ = manager.Release()
		return nil, err
	}

	if _, _, err := manager.FigureOutActiveSession(ctx); err != nil {
		_ = manager.Release()
		return nil, fmt.Errorf("figure out active session: %w", err)
	}

	return manager, nil
}

// resolvePlayer picks the session named by --session, else the active session, else
// the system session
func resolvePlayer(manager *sessions.PlayerManager, key string) (*sessions.Player, error) {
	if key != "" {
		if player, ok := manager.GetSession(key); ok {
			return player, nil
		}

		if player, ok := manager.GetSystemSession(); ok && player.Key() == key {
			return player, nil
		}

		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, key)
	}

	if player, ok := manager.GetActiveSession(); ok {
		return player, nil
	}

	if player, ok := manager.GetSystemSession(); ok {
		return player, nil
	}

	return nil, ErrNoSession
}

// withPlayer runs fn against the targeted session and releases everything afterwards
func withPlayer(fn func(ctx context.Context, player *sessions.Player) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	manager, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Release(); err != nil {
			logger.Warnw("Failed to release player manager", "error", err)
		}
	}()

	player, err := resolvePlayer(manager, sessionKey)
	if err != nil {
		return err
	}

	logger.Debugw("Targeting session", "key", player.Key())

	return fn(ctx, player)
}

// accepted turns a false command result into an error
func accepted(name, key string, ok bool, err error) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, key, err)
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", name, key, ErrCommandRejected)
	}
	return nil
}
