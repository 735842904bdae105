package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nik9play/mediactl/pkg/mediactl/util"
	"github.com/nik9play/mediactl/pkg/sessions"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session changes as they happen",
	Long: `Follow the session registry and print every change to the session list and
the active session until interrupted. With --json, one object is printed per line.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// watchLine is one line of watch output
type watchLine struct {
	Time   time.Time `json:"time"`
	Event  string    `json:"event"`
	Active string    `json:"active,omitempty"`
	Keys   []string  `json:"sessions,omitempty"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := util.SetupCloseHandler()
	go func() {
		<-interrupted
		cancel()
	}()

	initCtx, initCancel := context.WithTimeout(ctx, commandTimeout)
	manager, err := openManager(initCtx)
	initCancel()
	if err != nil {
		return err
	}
	defer func() { _ = manager.Release() }()

	activeKey, _ := manager.ActiveSessionKey()
	if err := printWatchLine("Started", activeKey, manager.SessionKeys()); err != nil {
		return err
	}

	for {
		result, err := manager.PollNextEvent(ctx, cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, sessions.ErrClosed) {
				return nil
			}
			return fmt.Errorf("poll session events: %w", err)
		}

		switch result.Outcome {
		case sessions.OutcomeNoEvent:
			return nil

		case sessions.OutcomeEvent:
			if err := applyRegistryEvent(ctx, manager, result.Event); err != nil {
				logger.Warnw("Failed to apply registry event", "event", result, "error", err)
			}
		}

		// a timed out poll still re-arbitrates, playback changes inside a session
		// don't surface as registry events
		key, _, err := arbitrate(ctx, manager)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnw("Failed to figure out active session", "error", err)
			continue
		}

		if result.Outcome == sessions.OutcomeEvent && result.Event != sessions.ActiveSessionChanged {
			if err := printWatchLine(result.String(), key, manager.SessionKeys()); err != nil {
				return err
			}
		}

		if key != activeKey {
			activeKey = key
			if err := printWatchLine(sessions.ActiveSessionChanged.String(), key, nil); err != nil {
				return err
			}
		}
	}
}

// applyRegistryEvent re-reads both the session list and the system session for any
// list or system change, a latest-wins event may have covered the other kind
func applyRegistryEvent(ctx context.Context, manager *sessions.PlayerManager, event sessions.ManagerEvent) error {
	if event != sessions.SessionsChanged && event != sessions.SystemSessionChanged {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := manager.UpdateSessions(ctx, cfg.Denylist); err != nil {
		return err
	}
	return manager.UpdateSystemSession(ctx)
}

func arbitrate(ctx context.Context, manager *sessions.PlayerManager) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	return manager.FigureOutActiveSession(ctx)
}

func printWatchLine(event, active string, keys []string) error {
	line := watchLine{Time: time.Now(), Event: event, Active: active, Keys: keys}

	if JSONOutput() {
		return printJSON(line)
	}

	active = orDash(active)
	if keys != nil {
		fmt.Printf("%s  %-22s active=%s sessions=%v\n", line.Time.Format("15:04:05"), event, active, keys)
	} else {
		fmt.Printf("%s  %-22s active=%s\n", line.Time.Format("15:04:05"), event, active)
	}

	return nil
}
