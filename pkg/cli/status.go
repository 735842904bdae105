package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nik9play/mediactl/pkg/mediactl/util"
	"github.com/nik9play/mediactl/pkg/sessions"
)

var listSessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls", "list"},
	Short:   "List media sessions",
	Long: `List every media session mediactl tracks, in discovery order. The active
session is the one commands target by default.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the targeted session's playback status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(listSessionsCmd)
	rootCmd.AddCommand(statusCmd)
}

// sessionInfo is one entry of the sessions listing
type sessionInfo struct {
	Key    string           `json:"key"`
	Active bool             `json:"active"`
	System bool             `json:"system"`
	Status *sessions.Status `json:"status,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	manager, err := openManager(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = manager.Release() }()

	activeKey, _ := manager.ActiveSessionKey()

	var infos []sessionInfo
	for _, key := range manager.SessionKeys() {
		player, ok := manager.GetSession(key)
		if !ok {
			continue
		}
		infos = append(infos, describe(ctx, player, key == activeKey, false))
	}

	if player, ok := manager.GetSystemSession(); ok {
		infos = append(infos, describe(ctx, player, false, true))
	}

	if JSONOutput() {
		if infos == nil {
			infos = []sessionInfo{}
		}
		return printJSON(infos)
	}

	if len(infos) == 0 {
		fmt.Println("No media sessions found")
		return nil
	}

	table := NewTable("", "SESSION", "STATUS", "ARTIST", "TITLE")
	for _, info := range infos {
		marker := ""
		switch {
		case info.Active:
			marker = "*"
		case info.System:
			marker = "S"
		}

		status, artist, title := "error", "-", "-"
		if info.Status != nil {
			status = info.Status.Playback.String()
			if info.Status.Metadata != nil {
				artist = orDash(info.Status.Metadata.Artist)
				title = orDash(info.Status.Metadata.Title)
			}
		}

		table.Row(marker, info.Key, status, artist, title)
	}
	table.Flush()

	return nil
}

func describe(ctx context.Context, player *sessions.Player, active, system bool) sessionInfo {
	info := sessionInfo{Key: player.Key(), Active: active, System: system}

	status, err := player.Status(ctx)
	if err != nil {
		logger.Debugw("Failed to get session status", "key", info.Key, "error", err)
		info.Error = err.Error()
		return info
	}

	info.Status = &status
	return info
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withPlayer(func(ctx context.Context, p *sessions.Player) error {
		status, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("get status of %s: %w", p.Key(), err)
		}

		position, err := p.GetPosition(ctx, true)
		if err != nil {
			return fmt.Errorf("get position of %s: %w", p.Key(), err)
		}

		if JSONOutput() {
			return printJSON(struct {
				Key string `json:"key"`
				sessions.Status
				Position *sessions.Position `json:"position,omitempty"`
			}{p.Key(), status, position})
		}

		fmt.Print(formatStatus(p.Key(), status, position))
		return nil
	})
}

// formatStatus renders a status block like
//
//	▶ Artist - Title
//	  Album
//	  1:02 / 3:45
//	  (vlc, playing)
func formatStatus(key string, status sessions.Status, position *sessions.Position) string {
	var sb strings.Builder

	icon := "⏹"
	switch status.Playback {
	case sessions.PlaybackStatusPlaying:
		icon = "▶"
	case sessions.PlaybackStatusPaused:
		icon = "⏸"
	}

	heading := status.Playback.String()
	if md := status.Metadata; md != nil {
		parts := make([]string, 0, 2)
		if md.Artist != "" {
			parts = append(parts, md.Artist)
		}
		if md.Title != "" {
			parts = append(parts, md.Title)
		}
		if len(parts) > 0 {
			heading = strings.Join(parts, " - ")
		}
	}
	fmt.Fprintf(&sb, "%s %s\n", icon, heading)

	if md := status.Metadata; md != nil && md.Album != "" {
		fmt.Fprintf(&sb, "  %s\n", md.Album)
	}

	if position != nil {
		fmt.Fprintf(&sb, "  %s\n", formatProgress(position.Position, position.Duration))
	}

	fmt.Fprintf(&sb, "  (%s, %s)\n", key, status.Playback)

	return sb.String()
}

func formatProgress(position, duration time.Duration) string {
	if duration <= 0 {
		return util.FormatDuration(position)
	}
	return util.FormatDuration(position) + " / " + util.FormatDuration(duration)
}
