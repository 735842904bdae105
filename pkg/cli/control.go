package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nik9play/mediactl/pkg/sessions"
)

// transportCommand describes one of the argument-less playback commands
type transportCommand struct {
	use     string
	aliases []string
	short   string
	status  string
	message string
	run     func(p *sessions.Player, ctx context.Context) (bool, error)
}

var transportCommands = []transportCommand{
	{"play", []string{"resume"}, "Start or resume playback", "playing", "▶ Playing", (*sessions.Player).Play},
	{"pause", nil, "Pause playback", "paused", "⏸ Paused", (*sessions.Player).Pause},
	{"toggle", []string{"play-pause"}, "Toggle between play and pause", "toggled", "⏯ Toggled", (*sessions.Player).PlayPause},
	{"stop", nil, "Stop playback", "stopped", "⏹ Stopped", (*sessions.Player).Stop},
	{"next", []string{"skip"}, "Skip to next track", "skipped", "⏭ Skipped to next track", (*sessions.Player).Next},
	{"prev", []string{"previous"}, "Go to previous track", "previous", "⏮ Previous track", (*sessions.Player).Previous},
}

var shuffleCmd = &cobra.Command{
	Use:   "shuffle [on|off]",
	Short: "Set or toggle shuffle",
	Long: `Turn shuffle on or off. Without an argument, the last setting mediactl
applied to the session is flipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShuffle,
}

var repeatCmd = &cobra.Command{
	Use:   "repeat <off|track|context>",
	Short: "Set the repeat mode",
	Long: `Set the repeat mode of the session.

Accepted modes:
  off, none                       no repeat
  track, one                      repeat the current track
  context, all, list, playlist    repeat the playlist or album`,
	Args: cobra.ExactArgs(1),
	RunE: runRepeat,
}

func init() {
	for _, tc := range transportCommands {
		rootCmd.AddCommand(newTransportCmd(tc))
	}

	rootCmd.AddCommand(shuffleCmd)
	rootCmd.AddCommand(repeatCmd)
}

func newTransportCmd(tc transportCommand) *cobra.Command {
	return &cobra.Command{
		Use:     tc.use,
		Aliases: tc.aliases,
		Short:   tc.short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlayer(func(ctx context.Context, p *sessions.Player) error {
				ok, err := tc.run(p, ctx)
				if err := accepted(tc.use, p.Key(), ok, err); err != nil {
					return err
				}

				return report(p.Key(), tc.status, tc.message)
			})
		},
	}
}

func runShuffle(cmd *cobra.Command, args []string) error {
	return withPlayer(func(ctx context.Context, p *sessions.Player) error {
		var value bool

		if len(args) == 0 {
			current, err := p.Shuffle()
			if err != nil {
				return err
			}
			value = !current
		} else {
			var err error
			if value, err = parseOnOff(args[0]); err != nil {
				return err
			}
		}

		ok, err := p.SetShuffle(ctx, value)
		if err := accepted("shuffle", p.Key(), ok, err); err != nil {
			return err
		}

		if value {
			return report(p.Key(), "shuffle_on", "🔀 Shuffle on")
		}
		return report(p.Key(), "shuffle_off", "➡ Shuffle off")
	})
}

func runRepeat(cmd *cobra.Command, args []string) error {
	// reject bad modes before touching the session bus
	mode, err := sessions.ParseRepeatMode(args[0])
	if err != nil {
		return err
	}

	return withPlayer(func(ctx context.Context, p *sessions.Player) error {
		ok, err := p.SetRepeat(ctx, string(mode))
		if err := accepted("repeat", p.Key(), ok, err); err != nil {
			return err
		}

		return report(p.Key(), "repeat_"+string(mode), "🔁 Repeat "+string(mode))
	})
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}

	return false, fmt.Errorf("%w: %q (must be on or off)", ErrInvalidArgument, value)
}

// report prints the outcome of a command
func report(key, status, message string) error {
	if JSONOutput() {
		return printJSON(map[string]string{"session": key, "status": status})
	}

	fmt.Printf("%s (%s)\n", message, key)
	return nil
}
