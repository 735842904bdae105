package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nik9play/mediactl/pkg/sessions"
)

var (
	seekPercent float64
	seekTo      string
	liveFlag    bool
)

var seekCmd = &cobra.Command{
	Use:   "seek [offset]",
	Short: "Move the playback position",
	Long: `Move the playback position relative to the current one, to an absolute
position, or to a percentage of the track.

Examples:
  mediactl seek +30s         # Skip 30 seconds ahead
  mediactl seek -10          # Rewind 10 seconds
  mediactl seek --to 1m30s   # Jump to 1:30
  mediactl seek --percent 50 # Jump to the middle of the track`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeek,
}

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Show the playback position",
	Long: `Show the last playback position the session reported. With --live, the
position of a playing session is extrapolated to the current moment.`,
	Args: cobra.NoArgs,
	RunE: runPosition,
}

func init() {
	seekCmd.Flags().Float64VarP(&seekPercent, "percent", "p", -1, "Seek to a percentage (0-100) of the track")
	seekCmd.Flags().StringVar(&seekTo, "to", "", "Seek to an absolute position (e.g. 1m30s or 90)")
	seekCmd.MarkFlagsMutuallyExclusive("percent", "to")

	positionCmd.Flags().BoolVarP(&liveFlag, "live", "l", false, "Extrapolate the position of a playing session")

	rootCmd.AddCommand(seekCmd)
	rootCmd.AddCommand(positionCmd)
}

func runSeek(cmd *cobra.Command, args []string) error {
	percentSet := cmd.Flags().Changed("percent")
	toSet := cmd.Flags().Changed("to")

	switch {
	case (percentSet || toSet) && len(args) > 0:
		return fmt.Errorf("%w: give either an offset or --to/--percent", ErrInvalidArgument)
	case !percentSet && !toSet && len(args) == 0:
		return fmt.Errorf("%w: missing offset", ErrInvalidArgument)
	}

	var (
		offset, target time.Duration
		err            error
	)

	switch {
	case toSet:
		if target, err = parseOffset(seekTo); err != nil {
			return err
		}
	case !percentSet:
		if offset, err = parseOffset(args[0]); err != nil {
			return err
		}
	}

	return withPlayer(func(ctx context.Context, p *sessions.Player) error {
		var ok bool

		switch {
		case percentSet:
			ok, err = p.SeekPercentage(ctx, seekPercent)
		case toSet:
			ok, err = p.SetPosition(ctx, target)
		default:
			ok, err = p.Seek(ctx, offset)
		}

		if err := accepted("seek", p.Key(), ok, err); err != nil {
			return err
		}

		return report(p.Key(), "seeked", "⏩ Seeked")
	})
}

// parseOffset accepts Go durations ("+30s", "-1m") and plain seconds ("90", "-10")
func parseOffset(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)

	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a duration", ErrInvalidArgument, value)
	}

	return d, nil
}

func runPosition(cmd *cobra.Command, args []string) error {
	return withPlayer(func(ctx context.Context, p *sessions.Player) error {
		position, err := p.GetPosition(ctx, liveFlag)
		if err != nil {
			return fmt.Errorf("get position of %s: %w", p.Key(), err)
		}

		if position == nil {
			return fmt.Errorf("%s: %w", p.Key(), ErrNoPosition)
		}

		if JSONOutput() {
			return printJSON(struct {
				Key string `json:"key"`
				*sessions.Position
			}{p.Key(), position})
		}

		fmt.Println(formatProgress(position.Position, position.Duration))
		return nil
	})
}
