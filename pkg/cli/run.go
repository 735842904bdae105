package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nik9play/mediactl/pkg/mediactl"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"daemon"},
	Short:   "Run the tray daemon",
	Long: `Run mediactl in the background: a tray icon shows the active session, the
config file is watched for changes and an optional serial remote controls playback.
Set MEDIACTL_NO_TRAY_ICON to run without the tray icon.`,
	Args: cobra.NoArgs,
	// the daemon loads and watches its config itself
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// first we need a logger
	rootLogger, err := mediactl.NewLogger(buildType, verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	named := rootLogger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info", "version", version, "buildType", buildType)

	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	// create the mediactl instance
	m, err := mediactl.NewMediactl(rootLogger, verbose, cfgFile)
	if err != nil {
		named.Errorw("Failed to create mediactl object", "error", err)
		return err
	}

	// if injected by build process, set version info to show up in the tray
	if buildType != mediactl.BuildTypeNone && version != "" {
		identifier := fmt.Sprintf("Version %s-%s", buildType, version)
		m.SetVersion(identifier)
	}

	// onwards, to glory
	if err := m.Initialize(); err != nil {
		named.Errorw("Failed to initialize mediactl", "error", err)
		return err
	}

	return nil
}
