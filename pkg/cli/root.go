// Package cli is mediactl's command tree: one-shot session commands plus the tray daemon
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nik9play/mediactl/pkg/mediactl"
	"github.com/nik9play/mediactl/pkg/notify"
)

var (
	cfgFile    string
	jsonOut    bool
	verbose    bool
	sessionKey string

	cfg    *mediactl.CanonicalConfig
	logger *zap.SugaredLogger

	version   = "dev"
	buildType = mediactl.BuildTypeNone
)

var rootCmd = &cobra.Command{
	Use:   "mediactl",
	Short: "Control desktop media sessions from the command line",
	Long: `mediactl keeps track of the media sessions on this machine, picks the one that
is currently playing and lets you control it from the command line, a tray icon or a
serial remote.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: "+mediactl.DefaultConfigFilepath+")")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&sessionKey, "session", "s", "", "target session key (default: the active session)")
}

func initConfig() error {
	var err error

	logger, err = mediactl.NewLogger(mediactl.BuildTypeCLI, verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger = logger.Named("cli")

	// one-shot commands report problems on stderr instead of the desktop
	cfg, err = mediactl.NewConfig(logger, notify.Discard{}, cfgFile)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}

	if err := cfg.Load(nil); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	return nil
}

// SetVersion sets the version and build type reported by the version command and the daemon
func SetVersion(v, build string) {
	if v != "" {
		version = v
	}
	buildType = build
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, Format(err))
		os.Exit(1)
	}
}

// JSONOutput returns true if JSON output is requested.
func JSONOutput() bool {
	return jsonOut
}
