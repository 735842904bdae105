// Package mediactl provides a tray daemon that keeps track of the desktop's media
// sessions and lets a serial remote or the tray menu control the active one
package mediactl

import (
	"context"
	"fmt"
	"os"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"

	"github.com/nik9play/mediactl/pkg/mediactl/icon"
	"github.com/nik9play/mediactl/pkg/mediactl/util"
	"github.com/nik9play/mediactl/pkg/notify"
	"github.com/nik9play/mediactl/pkg/sessions"
)

const (
	// when this is set to anything, mediactl won't use a tray icon
	envNoTray = "MEDIACTL_NO_TRAY_ICON"

	appName = "mediactl"
)

// Mediactl is the main entity managing access to all sub-components
type Mediactl struct {
	logger     *zap.SugaredLogger
	notifier   notify.Notifier
	config     *CanonicalConfig
	remote     *SerialRemote
	controller *sessionController
	bundle     *i18n.Bundle
	localizer  *i18n.Localizer

	stopChannel chan bool
	version     string
	verbose     bool
	trayRunning bool
}

// NewMediactl creates a Mediactl instance
func NewMediactl(logger *zap.SugaredLogger, verbose bool, configPath string) (*Mediactl, error) {
	logger = logger.Named("mediactl")

	bundle, err := newBundle()
	if err != nil {
		logger.Errorw("Failed to load message files", "error", err)
		return nil, fmt.Errorf("load message files: %w", err)
	}

	desktopNotifier, err := notify.NewDesktopNotifier(logger, appName, icon.Logo)
	if err != nil {
		logger.Errorw("Failed to create DesktopNotifier", "error", err)
		return nil, fmt.Errorf("create new DesktopNotifier: %w", err)
	}

	m := &Mediactl{
		logger:      logger,
		stopChannel: make(chan bool, 1),
		verbose:     verbose,
		bundle:      bundle,
	}

	// config problems are always reported, everything else only if enabled
	config, err := NewConfig(logger, desktopNotifier, configPath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	m.config = config
	m.notifier = notify.Toggle{
		Notifier: desktopNotifier,
		Enabled:  func() bool { return m.config.Notifications },
	}

	remote, err := NewSerialRemote(m, logger)
	if err != nil {
		logger.Errorw("Failed to create SerialRemote", "error", err)
		return nil, fmt.Errorf("create new SerialRemote: %w", err)
	}

	m.remote = remote

	sessionFinder, err := sessions.NewSessionFinder(logger)
	if err != nil {
		logger.Errorw("Failed to create SessionFinder", "error", err)
		return nil, fmt.Errorf("create new SessionFinder: %w", err)
	}

	controller, err := newSessionController(m, logger, sessionFinder)
	if err != nil {
		logger.Errorw("Failed to create session controller", "error", err)
		return nil, fmt.Errorf("create new session controller: %w", err)
	}

	m.controller = controller

	logger.Debug("Created mediactl instance")

	return m, nil
}

// Initialize sets up components and starts to run in the background
func (m *Mediactl) Initialize() error {
	m.logger.Debug("Initializing")

	// create temp initialLocalizer because we don't know the language yet
	initialLocalizer, _, err := newLocalizer(m.bundle, autoLanguage)
	if err != nil {
		m.logger.Warnw("Failed to get system localizer, using English", "error", err)
	}

	// load the config for the first time
	if err := m.config.Load(initialLocalizer); err != nil {
		m.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	if err := m.config.Validate(); err != nil {
		m.logger.Errorw("Invalid config", "error", err)
		return err
	}

	if err := m.updateLocalizer(); err != nil {
		m.logger.Errorw("Failed to update localizer", "error", err)
		return fmt.Errorf("update localizer: %w", err)
	}

	// initialize the session controller
	if err := m.controller.initialize(context.Background()); err != nil {
		m.logger.Errorw("Failed to initialize session controller", "error", err)
		return fmt.Errorf("init session controller: %w", err)
	}

	// decide whether to run with/without tray
	if _, noTraySet := os.LookupEnv(envNoTray); noTraySet {

		m.logger.Debugw("Running without tray icon", "reason", "envvar set")

		// run in main thread while waiting on ctrl+C
		m.setupInterruptHandler()
		m.run()

	} else {
		m.setupInterruptHandler()
		m.initializeTray(m.run)
	}

	return nil
}

func (m *Mediactl) updateLocalizer() error {
	localizer, lang, err := newLocalizer(m.bundle, m.config.Language)
	if err != nil {
		m.logger.Errorw("Failed to get system locale", "error", err)
		return err
	}

	m.logger.Infow("Selected language", "language", lang)
	m.localizer = localizer

	return nil
}

// SetVersion causes mediactl to add a version string to its tray menu if called before Initialize
func (m *Mediactl) SetVersion(version string) {
	m.version = version
}

// Verbose returns a boolean indicating whether mediactl is running in verbose mode
func (m *Mediactl) Verbose() bool {
	return m.verbose
}

func (m *Mediactl) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		m.logger.Debugw("Interrupted", "signal", signal)
		m.signalStop()
	}()
}

func (m *Mediactl) run() {
	m.logger.Info("Run loop starting")

	// watch the config file for changes
	go m.config.WatchConfigFileChanges(m.localizer)

	// start following session events
	m.controller.start()

	// connect to the remote
	m.remote.Start()

	// wait until stopped (gracefully)
	<-m.stopChannel
	m.logger.Debug("Stop channel signaled, terminating")

	if err := m.stop(); err != nil {
		m.logger.Warnw("Failed to stop mediactl", "error", err)
		os.Exit(1)
	}

	// exit with 0
	os.Exit(0)
}

func (m *Mediactl) signalStop() {
	m.logger.Debug("Signalling stop channel")

	select {
	case m.stopChannel <- true:
	default:
	}
}

func (m *Mediactl) stop() error {
	m.logger.Info("Stopping")

	m.config.StopWatchingConfigFile()
	m.remote.Stop()

	// release the session controller
	if err := m.controller.release(); err != nil {
		m.logger.Errorw("Failed to release session controller", "error", err)
		return fmt.Errorf("release session controller: %w", err)
	}

	m.stopTray()

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = m.logger.Sync()

	return nil
}
