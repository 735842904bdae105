package mediactl

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/nik9play/mediactl/pkg/mediactl/util"
	"github.com/nik9play/mediactl/pkg/notify"
	"github.com/nik9play/mediactl/pkg/sessions"
)

// CanonicalConfig provides application-wide access to configuration fields,
// as well as loading/file watching logic for mediactl's configuration file
type CanonicalConfig struct {
	PollTimeout   time.Duration
	Denylist      []string
	Language      string
	Notifications bool

	Remote RemoteConfig

	configPath string

	logger             *zap.SugaredLogger
	notifier           notify.Notifier
	stopWatcherChannel chan bool

	lock            sync.Mutex
	reloadConsumers []chan bool

	userConfig *viper.Viper
}

// RemoteConfig holds the serial remote settings
type RemoteConfig struct {
	Enabled  bool
	COMPort  string
	BaudRate int
	SeekStep time.Duration
}

const (
	// DefaultConfigFilepath is used when no config path is given
	DefaultConfigFilepath = "config.yaml"

	configType = "yaml"
	envPrefix  = "MEDIACTL"

	configKeyPollTimeout    = "poll_timeout"
	configKeyDenylist       = "denylist"
	configKeyLanguage       = "language"
	configKeyNotifications  = "notifications"
	configKeyRemoteEnabled  = "remote.enabled"
	configKeyRemoteCOMPort  = "remote.com_port"
	configKeyRemoteBaudRate = "remote.baud_rate"
	configKeyRemoteSeekStep = "remote.seek_step"

	defaultLanguage = "auto"
	defaultCOMPort  = "auto"
	defaultBaudRate = 9600
	defaultSeekStep = 10 * time.Second
)

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// NewConfig creates a config instance for the mediactl object and sets up viper instances for mediactl's config files
func NewConfig(logger *zap.SugaredLogger, notifier notify.Notifier, configPath string) (*CanonicalConfig, error) {
	logger = logger.Named("config")

	if configPath == "" {
		configPath = DefaultConfigFilepath
	}

	cc := &CanonicalConfig{
		logger:             logger,
		notifier:           notifier,
		configPath:         configPath,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	// distinguish between the user-provided config (config.yaml) and the environment
	userConfig := viper.New()
	userConfig.SetConfigFile(configPath)
	userConfig.SetConfigType(configType)

	userConfig.SetDefault(configKeyPollTimeout, sessions.DefaultPollTimeout)
	userConfig.SetDefault(configKeyDenylist, []string{})
	userConfig.SetDefault(configKeyLanguage, defaultLanguage)
	userConfig.SetDefault(configKeyNotifications, true)
	userConfig.SetDefault(configKeyRemoteEnabled, false)
	userConfig.SetDefault(configKeyRemoteCOMPort, defaultCOMPort)
	userConfig.SetDefault(configKeyRemoteBaudRate, defaultBaudRate)
	userConfig.SetDefault(configKeyRemoteSeekStep, defaultSeekStep)

	// MEDIACTL_REMOTE_COM_PORT overrides remote.com_port and so on
	userConfig.SetEnvPrefix(envPrefix)
	userConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	userConfig.AutomaticEnv()

	cc.userConfig = userConfig

	logger.Debugw("Created config instance", "path", configPath)

	return cc, nil
}

// Path returns the config file location
func (cc *CanonicalConfig) Path() string {
	return cc.configPath
}

// Load reads mediactl's config file from disk and tries to parse it.
// A missing config file is created with the default values
func (cc *CanonicalConfig) Load(localizer *i18n.Localizer) error {
	cc.logger.Debugw("Loading config", "path", cc.configPath)

	if !util.FileExists(cc.configPath) {
		cc.logger.Infow("Config file not found, writing defaults", "path", cc.configPath)

		if err := cc.writeDefaults(); err != nil {
			cc.logger.Warnw("Failed to write default config", "error", err)

			cc.notifier.Notify(
				localize(localizer, "ConfigMissingTitle", "Can't find configuration!", nil),
				localize(localizer, "ConfigMissingDescription", "{{.Path}} doesn't exist and can't be created.",
					map[string]string{"Path": cc.configPath}),
			)

			return fmt.Errorf("write default config: %w", err)
		}
	}

	if err := cc.userConfig.ReadInConfig(); err != nil {
		cc.logger.Warnw("Viper failed to read user config", "error", err)

		cc.notifier.Notify(
			localize(localizer, "ConfigInvalidTitle", "Invalid configuration!", nil),
			localize(localizer, "ConfigInvalidDescription", "Please make sure {{.Path}} is in a valid YAML format.",
				map[string]string{"Path": cc.configPath}),
		)

		return fmt.Errorf("read user config: %w", err)
	}

	if err := cc.populateFromVipers(); err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)

		cc.notifier.Notify(
			localize(localizer, "ConfigInvalidTitle", "Invalid configuration!", nil),
			err.Error(),
		)

		return fmt.Errorf("populate config fields: %w", err)
	}

	cc.logger.Info("Loaded config successfully")
	cc.logger.Infow("Config values",
		"pollTimeout", cc.PollTimeout,
		"denylist", cc.Denylist,
		"language", cc.Language,
		"notifications", cc.Notifications,
		"remote", cc.Remote)

	return nil
}

// Validate checks the parsed values for errors
func (cc *CanonicalConfig) Validate() error {
	var errs []error

	if cc.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %v", configKeyPollTimeout, cc.PollTimeout))
	}
	if cc.Language == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", configKeyLanguage))
	}
	if err := cc.Remote.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("remote: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// Validate checks RemoteConfig for errors
func (rc *RemoteConfig) Validate() error {
	var errs []error

	if rc.COMPort == "" {
		errs = append(errs, errors.New("com_port must not be empty (use \"auto\" to detect it)"))
	}
	if rc.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be positive, got %d", rc.BaudRate))
	}
	if rc.SeekStep <= 0 {
		errs = append(errs, fmt.Errorf("seek_step must be positive, got %v", rc.SeekStep))
	}

	return errors.Join(errs...)
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *CanonicalConfig) SubscribeToChanges() chan bool {
	c := make(chan bool, 1)

	cc.lock.Lock()
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	cc.lock.Unlock()

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *CanonicalConfig) WatchConfigFileChanges(localizer *i18n.Localizer) {
	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.configPath)

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	lastAttemptedReload := time.Now()

	// establish watch using viper as opposed to doing it ourselves, though our internal cooldown is still required
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {

		// when we get a write event...
		if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {

			now := time.Now()

			// ... check if it's not a duplicate (many editors will write to a file twice)
			if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).Before(now) {

				// and attempt reload if appropriate
				cc.logger.Debugw("Config file modified, attempting reload", "event", event)

				// wait a bit to let the editor actually flush the new file contents to disk
				<-time.After(delayBetweenEventAndReload)

				if err := cc.Load(localizer); err != nil {
					cc.logger.Warnw("Failed to reload config file", "error", err)
				} else if err := cc.Validate(); err != nil {
					cc.logger.Warnw("Reloaded config is invalid", "error", err)
					cc.notifier.Notify(localize(localizer, "ConfigInvalidTitle", "Invalid configuration!", nil), err.Error())
				} else {
					cc.logger.Info("Reloaded config successfully")

					cc.notifier.Notify(
						localize(localizer, "ConfigReloadedTitle", "Configuration reloaded!", nil),
						localize(localizer, "ConfigReloadedDescription", "Your changes have been applied.", nil),
					)

					cc.onConfigReloaded()
				}

				// don't forget to update the time
				lastAttemptedReload = now
			}
		}
	})

	cc.userConfig.WatchConfig()

	// wait till they stop us
	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
	cc.userConfig.OnConfigChange(func(fsnotify.Event) {})
}

// StopWatchingConfigFile signals our filesystem watcher to stop
func (cc *CanonicalConfig) StopWatchingConfigFile() {
	select {
	case cc.stopWatcherChannel <- true:
	default:
		cc.logger.Debug("Config file watcher isn't running")
	}
}

func (cc *CanonicalConfig) populateFromVipers() error {
	cc.PollTimeout = cc.userConfig.GetDuration(configKeyPollTimeout)
	cc.Language = cc.userConfig.GetString(configKeyLanguage)
	cc.Notifications = cc.userConfig.GetBool(configKeyNotifications)

	// trim and drop duplicates, keys are matched exactly
	denylist := make([]string, 0)
	for _, key := range cc.userConfig.GetStringSlice(configKeyDenylist) {
		if key = strings.TrimSpace(key); key != "" {
			denylist = append(denylist, key)
		}
	}
	cc.Denylist = funk.UniqString(denylist)

	cc.Remote = RemoteConfig{
		Enabled:  cc.userConfig.GetBool(configKeyRemoteEnabled),
		COMPort:  cc.userConfig.GetString(configKeyRemoteCOMPort),
		BaudRate: cc.userConfig.GetInt(configKeyRemoteBaudRate),
		SeekStep: cc.userConfig.GetDuration(configKeyRemoteSeekStep),
	}

	cc.logger.Debug("Populated config fields from vipers")

	return nil
}

func (cc *CanonicalConfig) writeDefaults() error {
	if dir := filepath.Dir(cc.configPath); dir != "." {
		if err := util.EnsureDirExists(dir); err != nil {
			return err
		}
	}

	if err := cc.userConfig.SafeWriteConfigAs(cc.configPath); err != nil {
		return fmt.Errorf("write %s: %w", cc.configPath, err)
	}

	return nil
}

func (cc *CanonicalConfig) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	cc.lock.Lock()
	defer cc.lock.Unlock()

	// a consumer that hasn't handled the previous reload yet will pick up this one too
	for _, consumer := range cc.reloadConsumers {
		select {
		case consumer <- true:
		default:
		}
	}
}
