package notify

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier shows short messages to the user
type Notifier interface {
	Notify(title string, message string)
}

// DesktopNotifier sends notifications through the desktop's notification service
type DesktopNotifier struct {
	logger      *zap.SugaredLogger
	appIcon     []byte
	appIconPath string

	iconOnce sync.Once
	send     func(title, message, appIcon string) error
}

// NewDesktopNotifier creates a DesktopNotifier. appIcon is written to a temporary file
// on first use, since notification services only accept icon paths
func NewDesktopNotifier(logger *zap.SugaredLogger, appName string, appIcon []byte) (*DesktopNotifier, error) {
	logger = logger.Named("notifier")

	dn := &DesktopNotifier{
		logger:      logger,
		appIcon:     appIcon,
		appIconPath: filepath.Join(os.TempDir(), appName+".ico"),
		send:        beeep.Notify,
	}

	logger.Debug("Created desktop notifier instance")

	return dn, nil
}

func (dn *DesktopNotifier) Notify(title string, message string) {
	if err := dn.send(title, message, dn.iconPath()); err != nil {
		dn.logger.Errorw("Failed to send desktop notification", "error", err)
		return
	}

	dn.logger.Debugw("Sent desktop notification", "title", title)
}

func (dn *DesktopNotifier) iconPath() string {
	dn.iconOnce.Do(func() {
		if len(dn.appIcon) == 0 {
			dn.appIconPath = ""
			return
		}

		if err := os.WriteFile(dn.appIconPath, dn.appIcon, 0o644); err != nil {
			dn.logger.Warnw("Failed to write notification icon", "path", dn.appIconPath, "error", err)
			dn.appIconPath = ""
		}
	})

	return dn.appIconPath
}

// Discard drops every notification, for when they're disabled in the config
type Discard struct{}

func (Discard) Notify(string, string) {}

// Toggle forwards notifications to Notifier only while Enabled returns true
type Toggle struct {
	Notifier Notifier
	Enabled  func() bool
}

func (t Toggle) Notify(title string, message string) {
	if t.Enabled != nil && !t.Enabled() {
		return
	}

	t.Notifier.Notify(title, message)
}
