package mediactl

import (
	"context"

	"github.com/getlantern/systray"

	"github.com/nik9play/mediactl/pkg/mediactl/icon"
	"github.com/nik9play/mediactl/pkg/mediactl/util"
)

func (m *Mediactl) initializeTray(onDone func()) {
	logger := m.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTemplateIcon(icon.Logo, icon.Logo)
		systray.SetTitle(appName)
		systray.SetTooltip(appName)

		noActiveSession := localize(m.localizer, "NoActiveSessionTitle", "No active session", nil)
		activeSession := systray.AddMenuItem(noActiveSession, "")
		activeSession.Disable()

		playPause := systray.AddMenuItem(localize(m.localizer, "PlayPauseTitle", "Play/Pause", nil), "")
		next := systray.AddMenuItem(localize(m.localizer, "NextTrackTitle", "Next track", nil), "")
		previous := systray.AddMenuItem(localize(m.localizer, "PreviousTrackTitle", "Previous track", nil), "")

		systray.AddSeparator()

		editConfig := systray.AddMenuItem(
			localize(m.localizer, "EditConfigTitle", "Edit configuration", nil),
			localize(m.localizer, "EditConfigDescription", "Open config file with the default editor", nil),
		)
		editConfig.SetIcon(icon.EditConfig)

		refreshSessions := systray.AddMenuItem(
			localize(m.localizer, "RescanSessionsTitle", "Re-scan media sessions", nil),
			localize(m.localizer, "RescanSessionsDescription", "Manually refresh media sessions if something's stuck", nil),
		)
		refreshSessions.SetIcon(icon.RefreshSessions)

		if m.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(m.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()

		quit := systray.AddMenuItem(
			localize(m.localizer, "QuitTitle", "Quit", nil),
			localize(m.localizer, "QuitDescription", "Stop mediactl and quit", nil),
		)

		activeChanges := m.controller.SubscribeToActiveSessionChanges()

		// wait on things to happen
		go func() {
			for {
				select {

				// quit
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					m.signalStop()

				// transport
				case <-playPause.ClickedCh:
					logger.Debug("Play/pause menu item clicked")
					m.controller.handleRemoteCommand(RemoteCommand{Action: RemoteToggle})

				case <-next.ClickedCh:
					logger.Debug("Next menu item clicked")
					m.controller.handleRemoteCommand(RemoteCommand{Action: RemoteNext})

				case <-previous.ClickedCh:
					logger.Debug("Previous menu item clicked")
					m.controller.handleRemoteCommand(RemoteCommand{Action: RemotePrevious})

				// edit config
				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					if err := util.OpenExternal(logger, m.config.Path()); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}

				// refresh sessions
				case <-refreshSessions.ClickedCh:
					logger.Info("Refresh sessions menu item clicked, triggering session refresh")

					// users can't click fast enough for a forced refresh to matter
					m.controller.refreshSessions(true)

				// keep the first menu item in sync with the active session
				case label := <-activeChanges:
					if label == "" {
						activeSession.SetTitle(noActiveSession)
						systray.SetTooltip(appName)
						continue
					}

					title := localize(m.localizer, "ActiveSessionTitle", "Active: {{.Session}}", map[string]string{"Session": label})
					activeSession.SetTitle(title)
					systray.SetTooltip(title)
				}
			}
		}()

		// show the session picked during initialization
		m.controller.refreshActiveLabel(context.Background())

		// actually start the main runtime
		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	// start the tray icon
	logger.Debug("Running in tray")
	m.trayRunning = true
	systray.Run(onReady, onExit)
}

func (m *Mediactl) stopTray() {
	if !m.trayRunning {
		return
	}

	m.logger.Debug("Quitting tray")
	systray.Quit()
}
