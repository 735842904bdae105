package mediactl

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// VIDPID identifies a USB serial adapter
type VIDPID struct {
	VID uint64
	PID uint64
}

// RemoteAction is a single button of the serial remote
type RemoteAction string

const (
	RemotePlay     RemoteAction = "play"
	RemotePause    RemoteAction = "pause"
	RemoteToggle   RemoteAction = "toggle"
	RemoteStop     RemoteAction = "stop"
	RemoteNext     RemoteAction = "next"
	RemotePrevious RemoteAction = "prev"
	RemoteShuffle  RemoteAction = "shuffle"
	RemoteRepeat   RemoteAction = "repeat"
	RemoteSeek     RemoteAction = "seek"
)

// RemoteCommand is one parsed line received from the serial remote
type RemoteCommand struct {
	Action RemoteAction
	Offset time.Duration
}

// SerialRemote reads transport commands from a microcontroller over a serial port
type SerialRemote struct {
	comPort  string
	baudRate int

	mediactl *Mediactl
	logger   *zap.SugaredLogger

	stopChannel chan struct{}
	errChannel  chan error
	wg          sync.WaitGroup
	running     bool
	stopping    atomic.Bool
	port        serial.Port
	mode        serial.Mode

	commandConsumers []chan RemoteCommand
}

var ErrNoSerialPorts = errors.New("no serial ports found")
var ErrAutoPortNotFound = errors.New("can't autodetect com port")

// CH340 clones and genuine Arduino Uno/Leonardo boards
var allowedVIDPIDs = []VIDPID{{0x1A86, 0x7523}, {0x2341, 0x0043}, {0x2341, 0x8036}}

var expectedLinePattern = regexp.MustCompile(`^(play|pause|toggle|stop|next|prev|shuffle|repeat|seek:[+-]\d{0,5})\r?\n$`)

const (
	remoteReadTimeout  = 3 * time.Second
	remoteRetryDelay   = 2 * time.Second
	commandChannelSize = 8
	readBufferSize     = 64
	maxLineLength      = 32
)

// NewSerialRemote creates a SerialRemote instance that uses the provided mediactl
// instance's connection info to establish communications with the remote
func NewSerialRemote(mediactl *Mediactl, logger *zap.SugaredLogger) (*SerialRemote, error) {
	logger = logger.Named("remote")

	sr := &SerialRemote{
		mediactl:         mediactl,
		logger:           logger,
		errChannel:       make(chan error, 1),
		commandConsumers: []chan RemoteCommand{},
	}

	logger.Debug("Created serial remote instance")

	// respond to config changes
	sr.setupOnConfigReload()

	return sr, nil
}

// parseRemoteLine turns a raw line into a command. Unknown lines are ignored
func parseRemoteLine(line string, seekStep time.Duration) (RemoteCommand, bool) {
	if !expectedLinePattern.MatchString(line) {
		return RemoteCommand{}, false
	}

	line = strings.TrimRight(line, "\r\n")

	action, argument, _ := strings.Cut(line, ":")
	command := RemoteCommand{Action: RemoteAction(action)}

	if command.Action != RemoteSeek {
		return command, true
	}

	sign := time.Duration(1)
	if strings.HasPrefix(argument, "-") {
		sign = -1
	}

	// a bare sign uses the configured step, otherwise the number is in seconds
	digits := argument[1:]
	if digits == "" {
		command.Offset = sign * seekStep
		return command, true
	}

	seconds, err := strconv.Atoi(digits)
	if err != nil || seconds == 0 {
		return RemoteCommand{}, false
	}

	command.Offset = sign * time.Duration(seconds) * time.Second

	return command, true
}

func (sr *SerialRemote) connect() error {
	// don't allow multiple concurrent connections
	if sr.port != nil {
		sr.logger.Warn("Already connected, can't start another without closing first")
		return errors.New("serial: connection already active")
	}

	remote := sr.mediactl.config.Remote
	sr.comPort = remote.COMPort
	sr.baudRate = remote.BaudRate

	if sr.comPort == defaultCOMPort {
		port, err := sr.detectPort()
		if err != nil {
			return err
		}

		sr.comPort = port
	}

	sr.mode = serial.Mode{
		BaudRate: sr.baudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	sr.logger.Debugw("Attempting serial connection",
		"comPort", sr.comPort,
		"baudRate", sr.mode.BaudRate)

	port, err := serial.Open(sr.comPort, &sr.mode)
	if err != nil {
		sr.logger.Warnw("Failed to open serial connection", "error", err)
		return fmt.Errorf("open serial port %s: %w", sr.comPort, err)
	}

	if err := port.SetReadTimeout(remoteReadTimeout); err != nil {
		sr.logger.Debugw("Failed to set read timeout", "error", err)
	}

	sr.port = port

	return nil
}

func (sr *SerialRemote) detectPort() (string, error) {
	sr.logger.Info("Trying to autodetect serial port")

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		sr.logger.Errorw("Failed to enumerate serial ports, retrying", "error", err)
		return "", ErrNoSerialPorts
	}
	if len(ports) == 0 {
		sr.logger.Warn("No serial ports found, retrying")
		return "", ErrNoSerialPorts
	}

	for _, port := range ports {
		sr.logger.Debugw("Found port", "name", port.Name, "usb", port.IsUSB)
		if !port.IsUSB {
			continue
		}

		vid, _ := strconv.ParseUint(port.VID, 16, 16)
		pid, _ := strconv.ParseUint(port.PID, 16, 16)

		for _, vidpid := range allowedVIDPIDs {
			if vid == vidpid.VID && pid == vidpid.PID {
				sr.logger.Infow("Found COM port", "com", port.Name, "vid", port.VID, "pid", port.PID)
				return port.Name, nil
			}
		}
	}

	sr.logger.Warn("COM port not found, retrying")
	return "", ErrAutoPortNotFound
}

// Start attempts to connect to the remote, unless it's disabled
func (sr *SerialRemote) Start() {
	if !sr.mediactl.config.Remote.Enabled {
		sr.logger.Debug("Serial remote disabled, not starting")
		return
	}

	sr.stopping.Store(false)
	sr.running = true
	sr.stopChannel = make(chan struct{})
	sr.logger.Info("Serial remote starting")

	sr.wg.Add(1)
	go sr.managerLoop()
}

// Stop signals us to shut down our serial connection, if one is active
func (sr *SerialRemote) Stop() {
	if !sr.running {
		return
	}

	sr.stopping.Store(true)
	sr.running = false
	close(sr.stopChannel)

	// the read loop notices the stop signal within one read timeout
	sr.wg.Wait()

	if sr.port != nil {
		sr.closePort()
	}

	sr.logger.Info("Serial remote stopped")
}

// SubscribeToRemoteCommands returns a channel that receives every parsed command
func (sr *SerialRemote) SubscribeToRemoteCommands() chan RemoteCommand {
	ch := make(chan RemoteCommand, commandChannelSize)
	sr.commandConsumers = append(sr.commandConsumers, ch)

	return ch
}

func (sr *SerialRemote) setupOnConfigReload() {
	configReloadedChannel := sr.mediactl.config.SubscribeToChanges()

	go func() {
		for {
			<-configReloadedChannel

			remote := sr.mediactl.config.Remote

			// if connection params have changed, attempt to stop and start the connection
			if remote.Enabled != sr.running ||
				(remote.COMPort != defaultCOMPort && remote.COMPort != sr.comPort) ||
				remote.BaudRate != sr.baudRate {

				sr.logger.Info("Detected change in connection parameters, attempting to renew connection")
				sr.Stop()

				// let the connection close
				time.Sleep(remoteRetryDelay)

				sr.Start()
			}
		}
	}()
}

// manages serial connection and retries
func (sr *SerialRemote) managerLoop() {
	defer sr.wg.Done()

	for {
		if sr.stopping.Load() {
			sr.logger.Debug("managerLoop: stop var")
			return
		}

		sr.logger.Infow("Trying serial connection", "comPort", sr.mediactl.config.Remote.COMPort)

		if err := sr.connect(); err != nil {
			sr.logger.Warnw("Serial connection error. Trying again... ", "error", err)

			select {
			case <-time.After(remoteRetryDelay):
				continue
			case <-sr.stopChannel:
				return
			}
		}

		namedLogger := sr.logger.Named(strings.ToLower(sr.comPort))
		namedLogger.Infow("Connected", "port", sr.comPort)

		sr.mediactl.notifier.Notify(
			localize(sr.mediactl.localizer, "ComPortConnectedNotificationTitle", "Connected to {{.ComPort}}.",
				map[string]string{"ComPort": sr.comPort}),
			localize(sr.mediactl.localizer, "ComPortConnectedNotificationDescription", "Remote connected.", nil),
		)

		sr.wg.Add(1)
		go sr.readLoop(namedLogger, sr.port)

		select {
		case err := <-sr.errChannel:
			sr.logger.Warnw("Read line error", "error", err)

			sr.mediactl.notifier.Notify(
				localize(sr.mediactl.localizer, "ComPortDisconnectedNotificationTitle", "Disconnected from {{.ComPort}} due to an error.",
					map[string]string{"ComPort": sr.comPort}),
				localize(sr.mediactl.localizer, "ComPortDisconnectedNotificationDescription", "Trying to reconnect.", nil),
			)

			sr.closePort()

			select {
			case <-time.After(remoteRetryDelay):
			case <-sr.stopChannel:
				return
			}

		case <-sr.stopChannel:
			sr.logger.Debug("managerLoop: stop signal")
			return
		}
	}
}

func (sr *SerialRemote) readLoop(logger *zap.SugaredLogger, port serial.Port) {
	defer sr.wg.Done()

	buf := make([]byte, readBufferSize)
	var pending []byte

	for {
		select {
		case <-sr.stopChannel:
			logger.Debug("readLoop: stop signal")
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			sr.errChannel <- fmt.Errorf("read error: %w", err)
			return
		}

		// read timeout, nothing was pressed
		if n == 0 {
			continue
		}

		pending = append(pending, buf[:n]...)

		for {
			idx := bytes.IndexByte(pending, '\n')
			if idx < 0 {
				break
			}

			line := string(pending[:idx+1])
			pending = pending[idx+1:]

			if sr.mediactl.Verbose() {
				logger.Debugw("Read new line", "line", line)
			}

			sr.handleLine(logger, line)
		}

		// garbage without line endings
		if len(pending) > maxLineLength {
			pending = pending[:0]
		}
	}
}

func (sr *SerialRemote) closePort() {
	if err := sr.port.Close(); err != nil {
		sr.logger.Warnw("Failed to close serial connection", "error", err)
	} else {
		sr.logger.Debug("Serial connection closed")
	}

	sr.port = nil
}

func (sr *SerialRemote) handleLine(logger *zap.SugaredLogger, line string) {
	command, ok := parseRemoteLine(line, sr.mediactl.config.Remote.SeekStep)
	if !ok {
		logger.Debugw("Got malformed line from serial, ignoring", "line", line)
		return
	}

	logger.Debugw("Remote command received", "action", command.Action, "offset", command.Offset)

	for _, consumer := range sr.commandConsumers {
		select {
		case consumer <- command:
		default:
			logger.Warnw("Remote command consumer is busy, dropping command", "action", command.Action)
		}
	}
}
