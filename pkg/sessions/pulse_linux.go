package sessions

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/jfreymuth/pulse/proto"
	"go.uber.org/zap"
)

const pulseClientName = "mediactl"

// pulseWatcher asks PulseAudio which clients are currently producing sound
type pulseWatcher struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	client *proto.Client
	conn   net.Conn
	closed bool
}

func newPulseWatcher(logger *zap.SugaredLogger) (*pulseWatcher, error) {
	pw := &pulseWatcher{
		logger: logger.Named("pulse"),
	}

	if err := pw.connect(); err != nil {
		return nil, err
	}

	pw.logger.Debug("Connected to PulseAudio")
	return pw, nil
}

// connect expects pw.mu to be held, or pw to be unpublished
func (pw *pulseWatcher) connect() error {
	client, conn, err := proto.Connect("")
	if err != nil {
		return fmt.Errorf("connect to PulseAudio: %w", err)
	}

	if err := client.Request(&proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString(pulseClientName),
		},
	}, &proto.SetClientNameReply{}); err != nil {
		conn.Close()
		return fmt.Errorf("set client name: %w", err)
	}

	pw.client = client
	pw.conn = conn

	return nil
}

// audibleProcessIDs lists the process ids of uncorked sink inputs, in server order
func (pw *pulseWatcher) audibleProcessIDs() ([]int, error) {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.closed {
		return nil, ErrSourceUnavailable
	}

	reply := proto.GetSinkInputInfoListReply{}
	if err := pw.client.Request(&proto.GetSinkInputInfoList{}, &reply); err != nil {
		pw.logger.Debugw("Sink input request failed, reconnecting", "error", err)

		pw.conn.Close()
		if err := pw.connect(); err != nil {
			return nil, err
		}

		reply = proto.GetSinkInputInfoListReply{}
		if err := pw.client.Request(&proto.GetSinkInputInfoList{}, &reply); err != nil {
			return nil, fmt.Errorf("get sink inputs: %w", err)
		}
	}

	pids := make([]int, 0, len(reply))
	for _, info := range reply {
		if info.Corked {
			continue
		}

		entry, ok := info.Properties["application.process.id"]
		if !ok {
			continue
		}

		pid, err := strconv.Atoi(entry.String())
		if err != nil || pid <= 0 {
			continue
		}

		pids = append(pids, pid)
	}

	return pids, nil
}

func (pw *pulseWatcher) Close() {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.closed {
		return
	}

	pw.closed = true
	if pw.conn != nil {
		pw.conn.Close()
	}

	pw.logger.Debug("Disconnected from PulseAudio")
}
