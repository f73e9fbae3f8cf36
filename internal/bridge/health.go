package bridge

import (
	"encoding/json"
	"time"

	"github.com/aviolabs/jblbridge/internal/jbl"
)

// Health status values.
const (
	// HealthOnline means the control channel is up and responsive.
	HealthOnline = "online"

	// HealthLimited means the session is up but the receiver ignores
	// commands (low-power standby).
	HealthLimited = "limited"

	// HealthDisconnected means the control channel is down.
	HealthDisconnected = "disconnected"
)

// healthLoop publishes a health report on a fixed interval until Close().
func (b *Bridge) healthLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HealthInterval)
	defer ticker.Stop()

	b.publishHealth()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.publishHealth()
		}
	}
}

// publishHealth assembles and publishes one health report.
func (b *Bridge) publishHealth() {
	snapshot := b.controller.Snapshot()
	stats := b.controller.Stats()
	connState := b.controller.ConnState()

	status := HealthDisconnected
	switch {
	case snapshot.LimitedControl:
		status = HealthLimited
	case connState == jbl.StateConnected:
		status = HealthOnline
	}

	msg := HealthMessage{
		Status:         status,
		ConnState:      connState.String(),
		LimitedControl: snapshot.LimitedControl,
		FramesReceived: stats.Client.FramesRx,
		FramesInvalid:  stats.Client.FramesInvalid,
		Reconnects:     stats.Client.ReconnectsTotal,
		CommandsIssued: stats.Dispatcher.Issued,
		CommandsFailed: stats.Dispatcher.Timeouts + stats.Dispatcher.Rejected,
		Timestamp:      time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := b.broker.Publish(b.topics.AVRHealth(), payload, b.cfg.QoS, true); err != nil {
		if b.logger != nil {
			b.logger.Debug("publishing health failed", "error", err)
		}
	}
}
