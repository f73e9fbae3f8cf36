package jbl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatcher timing defaults.
const (
	// defaultDebounce is how long an intent sits in its axis slot before
	// being flushed to the wire. Rapid repeats within the window coalesce
	// so a volume ramp sends one frame, not twenty.
	defaultDebounce = 50 * time.Millisecond

	// defaultAckTimeout is how long to wait for the receiver to answer one
	// command frame before retrying.
	defaultAckTimeout = 2 * time.Second

	// defaultMaxRetries is how many times an unanswered command is resent
	// before failing with ErrCommandTimeout.
	defaultMaxRetries = 2
)

// Sender is the transport the dispatcher writes frames through.
// *Client satisfies it.
type Sender interface {
	Send(ctx context.Context, frame Frame) error
	State() ConnState
}

// DispatcherConfig tunes command coalescing and retry behaviour.
type DispatcherConfig struct {
	// Debounce is the per-axis coalescing window.
	Debounce time.Duration

	// AckTimeout is the wait for an acknowledgment per attempt.
	AckTimeout time.Duration

	// MaxRetries is the number of resends after the first attempt.
	MaxRetries int
}

func (cfg *DispatcherConfig) applyDefaults() {
	if cfg.Debounce == 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
}

// DispatcherStats holds command pipeline statistics.
type DispatcherStats struct {
	Issued     uint64
	Sent       uint64
	Superseded uint64
	Retries    uint64
	Timeouts   uint64
	Rejected   uint64
}

// pendingCommand is one intent travelling through the pipeline.
type pendingCommand struct {
	frame    Frame
	intent   map[string]any
	attempts int
	result   chan error
	done     bool
}

// resolve delivers the outcome exactly once. Callers hold the dispatcher
// mutex.
func (p *pendingCommand) resolve(err error) {
	if p.done {
		return
	}
	p.done = true
	p.result <- err
}

// axisState tracks the pipeline for one control axis: at most one queued
// intent waiting out the debounce window, and at most one frame in flight
// awaiting its acknowledgment.
type axisState struct {
	queued     *pendingCommand
	flushTimer *time.Timer
	inflight   *pendingCommand
	ackTimer   *time.Timer
}

// Dispatcher turns intents into wire frames with per-axis coalescing,
// supersession, and timeout retry.
//
// Each command code is its own axis. A newer intent on an axis supersedes
// both the queued intent and the in-flight frame for that axis: only the
// newest intent ever reaches the receiver, and superseded callers get
// ErrSuperseded. Unrelated axes proceed independently.
type Dispatcher struct {
	cfg    DispatcherConfig
	sender Sender
	sync   *Synchronizer

	mu     sync.Mutex
	axes   map[Command]*axisState
	closed bool

	issued     atomic.Uint64
	sent       atomic.Uint64
	superseded atomic.Uint64
	retries    atomic.Uint64
	timeouts   atomic.Uint64
	rejected   atomic.Uint64

	logger Logger
}

// NewDispatcher creates a dispatcher writing through sender and reconciling
// against syncer.
func NewDispatcher(sender Sender, syncer *Synchronizer, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		sync:   syncer,
		axes:   make(map[Command]*axisState),
	}
}

// SetLogger sets the logger for this dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

// Issue submits one intent and blocks until it is acknowledged, superseded,
// rejected, or timed out. intent names the state fields the command sets,
// used for the redundancy check and for optimistic state application; pass
// nil for commands with no tracked state (IR, reboot).
//
// An intent whose fields already match the tracked state is acknowledged
// locally without touching the wire.
func (d *Dispatcher) Issue(ctx context.Context, frame Frame, intent map[string]any) error {
	if d.sender.State() != StateConnected {
		return ErrNotConnected
	}

	if d.sync != nil {
		if d.sync.detector.isLimited() && frame.Cmd != CmdPower {
			// In low-power standby only a power command has any chance of
			// being honoured; everything else would just time out.
			return ErrLimitedControl
		}
		if len(intent) > 0 && d.isRedundant(intent) {
			d.logDebug("skipping redundant command", "cmd", byte(frame.Cmd))
			return nil
		}
	}

	pc := &pendingCommand{
		frame:  frame,
		intent: intent,
		result: make(chan error, 1),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.issued.Add(1)

	axis := d.axis(frame.Cmd)
	if axis.queued != nil {
		axis.queued.resolve(ErrSuperseded)
		d.superseded.Add(1)
	}
	axis.queued = pc
	if axis.flushTimer == nil {
		cmd := frame.Cmd
		axis.flushTimer = time.AfterFunc(d.cfg.Debounce, func() {
			d.flush(cmd)
		})
	}
	d.mu.Unlock()

	select {
	case err := <-pc.result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrCommandTimeout, ctx.Err())
	}
}

// isRedundant reports whether every intent field already matches the
// tracked state.
func (d *Dispatcher) isRedundant(intent map[string]any) bool {
	snap := d.sync.Snapshot()
	for name, want := range intent {
		if snapshotField(snap, name) != want {
			return false
		}
	}
	return true
}

// snapshotField reads one named field from a snapshot, mirroring the field
// names used in change events.
func snapshotField(s ReceiverState, name string) any {
	switch name {
	case "power":
		return s.Power
	case "volume":
		return s.Volume
	case "mute":
		return s.Mute
	case "input":
		return s.Input
	case "surround_mode":
		return s.Surround
	case "display_dim":
		return s.DisplayDim
	case "party_mode":
		return s.PartyMode
	case "party_volume":
		return s.PartyVolume
	case "treble_eq":
		return s.TrebleEQ
	case "bass_eq":
		return s.BassEQ
	case "room_eq":
		return s.RoomEQ
	case "dialog_enhanced":
		return s.DialogEnhanced
	case "dolby_audio_mode":
		return s.DolbyAudioMode
	case "drc":
		return s.DRC
	case "streaming_state":
		return s.Streaming
	default:
		return nil
	}
}

// axis returns the state for one command code, creating it on first use.
// Callers hold d.mu.
func (d *Dispatcher) axis(cmd Command) *axisState {
	a, ok := d.axes[cmd]
	if !ok {
		a = &axisState{}
		d.axes[cmd] = a
	}
	return a
}

// flush moves the queued intent onto the wire when its debounce window
// closes. An older frame still in flight on the axis is superseded first:
// its acknowledgment no longer matters because a newer intent replaces it.
func (d *Dispatcher) flush(cmd Command) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	axis := d.axis(cmd)
	axis.flushTimer = nil

	pc := axis.queued
	if pc == nil {
		d.mu.Unlock()
		return
	}
	axis.queued = nil

	if axis.inflight != nil {
		axis.inflight.resolve(ErrSuperseded)
		d.superseded.Add(1)
		d.stopAckTimer(axis)
		axis.inflight = nil
	}

	d.sendLocked(axis, pc)
	d.mu.Unlock()
}

// sendLocked writes one attempt of pc and arms its ack timer. Callers hold
// d.mu.
func (d *Dispatcher) sendLocked(axis *axisState, pc *pendingCommand) {
	pc.attempts++
	if err := d.sender.Send(context.Background(), pc.frame); err != nil {
		pc.resolve(err)
		return
	}
	d.sent.Add(1)

	axis.inflight = pc
	cmd := pc.frame.Cmd
	axis.ackTimer = time.AfterFunc(d.cfg.AckTimeout, func() {
		d.handleTimeout(cmd, pc)
	})
}

// handleTimeout fires when an in-flight frame went unanswered. The same
// payload is retried up to MaxRetries times; after that the command fails
// and the silence is reported to the standby detector.
func (d *Dispatcher) handleTimeout(cmd Command, pc *pendingCommand) {
	d.mu.Lock()
	axis := d.axis(cmd)
	if axis.inflight != pc || pc.done {
		d.mu.Unlock()
		return
	}

	if pc.attempts <= d.cfg.MaxRetries {
		d.retries.Add(1)
		d.logWarn("command unacknowledged, retrying",
			"cmd", byte(cmd), "attempt", pc.attempts)
		d.sendLocked(axis, pc)
		d.mu.Unlock()
		return
	}

	axis.inflight = nil
	axis.ackTimer = nil
	pc.resolve(ErrCommandTimeout)
	d.timeouts.Add(1)
	d.mu.Unlock()

	d.logError("command timed out", "cmd", byte(cmd), "attempts", pc.attempts)
	if d.sync != nil {
		d.sync.RecordCommandTimeout()
	}
}

// HandleFrame matches an inbound frame against the in-flight command on its
// axis. Acknowledgments resolve the command and apply its intent
// optimistically; protocol error codes reject it. Frames with no matching
// in-flight command are unsolicited status reports and pass through
// untouched.
func (d *Dispatcher) HandleFrame(frame Frame) {
	d.mu.Lock()
	axis, ok := d.axes[frame.Cmd]
	if !ok || axis.inflight == nil {
		d.mu.Unlock()
		return
	}
	pc := axis.inflight
	axis.inflight = nil
	d.stopAckTimer(axis)

	var err error
	if frame.Rsp.IsError() {
		err = fmt.Errorf("%w: %s", ErrCommandRejected, frame.Rsp)
		d.rejected.Add(1)
	}
	pc.resolve(err)
	intent := pc.intent
	d.mu.Unlock()

	if err == nil && len(intent) > 0 && d.sync != nil {
		d.sync.ApplyIntent(intent)
	}
}

// stopAckTimer cancels the axis ack timer if armed. Callers hold d.mu.
func (d *Dispatcher) stopAckTimer(axis *axisState) {
	if axis.ackTimer != nil {
		axis.ackTimer.Stop()
		axis.ackTimer = nil
	}
}

// Reset fails every queued and in-flight command with ErrNotConnected.
// Called when the session drops: pending commands cannot outlive the
// connection they were issued on.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAllLocked(ErrNotConnected)
}

// Close shuts the dispatcher down, failing all pending commands.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.failAllLocked(ErrClosed)
}

// failAllLocked resolves every pending command with err and disarms all
// timers. Callers hold d.mu.
func (d *Dispatcher) failAllLocked(err error) {
	for _, axis := range d.axes {
		if axis.flushTimer != nil {
			axis.flushTimer.Stop()
			axis.flushTimer = nil
		}
		d.stopAckTimer(axis)
		if axis.queued != nil {
			axis.queued.resolve(err)
			axis.queued = nil
		}
		if axis.inflight != nil {
			axis.inflight.resolve(err)
			axis.inflight = nil
		}
	}
}

// Stats returns command pipeline statistics.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Issued:     d.issued.Load(),
		Sent:       d.sent.Load(),
		Superseded: d.superseded.Load(),
		Retries:    d.retries.Load(),
		Timeouts:   d.timeouts.Load(),
		Rejected:   d.rejected.Load(),
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
