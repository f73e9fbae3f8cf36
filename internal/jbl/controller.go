package jbl

import (
	"context"
	"sync"
)

// ControllerConfig aggregates client and dispatcher configuration.
type ControllerConfig struct {
	Client     ClientConfig
	Dispatcher DispatcherConfig
}

// ControllerStats aggregates statistics from all layers.
type ControllerStats struct {
	Client     Stats
	Dispatcher DispatcherStats
}

// Controller is the public face of the receiver control channel. It owns
// the client, synchronizer and dispatcher and wires their event flows:
// inbound frames first resolve pending commands, then update the state;
// connection transitions reset the pipeline and the state.
type Controller struct {
	client     *Client
	sync       *Synchronizer
	dispatcher *Dispatcher
	logger     Logger

	observerMu sync.RWMutex
	observers  []func(Change)
}

// NewController builds the full control stack for one receiver.
func NewController(cfg ControllerConfig) (*Controller, error) {
	client, err := NewClient(cfg.Client)
	if err != nil {
		return nil, err
	}

	sync := NewSynchronizer()
	dispatcher := NewDispatcher(client, sync, cfg.Dispatcher)

	c := &Controller{
		client:     client,
		sync:       sync,
		dispatcher: dispatcher,
	}

	client.SetOnFrame(func(frame Frame) {
		dispatcher.HandleFrame(frame)
		sync.ApplyFrame(frame)
	})
	client.SetOnStateChange(func(state ConnState) {
		switch state {
		case StateConnected:
			sync.MarkConnected()
		case StateDisconnected, StateConnecting:
			dispatcher.Reset()
			sync.MarkDisconnected()
		}
	})
	client.SetOnConnectionRefused(func() {
		sync.RecordConnectionRefused()
	})
	sync.OnChange(c.fanout)

	return c, nil
}

// fanout delivers one change to every registered observer, in registration
// order, on the synchronizer's calling goroutine.
func (c *Controller) fanout(change Change) {
	c.observerMu.RLock()
	observers := c.observers
	c.observerMu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

// SetLogger propagates the logger to every layer.
func (c *Controller) SetLogger(logger Logger) {
	c.logger = logger
	c.client.SetLogger(logger)
	c.sync.SetLogger(logger)
	c.dispatcher.SetLogger(logger)
}

// Start begins the connection lifecycle.
func (c *Controller) Start() error {
	return c.client.Start()
}

// Close shuts down the dispatcher and the connection.
func (c *Controller) Close() error {
	c.dispatcher.Close()
	return c.client.Close()
}

// Snapshot returns the current receiver state.
func (c *Controller) Snapshot() ReceiverState {
	return c.sync.Snapshot()
}

// OnChange registers a state-change observer. Multiple observers are
// supported; each change is delivered to all of them.
func (c *Controller) OnChange(fn func(Change)) {
	c.observerMu.Lock()
	c.observers = append(c.observers, fn)
	c.observerMu.Unlock()
}

// ConnState returns the connection state.
func (c *Controller) ConnState() ConnState {
	return c.client.State()
}

// Stats returns aggregated statistics.
func (c *Controller) Stats() ControllerStats {
	return ControllerStats{
		Client:     c.client.Stats(),
		Dispatcher: c.dispatcher.Stats(),
	}
}

// SetPower switches the receiver on or off.
func (c *Controller) SetPower(ctx context.Context, on bool) error {
	p := PowerOff
	if on {
		p = PowerOn
	}
	return c.dispatcher.Issue(ctx, NewPowerCommand(on), map[string]any{"power": p})
}

// SetVolume sets the main volume (0-99, clamped).
func (c *Controller) SetVolume(ctx context.Context, level int) error {
	level = clampInt(level, 0, maxVolume)
	return c.dispatcher.Issue(ctx, NewVolumeCommand(level), map[string]any{"volume": level})
}

// SetMute mutes or unmutes the main zone.
func (c *Controller) SetMute(ctx context.Context, on bool) error {
	return c.dispatcher.Issue(ctx, NewMuteCommand(on), map[string]any{"mute": switchFromBool(on)})
}

// SetInput selects an input source.
func (c *Controller) SetInput(ctx context.Context, src InputSource) error {
	return c.dispatcher.Issue(ctx, NewInputCommand(src), map[string]any{"input": src})
}

// SetSurroundMode selects a surround processing mode.
func (c *Controller) SetSurroundMode(ctx context.Context, mode SurroundMode) error {
	return c.dispatcher.Issue(ctx, NewSurroundModeCommand(mode), map[string]any{"surround_mode": mode})
}

// SetDisplayDim sets the front display brightness (0-3, clamped).
func (c *Controller) SetDisplayDim(ctx context.Context, level int) error {
	level = clampInt(level, 0, maxDimLevel)
	return c.dispatcher.Issue(ctx, NewDisplayDimCommand(level), map[string]any{"display_dim": level})
}

// SetPartyMode enables or disables party mode.
func (c *Controller) SetPartyMode(ctx context.Context, on bool) error {
	return c.dispatcher.Issue(ctx, NewToggleCommand(CmdPartyMode, on), map[string]any{"party_mode": switchFromBool(on)})
}

// SetPartyVolume sets the party mode volume (0-99, clamped).
func (c *Controller) SetPartyVolume(ctx context.Context, level int) error {
	level = clampInt(level, 0, maxVolume)
	return c.dispatcher.Issue(ctx, NewPartyVolumeCommand(level), map[string]any{"party_volume": level})
}

// SetTrebleEQ sets the treble level in dB (-6..+6, clamped).
func (c *Controller) SetTrebleEQ(ctx context.Context, db int) error {
	db = clampInt(db, minEQLevel, maxEQLevel)
	return c.dispatcher.Issue(ctx, NewEQCommand(CmdTrebleEQ, db), map[string]any{"treble_eq": db})
}

// SetBassEQ sets the bass level in dB (-6..+6, clamped).
func (c *Controller) SetBassEQ(ctx context.Context, db int) error {
	db = clampInt(db, minEQLevel, maxEQLevel)
	return c.dispatcher.Issue(ctx, NewEQCommand(CmdBassEQ, db), map[string]any{"bass_eq": db})
}

// SetRoomEQ enables or disables room EQ correction.
func (c *Controller) SetRoomEQ(ctx context.Context, on bool) error {
	return c.dispatcher.Issue(ctx, NewToggleCommand(CmdRoomEQ, on), map[string]any{"room_eq": switchFromBool(on)})
}

// SetDialogEnhanced enables or disables dialog enhancement.
func (c *Controller) SetDialogEnhanced(ctx context.Context, on bool) error {
	return c.dispatcher.Issue(ctx, NewToggleCommand(CmdDialogEnhanced, on), map[string]any{"dialog_enhanced": switchFromBool(on)})
}

// SetDolbyAudioMode enables or disables Dolby audio processing.
func (c *Controller) SetDolbyAudioMode(ctx context.Context, on bool) error {
	return c.dispatcher.Issue(ctx, NewToggleCommand(CmdDolbyAudioMode, on), map[string]any{"dolby_audio_mode": switchFromBool(on)})
}

// SetDRC enables or disables dynamic range compression.
func (c *Controller) SetDRC(ctx context.Context, on bool) error {
	return c.dispatcher.Issue(ctx, NewToggleCommand(CmdDRC, on), map[string]any{"drc": switchFromBool(on)})
}

// SendIR sends a simulated IR remote keypress by symbolic name.
// IR commands carry no tracked state, so they bypass the redundancy check.
func (c *Controller) SendIR(ctx context.Context, key string) error {
	code, ok := IRCodeByName(key)
	if !ok {
		return ErrCommandRejected
	}
	return c.dispatcher.Issue(ctx, NewIRCommand(code), nil)
}

// Reboot reboots the receiver. The session drops and reconnects.
func (c *Controller) Reboot(ctx context.Context) error {
	return c.dispatcher.Issue(ctx, NewRebootCommand(), nil)
}

func switchFromBool(on bool) Switch {
	if on {
		return SwitchOn
	}
	return SwitchOff
}
