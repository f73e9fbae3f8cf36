// Package bridge exposes the receiver over MQTT.
//
// It subscribes to the command topic, translates JSON command messages into
// control-channel intents, and publishes state snapshots, per-field change
// events, acknowledgments and periodic health reports.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aviolabs/jblbridge/internal/infrastructure/mqtt"
	"github.com/aviolabs/jblbridge/internal/jbl"
)

// Default timing values.
const (
	defaultCommandTimeout = 10 * time.Second
	defaultHealthInterval = 30 * time.Second
)

// changeQueueSize buffers state changes between the control channel's frame
// pipeline and the broker publish worker. Changes arrive at wire pace; the
// buffer absorbs a briefly slow broker without stalling frame delivery.
const changeQueueSize = 64

// Controller is the receiver control surface the bridge drives.
// *jbl.Controller satisfies it.
type Controller interface {
	Snapshot() jbl.ReceiverState
	ConnState() jbl.ConnState
	Stats() jbl.ControllerStats
	OnChange(func(jbl.Change))

	SetPower(ctx context.Context, on bool) error
	SetVolume(ctx context.Context, level int) error
	SetMute(ctx context.Context, on bool) error
	SetInput(ctx context.Context, src jbl.InputSource) error
	SetSurroundMode(ctx context.Context, mode jbl.SurroundMode) error
	SetDisplayDim(ctx context.Context, level int) error
	SetPartyMode(ctx context.Context, on bool) error
	SetPartyVolume(ctx context.Context, level int) error
	SetTrebleEQ(ctx context.Context, db int) error
	SetBassEQ(ctx context.Context, db int) error
	SetRoomEQ(ctx context.Context, on bool) error
	SetDialogEnhanced(ctx context.Context, on bool) error
	SetDolbyAudioMode(ctx context.Context, on bool) error
	SetDRC(ctx context.Context, on bool) error
	SendIR(ctx context.Context, key string) error
	Reboot(ctx context.Context) error
}

// Broker is the MQTT surface the bridge needs. *mqtt.Client satisfies it.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config contains bridge tuning options.
type Config struct {
	// QoS for published messages.
	QoS byte

	// CommandTimeout bounds one command round trip, including debounce,
	// retries and the receiver's acknowledgment.
	CommandTimeout time.Duration

	// HealthInterval is how often the health report is published.
	HealthInterval time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
}

// Bridge connects the receiver controller to the MQTT broker.
type Bridge struct {
	controller Controller
	broker     Broker
	topics     mqtt.Topics
	cfg        Config
	logger     Logger

	changes chan jbl.Change

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bridge. Call Start to subscribe and begin publishing.
func New(controller Controller, broker Broker, cfg Config) *Bridge {
	cfg.applyDefaults()
	return &Bridge{
		controller: controller,
		broker:     broker,
		cfg:        cfg,
		changes:    make(chan jbl.Change, changeQueueSize),
		done:       make(chan struct{}),
	}
}

// SetLogger sets an optional logger.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to the command topic, registers the state observer and
// launches the publish and health workers.
func (b *Bridge) Start() error {
	if err := b.broker.Subscribe(b.topics.AVRCommand(), b.cfg.QoS, b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to command topic: %w", err)
	}

	b.controller.OnChange(b.enqueueChange)

	// Seed the retained state through the publish worker so subscribers see
	// something before the first change arrives.
	b.enqueueChange(jbl.Change{
		Snapshot:  b.controller.Snapshot(),
		Full:      true,
		Timestamp: time.Now().UTC(),
	})

	b.wg.Add(2)
	go b.changeLoop()
	go b.healthLoop()

	return nil
}

// Close stops the workers, publishing any changes still queued. The MQTT
// subscription is torn down with the broker connection.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

// handleCommand parses one inbound command message and hands it to a
// dispatch goroutine. paho delivers messages serially on one router
// goroutine; waiting out the command round trip there would serialize
// every command onto the wire and defeat same-axis coalescing, so only
// the cheap parse and validation run inline.
func (b *Bridge) handleCommand(_ string, payload []byte) error {
	var msg CommandMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishAck(AckMessage{
			ID:     "unknown",
			Status: StatusInvalid,
			Error:  fmt.Sprintf("parsing command: %v", err),
		})
		return fmt.Errorf("parsing command message: %w", err)
	}
	msg.ensureID()

	if msg.Action == "" {
		b.publishAck(AckMessage{
			ID:     msg.ID,
			Status: StatusInvalid,
			Error:  "action is required",
		})
		return errors.New("command message missing action")
	}

	select {
	case <-b.done:
		return errors.New("bridge closed")
	default:
	}

	b.wg.Add(1)
	go b.dispatchCommand(msg)

	return nil
}

// dispatchCommand runs one command round trip and publishes its ack.
func (b *Bridge) dispatchCommand(msg CommandMessage) {
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.CommandTimeout)
	defer cancel()

	err := Dispatch(ctx, b.controller, msg)

	ack := AckMessage{
		ID:     msg.ID,
		Action: msg.Action,
		Status: StatusFromError(err),
	}
	if err != nil {
		ack.Error = err.Error()
		if b.logger != nil {
			b.logger.Warn("command failed",
				"id", msg.ID,
				"action", msg.Action,
				"status", ack.Status,
				"error", err,
			)
		}
	}
	b.publishAck(ack)
}

// Dispatch maps an action name to the matching controller intent. It is
// shared by the MQTT command topic and the HTTP command endpoint so both
// speak the same vocabulary.
func Dispatch(ctx context.Context, c Controller, msg CommandMessage) error {
	switch msg.Action {
	case "power":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetPower(ctx, on)

	case "volume":
		level, err := msg.intValue()
		if err != nil {
			return err
		}
		return c.SetVolume(ctx, level)

	case "mute":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetMute(ctx, on)

	case "input":
		name, err := msg.stringValue()
		if err != nil {
			return err
		}
		src, ok := jbl.InputSourceByName(name)
		if !ok {
			return fmt.Errorf("unknown input source %q", name)
		}
		return c.SetInput(ctx, src)

	case "surround_mode":
		name, err := msg.stringValue()
		if err != nil {
			return err
		}
		mode, ok := jbl.SurroundModeByName(name)
		if !ok {
			return fmt.Errorf("unknown surround mode %q", name)
		}
		return c.SetSurroundMode(ctx, mode)

	case "display_dim":
		level, err := msg.intValue()
		if err != nil {
			return err
		}
		return c.SetDisplayDim(ctx, level)

	case "party_mode":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetPartyMode(ctx, on)

	case "party_volume":
		level, err := msg.intValue()
		if err != nil {
			return err
		}
		return c.SetPartyVolume(ctx, level)

	case "treble_eq":
		db, err := msg.intValue()
		if err != nil {
			return err
		}
		return c.SetTrebleEQ(ctx, db)

	case "bass_eq":
		db, err := msg.intValue()
		if err != nil {
			return err
		}
		return c.SetBassEQ(ctx, db)

	case "room_eq":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetRoomEQ(ctx, on)

	case "dialog_enhanced":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetDialogEnhanced(ctx, on)

	case "dolby_audio_mode":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetDolbyAudioMode(ctx, on)

	case "drc":
		on, err := msg.boolValue()
		if err != nil {
			return err
		}
		return c.SetDRC(ctx, on)

	case "ir":
		key, err := msg.stringValue()
		if err != nil {
			return err
		}
		return c.SendIR(ctx, key)

	case "reboot":
		return c.Reboot(ctx)

	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
}

// StatusFromError maps control-channel errors to ack status values.
func StatusFromError(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, jbl.ErrSuperseded):
		return StatusSuperseded
	case errors.Is(err, jbl.ErrCommandTimeout):
		return StatusTimeout
	case errors.Is(err, jbl.ErrCommandRejected):
		return StatusRejected
	case errors.Is(err, jbl.ErrLimitedControl):
		return StatusLimited
	case errors.Is(err, jbl.ErrNotConnected), errors.Is(err, jbl.ErrClosed):
		return StatusOffline
	default:
		return StatusFailed
	}
}

// enqueueChange hands one state change to the publish worker. It is the
// controller's change observer and runs on the frame pipeline, so it must
// never wait on broker I/O: a stalled broker holding up frame delivery
// would turn prompt command acknowledgments into spurious timeouts. On
// overflow the change is dropped; the next publish carries the full
// snapshot anyway.
func (b *Bridge) enqueueChange(change jbl.Change) {
	select {
	case b.changes <- change:
	default:
		if b.logger != nil {
			b.logger.Warn("change queue full, dropping publish", "fields", len(change.Fields))
		}
	}
}

// changeLoop drains the change queue into the broker. On shutdown it
// publishes whatever is still queued before exiting.
func (b *Bridge) changeLoop() {
	defer b.wg.Done()

	for {
		select {
		case change := <-b.changes:
			b.publishChange(change)
		case <-b.done:
			for {
				select {
				case change := <-b.changes:
					b.publishChange(change)
				default:
					return
				}
			}
		}
	}
}

// publishChange publishes the retained snapshot plus one event per changed
// field. Full changes (connection transitions) skip per-field events to
// avoid flooding every event topic on each reconnect.
func (b *Bridge) publishChange(change jbl.Change) {
	b.publishState(change.Snapshot)

	if change.Full {
		return
	}

	for field, value := range change.Fields {
		event := EventMessage{
			Field:     field,
			Value:     value,
			Timestamp: change.Timestamp,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := b.broker.Publish(b.topics.AVREvent(field), payload, b.cfg.QoS, false); err != nil {
			if b.logger != nil {
				b.logger.Debug("publishing change event failed", "field", field, "error", err)
			}
		}
	}
}

// publishState publishes the full receiver state, retained.
func (b *Bridge) publishState(state jbl.ReceiverState) {
	payload, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := b.broker.Publish(b.topics.AVRState(), payload, b.cfg.QoS, true); err != nil {
		if b.logger != nil {
			b.logger.Debug("publishing state failed", "error", err)
		}
	}
}

// publishAck publishes one command acknowledgment.
func (b *Bridge) publishAck(ack AckMessage) {
	ack.Timestamp = time.Now().UTC()
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := b.broker.Publish(b.topics.AVRAck(), payload, b.cfg.QoS, false); err != nil {
		if b.logger != nil {
			b.logger.Debug("publishing ack failed", "id", ack.ID, "error", err)
		}
	}
}
