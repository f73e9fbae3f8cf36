package jbl

import (
	"sync"
	"time"
)

// PowerState is the receiver's power status.
type PowerState int

// Power states. Unknown means no authoritative report has arrived yet.
const (
	PowerUnknown PowerState = iota
	PowerOff
	PowerOn
)

// String returns the power state name.
func (p PowerState) String() string {
	switch p {
	case PowerOff:
		return "off"
	case PowerOn:
		return "on"
	default:
		return "unknown"
	}
}

// Switch is a tri-state boolean for receiver toggles whose value may not
// have been reported yet.
type Switch int

// Switch values.
const (
	SwitchUnknown Switch = iota
	SwitchOff
	SwitchOn
)

// String returns the switch state name.
func (s Switch) String() string {
	switch s {
	case SwitchOff:
		return "off"
	case SwitchOn:
		return "on"
	default:
		return "unknown"
	}
}

func switchFromByte(b byte) Switch {
	if b == 0x01 {
		return SwitchOn
	}
	return SwitchOff
}

// Sentinel values for numeric fields with no authoritative report yet.
const (
	// VolumeUnknown marks an unreported volume or party volume.
	VolumeUnknown = -1

	// DimUnknown marks an unreported display dim level.
	DimUnknown = -1

	// EQUnknown marks an unreported EQ level. Real levels span -6..+6 dB.
	EQUnknown = -100
)

// ReceiverState is a point-in-time snapshot of everything known about the
// receiver. Numeric fields use the sentinel constants above until the
// receiver has reported them.
type ReceiverState struct {
	Connected      bool         `json:"connected"`
	LimitedControl bool         `json:"limited_control"`
	Power          PowerState   `json:"power"`
	Volume         int          `json:"volume"`
	Mute           Switch       `json:"mute"`
	Input          InputSource  `json:"input"`
	Surround       SurroundMode `json:"surround_mode"`
	Model          Model        `json:"model"`
	Version        string       `json:"version"`
	DisplayDim     int          `json:"display_dim"`
	PartyMode      Switch       `json:"party_mode"`
	PartyVolume    int          `json:"party_volume"`
	TrebleEQ       int          `json:"treble_eq"`
	BassEQ         int          `json:"bass_eq"`
	RoomEQ         Switch       `json:"room_eq"`
	DialogEnhanced Switch       `json:"dialog_enhanced"`
	DolbyAudioMode Switch       `json:"dolby_audio_mode"`
	DRC            Switch       `json:"drc"`
	Streaming      Switch       `json:"streaming_state"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// unknownState is the snapshot published whenever the session drops: every
// axis reverts to unknown so observers never act on stale values.
func unknownState() ReceiverState {
	return ReceiverState{
		Volume:      VolumeUnknown,
		DisplayDim:  DimUnknown,
		PartyVolume: VolumeUnknown,
		TrebleEQ:    EQUnknown,
		BassEQ:      EQUnknown,
	}
}

// Change is one state-change event delivered to observers.
type Change struct {
	// Fields maps changed field names to their new values.
	Fields map[string]any

	// Snapshot is the full state after the change was applied.
	Snapshot ReceiverState

	// Full marks bulk transitions (connect, disconnect) where observers
	// should republish everything rather than diff.
	Full bool

	Timestamp time.Time
}

// Synchronizer maintains the canonical receiver state.
//
// Every inbound status frame is authoritative and overwrites the tracked
// value, including values set optimistically when a command was issued.
// Observers receive a Change per mutation through the OnChange callback,
// invoked inline from the caller's goroutine; handlers must be short.
type Synchronizer struct {
	mu       sync.RWMutex
	state    ReceiverState
	onChange func(Change)

	detector *limitedControlDetector
	logger   Logger
}

// NewSynchronizer creates a synchronizer with every axis unknown.
func NewSynchronizer() *Synchronizer {
	s := &Synchronizer{state: unknownState()}
	s.detector = newLimitedControlDetector(s.setLimitedControl)
	return s
}

// SetLogger sets the logger for this synchronizer.
func (s *Synchronizer) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// OnChange registers the change observer. Only one observer is supported;
// fan-out belongs to the caller.
func (s *Synchronizer) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() ReceiverState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// MarkConnected records that the control session is up. Axis values stay
// unknown until the query sweep answers arrive.
func (s *Synchronizer) MarkConnected() {
	s.mu.Lock()
	if s.state.Connected {
		s.mu.Unlock()
		return
	}
	s.state.Connected = true
	s.state.UpdatedAt = time.Now()
	change := Change{
		Fields:    map[string]any{"connected": true},
		Snapshot:  s.state,
		Full:      true,
		Timestamp: s.state.UpdatedAt,
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(change)
	}
}

// MarkDisconnected clears every axis to unknown and emits a single full
// change event. Stale values must never survive a dropped session.
func (s *Synchronizer) MarkDisconnected() {
	s.mu.Lock()
	if !s.state.Connected && s.state.Power == PowerUnknown {
		s.mu.Unlock()
		return
	}
	limited := s.state.LimitedControl
	s.state = unknownState()
	s.state.LimitedControl = limited
	s.state.UpdatedAt = time.Now()
	change := Change{
		Fields:    map[string]any{"connected": false},
		Snapshot:  s.state,
		Full:      true,
		Timestamp: s.state.UpdatedAt,
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(change)
	}
}

// ApplyFrame folds an inbound status frame into the state. Inbound reports
// are authoritative: they always win over optimistic values. Frames with
// error response codes or unknown commands mutate nothing.
func (s *Synchronizer) ApplyFrame(frame Frame) {
	if frame.Rsp.IsError() {
		return
	}

	// Any inbound frame proves the receiver's control plane is awake.
	s.detector.recordActivity()

	fields, ok := s.frameFields(frame)
	if !ok || len(fields) == 0 {
		return
	}
	s.apply(fields)
}

// frameFields translates a status frame into state field mutations.
func (s *Synchronizer) frameFields(frame Frame) (map[string]any, bool) {
	if len(frame.Data) == 0 {
		return nil, false
	}
	v := frame.Data[0]

	switch frame.Cmd {
	case CmdPower:
		p := PowerOff
		if v == 0x01 {
			p = PowerOn
		}
		return map[string]any{"power": p}, true
	case CmdVolume:
		return map[string]any{"volume": int(v)}, true
	case CmdMute:
		return map[string]any{"mute": switchFromByte(v)}, true
	case CmdInputSource:
		return map[string]any{"input": InputSource(v)}, true
	case CmdSurroundMode:
		return map[string]any{"surround_mode": SurroundMode(v)}, true
	case CmdDisplayDim:
		return map[string]any{"display_dim": int(v)}, true
	case CmdPartyMode:
		return map[string]any{"party_mode": switchFromByte(v)}, true
	case CmdPartyVolume:
		return map[string]any{"party_volume": int(v)}, true
	case CmdTrebleEQ:
		return map[string]any{"treble_eq": decodeEQLevel(v)}, true
	case CmdBassEQ:
		return map[string]any{"bass_eq": decodeEQLevel(v)}, true
	case CmdRoomEQ:
		return map[string]any{"room_eq": switchFromByte(v)}, true
	case CmdDialogEnhanced:
		return map[string]any{"dialog_enhanced": switchFromByte(v)}, true
	case CmdDolbyAudioMode:
		return map[string]any{"dolby_audio_mode": switchFromByte(v)}, true
	case CmdDRC:
		return map[string]any{"drc": switchFromByte(v)}, true
	case CmdStreamingState:
		return map[string]any{"streaming_state": switchFromByte(v)}, true
	case CmdInitialization:
		return map[string]any{"model": Model(v)}, true
	case CmdVersion:
		return map[string]any{"version": string(frame.Data)}, true
	default:
		// Unrecognised status codes are ignored, not errors; newer firmware
		// may report axes this build does not track.
		if s.getLogger() != nil {
			s.getLogger().Debug("ignoring unknown status frame",
				"cmd", byte(frame.Cmd))
		}
		return nil, false
	}
}

// ApplyIntent records an optimistic value after a set command was written,
// so observers see the expected state immediately. The next authoritative
// report for the same axis overwrites it regardless.
func (s *Synchronizer) ApplyIntent(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	s.apply(fields)
}

// RecordCommandTimeout feeds the low-power standby heuristic: a powered-down
// receiver keeps the socket open but stops acknowledging commands.
func (s *Synchronizer) RecordCommandTimeout() {
	s.detector.recordFailure()
}

// RecordConnectionRefused feeds the low-power standby heuristic: in its
// deepest standby the receiver refuses the control port entirely.
func (s *Synchronizer) RecordConnectionRefused() {
	s.detector.recordFailure()
}

// setLimitedControl flips the limited-control flag, emitted as its own
// change event.
func (s *Synchronizer) setLimitedControl(limited bool) {
	s.apply(map[string]any{"limited_control": limited})
}

// apply mutates state fields and emits a change for those that actually
// differ from the tracked value.
func (s *Synchronizer) apply(fields map[string]any) {
	s.mu.Lock()

	changed := make(map[string]any, len(fields))
	for name, value := range fields {
		if s.setField(name, value) {
			changed[name] = value
		}
	}
	if len(changed) == 0 {
		s.mu.Unlock()
		return
	}

	s.state.UpdatedAt = time.Now()
	change := Change{
		Fields:    changed,
		Snapshot:  s.state,
		Timestamp: s.state.UpdatedAt,
	}
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(change)
	}
}

// setField writes one named field, reporting whether the value changed.
// Callers hold s.mu.
func (s *Synchronizer) setField(name string, value any) bool {
	switch name {
	case "power":
		if v, ok := value.(PowerState); ok && s.state.Power != v {
			s.state.Power = v
			return true
		}
	case "volume":
		if v, ok := value.(int); ok && s.state.Volume != v {
			s.state.Volume = v
			return true
		}
	case "mute":
		if v, ok := value.(Switch); ok && s.state.Mute != v {
			s.state.Mute = v
			return true
		}
	case "input":
		if v, ok := value.(InputSource); ok && s.state.Input != v {
			s.state.Input = v
			return true
		}
	case "surround_mode":
		if v, ok := value.(SurroundMode); ok && s.state.Surround != v {
			s.state.Surround = v
			return true
		}
	case "model":
		if v, ok := value.(Model); ok && s.state.Model != v {
			s.state.Model = v
			return true
		}
	case "version":
		if v, ok := value.(string); ok && s.state.Version != v {
			s.state.Version = v
			return true
		}
	case "display_dim":
		if v, ok := value.(int); ok && s.state.DisplayDim != v {
			s.state.DisplayDim = v
			return true
		}
	case "party_mode":
		if v, ok := value.(Switch); ok && s.state.PartyMode != v {
			s.state.PartyMode = v
			return true
		}
	case "party_volume":
		if v, ok := value.(int); ok && s.state.PartyVolume != v {
			s.state.PartyVolume = v
			return true
		}
	case "treble_eq":
		if v, ok := value.(int); ok && s.state.TrebleEQ != v {
			s.state.TrebleEQ = v
			return true
		}
	case "bass_eq":
		if v, ok := value.(int); ok && s.state.BassEQ != v {
			s.state.BassEQ = v
			return true
		}
	case "room_eq":
		if v, ok := value.(Switch); ok && s.state.RoomEQ != v {
			s.state.RoomEQ = v
			return true
		}
	case "dialog_enhanced":
		if v, ok := value.(Switch); ok && s.state.DialogEnhanced != v {
			s.state.DialogEnhanced = v
			return true
		}
	case "dolby_audio_mode":
		if v, ok := value.(Switch); ok && s.state.DolbyAudioMode != v {
			s.state.DolbyAudioMode = v
			return true
		}
	case "drc":
		if v, ok := value.(Switch); ok && s.state.DRC != v {
			s.state.DRC = v
			return true
		}
	case "streaming_state":
		if v, ok := value.(Switch); ok && s.state.Streaming != v {
			s.state.Streaming = v
			return true
		}
	case "limited_control":
		if v, ok := value.(bool); ok && s.state.LimitedControl != v {
			s.state.LimitedControl = v
			return true
		}
	case "connected":
		if v, ok := value.(bool); ok && s.state.Connected != v {
			s.state.Connected = v
			return true
		}
	}
	return false
}

func (s *Synchronizer) getLogger() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}
