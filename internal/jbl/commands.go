package jbl

import "fmt"

// Command identifies a protocol command/status code.
// The same code is used for outbound commands and inbound status updates.
type Command byte

// Command IDs per the JBL MA-series IP Control specification v1.7.
const (
	CmdPower          Command = 0x00
	CmdDisplayDim     Command = 0x01
	CmdVersion        Command = 0x02
	CmdSimulateIR     Command = 0x04
	CmdInputSource    Command = 0x05
	CmdVolume         Command = 0x06
	CmdMute           Command = 0x07
	CmdSurroundMode   Command = 0x08
	CmdPartyMode      Command = 0x09
	CmdPartyVolume    Command = 0x0A
	CmdTrebleEQ       Command = 0x0B
	CmdBassEQ         Command = 0x0C
	CmdRoomEQ         Command = 0x0D
	CmdDialogEnhanced Command = 0x0E
	CmdDolbyAudioMode Command = 0x0F
	CmdDRC            Command = 0x10
	CmdStreamingState Command = 0x11
	CmdInitialization Command = 0x50
	CmdHeartbeat      Command = 0x51
	CmdReboot         Command = 0x52
	CmdFactoryReset   Command = 0x53
)

// QueryData is the operand that turns a set command into a status query.
const QueryData byte = 0xF0

// ResponseCode classifies an inbound frame.
type ResponseCode byte

// Response codes.
const (
	RspStatusUpdate           ResponseCode = 0x00
	RspCommandNotRecognized   ResponseCode = 0xC1
	RspParameterNotRecognized ResponseCode = 0xC2
	RspCommandInvalid         ResponseCode = 0xC3
	RspInvalidDataLength      ResponseCode = 0xC4
)

// IsError returns true for receiver-reported protocol errors.
func (r ResponseCode) IsError() bool {
	return r >= RspCommandNotRecognized && r <= RspInvalidDataLength
}

// String returns a human-readable response code name.
func (r ResponseCode) String() string {
	switch r {
	case RspStatusUpdate:
		return "status_update"
	case RspCommandNotRecognized:
		return "command_not_recognized"
	case RspParameterNotRecognized:
		return "parameter_not_recognized"
	case RspCommandInvalid:
		return "command_invalid"
	case RspInvalidDataLength:
		return "invalid_data_length"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(r))
	}
}

// Model identifies the receiver model reported by the initialization response.
type Model byte

// Receiver models.
const (
	ModelMA510    Model = 0x01
	ModelMA710    Model = 0x02
	ModelMA7100HP Model = 0x03
	ModelMA9100HP Model = 0x04
)

var modelNames = map[Model]string{
	ModelMA510:    "MA510",
	ModelMA710:    "MA710",
	ModelMA7100HP: "MA7100HP",
	ModelMA9100HP: "MA9100HP",
}

// String returns the model name, or "unknown" for unrecognised codes.
func (m Model) String() string {
	if name, ok := modelNames[m]; ok {
		return name
	}
	return "unknown"
}

// InputSource identifies a selectable input.
type InputSource byte

// Input sources. HDMI 5/6 and Phono exist on MA710 and up only.
const (
	InputTVARC     InputSource = 0x01
	InputHDMI1     InputSource = 0x02
	InputHDMI2     InputSource = 0x03
	InputHDMI3     InputSource = 0x04
	InputHDMI4     InputSource = 0x05
	InputHDMI5     InputSource = 0x06
	InputHDMI6     InputSource = 0x07
	InputCoax      InputSource = 0x08
	InputOptical   InputSource = 0x09
	InputAnalog1   InputSource = 0x0A
	InputAnalog2   InputSource = 0x0B
	InputPhono     InputSource = 0x0C
	InputBluetooth InputSource = 0x0D
	InputNetwork   InputSource = 0x0E
)

var inputSourceNames = map[InputSource]string{
	InputTVARC:     "TV (ARC)",
	InputHDMI1:     "HDMI 1",
	InputHDMI2:     "HDMI 2",
	InputHDMI3:     "HDMI 3",
	InputHDMI4:     "HDMI 4",
	InputHDMI5:     "HDMI 5",
	InputHDMI6:     "HDMI 6",
	InputCoax:      "Coax",
	InputOptical:   "Optical",
	InputAnalog1:   "Analog 1",
	InputAnalog2:   "Analog 2",
	InputPhono:     "Phono",
	InputBluetooth: "Bluetooth",
	InputNetwork:   "Network",
}

// String returns the input source display name, or "unknown".
func (s InputSource) String() string {
	if name, ok := inputSourceNames[s]; ok {
		return name
	}
	return "unknown"
}

// InputSourceByName resolves a display name back to a source code.
func InputSourceByName(name string) (InputSource, bool) {
	for src, n := range inputSourceNames {
		if n == name {
			return src, true
		}
	}
	return 0, false
}

// SurroundMode identifies a surround processing mode.
type SurroundMode byte

// Surround modes. Dolby Surround and DTS Neural:X exist on MA710 and up;
// Dolby Pro Logic II exists on the MA510 only.
const (
	SurroundDolbySurround SurroundMode = 0x01
	SurroundDTSNeuralX    SurroundMode = 0x02
	SurroundStereo20      SurroundMode = 0x03
	SurroundStereo21      SurroundMode = 0x04
	SurroundAllStereo     SurroundMode = 0x05
	SurroundNative        SurroundMode = 0x06
	SurroundProLogicII    SurroundMode = 0x07
)

var surroundModeNames = map[SurroundMode]string{
	SurroundDolbySurround: "Dolby Surround",
	SurroundDTSNeuralX:    "DTS Neural:X",
	SurroundStereo20:      "Stereo 2.0",
	SurroundStereo21:      "Stereo 2.1",
	SurroundAllStereo:     "All Stereo",
	SurroundNative:        "Native",
	SurroundProLogicII:    "Dolby Pro Logic II",
}

// String returns the surround mode display name, or "unknown".
func (m SurroundMode) String() string {
	if name, ok := surroundModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// SurroundModeByName resolves a display name back to a mode code.
func SurroundModeByName(name string) (SurroundMode, bool) {
	for mode, n := range surroundModeNames {
		if n == name {
			return mode, true
		}
	}
	return 0, false
}

// IR remote codes (NEC format, 24-bit), sent via CmdSimulateIR.
const (
	IRPower uint32 = 0x010E03
	IRUp    uint32 = 0x010E99
	IRDown  uint32 = 0x010E59
	IRLeft  uint32 = 0x010E83
	IRRight uint32 = 0x010E43
	IROK    uint32 = 0x010E21
	IRMenu  uint32 = 0x010ECA
	IRBack  uint32 = 0x010EA1
	IRDim   uint32 = 0x010EC9

	IRVolumeUp   uint32 = 0x010EE3
	IRVolumeDown uint32 = 0x010E13
	IRMute       uint32 = 0x010EC3

	IRSourceUp   uint32 = 0x010E8C
	IRSourceDown uint32 = 0x010E0C

	IRSurroundUp   uint32 = 0x010EF4
	IRSurroundDown uint32 = 0x010E74

	IRMainPowerOn  uint32 = 0x010ED9
	IRMainPowerOff uint32 = 0x010EF9

	IRTV        uint32 = 0x010E71
	IRHDMI1     uint32 = 0x010E11
	IRHDMI2     uint32 = 0x010E91
	IRHDMI3     uint32 = 0x010E51
	IRHDMI4     uint32 = 0x010ED1
	IRHDMI5     uint32 = 0x010E31
	IRHDMI6     uint32 = 0x010EB1
	IRCoax      uint32 = 0x010E81
	IROptical   uint32 = 0x010EDB
	IRAnalog1   uint32 = 0x010E23
	IRAnalog2   uint32 = 0x010E33
	IRPhono     uint32 = 0x010E0B
	IRBluetooth uint32 = 0x010E53
	IRNetwork   uint32 = 0x010ED3

	IRPartyOn         uint32 = 0x010E73
	IRPartyOff        uint32 = 0x010E8B
	IRPartyVolumeUp   uint32 = 0x010E39
	IRPartyVolumeDown uint32 = 0x010EB9
)

// IRCodeByName resolves a symbolic key name to its NEC code.
// Names match the remote-facing command set (e.g. "VOLUME_UP").
func IRCodeByName(name string) (uint32, bool) {
	code, ok := irCodesByName[name]
	return code, ok
}

var irCodesByName = map[string]uint32{
	"POWER":          IRPower,
	"CURSOR_UP":      IRUp,
	"CURSOR_DOWN":    IRDown,
	"CURSOR_LEFT":    IRLeft,
	"CURSOR_RIGHT":   IRRight,
	"CURSOR_ENTER":   IROK,
	"MENU":           IRMenu,
	"BACK":           IRBack,
	"DIM":            IRDim,
	"VOLUME_UP":      IRVolumeUp,
	"VOLUME_DOWN":    IRVolumeDown,
	"MUTE_TOGGLE":    IRMute,
	"SOURCE_UP":      IRSourceUp,
	"SOURCE_DOWN":    IRSourceDown,
	"SURROUND_UP":    IRSurroundUp,
	"SURROUND_DOWN":  IRSurroundDown,
	"POWER_ON":       IRMainPowerOn,
	"POWER_OFF":      IRMainPowerOff,
	"TV":             IRTV,
	"HDMI_1":         IRHDMI1,
	"HDMI_2":         IRHDMI2,
	"HDMI_3":         IRHDMI3,
	"HDMI_4":         IRHDMI4,
	"HDMI_5":         IRHDMI5,
	"HDMI_6":         IRHDMI6,
	"COAX":           IRCoax,
	"OPTICAL":        IROptical,
	"ANALOG_1":       IRAnalog1,
	"ANALOG_2":       IRAnalog2,
	"PHONO":          IRPhono,
	"BLUETOOTH":      IRBluetooth,
	"NETWORK":        IRNetwork,
	"PARTY_ON":       IRPartyOn,
	"PARTY_OFF":      IRPartyOff,
	"PARTY_VOL_UP":   IRPartyVolumeUp,
	"PARTY_VOL_DOWN": IRPartyVolumeDown,
}

// Value range limits for command operands.
const (
	maxVolume     = 99
	maxDimLevel   = 3
	minEQLevel    = -6
	maxEQLevel    = 6
	eqLevelOffset = 6 // -6..+6 dB encoded as 0..12 on the wire
)

func boolByte(on bool) byte {
	if on {
		return 0x01
	}
	return 0x00
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// NewQueryCommand builds a frame that queries the current value of cmd.
func NewQueryCommand(cmd Command) Frame {
	return NewFrame(cmd, QueryData)
}

// NewPowerCommand builds a power on/off command.
func NewPowerCommand(on bool) Frame {
	return NewFrame(CmdPower, boolByte(on))
}

// NewVolumeCommand builds a volume set command. Levels outside 0-99 are
// clamped to the protocol range.
func NewVolumeCommand(level int) Frame {
	return NewFrame(CmdVolume, byte(clampInt(level, 0, maxVolume)))
}

// NewMuteCommand builds a mute on/off command.
func NewMuteCommand(on bool) Frame {
	return NewFrame(CmdMute, boolByte(on))
}

// NewInputCommand builds an input source select command.
func NewInputCommand(src InputSource) Frame {
	return NewFrame(CmdInputSource, byte(src))
}

// NewSurroundModeCommand builds a surround mode select command.
func NewSurroundModeCommand(mode SurroundMode) Frame {
	return NewFrame(CmdSurroundMode, byte(mode))
}

// NewDisplayDimCommand builds a display brightness command.
// Levels outside 0-3 (off/dim/mid/bright) are clamped.
func NewDisplayDimCommand(level int) Frame {
	return NewFrame(CmdDisplayDim, byte(clampInt(level, 0, maxDimLevel)))
}

// NewPartyVolumeCommand builds a party mode volume command (MA710 and up).
func NewPartyVolumeCommand(level int) Frame {
	return NewFrame(CmdPartyVolume, byte(clampInt(level, 0, maxVolume)))
}

// NewEQCommand builds a treble or bass EQ command. The dB level (-6..+6)
// is clamped and offset to the 0-12 wire encoding.
func NewEQCommand(cmd Command, db int) Frame {
	encoded := clampInt(db, minEQLevel, maxEQLevel) + eqLevelOffset
	return NewFrame(cmd, byte(encoded))
}

// NewToggleCommand builds an on/off command for the boolean axes
// (party mode, room EQ, dialog enhanced, Dolby audio mode, DRC).
func NewToggleCommand(cmd Command, on bool) Frame {
	return NewFrame(cmd, boolByte(on))
}

// NewIRCommand builds a simulated IR remote command from a 24-bit NEC code.
func NewIRCommand(code uint32) Frame {
	return NewFrame(CmdSimulateIR,
		byte(code>>16), byte(code>>8), byte(code))
}

// NewHeartbeatCommand builds a heartbeat frame. The receiver answers it and
// resets its auto-standby timer.
func NewHeartbeatCommand() Frame {
	return NewFrame(CmdHeartbeat)
}

// NewInitializationCommand builds the session initialization frame. The
// receiver answers with its model identification; send it immediately after
// the connection is established.
func NewInitializationCommand() Frame {
	return NewFrame(CmdInitialization, QueryData)
}

// NewRebootCommand builds a receiver reboot command.
func NewRebootCommand() Frame {
	return NewFrame(CmdReboot)
}

// decodeEQLevel converts the 0-12 wire encoding back to -6..+6 dB.
func decodeEQLevel(b byte) int {
	return int(b) - eqLevelOffset
}
