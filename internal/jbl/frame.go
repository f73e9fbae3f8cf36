package jbl

import (
	"bytes"
	"fmt"
	"time"
)

// Wire framing constants per the IP Control specification.
//
// Outbound command: 0x23 <cmd> <len> <data...> 0x0D
// Inbound response: 0x02 0x23 <cmd> <rsp> <len> <data...> 0x0D
const (
	cmdStart  = 0x23
	rspStart0 = 0x02
	rspStart1 = 0x23
	frameEnd  = 0x0D

	// cmdHeaderLen is start(1) + cmd(1) + len(1).
	cmdHeaderLen = 3

	// rspHeaderLen is start(2) + cmd(1) + rsp(1) + len(1).
	rspHeaderLen = 5

	// rspOverhead is the response frame size excluding data bytes.
	rspOverhead = rspHeaderLen + 1

	// maxFrameData caps the operand length in both directions. The length
	// field is a byte, but no real frame approaches 255 bytes; a larger
	// declared length is treated as stream corruption rather than waited
	// for, so a single flipped byte cannot stall the decoder.
	maxFrameData = 64
)

var rspStartMarker = []byte{rspStart0, rspStart1}

// Frame is one discrete protocol message.
//
// For outbound frames Rsp is unused. For inbound frames Rsp carries the
// receiver's response code and Data the status payload.
type Frame struct {
	// Cmd is the command/status code.
	Cmd Command

	// Rsp is the response code (inbound frames only).
	Rsp ResponseCode

	// Data is the operand payload (may be empty).
	Data []byte

	// Timestamp records when the frame was decoded or created.
	Timestamp time.Time
}

// NewFrame creates an outbound command frame.
func NewFrame(cmd Command, data ...byte) Frame {
	return Frame{
		Cmd:       cmd,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// IsQuery reports whether the frame is a status query (operand 0xF0).
func (f Frame) IsQuery() bool {
	return len(f.Data) == 1 && f.Data[0] == QueryData
}

// String returns a human-readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{Cmd:0x%02X, Rsp:%s, Data:%X}", byte(f.Cmd), f.Rsp, f.Data)
}

// Encode serialises the frame in the outbound command format.
// It fails with ErrEncodingFailed when the operand exceeds the protocol
// limit.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Data) > maxFrameData {
		return nil, fmt.Errorf("%w: operand %d bytes exceeds limit %d",
			ErrEncodingFailed, len(f.Data), maxFrameData)
	}

	buf := make([]byte, 0, cmdHeaderLen+len(f.Data)+1)
	buf = append(buf, cmdStart, byte(f.Cmd), byte(len(f.Data)))
	buf = append(buf, f.Data...)
	buf = append(buf, frameEnd)
	return buf, nil
}

// EncodeResponse serialises a frame in the inbound response format.
// Used by tests and simulators; the daemon itself only decodes responses.
func EncodeResponse(cmd Command, rsp ResponseCode, data ...byte) ([]byte, error) {
	if len(data) > maxFrameData {
		return nil, fmt.Errorf("%w: operand %d bytes exceeds limit %d",
			ErrEncodingFailed, len(data), maxFrameData)
	}

	buf := make([]byte, 0, rspOverhead+len(data))
	buf = append(buf, rspStart0, rspStart1, byte(cmd), byte(rsp), byte(len(data)))
	buf = append(buf, data...)
	buf = append(buf, frameEnd)
	return buf, nil
}

// DecodeStatus is the outcome of a DecodeFrame attempt.
type DecodeStatus int

// Decode outcomes.
const (
	// DecodeComplete: one valid frame was parsed from the head of the
	// buffer; consumed covers the whole frame.
	DecodeComplete DecodeStatus = iota

	// DecodeNeedMore: the buffer holds fewer bytes than the frame's
	// declared length; wait for more bytes (consumed is 0).
	DecodeNeedMore

	// DecodeInvalid: validation failed; consumed skips to the next
	// recognisable frame start marker so decoding can resynchronize.
	DecodeInvalid
)

// DecodeFrame attempts to parse one response frame from the head of an
// accumulating byte buffer.
//
// A frame is valid only when it starts with the 0x02 0x23 marker, declares
// a plausible length, and terminates with 0x0D. Corrupt frames are never
// partially applied: the decoder discards bytes up to the next start marker
// and reports DecodeInvalid, so framing alignment recovers after corruption.
func DecodeFrame(buf []byte) (Frame, int, DecodeStatus) {
	if len(buf) == 0 {
		return Frame{}, 0, DecodeNeedMore
	}

	// Realign to the start marker before parsing.
	if buf[0] != rspStart0 {
		return Frame{}, resyncOffset(buf), DecodeInvalid
	}
	if len(buf) < 2 {
		return Frame{}, 0, DecodeNeedMore
	}
	if buf[1] != rspStart1 {
		return Frame{}, resyncOffset(buf), DecodeInvalid
	}

	if len(buf) < rspHeaderLen {
		return Frame{}, 0, DecodeNeedMore
	}

	dataLen := int(buf[4])
	if dataLen > maxFrameData {
		return Frame{}, resyncOffset(buf), DecodeInvalid
	}

	total := rspOverhead + dataLen
	if len(buf) < total {
		return Frame{}, 0, DecodeNeedMore
	}

	if buf[total-1] != frameEnd {
		return Frame{}, resyncOffset(buf), DecodeInvalid
	}

	data := make([]byte, dataLen)
	copy(data, buf[rspHeaderLen:rspHeaderLen+dataLen])

	return Frame{
		Cmd:       Command(buf[2]),
		Rsp:       ResponseCode(buf[3]),
		Data:      data,
		Timestamp: time.Now(),
	}, total, DecodeComplete
}

// resyncOffset returns how many bytes to discard so the buffer head lands
// on the next possible start marker. When no marker is present the whole
// buffer is discarded, except a trailing 0x02 which may be the first byte
// of a marker split across reads.
func resyncOffset(buf []byte) int {
	if idx := bytes.Index(buf[1:], rspStartMarker); idx >= 0 {
		return idx + 1
	}
	if buf[len(buf)-1] == rspStart0 {
		return len(buf) - 1
	}
	return len(buf)
}
