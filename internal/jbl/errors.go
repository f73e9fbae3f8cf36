package jbl

import "errors"

// Domain errors for the receiver control package.
var (
	// ErrNotConnected is returned when an operation requires a live session
	// but the client is not connected to the receiver.
	ErrNotConnected = errors.New("jbl: not connected to receiver")

	// ErrConnectionFailed is returned when a connection attempt fails.
	ErrConnectionFailed = errors.New("jbl: connection to receiver failed")

	// ErrEncodingFailed is returned when a command cannot be represented
	// as a protocol frame (operand too long).
	ErrEncodingFailed = errors.New("jbl: frame encoding failed")

	// ErrInvalidFrame is returned when inbound bytes fail frame validation.
	// The codec recovers by resynchronizing; this error never escapes the
	// read pipeline.
	ErrInvalidFrame = errors.New("jbl: invalid frame")

	// ErrCommandTimeout is returned when a command receives no
	// acknowledgment within the timeout window after exhausting retries.
	ErrCommandTimeout = errors.New("jbl: command timed out")

	// ErrSuperseded is returned when a newer intent on the same control
	// axis replaces a command before it completed.
	ErrSuperseded = errors.New("jbl: command superseded by newer intent")

	// ErrCommandRejected is returned when the receiver answers a command
	// with a protocol error code (0xC1-0xC4).
	ErrCommandRejected = errors.New("jbl: command rejected by receiver")

	// ErrLimitedControl is returned when the receiver is in its low-power
	// standby and does not respond to IP control.
	ErrLimitedControl = errors.New("jbl: receiver in low-power standby, IP control unavailable")

	// ErrClosed is returned when an operation is attempted after Close().
	ErrClosed = errors.New("jbl: client closed")
)
