package influxdb

import "errors"

// Sentinel errors for telemetry operations, checked with errors.Is().
// Write failures do not surface here: writes are batched and non-blocking,
// so their errors arrive through the SetOnError callback instead.
var (
	// ErrDisabled indicates telemetry is turned off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection or ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected indicates the client has been closed or never connected.
	ErrNotConnected = errors.New("influxdb: not connected")
)
