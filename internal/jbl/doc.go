// Package jbl implements the JBL MA-series IP Control protocol and the
// control channel to a single receiver.
//
// It is organised in four layers, leaves first:
//
//   - Frame codec (frame.go, commands.go): pure byte-level encoding and
//     decoding of protocol frames, no network or state knowledge.
//   - Client (client.go): owns the TCP session to the receiver, the read
//     loop, the serialized write path, heartbeats, and reconnection with
//     capped exponential backoff.
//   - Synchronizer (state.go, greenmode.go): the canonical in-memory
//     receiver state, updated from inbound frames and optimistic command
//     application, with a change-event stream for observers.
//   - Dispatcher (dispatcher.go): translates intents into frames, coalesces
//     rapid same-axis intents, and tracks pending commands for ack matching,
//     timeout and retry.
//
// Controller (controller.go) wires the layers together and is the public
// entry point for collaborators such as the MQTT bridge and the REST API.
//
// Thread Safety: all exported types are safe for concurrent use.
package jbl
