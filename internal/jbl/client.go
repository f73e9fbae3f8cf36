package jbl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for receiver communication.
const (
	// DefaultPort is the receiver's fixed IP control port.
	DefaultPort = 50000

	// defaultConnectTimeout is the maximum time to wait for a dial.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the timeout for writing one frame.
	defaultWriteTimeout = 5 * time.Second

	// defaultHeartbeatInterval is how often heartbeats are sent while
	// connected. Heartbeats also reset the receiver's auto-standby timer.
	defaultHeartbeatInterval = 20 * time.Second

	// defaultIdleTimeout is the liveness window: if no frame (heartbeat
	// responses included) arrives within it, the session is considered
	// dead and torn down. Must comfortably exceed the heartbeat interval.
	defaultIdleTimeout = 50 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection
	// attempts.
	defaultReconnectInterval = 2 * time.Second

	// defaultMaxReconnectInterval caps the reconnection backoff.
	defaultMaxReconnectInterval = 2 * time.Minute

	// backoffFactor grows the reconnect delay between failed attempts.
	backoffFactor = 1.5

	// readChunkSize is the size of a single socket read.
	readChunkSize = 512

	// frameQueueSize is the buffer size for the inbound frame queue.
	frameQueueSize = 64
)

// stateQueryCommands is the sweep issued after connecting, so the
// synchronizer starts from device-reported truth rather than guesses.
var stateQueryCommands = []Command{
	CmdPower,
	CmdVolume,
	CmdMute,
	CmdInputSource,
	CmdSurroundMode,
	CmdDisplayDim,
	CmdPartyMode,
	CmdPartyVolume,
	CmdTrebleEQ,
	CmdBassEQ,
	CmdRoomEQ,
	CmdDialogEnhanced,
	CmdDolbyAudioMode,
	CmdDRC,
	CmdStreamingState,
	CmdVersion,
}

// interQueryDelay spaces out the initial query sweep to avoid flooding the
// receiver's command queue.
const interQueryDelay = 50 * time.Millisecond

// ConnState is the connection lifecycle state.
type ConnState int32

// Connection states. The cycle is Disconnected -> Connecting -> Connected
// -> Disconnected; Disconnected is terminal only after Close().
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ClientConfig holds receiver connection configuration.
type ClientConfig struct {
	// Host is the receiver IP or hostname.
	Host string

	// Port is the control port. Default: 50000.
	Port int

	// ConnectTimeout is the maximum time to wait for a dial.
	ConnectTimeout time.Duration

	// WriteTimeout is the timeout for writing one frame.
	WriteTimeout time.Duration

	// HeartbeatInterval is how often heartbeats are sent while connected.
	HeartbeatInterval time.Duration

	// IdleTimeout forces a reconnect when no frame arrives within it.
	IdleTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnect attempts.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the reconnect backoff.
	MaxReconnectInterval time.Duration
}

func (cfg *ClientConfig) applyDefaults() {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaultMaxReconnectInterval
	}
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx            uint64
	FramesRx            uint64
	FramesInvalid       uint64 // Corrupt frames skipped by resynchronization
	FramesDropped       uint64 // Frames dropped due to full callback queue
	ErrorsTotal         uint64
	ReconnectsTotal     uint64 // Successful reconnections
	ConsecutiveRefusals uint32 // Connect refusals since the last success
	Session             uint64 // Increments on every established session
	LastActivity        time.Time
	State               ConnState
}

// Client maintains the TCP control session to the receiver.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frame callbacks are invoked from a single worker goroutine, in the
//     order frames arrived on the wire.
//
// Auto-Reconnection:
//   - When the connection is lost, the client reconnects automatically
//     with capped exponential backoff plus jitter.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg ClientConfig

	conn   net.Conn
	connMu sync.RWMutex

	// writeMu serializes outbound frames so two concurrently issued
	// commands never interleave their bytes mid-frame.
	writeMu sync.Mutex

	state   atomic.Int32
	session atomic.Uint64

	// Callbacks
	onFrame       func(Frame)
	onStateChange func(ConnState)
	onRefused     func()
	callbackMu    sync.RWMutex

	// Inbound frame queue, drained by a single worker to preserve wire
	// order in callbacks.
	frameQueue chan Frame

	// Shutdown coordination
	done    *closeOnce
	wg      sync.WaitGroup
	started atomic.Bool

	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesInvalid   atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	refusals        atomic.Uint32
	lastActivity    atomic.Int64 // Unix timestamp
}

// NewClient creates a client for the configured receiver.
// Call Start() to begin the connection lifecycle.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrConnectionFailed)
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:        cfg,
		done:       newCloseOnce(),
		frameQueue: make(chan Frame, frameQueueSize),
	}
	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// Start launches the connection state machine and the frame worker.
// It returns immediately; connection progress is reported through the
// state-change callback.
func (c *Client) Start() error {
	if c.isClosed() {
		return ErrClosed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil // Already running
	}

	c.wg.Add(2)
	go c.frameWorker()
	go c.run()
	return nil
}

// run owns the socket lifecycle: dial, session setup, read loop, teardown,
// backoff, repeat. It exits only on Close().
func (c *Client) run() {
	defer c.wg.Done()

	backoff := c.cfg.ReconnectInterval

	for {
		if c.isClosed() {
			return
		}

		c.setState(StateConnecting)

		conn, err := c.dial()
		if err != nil {
			c.handleDialError(err)
			if !c.waitBackoff(withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.MaxReconnectInterval)
			continue
		}

		if err := c.establishSession(conn); err != nil {
			c.logError("session setup failed", err)
			c.errorsTotal.Add(1)
			conn.Close()
			if !c.waitBackoff(withJitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.MaxReconnectInterval)
			continue
		}

		backoff = c.cfg.ReconnectInterval
		c.refusals.Store(0)

		// Blocks until the connection dies or Close() is called.
		c.readLoop(conn)

		c.teardown(conn)
		if c.isClosed() {
			return
		}
		c.logInfo("connection lost, will attempt reconnection")
	}
}

// dial opens the TCP socket to the receiver's fixed control port.
func (c *Client) dial() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}
	return conn, nil
}

// handleDialError records a failed connect attempt. Refused connections are
// tracked separately because they feed the low-power standby heuristic.
func (c *Client) handleDialError(err error) {
	c.errorsTotal.Add(1)

	if errors.Is(err, syscall.ECONNREFUSED) {
		n := c.refusals.Add(1)
		c.logWarn("connection refused", "consecutive", n)
		c.callbackMu.RLock()
		cb := c.onRefused
		c.callbackMu.RUnlock()
		if cb != nil {
			cb()
		}
		return
	}

	c.logError("connect failed", err)
}

// establishSession installs the new socket, sends the initialization
// command, transitions to Connected and kicks off the state query sweep
// and the per-session heartbeat loop.
func (c *Client) establishSession(conn net.Conn) error {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	session := c.session.Add(1)
	if session > 1 {
		c.reconnectsTotal.Add(1)
	}
	c.lastActivity.Store(time.Now().Unix())

	c.setState(StateConnected)

	if err := c.writeFrame(NewInitializationCommand()); err != nil {
		c.setState(StateConnecting)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return fmt.Errorf("initialization: %w", err)
	}

	c.logInfo("connected to receiver",
		"host", c.cfg.Host, "port", c.cfg.Port, "session", session)

	c.wg.Add(2)
	go c.querySweep(session)
	go c.heartbeatLoop(session)

	return nil
}

// teardown discards the socket and marks the session disconnected. Any
// partially accumulated frame buffer lives in readLoop's stack and dies
// with it.
func (c *Client) teardown(conn net.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()
	c.setState(StateDisconnected)
}

// readLoop drains the socket, feeding bytes through the frame decoder and
// queueing complete frames for the callback worker. It returns when the
// socket errors, the peer closes, the idle window elapses with no inbound
// frame, or Close() is called.
//
// The liveness window is anchored to the last decoded frame, not the last
// read: a stream of bytes that never yields a valid frame must not keep a
// dead session up.
func (c *Client) readLoop(conn net.Conn) {
	var acc []byte
	chunk := make([]byte, readChunkSize)
	lastFrame := time.Now()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(lastFrame.Add(c.cfg.IdleTimeout)); err != nil {
			c.logError("set read deadline failed", err)
			return
		}

		n, err := conn.Read(chunk)
		if err != nil {
			if c.isClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// No frame within the idle window: the receiver may have
				// silently dropped the socket. Force a reconnect.
				c.logWarn("idle timeout, no frames received",
					"window", c.cfg.IdleTimeout.String())
			} else {
				c.logError("read failed", err)
			}
			c.errorsTotal.Add(1)
			return
		}
		if n == 0 {
			continue
		}

		acc = append(acc, chunk[:n]...)
		var sawFrame bool
		acc, sawFrame = c.decodeAll(acc)
		if sawFrame {
			lastFrame = time.Now()
		}
	}
}

// decodeAll extracts every complete frame from the head of acc. It returns
// the remaining unconsumed bytes and whether at least one valid frame was
// decoded, which feeds the liveness window.
func (c *Client) decodeAll(acc []byte) ([]byte, bool) {
	sawFrame := false
	for len(acc) > 0 {
		frame, consumed, status := DecodeFrame(acc)
		switch status {
		case DecodeComplete:
			acc = acc[consumed:]
			sawFrame = true
			c.handleFrame(frame)
		case DecodeInvalid:
			acc = acc[consumed:]
			c.framesInvalid.Add(1)
			c.logWarn("corrupt frame skipped", "discarded", consumed)
		case DecodeNeedMore:
			return acc, sawFrame
		}
	}
	return acc, sawFrame
}

// handleFrame queues a decoded frame for the callback worker.
// The queue is bounded; overflow drops the frame rather than stalling the
// read loop, since a stalled reader risks TCP backpressure against the
// receiver.
func (c *Client) handleFrame(frame Frame) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	select {
	case c.frameQueue <- frame:
	default:
		c.framesDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logError("frame queue full, dropping frame", nil)
	}
}

// frameWorker delivers queued frames to the registered callback, one at a
// time and in wire order. Panics in the callback are recovered and logged.
func (c *Client) frameWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case frame := <-c.frameQueue:
			c.callbackMu.RLock()
			callback := c.onFrame
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("frame callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(frame)
				}()
			}
		}
	}
}

// querySweep asks the receiver for every tracked status value. Runs once
// per session; aborts if the session changed underneath it.
func (c *Client) querySweep(session uint64) {
	defer c.wg.Done()

	for _, cmd := range stateQueryCommands {
		if c.isClosed() || c.session.Load() != session {
			return
		}
		if err := c.Send(context.Background(), NewQueryCommand(cmd)); err != nil {
			c.logDebug("state query failed", "cmd", fmt.Sprintf("0x%02X", byte(cmd)), "error", err.Error())
			return
		}
		select {
		case <-c.done.Done():
			return
		case <-time.After(interQueryDelay):
		}
	}
}

// heartbeatLoop sends periodic heartbeats for one session. The responses
// keep the idle-timeout liveness check fed; the command itself resets the
// receiver's auto-standby timer.
func (c *Client) heartbeatLoop(session uint64) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			if c.session.Load() != session || c.State() != StateConnected {
				return
			}
			if err := c.Send(context.Background(), NewHeartbeatCommand()); err != nil {
				c.logDebug("heartbeat failed", "error", err.Error())
				return
			}
		}
	}
}

// waitBackoff sleeps for the given delay, returning false if Close() was
// called while waiting.
func (c *Client) waitBackoff(delay time.Duration) bool {
	c.logInfo("reconnect scheduled", "delay", delay.String())
	select {
	case <-c.done.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// nextBackoff grows the base reconnect delay. The base sequence is
// strictly increasing until it hits the cap.
func nextBackoff(cur, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * backoffFactor)
	if next > max {
		next = max
	}
	return next
}

// withJitter adds up to 25% random delay on top of the base so multiple
// controllers do not hammer a recovering receiver in lockstep. The jitter
// is strictly additive, preserving the non-decreasing base sequence.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// Send writes an encoded frame to the socket.
// It fails with ErrNotConnected when no session is live; application-level
// queueing or retry is the dispatcher's responsibility, not the client's.
func (c *Client) Send(ctx context.Context, frame Frame) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	default:
	}

	return c.writeFrame(frame)
}

// writeFrame encodes and writes one frame under the write lock.
func (c *Client) writeFrame(frame Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionFailed, err)
	}
	if _, err := conn.Write(data); err != nil {
		c.errorsTotal.Add(1)
		// A write failure means the session is dead; closing the socket
		// unblocks the read loop, which drives the reconnect cycle.
		conn.Close()
		return fmt.Errorf("%w: write: %w", ErrConnectionFailed, err)
	}

	c.framesTx.Add(1)
	return nil
}

// SetOnFrame sets the callback for received frames.
// Frames are delivered from a single goroutine in wire order; the handler
// must be short so it does not stall draining of the socket buffer.
func (c *Client) SetOnFrame(callback func(Frame)) {
	c.callbackMu.Lock()
	c.onFrame = callback
	c.callbackMu.Unlock()
}

// SetOnStateChange sets the callback for connection state transitions.
func (c *Client) SetOnStateChange(callback func(ConnState)) {
	c.callbackMu.Lock()
	c.onStateChange = callback
	c.callbackMu.Unlock()
}

// SetOnConnectionRefused sets the callback invoked when a connect attempt
// is actively refused. Used by the low-power standby heuristic.
func (c *Client) SetOnConnectionRefused(callback func()) {
	c.callbackMu.Lock()
	c.onRefused = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Client) setState(s ConnState) {
	old := ConnState(c.state.Swap(int32(s)))
	if old == s {
		return
	}

	c.callbackMu.RLock()
	callback := c.onStateChange
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(s)
	}
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close shuts the client down. The connection is closed, the reconnect
// cycle stops, and the client stays Disconnected permanently. Safe to call
// multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()
	c.setState(StateDisconnected)

	c.logInfo("client closed")
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:            c.framesTx.Load(),
		FramesRx:            c.framesRx.Load(),
		FramesInvalid:       c.framesInvalid.Load(),
		FramesDropped:       c.framesDropped.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		ReconnectsTotal:     c.reconnectsTotal.Load(),
		ConsecutiveRefusals: c.refusals.Load(),
		Session:             c.session.Load(),
		LastActivity:        time.Unix(c.lastActivity.Load(), 0),
		State:               c.State(),
	}
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
