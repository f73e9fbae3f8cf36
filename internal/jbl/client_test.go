package jbl

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// testReceiver is a loopback stand-in for the device's control port.
type testReceiver struct {
	listener net.Listener
	conns    chan net.Conn
}

func newTestReceiver(t *testing.T) *testReceiver {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r := &testReceiver{
		listener: listener,
		conns:    make(chan net.Conn, 4),
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			r.conns <- conn
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return r
}

func (r *testReceiver) port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

func (r *testReceiver) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-r.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection within 2s")
		return nil
	}
}

// discard drains the client's outbound bytes so writes never block.
func discard(conn net.Conn) {
	go func() {
		buf := make([]byte, 256)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
}

func newTestClient(t *testing.T, port int) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Host:                 "127.0.0.1",
		Port:                 port,
		ConnectTimeout:       time.Second,
		WriteTimeout:         time.Second,
		HeartbeatInterval:    time.Hour, // Out of the way for most tests
		IdleTimeout:          5 * time.Second,
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitForState(t *testing.T, client *Client, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", client.State(), want)
}

func TestClientRequiresHost(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("NewClient error = %v, want ErrConnectionFailed", err)
	}
}

func TestClientSendsInitializationFirst(t *testing.T) {
	receiver := newTestReceiver(t)
	client := newTestClient(t, receiver.port())
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := receiver.accept(t)
	defer conn.Close()

	// The very first bytes on a new session must be the init command.
	want := []byte{0x23, 0x50, 0x01, 0xF0, 0x0D}
	buf := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("read init: %v", err)
	}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("init bytes = % X, want % X", buf, want)
		}
	}

	waitForState(t, client, StateConnected)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestFramesDeliveredInWireOrder(t *testing.T) {
	receiver := newTestReceiver(t)
	client := newTestClient(t, receiver.port())

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})
	client.SetOnFrame(func(frame Frame) {
		mu.Lock()
		got = append(got, frame.Data[0])
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
	})

	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := receiver.accept(t)
	defer conn.Close()
	discard(conn)
	waitForState(t, client, StateConnected)

	// One write carrying several frames back to back, plus a corrupt run in
	// the middle that the decoder must skip without losing alignment.
	var stream []byte
	for _, v := range []byte{10, 11} {
		raw, _ := EncodeResponse(CmdVolume, RspStatusUpdate, v)
		stream = append(stream, raw...)
	}
	stream = append(stream, 0x41, 0x42, 0x43) // Line noise
	for _, v := range []byte{12, 13, 14} {
		raw, _ := EncodeResponse(CmdVolume, RspStatusUpdate, v)
		stream = append(stream, raw...)
	}
	if _, err := conn.Write(stream); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		n := len(got)
		mu.Unlock()
		t.Fatalf("received %d frames, want 5", n)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []byte{10, 11, 12, 13, 14} {
		if got[i] != want {
			t.Fatalf("delivery order = %v, want ascending 10..14", got)
		}
	}

	if stats := client.Stats(); stats.FramesInvalid == 0 {
		t.Error("corrupt run not counted in FramesInvalid")
	}
}

func TestClientReconnectsAfterConnectionLoss(t *testing.T) {
	receiver := newTestReceiver(t)
	client := newTestClient(t, receiver.port())

	var mu sync.Mutex
	var transitions []ConnState
	client.SetOnStateChange(func(s ConnState) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := receiver.accept(t)
	discard(first)
	waitForState(t, client, StateConnected)

	// Drop the session from the receiver side.
	first.Close()

	second := receiver.accept(t)
	defer second.Close()
	discard(second)
	waitForState(t, client, StateConnected)

	if stats := client.Stats(); stats.Session < 2 {
		t.Errorf("Session = %d, want at least 2", stats.Session)
	}

	mu.Lock()
	defer mu.Unlock()
	sawDisconnect := false
	for _, s := range transitions {
		if s == StateDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Errorf("transitions = %v, missing disconnected", transitions)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	client := newTestClient(t, 1) // Nothing listens on port 1
	err := client.Send(context.Background(), NewVolumeCommand(10))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	receiver := newTestReceiver(t)
	client := newTestClient(t, receiver.port())
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn := receiver.accept(t)
	defer conn.Close()
	discard(conn)
	waitForState(t, client, StateConnected)

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.State() != StateDisconnected {
		t.Errorf("state after close = %v, want disconnected", client.State())
	}
	if err := client.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after close = %v, want ErrClosed", err)
	}

	// No reconnection may happen after Close.
	select {
	case <-receiver.conns:
		t.Error("client reconnected after Close")
	case <-time.After(150 * time.Millisecond):
	}
}

func newTestClientWithIdle(t *testing.T, port int, idle time.Duration) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		Host:                 "127.0.0.1",
		Port:                 port,
		ConnectTimeout:       time.Second,
		WriteTimeout:         time.Second,
		HeartbeatInterval:    time.Hour,
		IdleTimeout:          idle,
		ReconnectInterval:    20 * time.Millisecond,
		MaxReconnectInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGarbageDoesNotSatisfyLiveness(t *testing.T) {
	receiver := newTestReceiver(t)
	client := newTestClientWithIdle(t, receiver.port(), 200*time.Millisecond)
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := receiver.accept(t)
	defer conn.Close()
	discard(conn)
	waitForState(t, client, StateConnected)

	// Keep bytes flowing faster than the idle window, but never a valid
	// frame. The session must still be torn down as dead.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if _, err := conn.Write([]byte{0x41, 0x42, 0x43}); err != nil {
					return
				}
			}
		}
	}()

	// A second accept proves the idle teardown fired and the client
	// reconnected despite the steady byte stream.
	second := receiver.accept(t)
	second.Close()
}

func TestValidFramesKeepSessionAlive(t *testing.T) {
	receiver := newTestReceiver(t)
	client := newTestClientWithIdle(t, receiver.port(), 250*time.Millisecond)
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := receiver.accept(t)
	defer conn.Close()
	discard(conn)
	waitForState(t, client, StateConnected)

	// Valid frames arriving inside the window must keep the session up
	// well past several idle timeouts.
	deadline := time.Now().Add(800 * time.Millisecond)
	for time.Now().Before(deadline) {
		raw, _ := EncodeResponse(CmdVolume, RspStatusUpdate, 10)
		if _, err := conn.Write(raw); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(80 * time.Millisecond)
	}

	if state := client.State(); state != StateConnected {
		t.Fatalf("state = %v, want connected", state)
	}
	if stats := client.Stats(); stats.Session != 1 {
		t.Errorf("Session = %d, want 1", stats.Session)
	}
}

func TestQuerySweepIncludesVersion(t *testing.T) {
	for _, cmd := range stateQueryCommands {
		if cmd == CmdVersion {
			return
		}
	}
	t.Error("software version missing from the connect query sweep")
}

func TestBackoffGrowsMonotonicallyToCap(t *testing.T) {
	const ceiling = 2 * time.Minute
	cur := 2 * time.Second

	prev := cur
	for i := 0; i < 20; i++ {
		next := nextBackoff(cur, ceiling)
		if next < prev {
			t.Fatalf("backoff shrank: %v -> %v", prev, next)
		}
		if next > ceiling {
			t.Fatalf("backoff %v exceeds cap %v", next, ceiling)
		}
		prev, cur = next, next
	}
	if cur != ceiling {
		t.Errorf("backoff = %v after 20 steps, want cap %v", cur, ceiling)
	}
}

func TestJitterIsStrictlyAdditiveAndBounded(t *testing.T) {
	base := 8 * time.Second
	for i := 0; i < 100; i++ {
		d := withJitter(base)
		if d < base {
			t.Fatalf("jittered delay %v below base %v", d, base)
		}
		if d > base+base/4 {
			t.Fatalf("jittered delay %v exceeds base+25%% (%v)", d, base+base/4)
		}
	}
}
