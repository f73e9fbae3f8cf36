package jbl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSender records frames instead of writing to a socket.
type fakeSender struct {
	mu      sync.Mutex
	frames  []Frame
	state   ConnState
	sendErr error
}

func newFakeSender() *fakeSender {
	return &fakeSender{state: StateConnected}
}

func (f *fakeSender) Send(_ context.Context, frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) sent() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeSender) waitFrames(t *testing.T, n int, timeout time.Duration) []Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if frames := f.sent(); len(frames) >= n {
			return frames
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames, got %d", n, len(f.sent()))
	return nil
}

func newTestDispatcher(sender Sender) (*Dispatcher, *Synchronizer) {
	syncer := NewSynchronizer()
	d := NewDispatcher(sender, syncer, DispatcherConfig{
		Debounce:   30 * time.Millisecond,
		AckTimeout: 60 * time.Millisecond,
		MaxRetries: 2,
	})
	return d, syncer
}

func TestIssueFailsWhenDisconnected(t *testing.T) {
	sender := newFakeSender()
	sender.state = StateDisconnected
	d, _ := newTestDispatcher(sender)
	defer d.Close()

	err := d.Issue(context.Background(), NewVolumeCommand(10), map[string]any{"volume": 10})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Issue() error = %v, want ErrNotConnected", err)
	}
}

func TestRapidIntentsCoalesceToNewest(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)
	defer d.Close()

	errA := make(chan error, 1)
	go func() {
		errA <- d.Issue(context.Background(), NewVolumeCommand(10), map[string]any{"volume": 10})
	}()
	time.Sleep(10 * time.Millisecond)

	errB := make(chan error, 1)
	go func() {
		errB <- d.Issue(context.Background(), NewVolumeCommand(20), map[string]any{"volume": 20})
	}()

	// The older intent is superseded without ever reaching the wire.
	if err := <-errA; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first intent error = %v, want ErrSuperseded", err)
	}

	frames := sender.waitFrames(t, 1, time.Second)
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want exactly 1", len(frames))
	}
	if frames[0].Cmd != CmdVolume || frames[0].Data[0] != 20 {
		t.Errorf("wire frame = %v, want volume 20", frames[0])
	}

	// Acknowledge the surviving command.
	d.HandleFrame(statusFrame(CmdVolume, 20))
	if err := <-errB; err != nil {
		t.Errorf("surviving intent error = %v, want nil", err)
	}
}

func TestIndependentAxesDoNotCoalesce(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)
	defer d.Close()

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- d.Issue(context.Background(), NewVolumeCommand(15), map[string]any{"volume": 15})
	}()
	go func() {
		defer wg.Done()
		results <- d.Issue(context.Background(), NewMuteCommand(true), map[string]any{"mute": SwitchOn})
	}()

	frames := sender.waitFrames(t, 2, time.Second)
	seen := map[Command]bool{}
	for _, f := range frames {
		seen[f.Cmd] = true
	}
	if !seen[CmdVolume] || !seen[CmdMute] {
		t.Errorf("wire frames = %v, want one volume and one mute", frames)
	}

	d.HandleFrame(statusFrame(CmdVolume, 15))
	d.HandleFrame(statusFrame(CmdMute, 0x01))
	wg.Wait()
	close(results)
	for err := range results {
		if err != nil {
			t.Errorf("Issue() error = %v", err)
		}
	}
}

func TestAckAppliesIntentOptimistically(t *testing.T) {
	sender := newFakeSender()
	d, syncer := newTestDispatcher(sender)
	defer d.Close()

	done := make(chan error, 1)
	go func() {
		done <- d.Issue(context.Background(), NewInputCommand(InputHDMI3), map[string]any{"input": InputHDMI3})
	}()

	sender.waitFrames(t, 1, time.Second)
	d.HandleFrame(statusFrame(CmdInputSource, byte(InputHDMI3)))

	if err := <-done; err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if got := syncer.Snapshot().Input; got != InputHDMI3 {
		t.Errorf("Input = %v, want HDMI 3", got)
	}
}

func TestRejectedCommand(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)
	defer d.Close()

	done := make(chan error, 1)
	go func() {
		done <- d.Issue(context.Background(), NewSurroundModeCommand(SurroundProLogicII), map[string]any{"surround_mode": SurroundProLogicII})
	}()

	sender.waitFrames(t, 1, time.Second)
	d.HandleFrame(Frame{Cmd: CmdSurroundMode, Rsp: RspParameterNotRecognized})

	if err := <-done; !errors.Is(err, ErrCommandRejected) {
		t.Errorf("Issue() error = %v, want ErrCommandRejected", err)
	}
}

func TestUnansweredCommandRetriesThenFails(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)
	defer d.Close()

	start := time.Now()
	err := d.Issue(context.Background(), NewVolumeCommand(5), map[string]any{"volume": 5})
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("Issue() error = %v, want ErrCommandTimeout", err)
	}

	// Initial attempt plus MaxRetries resends, all with the same payload.
	frames := sender.sent()
	if len(frames) != 3 {
		t.Fatalf("sent %d frames, want 3 (1 attempt + 2 retries)", len(frames))
	}
	for i, f := range frames {
		if f.Cmd != CmdVolume || f.Data[0] != 5 {
			t.Errorf("attempt %d frame = %v, want volume 5", i+1, f)
		}
	}

	// Three ack windows must have elapsed.
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond {
		t.Errorf("failed after %v, want at least 3 ack windows", elapsed)
	}

	stats := d.Stats()
	if stats.Retries != 2 || stats.Timeouts != 1 {
		t.Errorf("stats = %+v, want 2 retries and 1 timeout", stats)
	}
}

func TestRedundantCommandSkipsWire(t *testing.T) {
	sender := newFakeSender()
	d, syncer := newTestDispatcher(sender)
	defer d.Close()

	syncer.ApplyFrame(statusFrame(CmdVolume, 30))

	err := d.Issue(context.Background(), NewVolumeCommand(30), map[string]any{"volume": 30})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("sent %d frames, want 0 for a redundant command", n)
	}
}

func TestLimitedControlFailsFast(t *testing.T) {
	sender := newFakeSender()
	d, syncer := newTestDispatcher(sender)
	defer d.Close()

	syncer.RecordCommandTimeout()
	syncer.RecordCommandTimeout()
	syncer.RecordCommandTimeout()

	err := d.Issue(context.Background(), NewMuteCommand(true), map[string]any{"mute": SwitchOn})
	if !errors.Is(err, ErrLimitedControl) {
		t.Errorf("Issue() error = %v, want ErrLimitedControl", err)
	}
	if n := len(sender.sent()); n != 0 {
		t.Errorf("sent %d frames while limited, want 0", n)
	}

	// A power command is still attempted: it is the only one with a chance
	// of being honoured from standby.
	done := make(chan error, 1)
	go func() {
		done <- d.Issue(context.Background(), NewPowerCommand(true), map[string]any{"power": PowerOn})
	}()
	sender.waitFrames(t, 1, time.Second)
	d.HandleFrame(statusFrame(CmdPower, 0x01))
	if err := <-done; err != nil {
		t.Errorf("power command error = %v", err)
	}
}

func TestResetFailsPendingCommands(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)
	defer d.Close()

	done := make(chan error, 1)
	go func() {
		done <- d.Issue(context.Background(), NewVolumeCommand(8), map[string]any{"volume": 8})
	}()
	sender.waitFrames(t, 1, time.Second)

	d.Reset()
	if err := <-done; !errors.Is(err, ErrNotConnected) {
		t.Errorf("Issue() error after reset = %v, want ErrNotConnected", err)
	}
}

func TestCloseFailsPendingCommands(t *testing.T) {
	sender := newFakeSender()
	d, _ := newTestDispatcher(sender)

	done := make(chan error, 1)
	go func() {
		done <- d.Issue(context.Background(), NewVolumeCommand(8), map[string]any{"volume": 8})
	}()
	sender.waitFrames(t, 1, time.Second)

	d.Close()
	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("Issue() error after close = %v, want ErrClosed", err)
	}

	if err := d.Issue(context.Background(), NewMuteCommand(true), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Issue() on closed dispatcher = %v, want ErrClosed", err)
	}
}
