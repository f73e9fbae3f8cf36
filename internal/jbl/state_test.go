package jbl

import (
	"testing"
)

func statusFrame(cmd Command, data ...byte) Frame {
	return Frame{Cmd: cmd, Rsp: RspStatusUpdate, Data: data}
}

func TestSynchronizerStartsUnknown(t *testing.T) {
	s := NewSynchronizer()
	snap := s.Snapshot()

	if snap.Connected {
		t.Error("new synchronizer reports connected")
	}
	if snap.Power != PowerUnknown {
		t.Errorf("Power = %v, want unknown", snap.Power)
	}
	if snap.Volume != VolumeUnknown {
		t.Errorf("Volume = %d, want %d", snap.Volume, VolumeUnknown)
	}
	if snap.Mute != SwitchUnknown {
		t.Errorf("Mute = %v, want unknown", snap.Mute)
	}
	if snap.TrebleEQ != EQUnknown {
		t.Errorf("TrebleEQ = %d, want %d", snap.TrebleEQ, EQUnknown)
	}
}

func TestApplyFrameUpdatesState(t *testing.T) {
	s := NewSynchronizer()

	s.ApplyFrame(statusFrame(CmdPower, 0x01))
	s.ApplyFrame(statusFrame(CmdVolume, 42))
	s.ApplyFrame(statusFrame(CmdMute, 0x00))
	s.ApplyFrame(statusFrame(CmdInputSource, byte(InputOptical)))
	s.ApplyFrame(statusFrame(CmdBassEQ, 0x09)) // +3 dB
	s.ApplyFrame(statusFrame(CmdInitialization, byte(ModelMA710)))

	snap := s.Snapshot()
	if snap.Power != PowerOn {
		t.Errorf("Power = %v, want on", snap.Power)
	}
	if snap.Volume != 42 {
		t.Errorf("Volume = %d, want 42", snap.Volume)
	}
	if snap.Mute != SwitchOff {
		t.Errorf("Mute = %v, want off", snap.Mute)
	}
	if snap.Input != InputOptical {
		t.Errorf("Input = %v, want optical", snap.Input)
	}
	if snap.BassEQ != 3 {
		t.Errorf("BassEQ = %d, want 3", snap.BassEQ)
	}
	if snap.Model != ModelMA710 {
		t.Errorf("Model = %v, want MA710", snap.Model)
	}
}

func TestInboundReportOverridesOptimisticValue(t *testing.T) {
	s := NewSynchronizer()

	// Optimistic value from an issued command, then the receiver reports a
	// different value. The device report must win.
	s.ApplyIntent(map[string]any{"volume": 35})
	if got := s.Snapshot().Volume; got != 35 {
		t.Fatalf("Volume after intent = %d, want 35", got)
	}

	s.ApplyFrame(statusFrame(CmdVolume, 30))
	if got := s.Snapshot().Volume; got != 30 {
		t.Errorf("Volume after device report = %d, want 30", got)
	}
}

func TestErrorResponsesDoNotMutateState(t *testing.T) {
	s := NewSynchronizer()
	s.ApplyFrame(statusFrame(CmdVolume, 20))

	s.ApplyFrame(Frame{Cmd: CmdVolume, Rsp: RspCommandInvalid, Data: []byte{99}})
	if got := s.Snapshot().Volume; got != 20 {
		t.Errorf("Volume after error response = %d, want 20", got)
	}
}

func TestUnknownStatusCodeIgnored(t *testing.T) {
	s := NewSynchronizer()
	before := s.Snapshot()

	s.ApplyFrame(statusFrame(Command(0x7F), 0x01))

	after := s.Snapshot()
	before.UpdatedAt = after.UpdatedAt
	if before != after {
		t.Error("unknown status code mutated state")
	}
}

func TestChangeEventsCarryOnlyChangedFields(t *testing.T) {
	s := NewSynchronizer()
	var events []Change
	s.OnChange(func(c Change) { events = append(events, c) })

	s.ApplyFrame(statusFrame(CmdVolume, 25))
	s.ApplyFrame(statusFrame(CmdVolume, 25)) // No change, no event.
	s.ApplyFrame(statusFrame(CmdVolume, 26))

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if v, ok := events[0].Fields["volume"]; !ok || v != 25 {
		t.Errorf("first event fields = %v", events[0].Fields)
	}
	if v := events[1].Fields["volume"]; v != 26 {
		t.Errorf("second event volume = %v, want 26", v)
	}
	if events[1].Snapshot.Volume != 26 {
		t.Errorf("snapshot volume = %d, want 26", events[1].Snapshot.Volume)
	}
}

func TestDisconnectClearsStateWithSingleFullEvent(t *testing.T) {
	s := NewSynchronizer()
	s.MarkConnected()
	s.ApplyFrame(statusFrame(CmdPower, 0x01))
	s.ApplyFrame(statusFrame(CmdVolume, 42))
	s.ApplyFrame(statusFrame(CmdInputSource, byte(InputHDMI1)))

	var events []Change
	s.OnChange(func(c Change) { events = append(events, c) })

	s.MarkDisconnected()

	if len(events) != 1 {
		t.Fatalf("got %d events, want exactly 1", len(events))
	}
	if !events[0].Full {
		t.Error("disconnect event not marked Full")
	}

	snap := events[0].Snapshot
	if snap.Connected {
		t.Error("snapshot still connected")
	}
	if snap.Power != PowerUnknown || snap.Volume != VolumeUnknown ||
		snap.Mute != SwitchUnknown || snap.Input != 0 {
		t.Errorf("stale values survived disconnect: %+v", snap)
	}
}

func TestLimitedControlTripsAfterConsecutiveFailures(t *testing.T) {
	s := NewSynchronizer()
	var events []Change
	s.OnChange(func(c Change) { events = append(events, c) })

	s.RecordCommandTimeout()
	s.RecordCommandTimeout()
	if s.Snapshot().LimitedControl {
		t.Fatal("limited control tripped before threshold")
	}

	s.RecordConnectionRefused()
	if !s.Snapshot().LimitedControl {
		t.Fatal("limited control not tripped at threshold")
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if v := events[0].Fields["limited_control"]; v != true {
		t.Errorf("event fields = %v", events[0].Fields)
	}

	// Any inbound frame is proof of life and clears the inference.
	s.ApplyFrame(statusFrame(CmdHeartbeat))
	if s.Snapshot().LimitedControl {
		t.Error("limited control not cleared by inbound frame")
	}
}

func TestLimitedControlCounterResetsOnActivity(t *testing.T) {
	s := NewSynchronizer()

	s.RecordCommandTimeout()
	s.RecordCommandTimeout()
	s.ApplyFrame(statusFrame(CmdVolume, 10))
	s.RecordCommandTimeout()
	s.RecordCommandTimeout()

	if s.Snapshot().LimitedControl {
		t.Error("non-consecutive failures tripped limited control")
	}
}
