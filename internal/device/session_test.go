package device

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/transport"
)

// fakeTransport is an in-memory transport.Transport double for session tests.
type fakeTransport struct {
	writes   [][]byte
	writeErr error
	readCh   chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{readCh: make(chan []byte, 8)}
}

func (f *fakeTransport) Read() ([]byte, error) {
	select {
	case d, ok := <-f.readCh:
		if !ok {
			return nil, io.EOF
		}
		return d, nil
	default:
		return nil, transport.ErrNoData
	}
}

func (f *fakeTransport) Write(data []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func drainOneEvent(t *testing.T, s *Session) daqproto.DeviceEvent {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return daqproto.DeviceEvent{}
	}
}

func TestSessionSeqWrapsModulo256(t *testing.T) {
	s := NewSession(nil)
	tr := newFakeTransport()
	s.seq = 255
	if err := s.sendFrame(tr, daqproto.CmdPing, nil); err != nil {
		t.Fatalf("sendFrame: %v", err)
	}
	if s.seq != 0 {
		t.Fatalf("seq after wrap = %d, want 0", s.seq)
	}
}

func TestSessionModeChangeRollsBackOnWriteFailure(t *testing.T) {
	s := NewSession(nil)
	tr := newFakeTransport()
	tr.writeErr = errors.New("write failed")

	s.dispatchCommand(tr, Command{Kind: CmdSetModeTrigger})
	if got := s.Mode(); got != "" {
		t.Fatalf("mode after failed send = %q, want rolled back to empty", got)
	}
}

func TestSessionModeChangeCommits(t *testing.T) {
	s := NewSession(nil)
	tr := newFakeTransport()

	s.dispatchCommand(tr, Command{Kind: CmdSetModeTrigger})
	if got := s.Mode(); got != "trigger" {
		t.Fatalf("mode after successful send = %q, want trigger", got)
	}
	if len(tr.writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(tr.writes))
	}
}

func TestSessionEnqueueFull(t *testing.T) {
	s := NewSession(nil)
	for i := 0; i < commandQueueSize; i++ {
		if err := s.Enqueue(Command{Kind: CmdPing}); err != nil {
			t.Fatalf("enqueue %d: unexpected error %v", i, err)
		}
	}
	if err := s.Enqueue(Command{Kind: CmdPing}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestSessionRequestBufferedDataIgnoredOutsideTriggerMode(t *testing.T) {
	s := NewSession(nil)
	tr := newFakeTransport()
	s.dispatchCommand(tr, Command{Kind: CmdRequestBufferedData})
	if len(tr.writes) != 0 {
		t.Fatalf("expected no writes outside trigger mode, got %d", len(tr.writes))
	}
}

func TestSessionRequestBufferedDataSentInTriggerMode(t *testing.T) {
	s := NewSession(nil)
	tr := newFakeTransport()
	s.dispatchCommand(tr, Command{Kind: CmdSetModeTrigger})
	s.dispatchCommand(tr, Command{Kind: CmdRequestBufferedData})
	if len(tr.writes) != 2 {
		t.Fatalf("expected 2 writes (mode + request), got %d", len(tr.writes))
	}
}

func dataPacketPayload(ts uint32, mask, n uint16, samples []byte) []byte {
	buf := make([]byte, 8+len(samples))
	binary.LittleEndian.PutUint32(buf[0:4], ts)
	binary.LittleEndian.PutUint16(buf[4:6], mask)
	binary.LittleEndian.PutUint16(buf[6:8], n)
	copy(buf[8:], samples)
	return buf
}

func TestSessionDataPacketTaggedContinuousByDefault(t *testing.T) {
	s := NewSession(nil)
	fr := daqproto.RawFrame{
		CommandID: daqproto.InDataPacket,
		Payload:   dataPacketPayload(1000, 0b11, 2, make([]byte, 8)),
	}
	go s.handleFrame(fr)
	// drain the FrameReceived event first, then the DataPacket event.
	_ = drainOneEvent(t, s)
	ev := drainOneEvent(t, s)
	if ev.Kind != daqproto.EventDataPacket {
		t.Fatalf("kind = %v, want EventDataPacket", ev.Kind)
	}
	if ev.DataPacket.DataType.Source != daqproto.SourceContinuous {
		t.Fatalf("source = %v, want Continuous", ev.DataPacket.DataType.Source)
	}
}

func TestSessionDataPacketTaggedTriggerWithTimestamp(t *testing.T) {
	s := NewSession(nil)
	trigger := "trigger"
	s.modeMu.Store(&trigger)
	s.setCurrentTrigger(daqproto.TriggerEvent{Timestamp: 555, Channel: 1})

	fr := daqproto.RawFrame{
		CommandID: daqproto.InDataPacket,
		Payload:   dataPacketPayload(1000, 0b1, 4, make([]byte, 8)),
	}
	go s.handleFrame(fr)
	_ = drainOneEvent(t, s)
	ev := drainOneEvent(t, s)
	if ev.DataPacket.DataType.Source != daqproto.SourceTrigger {
		t.Fatalf("source = %v, want Trigger", ev.DataPacket.DataType.Source)
	}
	if ev.DataPacket.DataType.TriggerTimestamp != 555 {
		t.Fatalf("trigger timestamp = %d, want 555", ev.DataPacket.DataType.TriggerTimestamp)
	}
}

func TestSessionNackMapsToErrorEvent(t *testing.T) {
	s := NewSession(nil)
	fr := daqproto.RawFrame{CommandID: daqproto.InNack, Sequence: 9, Payload: []byte{0x02, 0x02}}
	go s.handleFrame(fr)
	_ = drainOneEvent(t, s)
	ev := drainOneEvent(t, s)
	if ev.Kind != daqproto.EventError {
		t.Fatalf("kind = %v, want EventError", ev.Kind)
	}
	if ev.ErrorMessage != "status error: trigger not occurred" {
		t.Fatalf("error message = %q", ev.ErrorMessage)
	}
}

func triggerEventPayload(ts uint32, ch uint16, pre, post uint32) []byte {
	buf := make([]byte, 14)
	binary.LittleEndian.PutUint32(buf[0:4], ts)
	binary.LittleEndian.PutUint16(buf[4:6], ch)
	binary.LittleEndian.PutUint32(buf[6:10], pre)
	binary.LittleEndian.PutUint32(buf[10:14], post)
	return buf
}

func TestSessionTriggerEventParsed(t *testing.T) {
	s := NewSession(nil)
	fr := daqproto.RawFrame{
		CommandID: daqproto.InTriggerEvent,
		Payload:   triggerEventPayload(777, 3, 10, 20),
	}
	go s.handleFrame(fr)
	_ = drainOneEvent(t, s)
	ev := drainOneEvent(t, s)
	if ev.Kind != daqproto.EventTriggerEvent {
		t.Fatalf("kind = %v, want EventTriggerEvent", ev.Kind)
	}
	if ev.TriggerEvent.Timestamp != 777 || ev.TriggerEvent.Channel != 3 ||
		ev.TriggerEvent.PreSamples != 10 || ev.TriggerEvent.PostSamples != 20 {
		t.Fatalf("trigger event = %+v, want {777 3 10 20}", ev.TriggerEvent)
	}
}

// Regression test: a 12- or 13-byte trigger_event payload must be dropped
// with a warning, not panic on the PostSamples slice access at [10:14].
func TestSessionTriggerEventShortPayloadDropped(t *testing.T) {
	for _, n := range []int{12, 13} {
		fr := daqproto.RawFrame{
			CommandID: daqproto.InTriggerEvent,
			Payload:   triggerEventPayload(1, 1, 1, 1)[:n],
		}
		s := NewSession(nil)
		go s.handleFrame(fr)
		ev := drainOneEvent(t, s) // only FrameReceived; no TriggerEvent follows
		if ev.Kind != daqproto.EventFrameReceived {
			t.Fatalf("len=%d: kind = %v, want EventFrameReceived", n, ev.Kind)
		}
		select {
		case ev := <-s.Events():
			t.Fatalf("len=%d: unexpected second event for short payload: %+v", n, ev)
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestSessionShortPayloadDropped(t *testing.T) {
	s := NewSession(nil)
	fr := daqproto.RawFrame{CommandID: daqproto.InPong, Payload: []byte{1, 2}}
	go s.handleFrame(fr)
	ev := drainOneEvent(t, s) // only the FrameReceived event; no status update follows
	if ev.Kind != daqproto.EventFrameReceived {
		t.Fatalf("kind = %v, want EventFrameReceived", ev.Kind)
	}
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected second event for short payload: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
