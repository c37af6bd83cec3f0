// Package device implements the device session manager (spec §4.3): the
// connect-retry loop, the outbound command queue, the inbound frame handler,
// and the mode state that labels decoded DataPackets as Continuous or
// Trigger.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/frame"
	"github.com/nvarga/daq-gateway/internal/logging"
	"github.com/nvarga/daq-gateway/internal/metrics"
	"github.com/nvarga/daq-gateway/internal/transport"
)

// Dialer opens a fresh Transport to the device. Supplied by cmd/daq-gateway,
// wrapping either transport.Stream or transport.Serial per the configured
// endpoint.
type Dialer func() (transport.Transport, error)

const (
	reconnectBackoff = 2 * time.Second
	readPollInterval = 50 * time.Millisecond
	commandQueueSize = 32
	eventQueueSize   = 256
)

// Session owns the device transport and codec exclusively (spec §3
// Ownership); it is not safe for concurrent use except through its public
// methods, which are the only cross-goroutine entry points.
type Session struct {
	dial Dialer
	log  *slog.Logger

	cmdCh   chan Command
	eventCh chan daqproto.DeviceEvent

	seq byte

	status  atomic.Pointer[daqproto.DeviceStatus]
	modeMu  atomic.Pointer[string] // "" | "continuous" | "trigger"
	trigger atomic.Pointer[daqproto.TriggerEvent]

	packetsProcessed atomic.Uint64
}

// NewSession constructs a Session. dial is invoked once per connect attempt.
func NewSession(dial Dialer) *Session {
	s := &Session{
		dial:    dial,
		log:     logging.L(),
		cmdCh:   make(chan Command, commandQueueSize),
		eventCh: make(chan daqproto.DeviceEvent, eventQueueSize),
	}
	s.status.Store(&daqproto.DeviceStatus{})
	empty := ""
	s.modeMu.Store(&empty)
	return s
}

// Events returns the channel of DeviceEvents the event router consumes.
func (s *Session) Events() <-chan daqproto.DeviceEvent { return s.eventCh }

// Enqueue submits a command for asynchronous dispatch. Non-blocking: returns
// ErrQueueFull if the internal buffer is saturated.
func (s *Session) Enqueue(cmd Command) error {
	select {
	case s.cmdCh <- cmd:
		metrics.SetCommandQueueDepth(len(s.cmdCh))
		return nil
	default:
		return ErrQueueFull
	}
}

// Status returns the last-known device status snapshot (single-writer,
// multi-reader watch per spec §5).
func (s *Session) Status() daqproto.DeviceStatus { return *s.status.Load() }

// Mode returns the session's current mode label ("", "continuous", "trigger").
func (s *Session) Mode() string { return *s.modeMu.Load() }

// PacketsProcessed returns the number of DataPacket frames seen so far.
func (s *Session) PacketsProcessed() uint64 { return s.packetsProcessed.Load() }

// Run drives the connect-retry loop until ctx is cancelled. Callers that want
// the spec's "restart after 5s on panic or return" supervision should wrap
// Run in their own recover+retry loop; Run itself returns cleanly on ctx
// cancellation and does not restart itself.
func (s *Session) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		tr, err := s.dial()
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrConnect, err)
			metrics.IncError(mapErrToMetric(wrapped))
			s.log.Warn("device_connect_failed", "error", err, "retry_in", reconnectBackoff)
			s.emit(daqproto.DeviceEvent{Kind: daqproto.EventError, ErrorMessage: wrapped.Error(), At: time.Now()})
			if !sleepOrDone(ctx, reconnectBackoff) {
				return
			}
			continue
		}

		s.seq = 0
		if err := s.sendFrame(tr, daqproto.CmdPing, nil); err != nil {
			s.log.Warn("device_initial_ping_failed", "error", err)
			_ = tr.Close()
			if !sleepOrDone(ctx, reconnectBackoff) {
				return
			}
			continue
		}

		st := s.Status()
		st.Connected = true
		s.storeStatus(st)
		metrics.IncDeviceConnect()
		s.log.Info("device_connected")
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventConnected, Connected: "device connected", At: time.Now()})

		s.runInner(ctx, tr)

		_ = tr.Close()
		st = s.Status()
		st.Connected = false
		s.storeStatus(st)
		metrics.IncDeviceDisconnect()
		s.log.Info("device_disconnected")
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventDisconnected, At: time.Now()})

		if ctx.Err() != nil {
			return
		}
		if !sleepOrDone(ctx, reconnectBackoff) {
			return
		}
	}
}

// runInner is the cooperative select loop (spec §5, T1): it interleaves
// reads from the transport with draining the command queue. The command
// check never blocks; the transport read blocks for at most the transport's
// own read timeout before returning ErrNoData.
func (s *Session) runInner(ctx context.Context, tr transport.Transport) {
	decoder := frame.NewDecoder()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmdCh:
			s.dispatchCommand(tr, cmd)
			metrics.SetCommandQueueDepth(len(s.cmdCh))
		default:
		}

		data, err := tr.Read()
		switch {
		case err == nil:
			for _, fr := range decoder.Feed(data) {
				if fr.CommandID == daqproto.InDataPacket {
					s.packetsProcessed.Add(1)
				}
				s.handleFrame(fr)
			}
		case err == transport.ErrNoData:
			// nothing arrived within the poll window; loop back to the
			// command check above.
		default:
			wrapped := fmt.Errorf("%w: %v", ErrConnRead, err)
			metrics.IncError(mapErrToMetric(wrapped))
			s.log.Warn("device_read_error", "error", err)
			return
		}
	}
}

// dispatchCommand handles one dequeued Command: mode changes are
// local-state-first with rollback on send failure (spec §4.3); all other
// commands are fire-and-forget.
func (s *Session) dispatchCommand(tr transport.Transport, cmd Command) {
	switch cmd.Kind {
	case CmdSetModeContinuous:
		s.setModeWithRollback(tr, "continuous", cmd)
	case CmdSetModeTrigger:
		s.setModeWithRollback(tr, "trigger", cmd)
	case CmdRequestBufferedData:
		if s.Mode() != "trigger" {
			s.log.Warn("request_buffered_data_ignored", "reason", "not in trigger mode")
			return
		}
		s.sendCommand(tr, cmd)
	default:
		s.sendCommand(tr, cmd)
	}
}

func (s *Session) setModeWithRollback(tr transport.Transport, newMode string, cmd Command) {
	prev := s.Mode()
	m := newMode
	s.modeMu.Store(&m)
	if err := s.sendFrame(tr, cmd.Kind.wireID(), cmd.payload()); err != nil {
		s.modeMu.Store(&prev)
		s.log.Warn("mode_change_rolled_back", "attempted", newMode, "error", err)
		metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnWrite, err)))
		return
	}
	st := s.Status()
	st.Mode = newMode
	s.storeStatus(st)
	metrics.IncCommandSent(cmd.Kind.String())
}

func (s *Session) sendCommand(tr transport.Transport, cmd Command) {
	if err := s.sendFrame(tr, cmd.Kind.wireID(), cmd.payload()); err != nil {
		s.log.Warn("command_send_failed", "command", cmd.Kind.String(), "error", err)
		metrics.IncError(mapErrToMetric(fmt.Errorf("%w: %v", ErrConnWrite, err)))
		return
	}
	metrics.IncCommandSent(cmd.Kind.String())
}

// sendFrame encodes and writes one command frame, advancing seq (mod 256)
// only after a successful write.
func (s *Session) sendFrame(tr transport.Transport, cmdID byte, payload []byte) error {
	wire := frame.Encode(cmdID, s.seq, payload)
	if err := tr.Write(wire); err != nil {
		return err
	}
	s.seq++ // byte wraps mod 256 automatically
	metrics.IncFrameTx()
	return nil
}

func (s *Session) currentDataType() daqproto.DataType {
	if s.Mode() != "trigger" {
		return daqproto.DataType{Source: daqproto.SourceContinuous}
	}
	te := s.trigger.Load()
	if te == nil {
		return daqproto.DataType{Source: daqproto.SourceContinuous}
	}
	return daqproto.DataType{Source: daqproto.SourceTrigger, TriggerTimestamp: te.Timestamp}
}

func (s *Session) setCurrentTrigger(te daqproto.TriggerEvent) { s.trigger.Store(&te) }

func (s *Session) statusSnapshot() daqproto.DeviceStatus { return s.Status() }

func (s *Session) storeStatus(st daqproto.DeviceStatus) { s.status.Store(&st) }

// emit delivers an event to the router. The event channel is sized generously
// (eventQueueSize) and the router is expected to drain promptly, so this is a
// blocking send by design: dropping DeviceEvents (unlike fan-out broadcasts)
// would desynchronize session and downstream state.
func (s *Session) emit(ev daqproto.DeviceEvent) { s.eventCh <- ev }

// sleepOrDone waits for d or ctx cancellation, returning false if ctx was
// cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
