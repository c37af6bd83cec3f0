package device

import (
	"encoding/binary"
	"time"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/metrics"
)

// handleFrame dispatches one decoded RawFrame per the inbound table in
// spec §4.3. Unknown command IDs are ignored with a debug log; known IDs
// whose payload is too short to parse are dropped with a warning (§7,
// Protocol error kind).
func (s *Session) handleFrame(fr daqproto.RawFrame) {
	s.emit(daqproto.DeviceEvent{Kind: daqproto.EventFrameReceived, FrameRecv: fr, At: s.now()})

	switch fr.CommandID {
	case daqproto.InPong:
		if len(fr.Payload) < 8 {
			s.log.Warn("short_payload", "frame", "pong", "len", len(fr.Payload))
			return
		}
		id := binary.LittleEndian.Uint64(fr.Payload[:8])
		st := s.statusSnapshot()
		st.DeviceID = &id
		s.storeStatus(st)
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventStatusUpdate, Status: st, At: s.now()})

	case daqproto.InDeviceInfo:
		if len(fr.Payload) < 3 {
			s.log.Warn("short_payload", "frame", "device_info", "len", len(fr.Payload))
			return
		}
		fw := binary.LittleEndian.Uint16(fr.Payload[1:3])
		st := s.statusSnapshot()
		st.FirmwareVersion = &fw
		s.storeStatus(st)
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventStatusUpdate, Status: st, At: s.now()})

	case daqproto.InDataPacket:
		if len(fr.Payload) < 8 {
			s.log.Warn("short_payload", "frame", "data_packet", "len", len(fr.Payload))
			return
		}
		ts := binary.LittleEndian.Uint32(fr.Payload[0:4])
		mask := binary.LittleEndian.Uint16(fr.Payload[4:6])
		n := binary.LittleEndian.Uint16(fr.Payload[6:8])
		samples := fr.Payload[8:]
		dp := daqproto.DataPacket{
			TimestampMs:     ts,
			EnabledChannels: mask,
			SampleCount:     n,
			SensorData:      samples,
			DataType:        s.currentDataType(),
		}
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventDataPacket, DataPacket: dp, At: s.now()})

	case daqproto.InTriggerEvent:
		if len(fr.Payload) < 14 {
			s.log.Warn("short_payload", "frame", "trigger_event", "len", len(fr.Payload))
			return
		}
		te := daqproto.TriggerEvent{
			Timestamp:   binary.LittleEndian.Uint32(fr.Payload[0:4]),
			Channel:     binary.LittleEndian.Uint16(fr.Payload[4:6]),
			PreSamples:  binary.LittleEndian.Uint32(fr.Payload[6:10]),
			PostSamples: binary.LittleEndian.Uint32(fr.Payload[10:14]),
		}
		s.setCurrentTrigger(te)
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventTriggerEvent, TriggerEvent: te, At: s.now()})

	case daqproto.InBufferTransferComplete:
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventBufferTransferComplete, At: s.now()})

	case daqproto.InAck:
		s.log.Info("device_ack", "seq", fr.Sequence)

	case daqproto.InNack:
		if len(fr.Payload) < 2 {
			s.log.Warn("short_payload", "frame", "nack", "len", len(fr.Payload))
			return
		}
		errType, code := fr.Payload[0], fr.Payload[1]
		msg := daqproto.MapNack(errType, code)
		metrics.IncNack(msg)
		s.log.Warn("device_nack", "seq", fr.Sequence, "error_type", errType, "code", code, "message", msg)
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventError, ErrorMessage: msg, At: s.now()})

	case daqproto.InLogMessage:
		if len(fr.Payload) < 2 {
			s.log.Warn("short_payload", "frame", "log_message", "len", len(fr.Payload))
			return
		}
		level := fr.Payload[0]
		n := int(fr.Payload[1])
		if len(fr.Payload) < 2+n {
			s.log.Warn("short_payload", "frame", "log_message", "len", len(fr.Payload), "want", 2+n)
			return
		}
		msg := string(fr.Payload[2 : 2+n])
		s.emit(daqproto.DeviceEvent{Kind: daqproto.EventLogMessage, LogLevel: level, LogMessage: msg, At: s.now()})

	default:
		s.log.Debug("unknown_frame", "command_id", fr.CommandID)
	}
}

func (s *Session) now() time.Time { return time.Now() }
