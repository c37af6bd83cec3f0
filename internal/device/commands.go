package device

import (
	"encoding/binary"

	"github.com/nvarga/daq-gateway/internal/daqproto"
)

// CommandKind enumerates the outbound command set from spec §4.3.
type CommandKind int

const (
	CmdPing CommandKind = iota
	CmdGetDeviceInfo
	CmdSetModeContinuous
	CmdSetModeTrigger
	CmdStartStream
	CmdStopStream
	CmdConfigureStream
	CmdRequestBufferedData
)

func (k CommandKind) String() string {
	switch k {
	case CmdPing:
		return "ping"
	case CmdGetDeviceInfo:
		return "device_info"
	case CmdSetModeContinuous:
		return "continuous_mode"
	case CmdSetModeTrigger:
		return "trigger_mode"
	case CmdStartStream:
		return "start_stream"
	case CmdStopStream:
		return "stop_stream"
	case CmdConfigureStream:
		return "configure_stream"
	case CmdRequestBufferedData:
		return "request_buffered_data"
	default:
		return "unknown"
	}
}

// Command is one entry on the outbound command queue.
type Command struct {
	Kind     CommandKind
	Channels []daqproto.ChannelConfig // only meaningful for CmdConfigureStream
}

// wireID returns the on-wire command byte for k.
func (k CommandKind) wireID() byte {
	switch k {
	case CmdPing:
		return daqproto.CmdPing
	case CmdGetDeviceInfo:
		return daqproto.CmdGetDeviceInfo
	case CmdSetModeContinuous:
		return daqproto.CmdSetModeContinuous
	case CmdSetModeTrigger:
		return daqproto.CmdSetModeTrigger
	case CmdStartStream:
		return daqproto.CmdStartStream
	case CmdStopStream:
		return daqproto.CmdStopStream
	case CmdConfigureStream:
		return daqproto.CmdConfigureStream
	case CmdRequestBufferedData:
		return daqproto.CmdRequestBufferedData
	default:
		return 0
	}
}

// payload builds the on-wire payload for cmd per spec §4.3's command table.
func (c Command) payload() []byte {
	if c.Kind != CmdConfigureStream {
		return nil
	}
	out := make([]byte, 0, 1+len(c.Channels)*6)
	out = append(out, byte(len(c.Channels)))
	for _, ch := range c.Channels {
		var rate [4]byte
		binary.LittleEndian.PutUint32(rate[:], ch.SampleRate)
		out = append(out, ch.ChannelID)
		out = append(out, rate[:]...)
		out = append(out, ch.Format)
	}
	return out
}
