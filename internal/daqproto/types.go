// Package daqproto holds the wire-level data model shared by the frame
// codec, the device session and the sample decoder: RawFrame, DataPacket,
// TriggerEvent, the outbound command set and the DeviceEvent bus.
package daqproto

import "time"

// RawFrame is a single decoded, CRC-validated frame off the wire.
// Produced by the frame codec; consumed only by the device session.
type RawFrame struct {
	CommandID byte
	Sequence  byte
	Payload   []byte
}

// Outbound command IDs (cmd byte on the wire). See spec §4.3.
const (
	CmdPing                 byte = 0x01
	CmdGetDeviceInfo        byte = 0x03
	CmdSetModeContinuous    byte = 0x10
	CmdSetModeTrigger       byte = 0x11
	CmdStartStream          byte = 0x12
	CmdStopStream           byte = 0x13
	CmdConfigureStream      byte = 0x14
	CmdRequestBufferedData  byte = 0x42
)

// Inbound frame IDs.
const (
	InPong                   byte = 0x81
	InDeviceInfo             byte = 0x83
	InDataPacket             byte = 0x40
	InTriggerEvent           byte = 0x41
	InBufferTransferComplete byte = 0x4F
	InAck                    byte = 0x90
	InNack                   byte = 0x91
	InLogMessage             byte = 0xE0
)

// DataSource tags whether a DataPacket/ProcessedData originated from the
// continuous stream or from a triggered capture.
type DataSource int

const (
	SourceContinuous DataSource = iota
	SourceTrigger
)

func (s DataSource) String() string {
	if s == SourceTrigger {
		return "Trigger"
	}
	return "Continuous"
}

// DataType carries the per-packet trigger bookkeeping for Trigger-sourced
// packets; zero value (Source==Continuous) means the other fields are unused.
type DataType struct {
	Source            DataSource
	TriggerTimestamp  uint32
	IsComplete        bool
}

// DataPacket is the deinterleaved-on-the-wire sample payload for one or more
// channels. sensor_data.len() must equal popcount(EnabledChannels) *
// SampleCount * 2; channel index k is the k-th set bit of EnabledChannels,
// LSB first.
type DataPacket struct {
	TimestampMs     uint32
	EnabledChannels uint16
	SampleCount     uint16
	SensorData      []byte
	DataType        DataType
}

// TriggerEvent is emitted exactly once per device-side trigger; it brackets
// the start of a burst whose component packets follow as Trigger DataPackets.
type TriggerEvent struct {
	Timestamp   uint32
	Channel     uint16
	PreSamples  uint32
	PostSamples uint32
}

// ChannelConfig is one entry of a ConfigureStream command payload.
type ChannelConfig struct {
	ChannelID  byte
	SampleRate uint32
	Format     byte
}

// DeviceStatus is the session's locally-known device state, updated from
// Pong/DeviceInfo responses and mode commands.
type DeviceStatus struct {
	Connected       bool
	DeviceID        *uint64
	FirmwareVersion *uint16
	Mode            string // "continuous" | "trigger" | ""
	StreamActive    bool
}

// DeviceEvent is everything the device session emits to the event router.
// Exactly one of the typed fields is meaningful per Kind.
type DeviceEvent struct {
	Kind DeviceEventKind

	Connected    string // connection description, Kind==EventConnected
	FrameRecv    RawFrame
	DataPacket   DataPacket
	Status       DeviceStatus
	TriggerEvent TriggerEvent
	LogLevel     byte
	LogMessage   string
	ErrorMessage string

	At time.Time
}

type DeviceEventKind int

const (
	EventConnected DeviceEventKind = iota
	EventDisconnected
	EventFrameReceived
	EventDataPacket
	EventStatusUpdate
	EventTriggerEvent
	EventBufferTransferComplete
	EventLogMessage
	EventError
)

// MapNack renders a Nack (type, code) pair into the human-readable string
// table from the spec glossary. Unknown pairs map to a generic message.
func MapNack(errType, code byte) string {
	switch {
	case errType == 0x01 && code == 0x01:
		return "parameter error: invalid parameter"
	case errType == 0x01 && code == 0x02:
		return "parameter error: invalid channel configuration"
	case errType == 0x02 && code == 0x01:
		return "status error: invalid mode"
	case errType == 0x02 && code == 0x02:
		return "status error: trigger not occurred"
	case errType == 0x05 && code == 0x00:
		return "command not supported"
	default:
		return "unknown error"
	}
}

// PopCount16 returns the number of set bits in a 16-bit mask.
func PopCount16(mask uint16) int {
	n := 0
	for mask != 0 {
		mask &= mask - 1
		n++
	}
	return n
}
