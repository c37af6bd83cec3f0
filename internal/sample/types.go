// Package sample implements the sample decoder (spec §4.4): deinterleaving
// a DataPacket's non-interleaved per-channel payload, computing per-channel
// statistics and quality classification, and producing a ProcessedData.
package sample

import (
	"encoding/json"
	"errors"

	"github.com/nvarga/daq-gateway/internal/daqproto"
)

// ErrNoEnabledChannels is returned when a DataPacket's enabled_channels mask
// is zero.
var ErrNoEnabledChannels = errors.New("no enabled channels")

// ErrLengthMismatch is returned when sensor_data's length doesn't match
// popcount(enabled_channels) * sample_count * 2.
var ErrLengthMismatch = errors.New("data length mismatch")

// QualityLevel is the DataQuality tag (spec §3).
type QualityLevel int

const (
	QualityGood QualityLevel = iota
	QualityWarning
	QualityError
)

func (l QualityLevel) String() string {
	switch l {
	case QualityGood:
		return "Good"
	case QualityWarning:
		return "Warning"
	case QualityError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Quality is a classified-with-reason DataQuality value. Reason is empty for
// QualityGood; consumers must not pattern-match the reason text (spec §3).
type Quality struct {
	Level  QualityLevel `json:"level"`
	Reason string       `json:"reason,omitempty"`
}

// MarshalJSON renders the level as its string form ("Good"/"Warning"/
// "Error") so fan-out clients never see the raw iota.
func (l QualityLevel) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// ChannelMetadata is per-channel summary statistics computed once per packet.
type ChannelMetadata struct {
	ChannelID   int     `json:"channel_id"`
	SampleCount int     `json:"sample_count"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Avg         float64 `json:"avg"`
}

// TriggerInfo is attached to ProcessedData.DataType when Source is Trigger.
type TriggerInfo struct {
	TriggerTimestamp uint32 `json:"trigger_timestamp"`
	SequenceInBurst  uint64 `json:"sequence_in_burst"`
}

// DataType mirrors DataPacket.DataType after decoder-side trigger bookkeeping
// (spec §4.4 step 8): TriggerInfo is nil for Continuous-sourced data.
type DataType struct {
	Source      daqproto.DataSource `json:"source"`
	TriggerInfo *TriggerInfo        `json:"trigger_info,omitempty"`
}

// MarshalJSON renders Source as its string form ("Continuous"/"Trigger").
func (d DataType) MarshalJSON() ([]byte, error) {
	type alias struct {
		Source      string       `json:"source"`
		TriggerInfo *TriggerInfo `json:"trigger_info,omitempty"`
	}
	return json.Marshal(alias{Source: d.Source.String(), TriggerInfo: d.TriggerInfo})
}

// Metadata is ProcessedData's nested metadata block.
type Metadata struct {
	PacketCount      uint64            `json:"packet_count"`
	ProcessingTimeUs int64             `json:"processing_time_us"`
	Quality          Quality           `json:"quality"`
	ChannelInfo      []ChannelMetadata `json:"channel_info"`
}

// ProcessedData is the sample decoder's output (spec §3).
type ProcessedData struct {
	Timestamp    uint32   `json:"timestamp"`
	Sequence     uint64   `json:"sequence"`
	ChannelCount int      `json:"channel_count"`
	SampleRate   float64  `json:"sample_rate"`
	Data         []float64 `json:"data"`
	Metadata     Metadata `json:"metadata"`
	DataType     DataType `json:"data_type"`
}
