package sample

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/metrics"
)

// defaultPacketInterval is the configured constant packet_interval used for
// the advisory sample-rate estimate (spec §4.4).
const defaultPacketInterval = 10 * time.Millisecond

const (
	flatSignalMinSamples = 10
	flatSignalEpsilon    = 1e-3
	outlierRangeFactor   = 10.0
)

// Decoder is a stateful sample decoder (spec §4.4). It is not safe for
// concurrent use; callers serialize access behind the processor lock
// (spec §3 Ownership, internal/processor).
type Decoder struct {
	packetInterval time.Duration

	sequence                uint64
	currentTriggerTimestamp *uint32
	burstSequence           uint64
}

// NewDecoder returns a Decoder using the default 10ms packet interval.
func NewDecoder() *Decoder { return NewDecoderWithInterval(defaultPacketInterval) }

// NewDecoderWithInterval returns a Decoder using a caller-specified packet
// interval for the sample-rate estimate.
func NewDecoderWithInterval(interval time.Duration) *Decoder {
	return &Decoder{packetInterval: interval}
}

// Decode validates and deinterleaves dp, returning a ProcessedData or an
// error. Errors are non-fatal to the pipeline: callers drop the offending
// packet and log (spec §7).
func (d *Decoder) Decode(dp daqproto.DataPacket) (ProcessedData, error) {
	start := time.Now()

	channelCount := daqproto.PopCount16(dp.EnabledChannels)
	if channelCount == 0 {
		return ProcessedData{}, ErrNoEnabledChannels
	}

	sampleCount := int(dp.SampleCount)
	wantLen := channelCount * sampleCount * 2
	if len(dp.SensorData) != wantLen {
		return ProcessedData{}, fmt.Errorf("%w: got %d bytes, want %d (channels=%d samples=%d)",
			ErrLengthMismatch, len(dp.SensorData), wantLen, channelCount, sampleCount)
	}

	channelIDs := channelIDsFromMask(dp.EnabledChannels, channelCount)

	data := make([]float64, 0, channelCount*sampleCount)
	channelInfo := make([]ChannelMetadata, channelCount)
	quality := Quality{Level: QualityGood}
	haveQuality := false

	for k := 0; k < channelCount; k++ {
		base := k * sampleCount * 2
		var min, max, sum float64
		if sampleCount > 0 {
			min = decodeSample(dp.SensorData, base)
			max = min
		}
		for i := 0; i < sampleCount; i++ {
			v := decodeSample(dp.SensorData, base+i*2)
			data = append(data, v)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			sum += v
		}
		avg := 0.0
		if sampleCount > 0 {
			avg = sum / float64(sampleCount)
		}
		channelInfo[k] = ChannelMetadata{
			ChannelID:   channelIDs[k],
			SampleCount: sampleCount,
			Min:         min,
			Max:         max,
			Avg:         avg,
		}

		if haveQuality {
			continue // classification keeps the first offending channel, in ascending channel order
		}
		rng := max - min
		switch {
		case sampleCount > flatSignalMinSamples && rng < flatSignalEpsilon:
			quality = Quality{Level: QualityWarning, Reason: fmt.Sprintf("flat signal, ch %d", channelIDs[k])}
			haveQuality = true
		case rng != 0 && absFloat(max-avg) > outlierRangeFactor*rng:
			quality = Quality{Level: QualityWarning, Reason: fmt.Sprintf("outlier, ch %d", channelIDs[k])}
			haveQuality = true
		}
	}

	if len(data) == 0 {
		quality = Quality{Level: QualityError, Reason: "No samples"}
	}

	d.sequence++
	dt := d.advanceTriggerState(dp.DataType)

	metrics.IncDataPacket()
	metrics.AddSamples(len(data))

	return ProcessedData{
		Timestamp:    dp.TimestampMs,
		Sequence:     d.sequence,
		ChannelCount: channelCount,
		SampleRate:   sampleRateEstimate(sampleCount, d.packetInterval),
		Data:         data,
		Metadata: Metadata{
			PacketCount:      d.sequence,
			ProcessingTimeUs: time.Since(start).Microseconds(),
			Quality:          quality,
			ChannelInfo:      channelInfo,
		},
		DataType: dt,
	}, nil
}

// advanceTriggerState implements spec §4.4 step 8.
func (d *Decoder) advanceTriggerState(dt daqproto.DataType) DataType {
	if dt.Source != daqproto.SourceTrigger {
		d.currentTriggerTimestamp = nil
		d.burstSequence = 0
		return DataType{Source: daqproto.SourceContinuous}
	}

	ts := dt.TriggerTimestamp
	if d.currentTriggerTimestamp == nil || *d.currentTriggerTimestamp != ts {
		d.burstSequence = 0
		tsCopy := ts
		d.currentTriggerTimestamp = &tsCopy
	}
	d.burstSequence++

	return DataType{
		Source: daqproto.SourceTrigger,
		TriggerInfo: &TriggerInfo{
			TriggerTimestamp: ts,
			SequenceInBurst:  d.burstSequence,
		},
	}
}

func sampleRateEstimate(sampleCount int, interval time.Duration) float64 {
	seconds := interval.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(sampleCount) / seconds
}

func decodeSample(data []byte, offset int) float64 {
	raw := int16(binary.LittleEndian.Uint16(data[offset : offset+2]))
	return float64(raw)
}

// channelIDsFromMask walks enabled_channels LSB-first, returning the
// physical channel id for each set bit in ascending order (spec §3: "channel
// index k corresponds to the k-th set bit").
func channelIDsFromMask(mask uint16, want int) []int {
	ids := make([]int, 0, want)
	for bit := 0; bit < 16 && len(ids) < want; bit++ {
		if mask&(1<<uint(bit)) != 0 {
			ids = append(ids, bit)
		}
	}
	return ids
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
