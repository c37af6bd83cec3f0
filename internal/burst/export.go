package burst

import (
	"bytes"
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"math"
	"strconv"
)

// Export renders a completed burst in the requested format: json (pretty),
// csv (channel-major, spec §4.5), or binary (little-endian header + f32
// samples in packet-arrival order).
func Export(b *Burst, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(b, "", "  ")
	case "csv":
		return exportCSV(b)
	case "binary":
		return exportBinary(b)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func exportCSV(b *Burst) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp_ms", "channel_id", "sample_index", "value"}); err != nil {
		return nil, err
	}
	for _, p := range b.DataPackets {
		ts := strconv.FormatUint(uint64(p.Timestamp), 10)
		idx := 0
		for _, ci := range p.Metadata.ChannelInfo {
			chID := strconv.Itoa(ci.ChannelID)
			for i := 0; i < ci.SampleCount && idx < len(p.Data); i++ {
				row := []string{ts, chID, strconv.Itoa(i), strconv.FormatFloat(p.Data[idx], 'g', -1, 64)}
				if err := w.Write(row); err != nil {
					return nil, err
				}
				idx++
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func exportBinary(b *Burst) ([]byte, error) {
	var buf bytes.Buffer
	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], b.TriggerTimestamp)
	binary.LittleEndian.PutUint32(header[4:8], uint32(b.TriggerChannel))
	binary.LittleEndian.PutUint32(header[8:12], uint32(b.TotalSamples))
	buf.Write(header)

	word := make([]byte, 4)
	for _, p := range b.DataPackets {
		for _, v := range p.Data {
			binary.LittleEndian.PutUint32(word, math.Float32bits(float32(v)))
			buf.Write(word)
		}
	}
	return buf.Bytes(), nil
}
