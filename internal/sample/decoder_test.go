package sample

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nvarga/daq-gateway/internal/daqproto"
)

func le16(v int16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return b[:]
}

func TestDecodeTwoChannelNonInterleaved(t *testing.T) {
	// ch0: [10, 20, 30], ch1: [100, 200, 300]
	var sensor []byte
	for _, v := range []int16{10, 20, 30} {
		sensor = append(sensor, le16(v)...)
	}
	for _, v := range []int16{100, 200, 300} {
		sensor = append(sensor, le16(v)...)
	}

	d := NewDecoder()
	out, err := d.Decode(daqproto.DataPacket{
		EnabledChannels: 0b11,
		SampleCount:     3,
		SensorData:      sensor,
	})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := []float64{10, 20, 30, 100, 200, 300}
	if len(out.Data) != len(want) {
		t.Fatalf("data len = %d, want %d", len(out.Data), len(want))
	}
	for i, v := range want {
		if out.Data[i] != v {
			t.Fatalf("data[%d] = %v, want %v", i, out.Data[i], v)
		}
	}
	if len(out.Metadata.ChannelInfo) != 2 {
		t.Fatalf("channel_info len = %d, want 2", len(out.Metadata.ChannelInfo))
	}
	if out.Metadata.ChannelInfo[0].ChannelID != 0 || out.Metadata.ChannelInfo[1].ChannelID != 1 {
		t.Fatalf("channel ids = %d,%d want 0,1", out.Metadata.ChannelInfo[0].ChannelID, out.Metadata.ChannelInfo[1].ChannelID)
	}
}

func TestDecodeNoEnabledChannels(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode(daqproto.DataPacket{EnabledChannels: 0, SampleCount: 1, SensorData: []byte{1, 2}})
	if !errors.Is(err, ErrNoEnabledChannels) {
		t.Fatalf("err = %v, want ErrNoEnabledChannels", err)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	d := NewDecoder()
	_, err := d.Decode(daqproto.DataPacket{EnabledChannels: 0b1, SampleCount: 3, SensorData: []byte{1, 2}})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestDecodeSequenceMonotonic(t *testing.T) {
	d := NewDecoder()
	dp := daqproto.DataPacket{EnabledChannels: 0b1, SampleCount: 1, SensorData: le16(1)}
	var last uint64
	for i := 0; i < 5; i++ {
		out, err := d.Decode(dp)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if out.Sequence != last+1 {
			t.Fatalf("sequence = %d, want %d", out.Sequence, last+1)
		}
		last = out.Sequence
	}
}

func TestDecodeFlatSignalWarning(t *testing.T) {
	samples := make([]byte, 0)
	for i := 0; i < 11; i++ {
		samples = append(samples, le16(5)...)
	}
	d := NewDecoder()
	out, err := d.Decode(daqproto.DataPacket{EnabledChannels: 0b1, SampleCount: 11, SensorData: samples})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Metadata.Quality.Level != QualityWarning {
		t.Fatalf("quality = %v, want Warning", out.Metadata.Quality.Level)
	}
}

func TestDecodeGoodQuality(t *testing.T) {
	d := NewDecoder()
	out, err := d.Decode(daqproto.DataPacket{EnabledChannels: 0b1, SampleCount: 2, SensorData: append(le16(1), le16(2)...)})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Metadata.Quality.Level != QualityGood {
		t.Fatalf("quality = %v, want Good", out.Metadata.Quality.Level)
	}
}

func TestDecodeTriggerBookkeeping(t *testing.T) {
	d := NewDecoder()
	dp := func(ts uint32) daqproto.DataPacket {
		return daqproto.DataPacket{
			EnabledChannels: 0b1,
			SampleCount:     1,
			SensorData:      le16(1),
			DataType:        daqproto.DataType{Source: daqproto.SourceTrigger, TriggerTimestamp: ts},
		}
	}

	out1, err := d.Decode(dp(100))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out1.DataType.TriggerInfo == nil || out1.DataType.TriggerInfo.SequenceInBurst != 1 {
		t.Fatalf("expected sequence_in_burst=1, got %+v", out1.DataType.TriggerInfo)
	}

	out2, err := d.Decode(dp(100))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out2.DataType.TriggerInfo.SequenceInBurst != 2 {
		t.Fatalf("expected sequence_in_burst=2, got %d", out2.DataType.TriggerInfo.SequenceInBurst)
	}

	out3, err := d.Decode(dp(200)) // new trigger timestamp resets burst_sequence
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out3.DataType.TriggerInfo.SequenceInBurst != 1 {
		t.Fatalf("expected sequence_in_burst reset to 1 on new trigger ts, got %d", out3.DataType.TriggerInfo.SequenceInBurst)
	}

	continuous := daqproto.DataPacket{EnabledChannels: 0b1, SampleCount: 1, SensorData: le16(1)}
	out4, err := d.Decode(continuous)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out4.DataType.Source != daqproto.SourceContinuous || out4.DataType.TriggerInfo != nil {
		t.Fatalf("expected continuous with nil trigger info, got %+v", out4.DataType)
	}
}

func TestDecodeEmptySamplesIsError(t *testing.T) {
	d := NewDecoder()
	out, err := d.Decode(daqproto.DataPacket{EnabledChannels: 0b1, SampleCount: 0, SensorData: nil})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Metadata.Quality.Level != QualityError {
		t.Fatalf("quality = %v, want Error", out.Metadata.Quality.Level)
	}
}
