package processor

import (
	"encoding/binary"
	"testing"

	"github.com/nvarga/daq-gateway/internal/daqproto"
)

func le16(v int16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return b[:]
}

func TestProcessorRoutesTriggerPacketsIntoOpenBurst(t *testing.T) {
	p := New(0)

	if abandoned := p.HandleTriggerEvent(daqproto.TriggerEvent{Timestamp: 42}); abandoned != nil {
		t.Fatalf("expected no abandoned burst on first trigger, got %+v", abandoned)
	}

	dp := daqproto.DataPacket{
		EnabledChannels: 0b1,
		SampleCount:     2,
		SensorData:      append(le16(1), le16(2)...),
		DataType:        daqproto.DataType{Source: daqproto.SourceTrigger, TriggerTimestamp: 42},
	}
	if _, err := p.HandleDataPacket(dp); err != nil {
		t.Fatalf("HandleDataPacket: %v", err)
	}
	if _, err := p.HandleDataPacket(dp); err != nil {
		t.Fatalf("HandleDataPacket: %v", err)
	}

	b := p.HandleBufferTransferComplete()
	if b == nil {
		t.Fatal("expected a completed burst")
	}
	if b.TotalSamples != 4 {
		t.Fatalf("total_samples = %d, want 4", b.TotalSamples)
	}

	if _, ok := p.GetBurst(b.BurstID); !ok {
		t.Fatalf("expected burst %q to be retrievable", b.BurstID)
	}
}

func TestProcessorContinuousPacketsDoNotEnterBurst(t *testing.T) {
	p := New(0)
	dp := daqproto.DataPacket{
		EnabledChannels: 0b1,
		SampleCount:     1,
		SensorData:      le16(1),
	}
	if _, err := p.HandleDataPacket(dp); err != nil {
		t.Fatalf("HandleDataPacket: %v", err)
	}
	// no trigger was ever opened; completing a non-existent burst is a no-op.
	if b := p.HandleBufferTransferComplete(); b != nil {
		t.Fatalf("expected nil, got %+v", b)
	}
}

func TestProcessorExportRoundTrips(t *testing.T) {
	p := New(0)
	p.HandleTriggerEvent(daqproto.TriggerEvent{Timestamp: 1})
	dp := daqproto.DataPacket{
		EnabledChannels: 0b1,
		SampleCount:     1,
		SensorData:      le16(7),
		DataType:        daqproto.DataType{Source: daqproto.SourceTrigger, TriggerTimestamp: 1},
	}
	if _, err := p.HandleDataPacket(dp); err != nil {
		t.Fatalf("HandleDataPacket: %v", err)
	}
	b := p.HandleBufferTransferComplete()

	out, err := p.ExportBurst(b.BurstID, "json")
	if err != nil || len(out) == 0 {
		t.Fatalf("ExportBurst: %v, len=%d", err, len(out))
	}

	if !p.DeleteBurst(b.BurstID) {
		t.Fatal("expected DeleteBurst to succeed")
	}
	if _, err := p.ExportBurst(b.BurstID, "json"); err == nil {
		t.Fatal("expected error exporting a deleted burst")
	}
}
