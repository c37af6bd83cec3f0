package frame

import "testing"

func benchmarkWire(n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		out = append(out, Encode(0x40, byte(i), []byte{1, 2, 3, 4, 5, 6, 7, 8})...)
	}
	return out
}

func BenchmarkEncode(b *testing.B) {
	payload := make([]byte, 256)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = Encode(0x40, byte(i), payload)
	}
}

func BenchmarkDecodeFeed_64Frames(b *testing.B) {
	wire := benchmarkWire(64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d := NewDecoder()
		_ = d.Feed(wire)
	}
}

func BenchmarkCRC16_256B(b *testing.B) {
	data := make([]byte, 256)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = CRC16(data)
	}
}
