package frame

import "testing"

// FuzzDecodeFeed ensures the decoder never panics on arbitrary input, starting
// from well-formed seed frames.
func FuzzDecodeFeed(f *testing.F) {
	seeds := [][]byte{
		Encode(0x01, 0, nil),
		Encode(0x40, 7, []byte{1, 2, 3, 4, 5, 6, 7, 8}),
		Encode(0x90, 255, []byte{0xAA, 0x55, 0x00}),
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDecoder()
		_ = d.Feed(data)
	})
}

// FuzzDecodeFeedChunked exercises the resync path by splitting arbitrary
// input across many small Feed calls.
func FuzzDecodeFeedChunked(f *testing.F) {
	f.Add(Encode(0x40, 1, []byte{1, 2, 3, 4}))
	f.Fuzz(func(t *testing.T, data []byte) {
		d := NewDecoder()
		for i := 0; i < len(data); i++ {
			_ = d.Feed(data[i : i+1])
		}
	})
}
