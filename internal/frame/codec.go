// Package frame implements the length-prefixed, CRC-checked wire format
// described in spec §4.1:
//
//	[HEAD_0 HEAD_1] [LEN_LO LEN_HI] [CMD] [SEQ] [PAYLOAD ...] [CRC_LO CRC_HI] [TAIL_0 TAIL_1]
//
// LEN is a little-endian u16 counting CMD+SEQ+PAYLOAD+CRC (total on-wire
// size is 4+LEN+2). CRC is CRC-16/MODBUS computed over CMD..PAYLOAD
// inclusive.
package frame

import (
	"bytes"
	"encoding/binary"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/metrics"
)

const (
	head0 = 0xAA
	head1 = 0x55
	tail0 = 0x55
	tail1 = 0xAA

	// minLen is the smallest valid LEN value: CMD(1)+SEQ(1)+CRC(2).
	minLen = 4
	// largeBufferReclaimThreshold mirrors the teacher's serial accumulator
	// reclaim policy: once the backing array grows past this and the
	// buffer is fully drained, replace it so a burst of garbage doesn't
	// pin a large allocation indefinitely.
	largeBufferReclaimThreshold = 16 * 1024
)

var headBytes = []byte{head0, head1}

// Decoder is a stateful frame accumulator. It is not safe for concurrent use;
// the device session owns it exclusively (spec §3 Ownership).
type Decoder struct {
	buf *bytes.Buffer
}

// NewDecoder returns an empty decoder ready to accept fed bytes.
func NewDecoder() *Decoder {
	return &Decoder{buf: bytes.NewBuffer(nil)}
}

// Feed appends data to the internal accumulator and returns every frame that
// becomes fully decodable as a result. It never panics on malformed input and
// always makes progress: each failed parse attempt discards at least one
// byte, or the call returns because more bytes are needed.
func (d *Decoder) Feed(data []byte) []daqproto.RawFrame {
	d.buf.Write(data)

	var out []daqproto.RawFrame
	for {
		b := d.buf.Bytes()
		if len(b) < 2 {
			break
		}

		// Rule 1: resync to the next HEAD if the buffer doesn't start with one.
		idx := bytes.Index(b, headBytes)
		if idx < 0 {
			// Keep a trailing byte in case it is the first half of HEAD
			// split across this Feed call and the next.
			if len(b) > 1 {
				last := b[len(b)-1]
				d.buf.Reset()
				_ = d.buf.WriteByte(last)
			}
			break
		}
		if idx > 0 {
			d.buf.Next(idx)
			continue
		}

		// HEAD is at offset 0; need the LEN field next.
		if len(b) < 4 {
			break
		}
		ln := int(binary.LittleEndian.Uint16(b[2:4]))
		total := 4 + ln + 2

		// Rule 2: wait for more bytes if LEN implies a frame we don't have yet.
		if len(b) < total {
			break
		}
		if ln < minLen {
			// LEN cannot represent CMD+SEQ+CRC; this HEAD is noise.
			metrics.IncMalformed()
			d.buf.Next(1)
			continue
		}

		// Rule 3: tail must match.
		if b[total-2] != tail0 || b[total-1] != tail1 {
			metrics.IncMalformed()
			d.buf.Next(1)
			continue
		}

		cmd := b[4]
		seq := b[5]
		payloadLen := ln - minLen
		crcPos := 6 + payloadLen
		rxCRC := binary.LittleEndian.Uint16(b[crcPos : crcPos+2])
		calcCRC := CRC16(b[4:crcPos])

		// Rule 4: CRC must match.
		if rxCRC != calcCRC {
			metrics.IncCRCMismatch()
			d.buf.Next(1)
			continue
		}

		payload := make([]byte, payloadLen)
		copy(payload, b[6:6+payloadLen])
		out = append(out, daqproto.RawFrame{CommandID: cmd, Sequence: seq, Payload: payload})
		d.buf.Next(total)
		metrics.IncFrameRx()

		if d.buf.Len() == 0 && cap(d.buf.Bytes()) > largeBufferReclaimThreshold {
			d.buf = bytes.NewBuffer(nil)
		}
	}
	return out
}

// Encode builds a complete frame for (cmd, seq, payload), CRC included.
// Round-trip compatible with Decoder.Feed.
func Encode(cmd, seq byte, payload []byte) []byte {
	ln := minLen + len(payload)
	out := make([]byte, 0, 4+ln+2)
	out = append(out, head0, head1)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(ln))
	out = append(out, lenBuf[:]...)
	out = append(out, cmd, seq)
	out = append(out, payload...)
	crc := CRC16(out[4:])
	var crcBuf [2]byte
	binary.LittleEndian.PutUint16(crcBuf[:], crc)
	out = append(out, crcBuf[:]...)
	out = append(out, tail0, tail1)
	return out
}

// CRC16 computes CRC-16/MODBUS: polynomial 0xA001, init 0xFFFF, reflected
// input/output, no final XOR.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
