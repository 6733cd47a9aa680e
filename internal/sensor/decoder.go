package sensor

import (
	"bytes"
	"encoding/binary"
	"time"

	"envmon/internal/modules/env/types"
)

// Status is the outcome of one decode attempt.
type Status int

const (
	// StatusIncomplete means no full frame is buffered yet; feed more bytes.
	StatusIncomplete Status = iota
	// StatusDecoded means one valid frame was consumed and a Reading produced.
	StatusDecoded
	// StatusRejected means a candidate frame failed validation; exactly one
	// byte was discarded and scanning continues from the next position.
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusDecoded:
		return "decoded"
	case StatusRejected:
		return "rejected"
	default:
		return "incomplete"
	}
}

// maxBuffer bounds the decoder's internal buffer; when a stream never yields
// a valid frame the oldest bytes are dropped first.
const maxBuffer = 4096

var headerSig = []byte{header0, header1}

// Decoder locates and validates frames in a growing byte stream. Corrupted
// input self-heals by byte-at-a-time resynchronization: a rejected candidate
// costs one discarded byte, never a speculative chunk.
//
// The zero value is ready to use. Not safe for concurrent use; the
// acquisition loop is its only caller.
type Decoder struct {
	buf []byte
}

// Feed appends raw channel bytes to the decode buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
	if len(d.buf) > maxBuffer {
		d.buf = d.buf[len(d.buf)-maxBuffer:]
	}
}

// Buffered returns the number of bytes retained for the next attempt.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next attempts to decode one frame. It never fails on malformed input:
// the result is always one of Decoded (with a Reading timestamped now),
// Incomplete, or Rejected. Callers loop until Incomplete.
func (d *Decoder) Next(now time.Time) (types.Reading, Status) {
	i := bytes.Index(d.buf, headerSig)
	if i < 0 {
		// No signature. Keep a trailing first-signature byte in case the
		// second half arrives with the next feed.
		if n := len(d.buf); n > 0 && d.buf[n-1] == header0 {
			d.buf = d.buf[n-1:]
		} else {
			d.buf = d.buf[:0]
		}
		return types.Reading{}, StatusIncomplete
	}
	if i > 0 {
		d.buf = d.buf[i:]
	}
	if len(d.buf) < headerLen {
		return types.Reading{}, StatusIncomplete
	}

	total := int(binary.LittleEndian.Uint16(d.buf[2:4])) + headerLen
	if total < minFrameLen || total > maxFrameLen {
		d.buf = d.buf[1:]
		return types.Reading{}, StatusRejected
	}
	if len(d.buf) < total {
		return types.Reading{}, StatusIncomplete
	}

	want := binary.LittleEndian.Uint16(d.buf[total-crcLen : total])
	if checksum(d.buf[:total-crcLen]) != want {
		d.buf = d.buf[1:]
		return types.Reading{}, StatusRejected
	}

	r := decodePayload(d.buf[:total], now)
	d.buf = d.buf[total:]
	return r, StatusDecoded
}
