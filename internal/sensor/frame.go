// Package sensor implements the Omron 2JCIE-BU01 serial frame protocol: the
// read command, the length-delimited CRC-checksummed response frame, and a
// streaming decoder that resynchronizes on corrupted input.
package sensor

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/sigurn/crc16"

	"envmon/internal/modules/env/types"
)

// Frame layout: Header(2) 0x52 0x42 | Length(2, LE) | payload | CRC(2, LE).
// Length counts every byte after the length field through the trailing CRC,
// so the full frame is headerLen + Length bytes.
const (
	header0   = 0x52
	header1   = 0x42
	headerLen = 4
	crcLen    = 2

	// Latest Data Long responses are 58 bytes; anything shorter than 30
	// cannot hold the measured fields and is malformed.
	minFrameLen = 30
	maxFrameLen = 256
	responseLen = 58
)

// CRC-16/MODBUS: init 0xFFFF, reflected polynomial 0xA001, appended
// little-endian. This is the convention the device datasheet specifies.
var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

func checksum(p []byte) uint16 {
	return crc16.Checksum(p, crcTable)
}

func appendChecksum(p []byte) []byte {
	c := checksum(p)
	return append(p, byte(c), byte(c>>8))
}

// ReadCommand returns the request frame for Latest Data Long (address 0x5021).
// The serial channel writes it before every read.
func ReadCommand() []byte {
	cmd := []byte{header0, header1, 0x05, 0x00, 0x01, 0x21, 0x50}
	return appendChecksum(cmd)
}

// field describes one packed metric in the response payload. Offsets are
// relative to the frame start; div converts the raw integer to physical units.
type field struct {
	offset int
	width  int
	signed bool
	div    int
	set    func(*types.Reading, float64)
	get    func(types.Reading) float64
}

// latestDataLong is the payload layout of the Latest Data Long response.
// Measured data starts at byte 8, after the response type, address and
// sequence bytes.
var latestDataLong = []field{
	{8, 2, true, 100,
		func(r *types.Reading, v float64) { r.Temperature = v },
		func(r types.Reading) float64 { return r.Temperature }},
	{10, 2, false, 100,
		func(r *types.Reading, v float64) { r.Humidity = v },
		func(r types.Reading) float64 { return r.Humidity }},
	{12, 2, false, 1,
		func(r *types.Reading, v float64) { r.Light = int(v) },
		func(r types.Reading) float64 { return float64(r.Light) }},
	{14, 4, false, 1000,
		func(r *types.Reading, v float64) { r.Pressure = v },
		func(r types.Reading) float64 { return r.Pressure }},
	{18, 2, false, 100,
		func(r *types.Reading, v float64) { r.Noise = v },
		func(r types.Reading) float64 { return r.Noise }},
	{20, 2, false, 1,
		func(r *types.Reading, v float64) { r.ETVOC = int(v) },
		func(r types.Reading) float64 { return float64(r.ETVOC) }},
	{22, 2, false, 1,
		func(r *types.Reading, v float64) { r.ECO2 = int(v) },
		func(r types.Reading) float64 { return float64(r.ECO2) }},
	{24, 2, false, 100,
		func(r *types.Reading, v float64) { r.Discomfort = v },
		func(r types.Reading) float64 { return r.Discomfort }},
	{26, 2, true, 100,
		func(r *types.Reading, v float64) { r.HeatStroke = v },
		func(r types.Reading) float64 { return r.HeatStroke }},
}

func rawValue(frame []byte, f field) int64 {
	switch f.width {
	case 4:
		u := binary.LittleEndian.Uint32(frame[f.offset:])
		if f.signed {
			return int64(int32(u))
		}
		return int64(u)
	default:
		u := binary.LittleEndian.Uint16(frame[f.offset:])
		if f.signed {
			return int64(int16(u))
		}
		return int64(u)
	}
}

func putRawValue(frame []byte, f field, raw int64) {
	switch f.width {
	case 4:
		binary.LittleEndian.PutUint32(frame[f.offset:], uint32(raw))
	default:
		binary.LittleEndian.PutUint16(frame[f.offset:], uint16(raw))
	}
}

// decodePayload maps a validated frame through the field table.
func decodePayload(frame []byte, now time.Time) types.Reading {
	r := types.Reading{Timestamp: now}
	for _, f := range latestDataLong {
		f.set(&r, float64(rawValue(frame, f))/float64(f.div))
	}
	return r
}

// EncodeFrame builds a well-formed Latest Data Long response carrying the
// reading's values. Used by the simulated channel and by tests; the inverse
// of the decoder's payload mapping.
func EncodeFrame(r types.Reading) []byte {
	frame := make([]byte, responseLen-crcLen)
	frame[0] = header0
	frame[1] = header1
	binary.LittleEndian.PutUint16(frame[2:], uint16(responseLen-headerLen))
	frame[4] = 0x01                                // response type: read
	binary.LittleEndian.PutUint16(frame[5:], 0x5021) // Latest Data Long
	for _, f := range latestDataLong {
		putRawValue(frame, f, int64(math.Round(f.get(r)*float64(f.div))))
	}
	return appendChecksum(frame)
}
