package sensor

import (
	"encoding/binary"
	"testing"
	"time"

	"envmon/internal/modules/env/types"
)

func testReading(ts time.Time) types.Reading {
	return types.Reading{
		Timestamp:   ts,
		Temperature: 22.5,
		Humidity:    45.2,
		Light:       300,
		Pressure:    1013.25,
		Noise:       40.25,
		ETVOC:       120,
		ECO2:        680,
		Discomfort:  68.2,
		HeatStroke:  21.4,
	}
}

func Test_checksum(t *testing.T) {
	// CRC-16/MODBUS check value for the standard "123456789" vector.
	got := checksum([]byte("123456789"))
	if got != 0x4B37 {
		t.Fatalf("checksum(123456789) = 0x%04X; want 0x4B37", got)
	}
}

func Test_ReadCommand(t *testing.T) {
	cmd := ReadCommand()

	if len(cmd) != 9 {
		t.Fatalf("len(cmd) = %d; want 9", len(cmd))
	}
	if cmd[0] != header0 || cmd[1] != header1 {
		t.Errorf("header = % X; want 52 42", cmd[:2])
	}
	// Length counts everything after the length field including the CRC.
	if got := binary.LittleEndian.Uint16(cmd[2:4]); got != 5 {
		t.Errorf("length = %d; want 5", got)
	}
	// Read request (0x01) for Latest Data Long (0x5021, LE on the wire).
	if cmd[4] != 0x01 || cmd[5] != 0x21 || cmd[6] != 0x50 {
		t.Errorf("command body = % X; want 01 21 50", cmd[4:7])
	}
	want := checksum(cmd[:7])
	if got := binary.LittleEndian.Uint16(cmd[7:9]); got != want {
		t.Errorf("crc = 0x%04X; want 0x%04X", got, want)
	}
}

func Test_EncodeFrame(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	frame := EncodeFrame(testReading(now))

	if len(frame) != responseLen {
		t.Fatalf("len(frame) = %d; want %d", len(frame), responseLen)
	}
	if frame[0] != header0 || frame[1] != header1 {
		t.Errorf("header = % X; want 52 42", frame[:2])
	}
	if got := int(binary.LittleEndian.Uint16(frame[2:4])) + headerLen; got != responseLen {
		t.Errorf("declared frame length = %d; want %d", got, responseLen)
	}
	want := checksum(frame[:responseLen-crcLen])
	if got := binary.LittleEndian.Uint16(frame[responseLen-crcLen:]); got != want {
		t.Errorf("crc = 0x%04X; want 0x%04X", got, want)
	}
}

func Test_decodePayload_roundTrip(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	in := testReading(now)

	out := decodePayload(EncodeFrame(in), now)

	if !out.FieldsEqual(in) {
		t.Errorf("decoded = %+v; want %+v", out, in)
	}
	if !out.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v; want %v", out.Timestamp, now)
	}
}

func Test_decodePayload_negativeTemperature(t *testing.T) {
	now := time.Now()
	in := testReading(now)
	in.Temperature = -12.34
	in.HeatStroke = -5.5

	out := decodePayload(EncodeFrame(in), now)

	if out.Temperature != -12.34 {
		t.Errorf("temperature = %v; want -12.34", out.Temperature)
	}
	if out.HeatStroke != -5.5 {
		t.Errorf("heat stroke = %v; want -5.5", out.HeatStroke)
	}
}
