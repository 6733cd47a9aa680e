package sensor

import (
	"math"
	"math/rand"
	"sync/atomic"

	"envmon/internal/modules/env/types"
)

// SimChannel fabricates well-formed sensor frames from smooth pseudo-random
// signals, so the full decode pipeline runs without hardware. Values drift
// like a real room: slow sine waves per field plus a little gaussian noise.
//
// Freeze makes the channel repeat its last frame verbatim, which is how a
// wedged sensor firmware behaves on the wire.
type SimChannel struct {
	rng    *rand.Rand
	clock  float64
	step   float64
	frozen atomic.Bool
	last   []byte
}

// NewSimChannel returns a simulated channel. The seed makes a run
// reproducible.
func NewSimChannel(seed int64) *SimChannel {
	return &SimChannel{
		rng: rand.New(rand.NewSource(seed)),
		// Simulated seconds advanced per read, matching the poll cadence.
		step: 3.0,
	}
}

func (c *SimChannel) Open() error { return nil }

func (c *SimChannel) Close() error { return nil }

// Freeze toggles frozen-firmware behavior. Safe to call from another
// goroutine (tests flip it while the acquisition loop reads).
func (c *SimChannel) Freeze(v bool) {
	c.frozen.Store(v)
}

func (c *SimChannel) Read(p []byte) (int, error) {
	if c.frozen.Load() && c.last != nil {
		return copy(p, c.last), nil
	}
	c.clock += c.step
	// EncodeFrame quantizes each field to its wire precision, so the frame
	// bytes, not the float values, are what repeats when frozen.
	c.last = EncodeFrame(simReading(c.clock, c.noise))
	return copy(p, c.last), nil
}

func (c *SimChannel) noise(t, freq float64) float64 {
	return 0.5*math.Sin(t*freq*2*math.Pi) +
		0.3*math.Sin(t*freq*2.1*2*math.Pi+1.3) +
		0.2*c.rng.NormFloat64()*0.1
}

func simReading(t float64, noise func(t, freq float64) float64) types.Reading {
	return types.Reading{
		Temperature: 22.0 + 3.0*noise(t, 0.001),
		Humidity:    50.0 + 15.0*noise(t, 0.0007),
		Light:       max(0, int(300+200*noise(t, 0.0005))),
		Pressure:    1013.25 + 5.0*noise(t, 0.0003),
		Noise:       40.0 + 10.0*noise(t, 0.002),
		ETVOC:       max(0, int(50+80*noise(t, 0.0008))),
		ECO2:        max(400, int(600+300*noise(t, 0.0006))),
		Discomfort:  70.0 + 5.0*noise(t, 0.001),
		HeatStroke:  22.0 + 3.0*noise(t, 0.0009),
	}
}
