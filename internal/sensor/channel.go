package sensor

// Channel is a byte-stream connection to the sensor. Exactly one goroutine,
// the acquisition loop, owns a Channel; implementations are not required to
// be safe for concurrent use.
//
// Read fills p with whatever response bytes arrive within the channel's
// timeout and returns (0, nil) when nothing arrived. How a reading is
// solicited (the serial channel writes a read command first, the simulated
// channel just fabricates a frame) is invisible to the decoder.
type Channel interface {
	Open() error
	Read(p []byte) (int, error)
	Close() error
}
