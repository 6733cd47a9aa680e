package sensor

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Requires the ftdi_sio kernel module with the device ids registered:
//
//	modprobe ftdi_sio
//	echo 0590 00d4 > /sys/bus/usb-serial/drivers/ftdi_sio/new_id
const (
	serialBaud        = 115200
	serialReadTimeout = 500 * time.Millisecond
)

// SerialChannel talks to the real device over USB serial. Each Read writes
// the Latest Data Long command and returns whatever arrives within the read
// timeout; the decoder downstream handles short or split responses.
type SerialChannel struct {
	portName string
	port     *serial.Port
	cmd      []byte
}

func NewSerialChannel(portName string) *SerialChannel {
	return &SerialChannel{portName: portName, cmd: ReadCommand()}
}

func (c *SerialChannel) Open() error {
	if c.port != nil {
		_ = c.port.Close()
		c.port = nil
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        c.portName,
		Baud:        serialBaud,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", c.portName, err)
	}
	c.port = port
	return nil
}

func (c *SerialChannel) Read(p []byte) (int, error) {
	if c.port == nil {
		return 0, errors.New("serial channel not open")
	}
	if err := c.port.Flush(); err != nil {
		return 0, fmt.Errorf("flush input: %w", err)
	}
	if _, err := c.port.Write(c.cmd); err != nil {
		return 0, fmt.Errorf("write read command: %w", err)
	}
	n, err := c.port.Read(p)
	if errors.Is(err, io.EOF) {
		// Read timeout with no data; not a channel failure.
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read response: %w", err)
	}
	return n, nil
}

func (c *SerialChannel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
