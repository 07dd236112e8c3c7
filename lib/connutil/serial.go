package connutil

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// ErrTimeout is returned by ports from OpenSerial when a read delivers
// nothing within the read timeout.
var ErrTimeout = errors.New("serial read timed out")

// Port is an open serial port.
type Port interface {
	io.ReadWriteCloser
	// Flush discards unread input.
	Flush() error
}

type port struct {
	serial.Port
}

// Read reports ErrTimeout where go.bug.st/serial returns (0, nil).
func (p port) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, ErrTimeout
	}
	return n, err
}

func (p port) Flush() error { return p.Port.ResetInputBuffer() }

// OpenSerial opens name at baud, 8N1, with the given read timeout. Pending
// input is discarded.
func OpenSerial(name string, baud int, timeout time.Duration) (Port, error) {
	sp, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	if err := sp.SetReadTimeout(timeout); err != nil {
		sp.Close()
		return nil, errors.Wrapf(err, "%s read timeout", name)
	}
	if err := sp.ResetInputBuffer(); err != nil {
		sp.Close()
		return nil, errors.Wrapf(err, "flushing %s", name)
	}
	return port{sp}, nil
}
