package bristol

import (
	"bufio"
	"io"
	"time"

	"github.com/faradaylab/faraday/lib/block"
	"github.com/faradaylab/faraday/lib/connutil"
)

// StreamBaud is the fixed rate of the RS-422 real time output.
const StreamBaud = 921600

// Stream reads measurements pushed over the RS-422 real time output.
type Stream struct {
	rc io.ReadCloser
	br *bufio.Reader
}

// OpenStream opens the serial port carrying the real time output. A read
// that sees no frame for 5 s fails with connutil.ErrTimeout.
func OpenStream(name string) (*Stream, error) {
	port, err := connutil.OpenSerial(name, StreamBaud, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return NewStream(port), nil
}

// NewStream reads frames from rc.
func NewStream(rc io.ReadCloser) *Stream {
	return &Stream{rc: rc, br: bufio.NewReader(rc)}
}

// Next blocks until the next complete frame and decodes it.
func (s *Stream) Next() (Record, error) {
	frame, err := block.ReadFrame(s.br, RecordSize)
	if err != nil {
		return Record{}, err
	}
	return DecodeRecord(frame)
}

// Close closes the underlying port.
func (s *Stream) Close() error {
	return s.rc.Close()
}
