package bristol

import (
	"encoding/binary"
	"log"
	"math"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/block"
	"github.com/pkg/errors"
)

// RecordSize is the size of one buffered measurement: <dfII.
const RecordSize = 20

// Record is one measurement from the MMEM buffer or the RS-422 stream.
type Record struct {
	Wavelength float64
	Power      float32
	Status     uint32
	ScanIndex  uint32
}

// DecodeRecord unpacks a little-endian <dfII record.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < RecordSize {
		return Record{}, errors.Errorf("record has %d bytes, need %d", len(b), RecordSize)
	}
	return Record{
		Wavelength: math.Float64frombits(binary.LittleEndian.Uint64(b)),
		Power:      math.Float32frombits(binary.LittleEndian.Uint32(b[8:])),
		Status:     binary.LittleEndian.Uint32(b[12:]),
		ScanIndex:  binary.LittleEndian.Uint32(b[16:]),
	}, nil
}

// DecodeRecords unpacks consecutive records. A trailing partial record is
// logged and dropped.
func DecodeRecords(data []byte) []Record {
	n := len(data) / RecordSize
	if rem := len(data) % RecordSize; rem != 0 {
		log.Printf("bristol: dropping %d trailing bytes", rem)
	}
	out := make([]Record, n)
	for i := range out {
		out[i], _ = DecodeRecord(data[i*RecordSize:])
	}
	return out
}

// Buffer sends a memory buffer control command: INIT, OPEN or CLOS.
func (w *Wavemeter) Buffer(cmd string) error {
	if err := faraday.OneOf("buffer command", cmd, "INIT", "OPEN", "CLOS"); err != nil {
		return err
	}
	return w.Command(":MMEM:" + cmd)
}

// StartBuffer clears the buffer and starts recording.
func (w *Wavemeter) StartBuffer() error {
	if err := w.Buffer("INIT"); err != nil {
		return err
	}
	return w.Buffer("OPEN")
}

// ReadBuffer closes the buffer and reads back every stored record.
func (w *Wavemeter) ReadBuffer() ([]Record, error) {
	if err := w.Buffer("CLOS"); err != nil {
		return nil, err
	}
	if err := w.Command(":MMEM:DATA?"); err != nil {
		return nil, err
	}
	w.setDeadline(w.bufferTimeout)
	data, err := block.ReadDefinite(w.br)
	if err != nil {
		return nil, errors.Wrap(err, "reading bristol buffer")
	}
	log.Printf("bristol: buffer holds %d bytes, %d samples", len(data), len(data)/RecordSize)
	return DecodeRecords(data), nil
}
