package bristol

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/faradaylab/faraday"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Trigger methods.
const (
	TriggerInternal = "INT"
	TriggerRise     = "RISE"
	TriggerFall     = "FALL"
)

// FrameRates lists the internal trigger rates of the VIS and NIR models.
var FrameRates = []int{20, 50, 100, 250, 500, 1000}

// SetTriggerMethod selects INT, RISE or FALL triggering.
func (w *Wavemeter) SetTriggerMethod(method string) error {
	if err := faraday.OneOf("trigger method", method, TriggerInternal, TriggerRise, TriggerFall); err != nil {
		return err
	}
	return w.Command(":TRIG:SEQ:METH %s", method)
}

// TriggerMethod returns the trigger method.
func (w *Wavemeter) TriggerMethod() (string, error) {
	return w.Query(":TRIG:SEQ:METH?")
}

// IsInternal reports whether a TriggerMethod reply means internal triggering.
func IsInternal(method string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(method)), TriggerInternal)
}

// SetFrameRate sets the internal trigger rate in Hz.
func (w *Wavemeter) SetFrameRate(hz int) error {
	if err := faraday.OneOf("frame rate", hz, FrameRates...); err != nil {
		return err
	}
	return w.Command(":TRIG:SEQ:RATE %d", hz)
}

// FrameRate returns the internal trigger rate in Hz.
func (w *Wavemeter) FrameRate() (int, error) {
	return query.Int(w, ":TRIG:SEQ:RATE?")
}

// AdjustFrameRate lets the instrument pick a rate that fills the detector
// to about half saturation and returns the adjust state.
func (w *Wavemeter) AdjustFrameRate() (string, error) {
	if err := w.Command(":TRIG:SEQ:RATE:ADJ"); err != nil {
		return "", err
	}
	return w.Query(":TRIG:SEQ:RATE:ADJ?")
}

// Status is the questionable status register.
type Status uint32

var statusBits = map[int]string{
	0:  "Wavelength already read for current scan",
	3:  "Power value outside valid range",
	4:  "Temperature value outside valid range",
	5:  "Wavelength value outside valid range",
	9:  "Pressure value outside valid range",
	10: "Reference laser has not stabilized",
}

// Descriptions lists the meaning of every set bit the instrument defines.
func (s Status) Descriptions() []string {
	var out []string
	for v := uint32(s); v != 0; v &= v - 1 {
		bit := bits.TrailingZeros32(v)
		if d, ok := statusBits[bit]; ok {
			out = append(out, fmt.Sprintf("bit %d: %s", bit, d))
		}
	}
	return out
}

func (s Status) String() string {
	d := s.Descriptions()
	if len(d) == 0 {
		return "ok"
	}
	return strings.Join(d, "; ")
}

// QuestionableStatus reads the questionable condition register.
func (w *Wavemeter) QuestionableStatus() (Status, error) {
	s, err := w.Query(":STAT:QUES:COND?")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "status %q", s)
	}
	return Status(v), nil
}

// SetStatusEnable writes the questionable enable register. Only a single
// bit from 1<<0 to 1<<11 is accepted.
func (w *Wavemeter) SetStatusEnable(bit uint32) error {
	if bits.OnesCount32(bit) != 1 || bit > 1<<11 {
		return errors.Wrapf(faraday.ErrInvalidValue, "status enable %d is not a single bit 1..2048", bit)
	}
	return w.Command(":STAT:QUES:ENAB %d", bit)
}

// StatusEnable reads the questionable enable register.
func (w *Wavemeter) StatusEnable() (int, error) {
	return query.Int(w, ":STAT:QUES:ENAB?")
}

// SystemError pops the oldest entry of the error queue. An empty queue
// reads `0,"No error"`.
func (w *Wavemeter) SystemError() (string, error) {
	return w.Query(":SYST:ERR?")
}

// Help returns the list of supported commands. The first reply line holds
// the byte count of the lines that follow.
func (w *Wavemeter) Help() ([]string, error) {
	n, err := query.Int(w, ":SYST:HELP:HEAD?")
	if err != nil {
		return nil, err
	}
	var out []string
	for read := 0; read < n; {
		line, raw, err := w.readRawLine(w.timeout)
		if err != nil {
			return out, errors.Wrapf(err, "help after %d of %d bytes", read, n)
		}
		read += raw
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
