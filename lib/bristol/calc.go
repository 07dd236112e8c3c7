package bristol

import (
	"encoding/binary"
	"math"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/block"
	"github.com/gotmc/query"
)

// Quantity names a calculated or averaged value.
type Quantity string

// Quantities accepted by :CALC:DATA? and :SENS:AVER:DATA?.
const (
	PowerQ      Quantity = "POW"
	FrequencyQ  Quantity = "FREQ"
	WavelengthQ Quantity = "WAV"
	WavenumberQ Quantity = "WNUM"
)

func (q Quantity) validate() error {
	return faraday.OneOf("quantity", q, PowerQ, FrequencyQ, WavelengthQ, WavenumberQ)
}

// CalcData returns the calculated delta values for q, as a raw comma
// separated reply.
func (w *Wavemeter) CalcData(q Quantity) (string, error) {
	if err := q.validate(); err != nil {
		return "", err
	}
	return w.Query(":CALC:DATA? " + string(q))
}

// SetDeltaMethod selects STAR (relative to start) or MAXM (max minus min).
func (w *Wavemeter) SetDeltaMethod(method string) error {
	if err := faraday.OneOf("delta method", method, "STAR", "MAXM"); err != nil {
		return err
	}
	return w.Command(":CALC:DELT:METH %s", method)
}

// DeltaMethod returns the delta calculation method.
func (w *Wavemeter) DeltaMethod() (string, error) {
	return query.String(w, ":CALC:DELT:METH?")
}

// ResetCalc resets minimum, maximum and start values, zeroes deltas and
// drifts and restarts the elapsed time.
func (w *Wavemeter) ResetCalc() error {
	return w.Command(":CALC:RES")
}

// ElapsedTime returns the time since power up or the last ResetCalc as the
// instrument formats it (hh:mm:ss).
func (w *Wavemeter) ElapsedTime() (string, error) {
	return w.Query(":CALC:TIM:ELAP?")
}

// SpectrumLimits returns the start and stop wavelengths of the spectrum.
func (w *Wavemeter) SpectrumLimits() (start, stop float64, err error) {
	if start, err = query.Float64(w, ":CALC2:WLIM:STAR?"); err != nil {
		return 0, 0, err
	}
	stop, err = query.Float64(w, ":CALC2:WLIM:STOP?")
	return start, stop, err
}

// SpectrumPoint is one sample of the wavelength spectrum.
type SpectrumPoint struct {
	Wavelength float64
	Power      float32
}

const spectrumPointSize = 12

// Spectrum reads the wavelength spectrum (:CALC3:DATA?), a definite-length
// block of little-endian <df samples.
func (w *Wavemeter) Spectrum() ([]SpectrumPoint, error) {
	if err := w.Command(":CALC3:DATA?"); err != nil {
		return nil, err
	}
	w.setDeadline(w.bufferTimeout)
	data, err := block.ReadDefinite(w.br)
	if err != nil {
		return nil, err
	}
	pts := make([]SpectrumPoint, len(data)/spectrumPointSize)
	for i := range pts {
		b := data[i*spectrumPointSize:]
		pts[i].Wavelength = math.Float64frombits(binary.LittleEndian.Uint64(b))
		pts[i].Power = math.Float32frombits(binary.LittleEndian.Uint32(b[8:]))
	}
	return pts, nil
}
