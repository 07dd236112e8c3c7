package bristol

import (
	"strconv"
	"strings"

	"github.com/faradaylab/faraday"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Mode selects how a measurement query is taken.
type Mode string

// Measurement modes. MEAS starts a new measurement, READ waits for the next
// one and FETC returns the last one.
const (
	Measure Mode = "MEAS"
	Read    Mode = "READ"
	Fetch   Mode = "FETC"
)

func (m Mode) validate() error {
	return faraday.OneOf("measurement mode", m, Measure, Read, Fetch)
}

// Reading is the response to :MEAS:ALL? for the highest measured peak.
type Reading struct {
	ScanIndex  int
	Status     uint32
	Wavelength float64
	Power      float64
}

// All returns the scan index, status, wavelength and power of the highest
// peak.
func (w *Wavemeter) All(m Mode) (Reading, error) {
	var r Reading
	if err := m.validate(); err != nil {
		return r, err
	}
	s, err := w.Query(":" + string(m) + ":ALL?")
	if err != nil {
		return r, err
	}
	f := strings.Split(s, ",")
	if len(f) != 4 {
		return r, errors.Errorf("bristol: malformed ALL reply %q", s)
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	if r.ScanIndex, err = strconv.Atoi(f[0]); err != nil {
		return r, errors.Wrap(err, "scan index")
	}
	st, err := strconv.ParseUint(f[1], 10, 32)
	if err != nil {
		return r, errors.Wrap(err, "status")
	}
	r.Status = uint32(st)
	if r.Wavelength, err = strconv.ParseFloat(f[2], 64); err != nil {
		return r, errors.Wrap(err, "wavelength")
	}
	if r.Power, err = strconv.ParseFloat(f[3], 64); err != nil {
		return r, errors.Wrap(err, "power")
	}
	return r, nil
}

// Environment returns the internal temperature in °C and pressure in mm Hg.
func (w *Wavemeter) Environment(m Mode) (temp, pressure float64, err error) {
	if err := m.validate(); err != nil {
		return 0, 0, err
	}
	s, err := w.Query(":" + string(m) + ":ENV?")
	if err != nil {
		return 0, 0, err
	}
	f := strings.Split(s, ",")
	if len(f) != 2 {
		return 0, 0, errors.Errorf("bristol: malformed ENV reply %q", s)
	}
	if temp, err = leadingFloat(f[0]); err != nil {
		return 0, 0, errors.Wrapf(err, "temperature in %q", s)
	}
	if pressure, err = leadingFloat(f[1]); err != nil {
		return 0, 0, errors.Wrapf(err, "pressure in %q", s)
	}
	return temp, pressure, nil
}

func (w *Wavemeter) measure(m Mode, what string) (float64, error) {
	if err := m.validate(); err != nil {
		return 0, err
	}
	return query.Float64(w, ":"+string(m)+":"+what+"?")
}

// Frequency returns the laser reading in THz.
func (w *Wavemeter) Frequency(m Mode) (float64, error) { return w.measure(m, "FREQ") }

// Power returns the power in the unit set by :UNIT:POW (mW or dBm).
func (w *Wavemeter) Power(m Mode) (float64, error) { return w.measure(m, "POW") }

// Wavelength returns the laser wavelength in nm.
func (w *Wavemeter) Wavelength(m Mode) (float64, error) { return w.measure(m, "WAV") }

// Wavenumber returns the laser reading in cm⁻¹.
func (w *Wavemeter) Wavenumber(m Mode) (float64, error) { return w.measure(m, "WNUM") }
