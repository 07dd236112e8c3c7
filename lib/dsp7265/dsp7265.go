// Package dsp7265 drives Signal Recovery DSP 7265 lock-in amplifiers over
// GPIB. Several amplifiers usually share one Prologix adapter, each behind
// its own faraday.Device.
package dsp7265

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// ErrOverload is returned when a curve buffer point exceeds the input range.
var ErrOverload = errors.New("lock-in overload")

// Bus is the transport an amplifier needs; *faraday.Device satisfies it.
type Bus interface {
	faraday.Instrument
	faraday.LineQuerier
}

// Amplifier is one DSP 7265.
type Amplifier struct {
	bus  Bus
	poll time.Duration
}

// New returns an amplifier on bus.
func New(bus Bus) *Amplifier {
	return &Amplifier{bus: bus, poll: 100 * time.Millisecond}
}

// ID returns the model number reported by ID.
func (a *Amplifier) ID() (string, error) { return a.bus.Query("ID") }

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// SetCoupling selects DC (true) or AC (false) input coupling.
func (a *Amplifier) SetCoupling(dc bool) error {
	return a.bus.Command("CP %s", faraday.Bit(dc))
}

// InputMode is the IMODE setting.
type InputMode string

// Input modes.
const (
	VoltageInput         InputMode = "voltage mode"
	CurrentInput         InputMode = "current mode"
	LowNoiseCurrentInput InputMode = "low noise current mode"
)

var inputModes = map[InputMode]int{VoltageInput: 0, CurrentInput: 1, LowNoiseCurrentInput: 2}

// SetInputMode selects voltage or current input.
func (a *Amplifier) SetInputMode(m InputMode) error {
	code, ok := inputModes[m]
	if !ok {
		return errors.Wrapf(faraday.ErrInvalidValue, "input mode %q", m)
	}
	return a.bus.Command("IMODE %d", code)
}

// VoltageMode is the VMODE setting.
type VoltageMode int

// Voltage input configurations.
const (
	Grounded VoltageMode = iota
	InputA
	InputMinusB
	AMinusB
)

// SetVoltageMode selects which voltage inputs are used.
func (a *Amplifier) SetVoltageMode(m VoltageMode) error {
	if err := faraday.InRange("voltage mode", m, Grounded, AMinusB); err != nil {
		return err
	}
	return a.bus.Command("VMODE %d", int(m))
}

// SetDifferentialMode measures A−B.
func (a *Amplifier) SetDifferentialMode() error { return a.SetVoltageMode(AMinusB) }

// SetFET selects the FET (true) or bipolar (false) preamplifier.
func (a *Amplifier) SetFET(fet bool) error { return a.bus.Command("FET %s", faraday.Bit(fet)) }

// SetShieldFloat floats (true) or grounds (false) the input connector shields.
func (a *Amplifier) SetShieldFloat(float bool) error {
	return a.bus.Command("FLOAT %s", faraday.Bit(float))
}

// SetReferencePhase sets the reference phase shift in degrees.
func (a *Amplifier) SetReferencePhase(deg float64) error {
	if err := faraday.InRange("reference phase", deg, -360, 360); err != nil {
		return err
	}
	return a.bus.Command("REFP. %s", ff(deg))
}

// ReferencePhase returns the reference phase shift in degrees.
func (a *Amplifier) ReferencePhase() (float64, error) { return query.Float64(a.bus, "REFP.") }

// SetHarmonic sets the reference harmonic the amplifier detects at.
func (a *Amplifier) SetHarmonic(n int) error {
	if err := faraday.InRange("harmonic", n, 1, 127); err != nil {
		return err
	}
	return a.bus.Command("REFN %d", n)
}

// Harmonic returns the reference harmonic.
func (a *Amplifier) Harmonic() (int, error) { return query.Int(a.bus, "REFN") }

// RefSource is the IE setting.
type RefSource string

// Reference sources.
const (
	InternalRef      RefSource = "internal"
	ExternalRearRef  RefSource = "external rear"
	ExternalFrontRef RefSource = "external front"
)

var refSources = map[RefSource]int{InternalRef: 0, ExternalRearRef: 1, ExternalFrontRef: 2}

// SetReference selects the reference input.
func (a *Amplifier) SetReference(src RefSource) error {
	code, ok := refSources[src]
	if !ok {
		return errors.Wrapf(faraday.ErrInvalidValue, "reference source %q", src)
	}
	return a.bus.Command("IE %d", code)
}

// SetGain sets the AC gain, 0 to 90 dB in 10 dB steps.
func (a *Amplifier) SetGain(db int) error {
	if db%10 != 0 {
		return errors.Wrapf(faraday.ErrInvalidValue, "ac gain %d dB (must be a multiple of 10)", db)
	}
	if err := faraday.InRange("ac gain", db, 0, 90); err != nil {
		return err
	}
	return a.bus.Command("ACGAIN %d", db/10)
}

// Gain returns the AC gain in dB.
func (a *Amplifier) Gain() (int, error) {
	n, err := query.Int(a.bus, "ACGAIN")
	return n * 10, err
}

// TimeConstants are the output filter time constants in seconds, indexed by
// the TC command.
var TimeConstants = []float64{
	10e-6, 20e-6, 40e-6, 80e-6, 160e-6, 320e-6, 640e-6,
	5e-3, 10e-3, 20e-3, 50e-3, 100e-3, 200e-3, 500e-3,
	1, 2, 5, 10, 20, 50, 100, 200, 500,
	1e3, 2e3, 5e3, 10e3, 20e3, 50e3, 100e3,
}

// Sensitivities are the full scale voltage mode sensitivities in volts,
// indexed by the SEN command. Index 0 is unused.
var Sensitivities = []float64{
	0, 2e-9, 5e-9, 10e-9, 20e-9, 50e-9, 100e-9, 200e-9, 500e-9,
	1e-6, 2e-6, 5e-6, 10e-6, 20e-6, 50e-6, 100e-6, 200e-6, 500e-6,
	1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3, 100e-3, 200e-3, 500e-3,
	1,
}

// index returns the position of v in table, matching to a relative
// tolerance.
func index(name string, table []float64, v float64) (int, error) {
	for i, x := range table {
		if x != 0 && math.Abs(v-x) <= 1e-9*x {
			return i, nil
		}
	}
	return 0, errors.Wrapf(faraday.ErrInvalidValue, "%s %g is not an instrument setting", name, v)
}

func lookup(name string, table []float64, i int) (float64, error) {
	if i < 0 || i >= len(table) {
		return 0, errors.Errorf("dsp7265: %s index %d out of range", name, i)
	}
	return table[i], nil
}

// SetTimeConstant sets the output filter time constant in seconds. The value
// must be one of TimeConstants.
func (a *Amplifier) SetTimeConstant(s float64) error {
	i, err := index("time constant", TimeConstants, s)
	if err != nil {
		return err
	}
	return a.bus.Command("TC %d", i)
}

// TimeConstant returns the output filter time constant in seconds.
func (a *Amplifier) TimeConstant() (float64, error) {
	i, err := query.Int(a.bus, "TC")
	if err != nil {
		return 0, err
	}
	return lookup("time constant", TimeConstants, i)
}

// SetSensitivity sets the full scale sensitivity in volts. The value must be
// one of Sensitivities.
func (a *Amplifier) SetSensitivity(v float64) error {
	i, err := index("sensitivity", Sensitivities, v)
	if err != nil {
		return err
	}
	return a.bus.Command("SEN %d", i)
}

// Sensitivity returns the full scale sensitivity in volts.
func (a *Amplifier) Sensitivity() (float64, error) {
	i, err := query.Int(a.bus, "SEN")
	if err != nil {
		return 0, err
	}
	return lookup("sensitivity", Sensitivities, i)
}

var slopes = map[int]int{6: 0, 12: 1, 18: 2, 24: 3}

// SetSlope sets the output filter slope: 6, 12, 18 or 24 dB/octave.
func (a *Amplifier) SetSlope(db int) error {
	code, ok := slopes[db]
	if !ok {
		return errors.Wrapf(faraday.ErrInvalidValue, "slope %d dB/octave (must be 6, 12, 18 or 24)", db)
	}
	return a.bus.Command("SLOPE %d", code)
}

// SetAutoGain turns automatic AC gain control on or off.
func (a *Amplifier) SetAutoGain(on bool) error {
	return a.bus.Command("AUTOMATIC %s", faraday.Bit(on))
}

// AutoPhase runs the auto phase function.
func (a *Amplifier) AutoPhase() error { return a.bus.Command("AQN") }

// AutoSensitivity runs the auto sensitivity function.
func (a *Amplifier) AutoSensitivity() error { return a.bus.Command("AS") }

// X returns the in-phase output in volts.
func (a *Amplifier) X() (float64, error) { return query.Float64(a.bus, "X.") }

// Y returns the quadrature output in volts.
func (a *Amplifier) Y() (float64, error) { return query.Float64(a.bus, "Y.") }

// Curve buffer bits for CBD.
const (
	CurveX           = 1 << 0
	CurveY           = 1 << 1
	CurveMagnitude   = 1 << 2
	CurvePhase       = 1 << 3
	CurveSensitivity = 1 << 4
)

// MaxBufferLength is the largest curve buffer LEN accepts.
const MaxBufferLength = 32768

// SetCurves selects the curves stored in the buffer.
func (a *Amplifier) SetCurves(bits int) error {
	if err := faraday.InRange("curve bits", bits, 1, 1<<16-1); err != nil {
		return err
	}
	return a.bus.Command("CBD %d", bits)
}

// SetBufferLength sets the number of points per curve.
func (a *Amplifier) SetBufferLength(n int) error {
	if err := faraday.InRange("buffer length", n, 1, MaxBufferLength); err != nil {
		return err
	}
	return a.bus.Command("LEN %d", n)
}

// SetBufferInterval sets the time between stored points, in whole
// milliseconds.
func (a *Amplifier) SetBufferInterval(d time.Duration) error {
	ms := d.Milliseconds()
	if ms < 1 {
		return errors.Wrapf(faraday.ErrInvalidValue, "buffer interval %v (must be at least 1ms)", d)
	}
	return a.bus.Command("STR %d", ms)
}

// NewCurve clears the curve buffer.
func (a *Amplifier) NewCurve() error { return a.bus.Command("NC") }

// TakeData starts acquisition immediately.
func (a *Amplifier) TakeData() error { return a.bus.Command("TD") }

// TakeDataTriggered arms acquisition to start on the next TRIG IN edge.
func (a *Amplifier) TakeDataTriggered() error { return a.bus.Command("TDT") }

// Halt stops acquisition.
func (a *Amplifier) Halt() error { return a.bus.Command("HC") }

// BufferStatus is the reply to M.
type BufferStatus struct {
	Acquisition int // 0 idle, 1 TD running, 2 TDC running, 5/6 halted
	Sweeps      int
	StatusByte  int
	Points      int
}

// Running reports whether an acquisition is still in progress.
func (s BufferStatus) Running() bool { return s.Acquisition == 1 || s.Acquisition == 2 }

func (s BufferStatus) String() string {
	return fmt.Sprintf("acquisition %d, sweeps %d, status %#x, points %d",
		s.Acquisition, s.Sweeps, s.StatusByte, s.Points)
}

// BufferStatus reads the curve acquisition status.
func (a *Amplifier) BufferStatus() (BufferStatus, error) {
	var st BufferStatus
	s, err := a.bus.Query("M")
	if err != nil {
		return st, err
	}
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(f) != 4 {
		return st, errors.Errorf("dsp7265: malformed M reply %q", s)
	}
	dst := []*int{&st.Acquisition, &st.Sweeps, &st.StatusByte, &st.Points}
	for i, x := range f {
		if *dst[i], err = strconv.Atoi(x); err != nil {
			return st, errors.Wrapf(err, "M field %d", i)
		}
	}
	return st, nil
}

// WaitBuffer polls BufferStatus until acquisition stops or ctx is done.
func (a *Amplifier) WaitBuffer(ctx context.Context) (BufferStatus, error) {
	t := time.NewTicker(a.poll)
	defer t.Stop()
	for {
		st, err := a.BufferStatus()
		if err != nil || !st.Running() {
			return st, err
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-t.C:
		}
	}
}

// Curve numbers for DumpCurve, the bit positions of the CBD mask.
const (
	CurveNumX           = 0
	CurveNumY           = 1
	CurveNumSensitivity = 4
)

// DumpCurve reads n raw points of curve c.
func (a *Amplifier) DumpCurve(c, n int) ([]int, error) {
	if n == 0 {
		return nil, nil
	}
	lines, err := a.bus.QueryLines(fmt.Sprintf("DC %d", c), n)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(lines))
	for i, l := range lines {
		if out[i], err = strconv.Atoi(strings.TrimSpace(l)); err != nil {
			return nil, errors.Wrapf(err, "curve %d point %d", c, i)
		}
	}
	return out, nil
}

// fullScale is the fixed-point reading of a full scale output; readings
// past overloadLimit are overloads.
const (
	fullScale     = 10000
	overloadLimit = 30000
)

// ToVolts converts raw fixed-point curve points to volts at the given
// sensitivity. The first overloaded point is reported as ErrOverload but the
// whole curve is still converted.
func ToVolts(raw []int, sensitivity float64) ([]float64, error) {
	var err error
	out := make([]float64, len(raw))
	for i, r := range raw {
		if (r > overloadLimit || r < -overloadLimit) && err == nil {
			err = errors.Wrapf(ErrOverload, "point %d reads %d", i, r)
		}
		out[i] = float64(r) * sensitivity / fullScale
	}
	return out, err
}
