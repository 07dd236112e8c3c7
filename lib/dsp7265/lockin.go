package dsp7265

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
)

// ErrBufferTooShort is returned when a run would overflow the curve buffer.
var ErrBufferTooShort = errors.New("curve buffer too short")

// Settings is the run configuration of one lock-in channel.
type Settings struct {
	Name         string        `yaml:"name"`
	Address      int           `yaml:"gpib"`
	Harmonic     int           `yaml:"harmonic"`
	Phase        float64       `yaml:"phase"`
	Gain         int           `yaml:"gain"`
	Sensitivity  float64       `yaml:"sens"`
	TimeConstant float64       `yaml:"tc"`
	DCCoupling   bool          `yaml:"dc_coupling"`
	VoltageMode  VoltageMode   `yaml:"vmode"`
	InputMode    InputMode     `yaml:"imode"`
	FET          bool          `yaml:"fet"`
	FloatShield  bool          `yaml:"shield"`
	Reference    RefSource     `yaml:"reference"`
	Slope        int           `yaml:"slope"`
	Length       int           `yaml:"length"`
	Interval     time.Duration `yaml:"interval"`
}

// LockIn is an amplifier together with the settings it is run with.
type LockIn struct {
	*Amplifier
	Settings Settings
}

// NewLockIn returns a lock-in on bus configured by s.
func NewLockIn(bus Bus, s Settings) *LockIn {
	return &LockIn{Amplifier: New(bus), Settings: s}
}

// Config returns the channel settings.
func (l *LockIn) Config() Settings { return l.Settings }

// SignalChannel configures the signal input: coupling, voltage input, FET
// preamp, shield and voltage mode.
func (l *LockIn) SignalChannel() error {
	steps := []func() error{
		func() error { return l.SetCoupling(l.Settings.DCCoupling) },
		func() error { return l.SetInputMode(l.Settings.InputMode) },
		func() error { return l.SetFET(l.Settings.FET) },
		func() error { return l.SetShieldFloat(l.Settings.FloatShield) },
		func() error { return l.SetVoltageMode(l.Settings.VoltageMode) },
	}
	return l.run("signal channel", steps)
}

// ReferenceChannel configures phase, harmonic and reference source.
func (l *LockIn) ReferenceChannel() error {
	steps := []func() error{
		func() error { return l.SetReferencePhase(l.Settings.Phase) },
		func() error { return l.SetHarmonic(l.Settings.Harmonic) },
		func() error { return l.SetReference(l.Settings.Reference) },
	}
	return l.run("reference channel", steps)
}

// Filters configures AC gain, time constant, slope and sensitivity.
func (l *LockIn) Filters() error {
	steps := []func() error{
		func() error { return l.SetGain(l.Settings.Gain) },
		func() error { return l.SetTimeConstant(l.Settings.TimeConstant) },
		func() error { return l.SetSlope(l.Settings.Slope) },
		func() error { return l.SetSensitivity(l.Settings.Sensitivity) },
	}
	return l.run("filters", steps)
}

// AutoFunctions disables auto gain and runs auto phase and auto
// sensitivity.
func (l *LockIn) AutoFunctions() error {
	steps := []func() error{
		func() error { return l.SetAutoGain(false) },
		l.AutoPhase,
		l.AutoSensitivity,
	}
	return l.run("auto functions", steps)
}

// Configure runs SignalChannel, ReferenceChannel and Filters.
func (l *LockIn) Configure() error {
	for _, f := range []func() error{l.SignalChannel, l.ReferenceChannel, l.Filters} {
		if err := f(); err != nil {
			return err
		}
	}
	log.Printf("%s lock-in configured", l.Settings.Name)
	return nil
}

func (l *LockIn) run(what string, steps []func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return errors.Wrapf(err, "%s lock-in %s", l.Settings.Name, what)
		}
	}
	return nil
}

// InitCurveBuffer stores X, Y and sensitivity curves of Length points at
// Interval and clears the buffer.
func (l *LockIn) InitCurveBuffer() error {
	steps := []func() error{
		func() error { return l.SetCurves(CurveX | CurveY | CurveSensitivity) },
		func() error { return l.SetBufferLength(l.Settings.Length) },
		func() error { return l.SetBufferInterval(l.Settings.Interval) },
		l.NewCurve,
	}
	return l.run("curve buffer", steps)
}

// TriggerBuffer arms the buffer to start on the TRIG IN line.
func (l *LockIn) TriggerBuffer() error {
	return errors.Wrapf(l.TakeDataTriggered(), "%s lock-in", l.Settings.Name)
}

// HaltBuffer stops the acquisition.
func (l *LockIn) HaltBuffer() error {
	return errors.Wrapf(l.Halt(), "%s lock-in", l.Settings.Name)
}

// Curves is the converted content of a curve buffer.
type Curves struct {
	X, Y   []float64
	Status BufferStatus
}

// CurveBuffer waits for the acquisition to stop, dumps X and Y and converts
// them to volts at the configured sensitivity. Converted curves are returned
// together with ErrOverload when a point is out of range.
func (l *LockIn) CurveBuffer(ctx context.Context) (Curves, error) {
	var c Curves
	st, err := l.WaitBuffer(ctx)
	if err != nil {
		return c, errors.Wrapf(err, "%s lock-in waiting for buffer", l.Settings.Name)
	}
	c.Status = st
	log.Printf("%s lock-in buffer status: %v", l.Settings.Name, st)
	rawX, err := l.DumpCurve(CurveNumX, st.Points)
	if err != nil {
		return c, errors.Wrapf(err, "%s lock-in X", l.Settings.Name)
	}
	rawY, err := l.DumpCurve(CurveNumY, st.Points)
	if err != nil {
		return c, errors.Wrapf(err, "%s lock-in Y", l.Settings.Name)
	}
	var errX, errY error
	c.X, errX = ToVolts(rawX, l.Settings.Sensitivity)
	c.Y, errY = ToVolts(rawY, l.Settings.Sensitivity)
	if errX != nil {
		return c, errors.Wrapf(errX, "%s lock-in X", l.Settings.Name)
	}
	return c, errors.Wrapf(errY, "%s lock-in Y", l.Settings.Name)
}

// CheckCapacity returns an error unless a run of d fits in the buffer.
func (l *LockIn) CheckCapacity(d time.Duration) error {
	if l.Settings.Interval <= 0 {
		return errors.Errorf("%s lock-in: buffer interval not set", l.Settings.Name)
	}
	if need := float64(d) / float64(l.Settings.Interval); need > float64(l.Settings.Length) {
		return errors.Wrapf(ErrBufferTooShort, "%s lock-in: %.0f points exceed length %d", l.Settings.Name, need, l.Settings.Length)
	}
	return nil
}
