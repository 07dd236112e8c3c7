// Package lakeshore drives the LakeShore 475 DSP gaussmeter over GPIB.
package lakeshore

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/block"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Bus is the transport the gaussmeter needs; *faraday.Device satisfies it.
type Bus interface {
	faraday.Instrument
	faraday.BinaryQuerier
}

// Gaussmeter is a LakeShore 475.
type Gaussmeter struct {
	bus        Bus
	resetDelay time.Duration
}

// Option configures a Gaussmeter.
type Option func(*Gaussmeter)

// WithResetDelay sets how long Reset waits before checking the instrument
// came back (default 1 s).
func WithResetDelay(d time.Duration) Option { return func(g *Gaussmeter) { g.resetDelay = d } }

// New returns a gaussmeter on bus without touching the instrument.
func New(bus Bus, opts ...Option) *Gaussmeter {
	g := &Gaussmeter{bus: bus, resetDelay: time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open is New followed by an identification query, which is logged.
func Open(bus Bus, opts ...Option) (*Gaussmeter, error) {
	g := New(bus, opts...)
	id, err := g.ID()
	if err != nil {
		return nil, errors.Wrap(err, "lakeshore 475")
	}
	log.Printf("lakeshore: connected to %s", id)
	return g, nil
}

// ID returns the *IDN? response.
func (g *Gaussmeter) ID() (string, error) { return g.bus.Query("*IDN?") }

// SelfTest runs *TST? and reports whether it passed.
func (g *Gaussmeter) SelfTest() (bool, error) {
	s, err := g.bus.Query("*TST?")
	return s == "0", err
}

// ClearInterface sends *CLS.
func (g *Gaussmeter) ClearInterface() error { return g.bus.Command("*CLS") }

// Reset sends *RST, waits for the instrument to restart and returns its
// identification.
func (g *Gaussmeter) Reset() (string, error) {
	if err := g.bus.Command("*RST"); err != nil {
		return "", err
	}
	time.Sleep(g.resetDelay)
	return g.ID()
}

func (g *Gaussmeter) queryBit(cmd string) (bool, error) {
	s, err := g.bus.Query(cmd)
	if err != nil {
		return false, err
	}
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, errors.Errorf("lakeshore: %s returned %q", cmd, s)
}

// SetAutoRange turns auto ranging on or off.
func (g *Gaussmeter) SetAutoRange(on bool) error {
	return g.bus.Command("AUTO %s", faraday.Bit(on))
}

// AutoRange reports whether auto ranging is on.
func (g *Gaussmeter) AutoRange() (bool, error) { return g.queryBit("AUTO?") }

// Field reads the magnetic field in the current units.
func (g *Gaussmeter) Field() (float64, error) { return query.Float64(g.bus, "RDGFIELD?") }

// Temperature reads the probe temperature in the current temperature units.
func (g *Gaussmeter) Temperature() (float64, error) { return query.Float64(g.bus, "RDGTEMP?") }

// FieldUnit is a field measurement unit.
type FieldUnit int

// Field units as numbered by the UNIT command.
const (
	Gauss FieldUnit = iota + 1
	Tesla
	Oersted
	AmpsPerMeter
)

var fieldUnitNames = map[FieldUnit]string{
	Gauss:        "Gauss",
	Tesla:        "Tesla",
	Oersted:      "Oersted",
	AmpsPerMeter: "A/m",
}

func (u FieldUnit) String() string {
	if s, ok := fieldUnitNames[u]; ok {
		return s
	}
	return fmt.Sprintf("FieldUnit(%d)", int(u))
}

var fieldUnitSymbols = map[FieldUnit]string{
	Gauss:        "G",
	Tesla:        "T",
	Oersted:      "Oe",
	AmpsPerMeter: "A/m",
}

// Symbol is the unit's abbreviation, e.g. "G".
func (u FieldUnit) Symbol() string { return fieldUnitSymbols[u] }

// ParseFieldUnit maps a unit name (Gauss, Tesla, Oersted, A/m) to its code.
func ParseFieldUnit(s string) (FieldUnit, error) {
	for u, name := range fieldUnitNames {
		if strings.EqualFold(name, s) {
			return u, nil
		}
	}
	return 0, errors.Wrapf(faraday.ErrInvalidValue, "field unit %q (must be Gauss, Tesla, Oersted or A/m)", s)
}

// SetUnits sets the field unit.
func (g *Gaussmeter) SetUnits(u FieldUnit) error {
	if err := faraday.InRange("field unit", u, Gauss, AmpsPerMeter); err != nil {
		return err
	}
	return g.bus.Command("UNIT %d", int(u))
}

// Units returns the field unit.
func (g *Gaussmeter) Units() (FieldUnit, error) {
	n, err := query.Int(g.bus, "UNIT?")
	return FieldUnit(n), err
}

// TempUnit is a probe temperature unit.
type TempUnit int

// Temperature units as numbered by TUNIT.
const (
	Celsius TempUnit = iota + 1
	Kelvin
)

func (u TempUnit) String() string {
	switch u {
	case Celsius:
		return "Celsius"
	case Kelvin:
		return "Kelvin"
	}
	return fmt.Sprintf("TempUnit(%d)", int(u))
}

// SetTemperatureUnits sets the probe temperature unit.
func (g *Gaussmeter) SetTemperatureUnits(u TempUnit) error {
	if err := faraday.OneOf("temperature unit", u, Celsius, Kelvin); err != nil {
		return err
	}
	return g.bus.Command("TUNIT %d", int(u))
}

// TemperatureUnits returns the probe temperature unit.
func (g *Gaussmeter) TemperatureUnits() (TempUnit, error) {
	n, err := query.Int(g.bus, "TUNIT?")
	return TempUnit(n), err
}

// Measurement modes.
const (
	DC   = 1
	RMS  = 2
	Peak = 3
)

// Mode is the RDGMODE setting. Every field is the instrument's 1-based code:
//
//	Measurement   1 DC, 2 RMS, 3 peak
//	Resolution    1 3 digits, 2 4 digits, 3 5 digits
//	Filter        1 wide band, 2 narrow band, 3 low pass
//	PeakMode      1 periodic, 2 pulse
//	PeakDisplay   1 positive, 2 negative, 3 both
type Mode struct {
	Measurement int
	Resolution  int
	Filter      int
	PeakMode    int
	PeakDisplay int
}

func (m Mode) validate() error {
	for _, c := range []struct {
		name string
		v    int
		hi   int
	}{
		{"measurement mode", m.Measurement, 3},
		{"dc resolution", m.Resolution, 3},
		{"rms filter", m.Filter, 3},
		{"peak mode", m.PeakMode, 2},
		{"peak display", m.PeakDisplay, 3},
	} {
		if err := faraday.InRange(c.name, c.v, 1, c.hi); err != nil {
			return err
		}
	}
	return nil
}

// SetMode sets the measurement mode.
func (g *Gaussmeter) SetMode(m Mode) error {
	if err := m.validate(); err != nil {
		return err
	}
	return g.bus.Command("RDGMODE %d,%d,%d,%d,%d",
		m.Measurement, m.Resolution, m.Filter, m.PeakMode, m.PeakDisplay)
}

// Mode returns the measurement mode.
func (g *Gaussmeter) Mode() (Mode, error) {
	var m Mode
	v, err := g.ints("RDGMODE?", 5)
	if err != nil {
		return m, err
	}
	m.Measurement, m.Resolution, m.Filter, m.PeakMode, m.PeakDisplay = v[0], v[1], v[2], v[3], v[4]
	return m, nil
}

func (g *Gaussmeter) ints(cmd string, n int) ([]int, error) {
	s, err := g.bus.Query(cmd)
	if err != nil {
		return nil, err
	}
	f := strings.Split(s, ",")
	if len(f) != n {
		return nil, errors.Errorf("lakeshore: %s returned %q, want %d values", cmd, s, n)
	}
	out := make([]int, n)
	for i, x := range f {
		if out[i], err = strconv.Atoi(strings.TrimSpace(x)); err != nil {
			return nil, errors.Wrapf(err, "%s value %d", cmd, i)
		}
	}
	return out, nil
}

// SetControlMode turns closed loop PI field control on or off.
func (g *Gaussmeter) SetControlMode(closedLoop bool) error {
	return g.bus.Command("CMODE %s", faraday.Bit(closedLoop))
}

// ControlMode reports whether closed loop field control is on.
func (g *Gaussmeter) ControlMode() (bool, error) { return g.queryBit("CMODE?") }

// SetSetpoint sets the field control setpoint.
func (g *Gaussmeter) SetSetpoint(v float64) error {
	return g.bus.Command("CSETP %s", strconv.FormatFloat(v, 'f', -1, 64))
}

// Setpoint returns the field control setpoint.
func (g *Gaussmeter) Setpoint() (float64, error) { return query.Float64(g.bus, "CSETP?") }

// ControlParams are the field control loop parameters.
type ControlParams struct {
	P, I       float64
	RampRate   float64
	SlopeLimit float64
}

// SetControlParams sets the field control loop parameters.
func (g *Gaussmeter) SetControlParams(p ControlParams) error {
	ff := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return g.bus.Command("CPARAM %s,%s,%s,%s", ff(p.P), ff(p.I), ff(p.RampRate), ff(p.SlopeLimit))
}

// ControlParams returns the field control loop parameters.
func (g *Gaussmeter) ControlParams() (ControlParams, error) {
	var p ControlParams
	s, err := g.bus.Query("CPARAM?")
	if err != nil {
		return p, err
	}
	f := strings.Split(s, ",")
	if len(f) != 4 {
		return p, errors.Errorf("lakeshore: CPARAM? returned %q", s)
	}
	dst := []*float64{&p.P, &p.I, &p.RampRate, &p.SlopeLimit}
	for i, x := range f {
		if *dst[i], err = strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
			return p, errors.Wrapf(err, "CPARAM? value %d", i)
		}
	}
	return p, nil
}

// LogRates maps DLOGSET codes to data log rates in Hz.
var LogRates = map[int]int{1: 1, 2: 10, 3: 30, 4: 100, 5: 200, 6: 400, 7: 800, 8: 1000}

// SetLogRate sets the data log rate in Hz.
func (g *Gaussmeter) SetLogRate(hz int) error {
	for code, r := range LogRates {
		if r == hz {
			return g.bus.Command("DLOGSET %d", code)
		}
	}
	return errors.Wrapf(faraday.ErrInvalidValue, "log rate %d Hz (must be 1, 10, 30, 100, 200, 400, 800 or 1000)", hz)
}

// LogRate returns the data log rate in Hz.
func (g *Gaussmeter) LogRate() (int, error) {
	code, err := query.Int(g.bus, "DLOGSET?")
	if err != nil {
		return 0, err
	}
	hz, ok := LogRates[code]
	if !ok {
		return 0, errors.Errorf("lakeshore: unknown log rate code %d", code)
	}
	return hz, nil
}

// Trigger sends *TRG, which starts a data log capture like DLOG 1.
func (g *Gaussmeter) Trigger() error { return g.bus.Command("*TRG") }

// SetDataLog starts or stops data logging.
func (g *Gaussmeter) SetDataLog(on bool) error {
	return g.bus.Command("DLOG %s", faraday.Bit(on))
}

// DataLogCount returns the number of points in the data log buffer.
func (g *Gaussmeter) DataLogCount() (int, error) { return query.Int(g.bus, "DLOGNUM?") }

// DataLog reads points 1..n from the data log buffer.
func (g *Gaussmeter) DataLog(n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for i := 1; i <= n; i++ {
		v, err := query.Float64(g.bus, fmt.Sprintf("DLOGRDG? %d", i))
		if err != nil {
			return out, errors.Wrapf(err, "data log point %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}

// fastHeader is the size of the RDGFAST? reply header.
const fastHeader = 2

// ReadFast reads n high speed readings as big-endian float32 values.
func (g *Gaussmeter) ReadFast(n int) ([]float32, error) {
	if n < 1 {
		return nil, errors.Wrapf(faraday.ErrInvalidValue, "fast reading count %d", n)
	}
	raw, err := g.bus.QueryBinary(fmt.Sprintf("RDGFAST? %d", n), fastHeader+4*n)
	if err != nil {
		return nil, err
	}
	if len(raw) < fastHeader {
		return nil, errors.Errorf("lakeshore: RDGFAST? returned %d bytes", len(raw))
	}
	vals := block.Float32sBE(raw[fastHeader:])
	if len(vals) != n {
		log.Printf("lakeshore: expected %d readings, got %d", n, len(vals))
	}
	return vals, nil
}

// SetTriggerOut turns the hardware trigger output on or off.
func (g *Gaussmeter) SetTriggerOut(on bool) error {
	return g.bus.Command("TRIG %s", faraday.Bit(on))
}

// TriggerOut reports whether the hardware trigger output is on.
func (g *Gaussmeter) TriggerOut() (bool, error) { return g.queryBit("TRIG?") }
