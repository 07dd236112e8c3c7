// Package tc300 drives a Thorlabs TC300 two channel temperature controller
// over its USB virtual serial port.
package tc300

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/connutil"
	"github.com/pkg/errors"
)

// Baud is the TC300 serial rate.
const Baud = 115200

// ErrCommand is returned when the controller rejects a command.
var ErrCommand = errors.New("tc300 rejected command")

// TC300 is a connection to one controller.
type TC300 struct {
	mu    sync.Mutex
	rw    io.ReadWriter
	br    *bufio.Reader
	debug bool
}

// Open opens the controller on the named serial port.
func Open(name string, debug bool) (*TC300, error) {
	port, err := connutil.OpenSerial(name, Baud, 3*time.Second)
	if err != nil {
		return nil, err
	}
	t := New(port)
	t.debug = debug
	return t, nil
}

// New talks to a controller over rw.
func New(rw io.ReadWriter) *TC300 {
	return &TC300{rw: rw, br: bufio.NewReader(rw)}
}

// Close closes the port if it can be closed.
func (t *TC300) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// transact sends cmd and returns the reply up to the prompt with the echoed
// command removed.
func (t *TC300) transact(cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cmd = strings.TrimSpace(cmd)
	if t.debug {
		log.Printf("tc300 cmd %q", cmd)
	}
	if _, err := io.WriteString(t.rw, cmd+"\r"); err != nil {
		return "", errors.Wrapf(err, "writing %q", cmd)
	}
	raw, err := t.br.ReadString('>')
	if err != nil {
		return "", errors.Wrapf(err, "reading reply to %q", cmd)
	}
	raw = strings.TrimSuffix(raw, ">")
	var lines []string
	for _, l := range strings.FieldsFunc(raw, func(r rune) bool { return r == '\r' || r == '\n' }) {
		l = strings.TrimSpace(l)
		if l == "" || l == cmd {
			continue
		}
		lines = append(lines, l)
	}
	reply := strings.Join(lines, "\n")
	if t.debug {
		log.Printf("tc300 read %q", reply)
	}
	if strings.HasPrefix(reply, "CMD_") {
		return "", errors.Wrapf(ErrCommand, "%s: %s", cmd, reply)
	}
	return reply, nil
}

// Command formats and sends a setting.
func (t *TC300) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	_, err := t.transact(cmd)
	return err
}

// Query sends cmd and returns the reply.
func (t *TC300) Query(cmd string) (string, error) {
	return t.transact(cmd)
}

// ID returns the identification string.
func (t *TC300) ID() (string, error) { return t.Query("IDN?") }

func checkChannel(ch int) error { return faraday.OneOf("channel", ch, 1, 2) }

// number parses the leading number of a reply such as "25.3 C".
func number(s string) (float64, error) {
	f := strings.Fields(s)
	if len(f) == 0 {
		return 0, errors.New("tc300: empty reply")
	}
	v := strings.TrimRightFunc(f[0], func(r rune) bool { return !strings.ContainsRune("0123456789.", r) })
	return strconv.ParseFloat(v, 64)
}

func (t *TC300) queryNumber(cmd string) (float64, error) {
	s, err := t.Query(cmd)
	if err != nil {
		return 0, err
	}
	v, err := number(s)
	return v, errors.Wrapf(err, "%s returned %q", cmd, s)
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// SetDualChannel selects dual (true) or single channel operation.
func (t *TC300) SetDualChannel(dual bool) error {
	return t.Command("CHN=%s", faraday.Bit(dual))
}

// DualChannel reports whether both channels are in use.
func (t *TC300) DualChannel() (bool, error) {
	v, err := t.queryNumber("CHN?")
	return v == 1, err
}

// EnableChannel turns a channel's output on or off.
func (t *TC300) EnableChannel(ch int, on bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return t.Command("EN%d=%s", ch, faraday.Bit(on))
}

// Mode is a channel's operating mode.
type Mode int

// Channel modes.
const (
	Heater Mode = iota
	TEC
	ConstantCurrent
	SyncWithCh1 // channel 2 only
)

func (m Mode) String() string {
	switch m {
	case Heater:
		return "Heater"
	case TEC:
		return "Tec"
	case ConstantCurrent:
		return "Constant current"
	case SyncWithCh1:
		return "Synchronize with Ch1"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// SetMode sets a channel's mode. SyncWithCh1 is only valid on channel 2.
func (t *TC300) SetMode(ch int, m Mode) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange("mode", m, Heater, SyncWithCh1); err != nil {
		return err
	}
	if m == SyncWithCh1 && ch != 2 {
		return errors.Wrap(faraday.ErrInvalidValue, "only channel 2 can synchronize with channel 1")
	}
	return t.Command("MOD%d=%d", ch, int(m))
}

// Mode returns a channel's mode.
func (t *TC300) Mode(ch int) (Mode, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	v, err := t.queryNumber(fmt.Sprintf("MOD%d?", ch))
	return Mode(v), err
}

// SetOutputCurrent sets the constant current output, −2000 to 2000 mA.
func (t *TC300) SetOutputCurrent(ch, mA int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange("output current", mA, -2000, 2000); err != nil {
		return err
	}
	return t.Command("ISET%d=%d", ch, mA)
}

// SetTargetTemperature sets the target temperature, −200 to 400 °C.
func (t *TC300) SetTargetTemperature(ch int, c float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange("target temperature", c, -200, 400); err != nil {
		return err
	}
	return t.Command("TSET%d=%s", ch, ff(c))
}

// TargetTemperature returns the target temperature in °C.
func (t *TC300) TargetTemperature(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return t.queryNumber(fmt.Sprintf("TSET%d?", ch))
}

// ActualTemperature returns the measured temperature in °C.
func (t *TC300) ActualTemperature(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return t.queryNumber(fmt.Sprintf("TACT%d?", ch))
}

// SetTriggerInput makes the channel's trigger an input (true) or output.
func (t *TC300) SetTriggerInput(ch int, input bool) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return t.Command("TRIG%d=%s", ch, faraday.Bit(input))
}

// SetTemperatureLimits sets the allowed temperature window,
// −200 <= lo <= hi <= 400 °C.
func (t *TC300) SetTemperatureLimits(ch int, lo, hi float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange("min temperature", lo, -200, hi); err != nil {
		return err
	}
	if err := faraday.InRange("max temperature", hi, lo, 400); err != nil {
		return err
	}
	if err := t.Command("TMIN%d=%s", ch, ff(lo)); err != nil {
		return err
	}
	return t.Command("TMAX%d=%s", ch, ff(hi))
}

// Sensor is a temperature sensor type.
type Sensor int

// Sensor types.
const (
	PT100 Sensor = iota
	PT1000
	NTC1
	NTC2
	Thermocouple
	AD590
	EXT1
	EXT2
)

// SetSensor selects the sensor type. Constant current mode needs none.
func (t *TC300) SetSensor(ch int, s Sensor) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange("sensor", s, PT100, EXT2); err != nil {
		return err
	}
	return t.Command("SNS%d=%d", ch, int(s))
}

// SensorParameter is the wiring of a PT100/PT1000 or the thermocouple type.
type SensorParameter int

// Sensor parameters.
const (
	TwoWire SensorParameter = iota
	ThreeWire
	FourWire
	JType
	KType
)

// SetSensorParameter sets the RTD wiring or thermocouple type.
func (t *TC300) SetSensorParameter(ch int, p SensorParameter) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange("sensor parameter", p, TwoWire, KType); err != nil {
		return err
	}
	return t.Command("SPARA%d=%d", ch, int(p))
}

// SetSensorOffset sets the PT100/PT1000 offset, −10 to 10 °C.
func (t *TC300) SetSensorOffset(ch int, c float64) error {
	return t.setFloat(ch, "sensor offset", "SOFS", c, -10, 10)
}

// SetNTCBeta sets β of an NTC1 sensor, 0 to 9999.
func (t *TC300) SetNTCBeta(ch, beta int) error {
	return t.setInt(ch, "NTC beta", "NTCB", beta, 0, 9999)
}

// SetEXTBeta sets β of an EXT1 sensor, 0 to 9999.
func (t *TC300) SetEXTBeta(ch, beta int) error {
	return t.setInt(ch, "EXT beta", "EXTB", beta, 0, 9999)
}

// SetT0 sets the T0 constant of an NTC1 or EXT1 sensor, 0 to 999 °C.
func (t *TC300) SetT0(ch, c int) error {
	return t.setInt(ch, "T0 constant", "T0", c, 0, 999)
}

// SetR0 sets the R0 constant of an NTC1 or EXT1 sensor, 0 to 999 kΩ.
func (t *TC300) SetR0(ch, kOhm int) error {
	return t.setInt(ch, "R0 constant", "R0", kOhm, 0, 999)
}

// SetHartA sets the Steinhart–Hart A constant of an NTC2 or EXT2 sensor.
func (t *TC300) SetHartA(ch int, v float64) error { return t.setHart(ch, "A", v) }

// SetHartB sets the Steinhart–Hart B constant.
func (t *TC300) SetHartB(ch int, v float64) error { return t.setHart(ch, "B", v) }

// SetHartC sets the Steinhart–Hart C constant.
func (t *TC300) SetHartC(ch int, v float64) error { return t.setHart(ch, "C", v) }

func (t *TC300) setHart(ch int, name string, v float64) error {
	return t.setFloat(ch, "Hart "+name+" constant", "HART"+name, v, -9.9999, 9.9999)
}

// SetDerivative sets the PID derivative time Td, 0 to 9.99 A·s/K.
func (t *TC300) SetDerivative(ch int, td float64) error {
	return t.setFloat(ch, "PID Td", "PIDD", td, 0, 9.99)
}

// SetPIDPeriod sets the PID period, 100 to 5000 ms.
func (t *TC300) SetPIDPeriod(ch, ms int) error {
	return t.setInt(ch, "PID period", "PIDT", ms, 100, 5000)
}

// PIDPeriod returns the PID period in ms.
func (t *TC300) PIDPeriod(ch int) (int, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	v, err := t.queryNumber(fmt.Sprintf("PIDT%d?", ch))
	return int(v), err
}

func (t *TC300) setInt(ch int, what, cmd string, v, lo, hi int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange(what, v, lo, hi); err != nil {
		return err
	}
	return t.Command("%s%d=%d", cmd, ch, v)
}

func (t *TC300) setFloat(ch int, what, cmd string, v, lo, hi float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if err := faraday.InRange(what, v, lo, hi); err != nil {
		return err
	}
	return t.Command("%s%d=%s", cmd, ch, ff(v))
}
