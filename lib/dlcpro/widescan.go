package dlcpro

import (
	"math"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/pkg/errors"
)

// Scan shapes.
const (
	Sawtooth = 0
	Triangle = 1
)

// OutputPiezo is the wide scan output channel driving the piezo voltage.
const OutputPiezo = 50

// WideScan is a laser wide scan configuration. Voltages are in V, speed in
// V/s.
type WideScan struct {
	OutputChannel  int     `yaml:"output_channel"`
	Offset         float64 `yaml:"offset"`
	Shape          int     `yaml:"shape"`
	Speed          float64 `yaml:"speed"`
	Begin          float64 `yaml:"begin"`
	End            float64 `yaml:"end"`
	TriggerInput   bool    `yaml:"trigger_input"`
	TriggerChannel int     `yaml:"trigger_channel"`
}

// DefaultWideScan is a 69 V to 71 V sawtooth at 0.05 V/s on the piezo,
// started by digital input 2.
func DefaultWideScan() WideScan {
	return WideScan{
		OutputChannel:  OutputPiezo,
		Offset:         70,
		Shape:          Sawtooth,
		Speed:          0.05,
		Begin:          69,
		End:            71,
		TriggerInput:   true,
		TriggerChannel: 2,
	}
}

// Duration is the time to sweep from Begin to End.
func (w WideScan) Duration() time.Duration {
	if w.Speed <= 0 {
		return 0
	}
	return time.Duration(math.Abs(w.End-w.Begin) / w.Speed * float64(time.Second))
}

// Validate checks the configuration before it is sent.
func (w WideScan) Validate() error {
	if err := faraday.OneOf("scan shape", w.Shape, Sawtooth, Triangle); err != nil {
		return err
	}
	if w.Speed <= 0 {
		return errors.Wrapf(faraday.ErrInvalidValue, "scan speed %g must be positive", w.Speed)
	}
	if w.Begin == w.End {
		return errors.Wrap(faraday.ErrInvalidValue, "scan begin equals scan end")
	}
	return nil
}

// Laser addresses one laser head, e.g. "laser1".
type Laser struct {
	c    *Client
	name string
}

// Laser returns a handle on the named laser head.
func (c *Client) Laser(name string) *Laser { return &Laser{c: c, name: name} }

func (l *Laser) param(p string) string { return l.name + ":" + p }

// ConfigureWideScan sends every field of w, stopping at the first failure.
func (l *Laser) ConfigureWideScan(w WideScan) error {
	if err := w.Validate(); err != nil {
		return err
	}
	steps := []struct {
		param string
		v     any
	}{
		{"wide-scan:output-channel", w.OutputChannel},
		{"scan:offset", w.Offset},
		{"wide-scan:shape", w.Shape},
		{"wide-scan:speed", w.Speed},
		{"wide-scan:duration", w.Duration().Seconds()},
		{"wide-scan:scan-begin", w.Begin},
		{"wide-scan:scan-end", w.End},
		{"wide-scan:trigger:input-enabled", w.TriggerInput},
		{"wide-scan:trigger:input-channel", w.TriggerChannel},
	}
	for _, s := range steps {
		if err := l.c.Set(l.param(s.param), s.v); err != nil {
			return errors.Wrap(err, "configuring wide scan")
		}
	}
	return nil
}

// StartWideScan arms the wide scan. With the trigger input enabled the sweep
// begins on the trigger edge.
func (l *Laser) StartWideScan() error { return l.c.Run(l.param("wide-scan:start")) }

// StopWideScan stops the wide scan.
func (l *Laser) StopWideScan() error { return l.c.Run(l.param("wide-scan:stop")) }

// WideScanState returns the wide scan state code.
func (l *Laser) WideScanState() (int, error) {
	v, err := l.c.GetFloat(l.param("wide-scan:state"))
	return int(v), err
}

// WideScanProgress returns the completed fraction of the scan in percent.
func (l *Laser) WideScanProgress() (float64, error) {
	return l.c.GetFloat(l.param("wide-scan:progress"))
}
