// Package cfg loads the run configuration from a YAML file in the
// application data directory.
package cfg

import (
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/bristol"
	"github.com/faradaylab/faraday/lib/dlcpro"
	"github.com/faradaylab/faraday/lib/dsp7265"
	"github.com/faradaylab/faraday/lib/export"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// FileName is the configuration file name.
const FileName = "faraday.yaml"

// Laser is the DLC pro connection and wide scan.
type Laser struct {
	// Addr is host[:port] for TCP, or a serial device when Serial is set;
	// an empty serial address is searched for.
	Addr   string          `yaml:"addr"`
	Serial bool            `yaml:"serial"`
	Head   string          `yaml:"head"`
	Scan   dlcpro.WideScan `yaml:"scan"`
}

// Measurement is the trigger schedule of a run.
type Measurement struct {
	// Duration of a locked laser run; wide scans last the scan duration.
	Duration  time.Duration `yaml:"duration"`
	High      time.Duration `yaml:"high"`
	Low       time.Duration `yaml:"low"`
	Countdown int           `yaml:"countdown"`
	Lines     []string      `yaml:"lines"`
}

// Gaussmeter is the field poll.
type Gaussmeter struct {
	Address int           `yaml:"gpib"`
	Period  time.Duration `yaml:"period"`
	Count   int           `yaml:"count"`
}

// TC300 is the temperature controller setpoint.
type TC300 struct {
	Port    string  `yaml:"port"`
	Channel int     `yaml:"channel"`
	Target  float64 `yaml:"target"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// Config is everything a program needs besides transport flags.
type Config struct {
	OutputDir   string             `yaml:"output_dir"`
	Bristol     bristol.Settings   `yaml:"bristol"`
	LockIns     []dsp7265.Settings `yaml:"lockins"`
	Laser       Laser              `yaml:"laser"`
	Measurement Measurement        `yaml:"measurement"`
	Gaussmeter  Gaussmeter         `yaml:"gaussmeter"`
	TC300       TC300              `yaml:"tc300"`
	Influx      export.Config      `yaml:"influx"`
}

func lockIn(name string, addr, harmonic int, phase, sens float64) dsp7265.Settings {
	return dsp7265.Settings{
		Name:         name,
		Address:      addr,
		Harmonic:     harmonic,
		Phase:        phase,
		Gain:         10,
		Sensitivity:  sens,
		TimeConstant: 50e-3,
		VoltageMode:  dsp7265.AMinusB,
		InputMode:    dsp7265.VoltageInput,
		FET:          true,
		FloatShield:  true,
		Reference:    dsp7265.ExternalFrontRef,
		Slope:        24,
		Length:       16384,
		Interval:     100 * time.Millisecond,
	}
}

// Default is the K vapor cell setup: three lock-ins at GPIB 7, 8 and 9, the
// wavelength meter on its USB network link, 5 ms external trigger pulses.
func Default() *Config {
	return &Config{
		OutputDir: filepath.Join("Faraday rotation measurements", "K vapor cell"),
		Bristol:   bristol.DefaultSettings(),
		LockIns: []dsp7265.Settings{
			lockIn("1f", 7, 1, 75.94, 1e-3),
			lockIn("2f", 8, 2, 131.58, 200e-3),
			lockIn("dc", 9, 1, 65.37, 200e-3),
		},
		Laser: Laser{
			Addr:   "/dev/ttyACM0",
			Serial: true,
			Head:   "laser1",
			Scan:   dlcpro.DefaultWideScan(),
		},
		Measurement: Measurement{
			Duration:  10 * time.Second,
			High:      5 * time.Millisecond,
			Low:       5 * time.Millisecond,
			Countdown: 5,
			Lines:     []string{"FIO0", "FIO1", "FIO2"},
		},
		Gaussmeter: Gaussmeter{Address: 11, Period: 100 * time.Millisecond, Count: 10},
		TC300:      TC300{Channel: 1, Target: 25, Min: 0, Max: 100},
	}
}

// DefaultPath is faraday.yaml in the application data directory.
func DefaultPath() string {
	return filepath.Join(btcutil.AppDataDir("faraday", false), FileName)
}

// Load reads path over the defaults. A missing file at the default path
// yields the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		return c, c.Validate()
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}
	if err := yaml.UnmarshalStrict(b, c); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return c, c.Validate()
}

// Save writes c to path as YAML.
func (c *Config) Save(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate checks values the instruments cannot check for themselves.
func (c *Config) Validate() error {
	seen := map[int]string{}
	for _, l := range c.LockIns {
		if l.Name == "" {
			return errors.Wrap(faraday.ErrInvalidValue, "lock-in without a name")
		}
		if other, ok := seen[l.Address]; ok {
			return errors.Wrapf(faraday.ErrInvalidValue, "lock-ins %s and %s share GPIB address %d", other, l.Name, l.Address)
		}
		seen[l.Address] = l.Name
		if err := faraday.InRange("lock-in buffer length", l.Length, 1, dsp7265.MaxBufferLength); err != nil {
			return errors.Wrap(err, l.Name)
		}
		if l.Interval < time.Millisecond {
			return errors.Wrapf(faraday.ErrInvalidValue, "%s storage interval %v", l.Name, l.Interval)
		}
	}
	m := c.Measurement
	if m.High <= 0 || m.Low <= 0 {
		return errors.Wrap(faraday.ErrInvalidValue, "trigger high and low times must be positive")
	}
	if len(m.Lines) != 3 {
		return errors.Wrapf(faraday.ErrInvalidValue, "need 3 trigger lines, have %d", len(m.Lines))
	}
	if err := c.Laser.Scan.Validate(); err != nil {
		return err
	}
	if err := faraday.OneOf("tc300 channel", c.TC300.Channel, 1, 2); err != nil {
		return err
	}
	return c.Influx.Validate()
}
