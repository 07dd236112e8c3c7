// Package rig opens the instruments named in a configuration and assembles
// them into a measurement run.
package rig

import (
	"context"
	"log"
	"path/filepath"
	"strings"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/cfg"
	"github.com/faradaylab/faraday/lib/bristol"
	"github.com/faradaylab/faraday/lib/cmdlog"
	"github.com/faradaylab/faraday/lib/daq"
	"github.com/faradaylab/faraday/lib/dlcpro"
	"github.com/faradaylab/faraday/lib/dsp7265"
	"github.com/faradaylab/faraday/lib/export"
	"github.com/faradaylab/faraday/lib/find"
	"github.com/faradaylab/faraday/lib/labjack"
	"github.com/faradaylab/faraday/lib/measure"
	"github.com/faradaylab/faraday/lib/plot"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Options select how instruments are opened.
type Options struct {
	// Echo logs every lock-in command and response.
	Echo bool
	// Dry records trigger line writes instead of driving the DAQ.
	Dry   bool
	Debug bool
}

// Bus is the GPIB controller side a rig needs.
type Bus interface {
	Device(pad int, sad ...int) (*faraday.Device, error)
}

type lockInBus interface {
	faraday.Instrument
	faraday.LineQuerier
}

// LockIns opens one lock-in per settings entry on the shared bus.
func LockIns(bus Bus, settings []dsp7265.Settings, o Options) ([]measure.LockIn, error) {
	var out []measure.LockIn
	for _, s := range settings {
		dev, err := bus.Device(s.Address)
		if err != nil {
			return nil, errors.Wrapf(err, "%s lock-in", s.Name)
		}
		var b lockInBus = dev
		if o.Echo {
			b = cmdlog.New(s.Name, dev)
		}
		out = append(out, dsp7265.NewLockIn(b, s))
	}
	return out, nil
}

// Lines opens the trigger lines.
func Lines(names []string, o Options) (daq.Lines, error) {
	if o.Dry {
		log.Printf("dry run: recording %d trigger lines", len(names))
		return daq.NewRecorder(len(names)), nil
	}
	return labjack.Open(names...)
}

// Laser connects to the DLC pro. A serial link without an address is
// located by the adapter's manufacturer.
func Laser(ctx context.Context, c cfg.Laser, o Options) (*dlcpro.Client, error) {
	if c.Serial {
		if c.Addr == "" {
			dev, err := find.Find(find.DLCPro)
			if err != nil {
				return nil, errors.Wrap(err, "locating DLC pro")
			}
			c.Addr = dev
		}
		return dlcpro.OpenSerial(c.Addr, o.Debug)
	}
	return dlcpro.Dial(ctx, c.Addr, o.Debug)
}

// Run opens everything a Faraday rotation run needs. With wide set the DLC
// pro scans the laser. The cleanup closes what was opened.
func Run(ctx context.Context, c *cfg.Config, bus Bus, wide bool, o Options) (*measure.Run, func() error, error) {
	var closers []func() error
	cleanup := func() error {
		var err error
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
		return err
	}
	fail := func(err error) (*measure.Run, func() error, error) {
		return nil, nil, multierr.Append(err, cleanup())
	}

	r := &measure.Run{
		BristolSettings: c.Bristol,
		Duration:        c.Measurement.Duration,
		High:            c.Measurement.High,
		Low:             c.Measurement.Low,
		Countdown:       c.Measurement.Countdown,
		Dir:             c.OutputDir,
	}
	var err error
	if r.LockIns, err = LockIns(bus, c.LockIns, o); err != nil {
		return fail(err)
	}

	var bopts []bristol.Option
	if o.Debug {
		bopts = append(bopts, bristol.WithDebug())
	}
	w, err := bristol.Dial(ctx, c.Bristol.Addr, bopts...)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, w.Close)
	r.Bristol = w

	if wide {
		dlc, err := Laser(ctx, c.Laser, o)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, dlc.Close)
		r.Laser = dlc.Laser(c.Laser.Head)
		r.Scan = c.Laser.Scan
	}

	lines, err := Lines(c.Measurement.Lines, o)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, lines.Close)
	r.Lines = lines
	return r, cleanup, nil
}

// Report sends d to InfluxDB when c enables it and, with png set, plots it
// next to the saved lock-in file.
func Report(ctx context.Context, c *cfg.Config, d *measure.Data, png bool) error {
	var errs error
	if c.Influx.Enabled {
		sink, err := export.Open(ctx, c.Influx)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrap(err, "influx"))
		} else {
			sink.Run(d)
			sink.Close()
			log.Printf("exported run to %s/%s", c.Influx.Org, c.Influx.Bucket)
		}
	}
	if png {
		p := PlotPath(d)
		if p == "" {
			return multierr.Append(errs, errors.New("run was not saved, nowhere to put the plot"))
		}
		if err := plot.Scan(p, d); err != nil {
			return multierr.Append(errs, err)
		}
		log.Printf("plot saved to %s", p)
	}
	return errs
}

// PlotPath is the saved data file of d with a .png extension.
func PlotPath(d *measure.Data) string {
	p := d.LockInPath
	if p == "" {
		p = d.BristolPath
	}
	if p == "" {
		return ""
	}
	return strings.TrimSuffix(p, filepath.Ext(p)) + ".png"
}
