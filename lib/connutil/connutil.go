// Package connutil wires command line flags to the serial port of a Prologix
// GPIB adapter and opens the controller.
package connutil

import (
	"flag"
	"log"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/find"
	"go.uber.org/multierr"
)

// Conn holds the flag values for a Prologix connection.
type Conn struct {
	SerialPort  string
	GpibPAD     int
	Delay       time.Duration
	ReadTimeout time.Duration
	Diag        bool
	Debug       bool

	guess   string
	finderr error
}

// AddFlags registers the connection flags on fs. It is to be called before
// fs.Parse.
func (c *Conn) AddFlags(fs *flag.FlagSet) {
	c.guess, c.finderr = find.Find(find.Prologix)
	if c.finderr != nil {
		c.guess = "/dev/ttyUSB0"
	}

	// Get Virtual COM Port (VCP) serial port for Prologix.
	fs.StringVar(
		&c.SerialPort,
		"port",
		c.guess,
		"Serial port for Prologix VCP GPIB controller",
	)
	if c.GpibPAD == 0 {
		c.GpibPAD = 7
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}

	fs.IntVar(&c.GpibPAD, "pad", c.GpibPAD, "GPIB primary address the controller starts on")
	fs.DurationVar(&c.Delay, "delay", c.Delay, "delay between writes")
	fs.DurationVar(&c.ReadTimeout, "timeout", c.ReadTimeout, "serial read timeout")
	fs.BoolVar(&c.Diag, "diag", c.Diag, "xdiag and exit")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log every GPIB transfer")
}

// Setup opens the serial port and the controller. It is to be called after
// both AddFlags and flag parsing. The returned cleanup returns the front
// panel to local control and closes the port.
func (c *Conn) Setup(opts ...faraday.ControllerOption) (gpib *faraday.Controller, cleanup func() error, err error) {
	nocleanup := func() error { return nil }

	if c.finderr != nil && c.SerialPort == c.guess {
		// only log this if the port isn't overridden via flag
		log.Printf("locating serial port failed, guessing %s: %s", c.SerialPort, c.finderr)
	}

	log.SetFlags(log.Lmicroseconds)
	log.Printf("Serial port = %s", c.SerialPort)

	port, err := OpenSerial(c.SerialPort, 115200, c.ReadTimeout)
	if err != nil {
		return nil, nocleanup, err
	}

	if c.Delay > 0 {
		opts = append(opts, faraday.WithWriteDelay(c.Delay))
	}
	if c.Debug {
		opts = append(opts, faraday.WithDebug())
	}

	gpib, err = faraday.NewController(port, c.GpibPAD, false, opts...)
	if err != nil {
		port.Close()
		return nil, nocleanup, err
	}

	cleanup = func() error {
		// Return local control to the front panel and discard any unread
		// data before closing.
		return multierr.Combine(
			gpib.FrontPanel(true),
			port.Flush(),
			port.Close(),
		)
	}
	if c.Diag {
		log.Printf("diag starting...")
		err = multierr.Combine(
			gpib.CommandController("xdiag 1 255"),
			sleep(time.Millisecond),
			gpib.CommandController("xdiag 0 255"),
			sleep(100*time.Millisecond),
			gpib.CommandController("xdiag 0 0"),
			gpib.CommandController("xdiag 1 0"),
		)
		return gpib, cleanup, err
	}

	return gpib, cleanup, nil
}

func sleep(d time.Duration) error {
	time.Sleep(d)
	return nil
}
