// Package labjack drives trigger lines on a LabJack U6 over USB. It needs
// cgo and libusb; dry runs use daq.Recorder instead.
package labjack

import (
	"log"
	"strings"

	"github.com/eliquious/labjack/u6"
	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/daq"
	"github.com/google/gousb"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

var lineNames = map[string]u6.DigitalIOBit{}

func init() {
	for i, prefix := range []string{"FIO", "EIO", "CIO"} {
		n := 8
		if prefix == "CIO" {
			n = 4
		}
		for j := 0; j < n; j++ {
			lineNames[prefix+string(rune('0'+j))] = u6.DigitalIOBit(i*8 + j)
		}
	}
}

// ParseLine maps a U6 line name such as "FIO2" or "cio0" to its bit number.
func ParseLine(name string) (u6.DigitalIOBit, error) {
	b, ok := lineNames[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(faraday.ErrInvalidValue, "U6 digital line %q", name)
	}
	return b, nil
}

type feedbacker interface {
	Feedback(cmds ...u6.FeedbackCommand) error
	Close() error
}

// U6 drives digital lines of a LabJack U6 over USB. It is a daq.Lines.
type U6 struct {
	dev  feedbacker
	usb  *gousb.Context
	bits []u6.DigitalIOBit
}

// Open opens the first U6 on the bus and makes the named lines outputs,
// driven low.
func Open(names ...string) (*U6, error) {
	ctx := gousb.NewContext()
	dev, err := u6.OpenUSBConnection(ctx)
	if err != nil {
		ctx.Close()
		return nil, errors.Wrap(err, "opening LabJack U6")
	}
	log.Printf("labjack: %s", dev.DeviceDesc())
	l, err := newU6(dev, names...)
	if err != nil {
		return nil, multierr.Combine(err, dev.Close(), ctx.Close())
	}
	l.usb = ctx
	return l, nil
}

func newU6(dev feedbacker, names ...string) (*U6, error) {
	if len(names) == 0 {
		return nil, errors.New("no digital lines given")
	}
	l := &U6{dev: dev}
	cmds := make([]u6.FeedbackCommand, 0, len(names))
	for _, name := range names {
		b, err := ParseLine(name)
		if err != nil {
			return nil, err
		}
		l.bits = append(l.bits, b)
		cmds = append(cmds, &u6.FeedbackBitDirWrite{BitNumber: b, Direction: u6.BitDirectionWrite})
	}
	if err := dev.Feedback(cmds...); err != nil {
		return nil, errors.Wrap(err, "setting line directions")
	}
	if err := l.Write(make([]bool, len(names))...); err != nil {
		return nil, err
	}
	return l, nil
}

// Write sets all lines in one Feedback transaction.
func (l *U6) Write(states ...bool) error {
	if err := daq.CheckCount(len(states), len(l.bits)); err != nil {
		return err
	}
	cmds := make([]u6.FeedbackCommand, len(states))
	for i, s := range states {
		st := u6.BitStateDisabled
		if s {
			st = u6.BitStateEnabled
		}
		cmds[i] = &u6.FeedbackBitStateWrite{BitNumber: l.bits[i], State: st}
	}
	return errors.Wrapf(l.dev.Feedback(cmds...), "writing lines %s", daq.Pattern(states))
}

// Close releases the device and the USB context.
func (l *U6) Close() error {
	err := l.dev.Close()
	if l.usb != nil {
		err = multierr.Append(err, l.usb.Close())
	}
	return err
}
