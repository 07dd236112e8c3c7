// Copyright (c) 2020–2025 The faraday developers. All rights reserved.
// Project site: https://github.com/faradaylab/faraday
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package faraday

import (
	"github.com/pkg/errors"
)

// Device is one instrument on a shared GPIB bus. Each call readdresses the
// controller if another Device used it last, so lock-ins at 7, 8 and 9 can be
// driven through a single adapter.
type Device struct {
	c      *Controller
	pad    int
	hasSad bool
	sad    int
}

// Device returns an addressed handle for the instrument at the given primary
// address and, optionally, one secondary address.
func (c *Controller) Device(pad int, sad ...int) (*Device, error) {
	if !isPrimaryAddressValid(pad) {
		return nil, errors.Wrapf(ErrInvalidValue, "primary address %d (must be 0-30)", pad)
	}
	d := &Device{c: c, pad: pad}
	switch len(sad) {
	case 0:
	case 1:
		if !isSecondaryAddressValid(sad[0]) {
			return nil, errors.Wrapf(ErrInvalidValue, "secondary address %d (must be 96-126)", sad[0])
		}
		d.hasSad, d.sad = true, sad[0]
	default:
		return nil, errors.Wrap(ErrInvalidValue, "at most one secondary address")
	}
	return d, nil
}

// Address returns the device's primary address.
func (d *Device) Address() int { return d.pad }

// with runs fn holding the bus lock after addressing the device.
func (d *Device) with(fn func(c *Controller) error) error {
	d.c.mu.Lock()
	defer d.c.mu.Unlock()
	if err := d.c.readdress(d.pad, d.hasSad, d.sad); err != nil {
		return errors.Wrapf(err, "addressing gpib %d", d.pad)
	}
	return fn(d.c)
}

// Command sends a formatted command to the device.
func (d *Device) Command(format string, a ...any) error {
	err := d.with(func(c *Controller) error { return c.command(format, a...) })
	return errors.Wrapf(err, "gpib %d", d.pad)
}

// Query sends cmd to the device and returns its trimmed response.
func (d *Device) Query(cmd string) (string, error) {
	var s string
	err := d.with(func(c *Controller) (err error) {
		s, err = c.query(cmd)
		return err
	})
	return s, errors.Wrapf(err, "gpib %d: %s", d.pad, cmd)
}

// QueryLines sends cmd and collects n delimited values from the response.
func (d *Device) QueryLines(cmd string, n int) ([]string, error) {
	var lines []string
	err := d.with(func(c *Controller) (err error) {
		lines, err = c.queryLines(cmd, n)
		return err
	})
	return lines, errors.Wrapf(err, "gpib %d: %s", d.pad, cmd)
}

// QueryBinary sends cmd and reads exactly n bytes of binary response.
func (d *Device) QueryBinary(cmd string, n int) ([]byte, error) {
	var b []byte
	err := d.with(func(c *Controller) (err error) {
		b, err = c.queryBinary(cmd, n)
		return err
	})
	return b, errors.Wrapf(err, "gpib %d: %s", d.pad, cmd)
}

// Clear sends the Selected Device Clear message to the device.
func (d *Device) Clear() error {
	return d.with(func(c *Controller) error { return c.commandController("clr") })
}

// Trigger sends the Group Execute Trigger message to the device.
func (d *Device) Trigger() error {
	return d.with(func(c *Controller) error { return c.commandController("trg") })
}

// Local returns the device to front panel control.
func (d *Device) Local() error {
	return d.with(func(c *Controller) error { return c.commandController("loc") })
}
