// Copyright (c) 2020–2025 The faraday developers. All rights reserved.
// Project site: https://github.com/faradaylab/faraday
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package faraday holds the plumbing shared by the instrument drivers of the
// Faraday-rotation setup: the GPIB bus controller, addressed devices, input
// validation and timestamp formatting. The drivers themselves live under lib/.
package faraday

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidValue is the root of every validation error returned by the
// drivers.
var ErrInvalidValue = errors.New("invalid value")

// Commander sends commands to an instrument.
type Commander interface {
	Command(format string, a ...any) error
}

// Querier sends a query to an instrument and returns its response.
type Querier interface {
	Query(cmd string) (string, error)
}

// Instrument is the transport every text-protocol driver is built on.
type Instrument interface {
	Commander
	Querier
}

// LineQuerier reads multi-value responses, e.g. curve dumps.
type LineQuerier interface {
	QueryLines(cmd string, n int) ([]string, error)
}

// BinaryQuerier reads fixed-size binary responses.
type BinaryQuerier interface {
	QueryBinary(cmd string, n int) ([]byte, error)
}

// OneOf returns an error wrapping ErrInvalidValue unless v is one of valid.
func OneOf[T comparable](name string, v T, valid ...T) error {
	if slices.Contains(valid, v) {
		return nil
	}
	return errors.Wrapf(ErrInvalidValue, "%s %v (must be one of %v)", name, v, valid)
}

// InRange returns an error wrapping ErrInvalidValue unless lo <= v <= hi.
func InRange[T cmp.Ordered](name string, v, lo, hi T) error {
	if v >= lo && v <= hi {
		return nil
	}
	return errors.Wrapf(ErrInvalidValue, "%s %v (must be in [%v, %v])", name, v, lo, hi)
}

// InSteps checks that v lies on the grid lo, lo+step, ... hi, allowing for
// floating point error in v.
func InSteps(name string, v, lo, hi, step float64) error {
	const eps = 1e-9
	if v < lo-eps || v > hi+eps {
		return errors.Wrapf(ErrInvalidValue, "%s %g (must be in [%g, %g])", name, v, lo, hi)
	}
	n := (v - lo) / step
	if math.Abs(n-math.Round(n)) > 1e-6 {
		return errors.Wrapf(ErrInvalidValue, "%s %g (must be a multiple of %g from %g)", name, v, step, lo)
	}
	return nil
}

// TimestampLayout is the layout of every timestamp written to data files.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Timestamp formats t in local time with millisecond precision.
func Timestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// OnOff renders a bool the way SCPI instruments spell it.
func OnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// Bit renders a bool as 1 or 0.
func Bit(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
