package measure

import (
	"context"
	"time"

	"github.com/faradaylab/faraday/lib/daq"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Trigger line order.
const (
	LineBristol = iota
	LineLockIns
	LineLaser
	NumLines
)

// LineNames are the default LabJack lines, in trigger line order.
var LineNames = []string{"FIO0", "FIO1", "FIO2"}

// Patterns are the line states written during a run.
type Patterns struct {
	Rise []bool
	Fall []bool
	Idle []bool
}

var (
	// ExternalPatterns pulse the wavelength meter and hold the lock-in and
	// laser lines high.
	ExternalPatterns = Patterns{
		Rise: []bool{true, true, true},
		Fall: []bool{false, true, true},
		Idle: []bool{false, false, false},
	}
	// InternalPatterns hold the lock-in and laser lines high while the
	// wavelength meter runs on its own clock.
	InternalPatterns = Patterns{
		Rise: []bool{false, true, true},
		Fall: []bool{false, false, false},
		Idle: []bool{false, false, false},
	}
)

// Hooks are called around the trigger train. Any may be nil.
type Hooks struct {
	// Start runs just before the first rise.
	Start func() error
	// Halt runs after the last period, before the lines drop to idle.
	Halt func() error
	// Progress is told how many periods are done.
	Progress func(done int)
}

func (h Hooks) start() error {
	if h.Start == nil {
		return nil
	}
	return errors.Wrap(h.Start(), "starting run")
}

func (h Hooks) halt() error {
	if h.Halt == nil {
		return nil
	}
	return errors.Wrap(h.Halt(), "halting run")
}

func (h Hooks) progress(done int) {
	if h.Progress != nil {
		h.Progress(done)
	}
}

// Timing is when a trigger train ran.
type Timing struct {
	Start      time.Time
	Elapsed    time.Duration
	Timestamps []time.Time
}

// External raises the lines at each onset of s, holds them for s.High and
// drops them to the fall pattern. Each timestamp is the midpoint of the
// wall clock readings before and after the rising write. After the last
// low time Halt is called and the lines go idle, also on failure.
func External(ctx context.Context, lines daq.Lines, s Schedule, p Patterns, h Hooks) (Timing, error) {
	var tm Timing
	if err := s.Validate(); err != nil {
		return tm, err
	}
	if err := h.start(); err != nil {
		return tm, multierr.Append(err, lines.Write(p.Idle...))
	}
	t0 := time.Now()
	err := func() error {
		for i := 0; i < s.Count; i++ {
			if err := Spin(ctx, t0, s.Onset(i)); err != nil {
				return err
			}
			before := time.Now()
			if err := lines.Write(p.Rise...); err != nil {
				return err
			}
			after := time.Now()
			tm.Timestamps = append(tm.Timestamps, before.Add(after.Sub(before)/2))
			if err := Spin(ctx, after, s.High); err != nil {
				return err
			}
			if err := lines.Write(p.Fall...); err != nil {
				return err
			}
			h.progress(i + 1)
		}
		return Spin(ctx, time.Now(), s.Period-s.High)
	}()
	err = multierr.Append(err, h.halt())
	tm.Elapsed = time.Since(t0)
	err = multierr.Append(err, lines.Write(p.Idle...))
	tm.Start = t0
	if len(tm.Timestamps) > 0 {
		tm.Start = tm.Timestamps[0]
	}
	return tm, err
}

// Internal raises the lines once, spins through s and drops them after
// Halt. Timestamps are the start time plus each onset.
func Internal(ctx context.Context, lines daq.Lines, s Schedule, p Patterns, h Hooks) (Timing, error) {
	var tm Timing
	if err := s.Validate(); err != nil {
		return tm, err
	}
	if err := h.start(); err != nil {
		return tm, multierr.Append(err, lines.Write(p.Idle...))
	}
	tm.Start = time.Now()
	err := lines.Write(p.Rise...)
	t0 := time.Now()
	if err == nil {
		err = func() error {
			for i := 0; i < s.Count; i++ {
				if err := Spin(ctx, t0, s.Onset(i)); err != nil {
					return err
				}
				h.progress(i + 1)
			}
			return Spin(ctx, t0, s.Duration())
		}()
	}
	err = multierr.Append(err, h.halt())
	tm.Elapsed = time.Since(t0)
	err = multierr.Append(err, lines.Write(p.Fall...))
	for i := 0; i < s.Count; i++ {
		tm.Timestamps = append(tm.Timestamps, tm.Start.Add(s.Onset(i)))
	}
	return tm, err
}
