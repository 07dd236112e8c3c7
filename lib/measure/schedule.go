// Package measure sequences instruments through a measurement run: it arms
// buffers, drives the trigger lines through a fixed schedule by spinning on
// the monotonic clock, halts the buffers and writes the results.
package measure

import (
	"context"
	"log"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/pkg/errors"
)

// Schedule is a train of Count trigger periods.
type Schedule struct {
	Period time.Duration
	High   time.Duration
	Count  int
}

// ExternalSchedule pulses high then low for as many whole periods as fit in d.
func ExternalSchedule(high, low, d time.Duration) Schedule {
	s := Schedule{Period: high + low, High: high}
	if s.Period > 0 {
		s.Count = int(d / s.Period)
	}
	return s
}

// InternalSchedule follows the wavelength meter's own frame rate for d.
func InternalSchedule(frameRate int, d time.Duration) Schedule {
	if frameRate <= 0 {
		return Schedule{}
	}
	p := time.Second / time.Duration(frameRate)
	return Schedule{Period: p, High: p / 2, Count: int(d / p)}
}

// PollSchedule is count periods, sampling at the start of each.
func PollSchedule(period time.Duration, count int) Schedule {
	return Schedule{Period: period, High: period / 2, Count: count}
}

// Onset is the offset of period i from the start.
func (s Schedule) Onset(i int) time.Duration { return time.Duration(i) * s.Period }

// Duration is the length of the whole train.
func (s Schedule) Duration() time.Duration { return s.Onset(s.Count) }

// Validate checks that the schedule can be run.
func (s Schedule) Validate() error {
	if s.Period <= 0 || s.Count < 1 {
		return errors.Wrapf(faraday.ErrInvalidValue, "schedule of %d periods of %v", s.Count, s.Period)
	}
	if s.High <= 0 || s.High >= s.Period {
		return errors.Wrapf(faraday.ErrInvalidValue, "high time %v in period %v", s.High, s.Period)
	}
	return nil
}

// Spin busy-waits until offset has passed since t0. It checks ctx every
// few thousand iterations.
func Spin(ctx context.Context, t0 time.Time, offset time.Duration) error {
	for i := 0; time.Since(t0) < offset; i++ {
		if i&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Countdown logs n, n-1 ... 1 a second apart.
func Countdown(ctx context.Context, what string, n int) error {
	for i := n; i > 0; i-- {
		log.Printf("%s starts in %d", what, i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// progressLogger logs the time remaining once per second of schedule.
func progressLogger(s Schedule) func(done int) {
	last := -1
	return func(done int) {
		left := int((s.Duration() - s.Onset(done)) / time.Second)
		if left != last {
			last = left
			log.Printf("time remaining: %4d s", left)
		}
	}
}
