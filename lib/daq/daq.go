// Package daq drives the digital trigger lines that gate the wavelength meter,
// the lock-in buffers and the laser scan.
package daq

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/pkg/errors"
)

// Lines is a fixed, ordered set of digital outputs written together.
type Lines interface {
	// Write sets every line; len(states) must equal the number of lines.
	Write(states ...bool) error
	Close() error
}

// ErrLineCount is returned when a write does not cover every line.
var ErrLineCount = errors.New("wrong number of line states")

// CheckCount fails with ErrLineCount unless a write covers all want lines.
func CheckCount(have, want int) error {
	if have != want {
		return errors.Wrapf(ErrLineCount, "got %d states for %d lines", have, want)
	}
	return nil
}

// Pattern renders states as a string of 1s and 0s.
func Pattern(states []bool) string {
	var b strings.Builder
	for _, s := range states {
		b.WriteString(faraday.Bit(s))
	}
	return b.String()
}

// Write is one recorded write.
type Write struct {
	At     time.Time
	States []bool
}

func (w Write) String() string {
	return fmt.Sprintf("%s %s", faraday.Timestamp(w.At), Pattern(w.States))
}

// Recorder is a Lines that keeps every write in memory. It stands in for
// hardware during dry runs.
type Recorder struct {
	mu     sync.Mutex
	n      int
	writes []Write
	closed bool
}

// NewRecorder returns a Recorder with n lines.
func NewRecorder(n int) *Recorder { return &Recorder{n: n} }

func (r *Recorder) Write(states ...bool) error {
	if err := CheckCount(len(states), r.n); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("write to closed recorder")
	}
	r.writes = append(r.writes, Write{At: time.Now(), States: append([]bool(nil), states...)})
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Writes returns a copy of the recorded writes.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// Closed reports whether Close was called.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
