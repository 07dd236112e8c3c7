package dsp7265

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/pkg/errors"
)

type fakeBus struct {
	sent    []string
	replies map[string][]string // successive replies per query
	lines   map[string][]string
}

func newFakeBus() *fakeBus {
	return &fakeBus{replies: map[string][]string{}, lines: map[string][]string{}}
}

func (f *fakeBus) Command(format string, a ...any) error {
	f.sent = append(f.sent, fmt.Sprintf(format, a...))
	return nil
}

func (f *fakeBus) Query(cmd string) (string, error) {
	f.sent = append(f.sent, cmd)
	r := f.replies[cmd]
	if len(r) == 0 {
		return "", errors.Errorf("no reply scripted for %q", cmd)
	}
	if len(r) > 1 {
		f.replies[cmd] = r[1:]
	}
	return r[0], nil
}

func (f *fakeBus) QueryLines(cmd string, n int) ([]string, error) {
	f.sent = append(f.sent, cmd)
	l := f.lines[cmd]
	if len(l) < n {
		return nil, errors.Errorf("%q: %d lines scripted, %d wanted", cmd, len(l), n)
	}
	return l[:n], nil
}

func TestSetters(t *testing.T) {
	tests := []struct {
		name string
		set  func(a *Amplifier) error
		want string
	}{
		{"gain", func(a *Amplifier) error { return a.SetGain(30) }, "ACGAIN 3"},
		{"time constant", func(a *Amplifier) error { return a.SetTimeConstant(5e-3) }, "TC 7"},
		{"time constant 10s", func(a *Amplifier) error { return a.SetTimeConstant(10) }, "TC 17"},
		{"sensitivity", func(a *Amplifier) error { return a.SetSensitivity(1e-3) }, "SEN 18"},
		{"sensitivity 500mV", func(a *Amplifier) error { return a.SetSensitivity(500e-3) }, "SEN 26"},
		{"slope", func(a *Amplifier) error { return a.SetSlope(24) }, "SLOPE 3"},
		{"phase", func(a *Amplifier) error { return a.SetReferencePhase(-129.16) }, "REFP. -129.16"},
		{"harmonic", func(a *Amplifier) error { return a.SetHarmonic(2) }, "REFN 2"},
		{"reference", func(a *Amplifier) error { return a.SetReference(ExternalFrontRef) }, "IE 2"},
		{"imode", func(a *Amplifier) error { return a.SetInputMode(VoltageInput) }, "IMODE 0"},
		{"differential", func(a *Amplifier) error { return a.SetDifferentialMode() }, "VMODE 3"},
		{"interval", func(a *Amplifier) error { return a.SetBufferInterval(10 * time.Second) }, "STR 10000"},
		{"length", func(a *Amplifier) error { return a.SetBufferLength(16384) }, "LEN 16384"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newFakeBus()
			if err := tt.set(New(bus)); err != nil {
				t.Fatal(err)
			}
			if len(bus.sent) != 1 || bus.sent[0] != tt.want {
				t.Errorf("sent %q, want %q", bus.sent, tt.want)
			}
		})
	}
}

func TestSettersInvalid(t *testing.T) {
	tests := map[string]func(a *Amplifier) error{
		"gain step":     func(a *Amplifier) error { return a.SetGain(15) },
		"gain high":     func(a *Amplifier) error { return a.SetGain(100) },
		"time constant": func(a *Amplifier) error { return a.SetTimeConstant(3e-3) },
		"sensitivity":   func(a *Amplifier) error { return a.SetSensitivity(3e-3) },
		"zero sens":     func(a *Amplifier) error { return a.SetSensitivity(0) },
		"slope":         func(a *Amplifier) error { return a.SetSlope(30) },
		"length":        func(a *Amplifier) error { return a.SetBufferLength(MaxBufferLength + 1) },
		"interval":      func(a *Amplifier) error { return a.SetBufferInterval(time.Microsecond) },
		"reference":     func(a *Amplifier) error { return a.SetReference("external side") },
		"vmode":         func(a *Amplifier) error { return a.SetVoltageMode(VoltageMode(4)) },
	}
	for name, set := range tests {
		t.Run(name, func(t *testing.T) {
			bus := newFakeBus()
			if err := set(New(bus)); !errors.Is(err, faraday.ErrInvalidValue) {
				t.Errorf("got %v, want ErrInvalidValue", err)
			}
			if len(bus.sent) != 0 {
				t.Errorf("sent %q", bus.sent)
			}
		})
	}
}

func TestToVolts(t *testing.T) {
	v, err := ToVolts([]int{10000, -5000, 0}, 1e-3)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1e-3, -0.5e-3, 0}
	for i := range want {
		if v[i] != want[i] {
			t.Errorf("point %d: got %g want %g", i, v[i], want[i])
		}
	}
	v, err = ToVolts([]int{100, 30001, -40000}, 1)
	if !errors.Is(err, ErrOverload) {
		t.Errorf("got %v, want ErrOverload", err)
	}
	if len(v) != 3 || v[2] != -4 {
		t.Errorf("overloaded curve not converted: %v", v)
	}
}

func TestLockInConfigure(t *testing.T) {
	bus := newFakeBus()
	l := NewLockIn(bus, Settings{
		Name: "1f", Harmonic: 1, Phase: -129.16, Gain: 10, Sensitivity: 1e-3,
		TimeConstant: 5e-3, VoltageMode: AMinusB, InputMode: VoltageInput,
		FET: true, FloatShield: true, Reference: ExternalFrontRef, Slope: 24,
	})
	if err := l.Configure(); err != nil {
		t.Fatal(err)
	}
	want := "CP 0;IMODE 0;FET 1;FLOAT 1;VMODE 3;REFP. -129.16;REFN 1;IE 2;ACGAIN 1;TC 7;SLOPE 3;SEN 18"
	if got := strings.Join(bus.sent, ";"); got != want {
		t.Errorf("sent\n%s\nwant\n%s", got, want)
	}
}

func TestLockInConfigureStopsAtError(t *testing.T) {
	bus := newFakeBus()
	l := NewLockIn(bus, Settings{Name: "2f", InputMode: "bogus"})
	err := l.Configure()
	if !errors.Is(err, faraday.ErrInvalidValue) || !strings.Contains(err.Error(), "2f lock-in signal channel") {
		t.Errorf("got %v", err)
	}
	if got := strings.Join(bus.sent, ";"); got != "CP 0" {
		t.Errorf("sent %q", got)
	}
}

func TestInitCurveBuffer(t *testing.T) {
	bus := newFakeBus()
	l := NewLockIn(bus, Settings{Name: "DC", Length: 16384, Interval: 10 * time.Millisecond})
	if err := l.InitCurveBuffer(); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(bus.sent, ";"); got != "CBD 19;LEN 16384;STR 10;NC" {
		t.Errorf("sent %q", got)
	}
}

func TestCurveBuffer(t *testing.T) {
	bus := newFakeBus()
	bus.replies["M"] = []string{"1,0,0,2", "0,1,0,3"}
	bus.lines["DC 0"] = []string{"10000", "5000", "-10000"}
	bus.lines["DC 1"] = []string{"0", "2000", "1"}
	l := NewLockIn(bus, Settings{Name: "1f", Sensitivity: 10e-3})
	l.poll = time.Millisecond
	c, err := l.CurveBuffer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if c.Status.Points != 3 || c.Status.Running() {
		t.Errorf("status %v", c.Status)
	}
	if len(c.X) != 3 || c.X[0] != 10e-3 || c.X[2] != -10e-3 {
		t.Errorf("X = %v", c.X)
	}
	if len(c.Y) != 3 || c.Y[1] != 2e-3 {
		t.Errorf("Y = %v", c.Y)
	}
}

func TestCurveBufferCancelled(t *testing.T) {
	bus := newFakeBus()
	bus.replies["M"] = []string{"1,0,0,2"}
	l := NewLockIn(bus, Settings{Name: "1f"})
	l.poll = time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.CurveBuffer(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
}

func TestCheckCapacity(t *testing.T) {
	l := NewLockIn(newFakeBus(), Settings{Name: "1f", Length: 100, Interval: 10 * time.Millisecond})
	if err := l.CheckCapacity(time.Second); err != nil {
		t.Error(err)
	}
	if err := l.CheckCapacity(1100 * time.Millisecond); !errors.Is(err, ErrBufferTooShort) {
		t.Errorf("got %v", err)
	}
}
