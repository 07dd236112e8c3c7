package measure

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/bristol"
	"github.com/faradaylab/faraday/lib/daq"
	"github.com/faradaylab/faraday/lib/dlcpro"
	"github.com/faradaylab/faraday/lib/dsp7265"
	"github.com/pkg/errors"
)

type events []string

func (e *events) add(s string) { *e = append(*e, s) }

type fakeMeter struct {
	ev     *events
	method string
	recs   []bristol.Record
}

func (f *fakeMeter) Configure(s bristol.Settings) error { f.ev.add("bristol configure"); return nil }
func (f *fakeMeter) TriggerMethod() (string, error)     { return f.method, nil }
func (f *fakeMeter) Buffer(cmd string) error            { f.ev.add("bristol " + cmd); return nil }
func (f *fakeMeter) ReadBuffer() ([]bristol.Record, error) {
	f.ev.add("bristol read")
	return f.recs, nil
}

type fakeLockIn struct {
	ev       *events
	s        dsp7265.Settings
	capErr   error
	confErr  error
	curves   dsp7265.Curves
	curveErr error
}

func (f *fakeLockIn) Config() dsp7265.Settings { return f.s }
func (f *fakeLockIn) Configure() error         { f.ev.add(f.s.Name + " configure"); return f.confErr }
func (f *fakeLockIn) InitCurveBuffer() error   { f.ev.add(f.s.Name + " init"); return nil }
func (f *fakeLockIn) TriggerBuffer() error     { f.ev.add(f.s.Name + " arm"); return nil }
func (f *fakeLockIn) HaltBuffer() error        { f.ev.add(f.s.Name + " halt"); return nil }
func (f *fakeLockIn) CheckCapacity(d time.Duration) error {
	return f.capErr
}
func (f *fakeLockIn) CurveBuffer(ctx context.Context) (dsp7265.Curves, error) {
	f.ev.add(f.s.Name + " dump")
	return f.curves, f.curveErr
}

type fakeLaser struct{ ev *events }

func (f *fakeLaser) ConfigureWideScan(w dlcpro.WideScan) error { f.ev.add("laser configure"); return nil }
func (f *fakeLaser) StartWideScan() error                      { f.ev.add("laser start"); return nil }
func (f *fakeLaser) StopWideScan() error                       { f.ev.add("laser stop"); return nil }

func TestSchedules(t *testing.T) {
	ext := ExternalSchedule(5*time.Millisecond, 5*time.Millisecond, 10*time.Second)
	if ext.Period != 10*time.Millisecond || ext.Count != 1000 || ext.High != 5*time.Millisecond {
		t.Errorf("external %+v", ext)
	}
	in := InternalSchedule(250, time.Second)
	if in.Period != 4*time.Millisecond || in.Count != 250 {
		t.Errorf("internal %+v", in)
	}
	if ext.Onset(3) != 30*time.Millisecond || ext.Duration() != 10*time.Second {
		t.Errorf("onset %v duration %v", ext.Onset(3), ext.Duration())
	}
	for _, s := range []Schedule{InternalSchedule(0, time.Second), {Period: time.Millisecond, High: time.Millisecond, Count: 1}, ExternalSchedule(time.Second, time.Second, time.Second)} {
		if err := s.Validate(); !errors.Is(err, faraday.ErrInvalidValue) {
			t.Errorf("%+v: got %v", s, err)
		}
	}
}

func TestSpinCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Spin(ctx, time.Now(), time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
	if err := Spin(context.Background(), time.Now(), 2*time.Millisecond); err != nil {
		t.Error(err)
	}
}

func TestExternal(t *testing.T) {
	lines := daq.NewRecorder(NumLines)
	var starts, halts int
	s := Schedule{Period: 2 * time.Millisecond, High: time.Millisecond, Count: 5}
	tm, err := External(context.Background(), lines, s, ExternalPatterns, Hooks{
		Start: func() error { starts++; return nil },
		Halt:  func() error { halts++; return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if starts != 1 || halts != 1 {
		t.Errorf("start %d halt %d", starts, halts)
	}
	w := lines.Writes()
	if len(w) != 2*s.Count+1 {
		t.Fatalf("%d writes", len(w))
	}
	var got []string
	for _, x := range w {
		got = append(got, daq.Pattern(x.States))
	}
	want := strings.Repeat("111 011 ", s.Count) + "000"
	if strings.Join(got, " ") != want {
		t.Errorf("patterns %v", got)
	}
	if len(tm.Timestamps) != s.Count || !tm.Start.Equal(tm.Timestamps[0]) {
		t.Errorf("timing %+v", tm)
	}
	for i := 1; i < len(tm.Timestamps); i++ {
		if d := tm.Timestamps[i].Sub(tm.Timestamps[i-1]); d < s.Period/2 {
			t.Errorf("period %d only %v", i, d)
		}
	}
	if tm.Elapsed < s.Duration() {
		t.Errorf("elapsed %v", tm.Elapsed)
	}
}

func TestExternalCancelled(t *testing.T) {
	lines := daq.NewRecorder(NumLines)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	halted := false
	s := Schedule{Period: time.Second, High: time.Millisecond * 500, Count: 10}
	_, err := External(ctx, lines, s, ExternalPatterns, Hooks{Halt: func() error { halted = true; return nil }})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v", err)
	}
	w := lines.Writes()
	if !halted || len(w) == 0 || daq.Pattern(w[len(w)-1].States) != "000" {
		t.Errorf("halted %v, writes %v", halted, w)
	}
}

func TestInternal(t *testing.T) {
	lines := daq.NewRecorder(NumLines)
	s := InternalSchedule(1000, 5*time.Millisecond)
	var done []int
	tm, err := Internal(context.Background(), lines, s, InternalPatterns, Hooks{
		Progress: func(n int) { done = append(done, n) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != s.Count || done[0] != 1 || done[len(done)-1] != s.Count {
		t.Errorf("progress %v", done)
	}
	w := lines.Writes()
	if len(w) != 2 || daq.Pattern(w[0].States) != "011" || daq.Pattern(w[1].States) != "000" {
		t.Errorf("writes %v", w)
	}
	if len(tm.Timestamps) != 5 {
		t.Fatalf("%d timestamps", len(tm.Timestamps))
	}
	for i, ts := range tm.Timestamps {
		if ts.Sub(tm.Start) != s.Onset(i) {
			t.Errorf("timestamp %d at %v", i, ts.Sub(tm.Start))
		}
	}
}

func newRun(t *testing.T, ev *events, method string) *Run {
	scan := dlcpro.DefaultWideScan()
	scan.Begin, scan.End, scan.Speed = 0, 0.02, 1
	bs := bristol.DefaultSettings()
	bs.FrameRate = 1000
	return &Run{
		Bristol: &fakeMeter{ev: ev, method: method, recs: []bristol.Record{
			{Wavelength: 766.7, Power: 1, Status: 0},
			{Wavelength: 766.8, Power: 1, Status: 0},
		}},
		BristolSettings: bs,
		LockIns: []LockIn{&fakeLockIn{
			ev:     ev,
			s:      dsp7265.Settings{Name: "1f", TimeConstant: 0.05, Sensitivity: 0.001, Interval: 10 * time.Millisecond},
			curves: dsp7265.Curves{X: []float64{1e-4, 2e-4}, Y: []float64{0, 0}},
		}},
		Laser: &fakeLaser{ev: ev},
		Scan:  scan,
		Lines: daq.NewRecorder(NumLines),
		High:  time.Millisecond,
		Low:   time.Millisecond,
		Dir:   t.TempDir(),
	}
}

func TestRunWideScan(t *testing.T) {
	var ev events
	r := newRun(t, &ev, "INT")
	data, err := r.Execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"laser configure", "bristol configure",
		"1f configure", "1f init", "1f arm",
		"bristol INIT", "laser start", "bristol OPEN",
		"1f halt", "bristol CLOS", "laser stop",
		"bristol read", "1f dump",
	}
	if strings.Join(ev, ",") != strings.Join(want, ",") {
		t.Errorf("sequence\n%v\nwant\n%v", ev, want)
	}
	if !data.Internal || len(data.Timestamps) != 20 {
		t.Errorf("internal %v, %d timestamps", data.Internal, len(data.Timestamps))
	}
	for _, p := range []string{data.BristolPath, data.LockInPath} {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if lines := strings.Count(string(b), "\n"); lines < 3 {
			t.Errorf("%s:\n%s", p, b)
		}
	}
}

func TestRunExternalOverload(t *testing.T) {
	var ev events
	r := newRun(t, &ev, "RISE")
	r.Laser = nil
	r.Duration = 10 * time.Millisecond
	r.LockIns[0].(*fakeLockIn).curveErr = errors.Wrap(dsp7265.ErrOverload, "1f lock-in X")
	data, err := r.Execute(context.Background())
	if !errors.Is(err, dsp7265.ErrOverload) {
		t.Fatalf("got %v", err)
	}
	if data.Internal || len(data.Timestamps) != 5 || data.LockInPath == "" {
		t.Errorf("data %+v", data)
	}
	for _, e := range ev {
		if strings.HasPrefix(e, "laser") {
			t.Errorf("locked laser run touched the laser: %s", e)
		}
	}
}

func TestRunBufferTooShort(t *testing.T) {
	var ev events
	r := newRun(t, &ev, "INT")
	r.LockIns[0].(*fakeLockIn).capErr = errors.Wrap(ErrBufferTooShort, "1f")
	if _, err := r.Execute(context.Background()); !errors.Is(err, ErrBufferTooShort) {
		t.Errorf("got %v", err)
	}
	if len(ev) != 0 {
		t.Errorf("instruments touched: %v", ev)
	}
}

func TestRunCountdownCancelled(t *testing.T) {
	var ev events
	r := newRun(t, &ev, "INT")
	r.Countdown = 3
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Execute(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	want := "laser configure,bristol configure,1f configure,1f init,1f arm,bristol INIT,laser start,1f halt,laser stop"
	if got := strings.Join(ev, ","); got != want {
		t.Errorf("sequence\n%s\nwant\n%s", got, want)
	}
	if w := r.Lines.(*daq.Recorder).Writes(); len(w) != 0 {
		t.Errorf("lines written: %v", w)
	}
}

func TestConfigureDisarmsOnFailure(t *testing.T) {
	var ev events
	r := newRun(t, &ev, "INT")
	bad := errors.New("2f not responding")
	r.LockIns = append(r.LockIns, &fakeLockIn{ev: &ev, s: dsp7265.Settings{Name: "2f"}, confErr: bad})
	if _, err := r.Execute(context.Background()); !errors.Is(err, bad) {
		t.Fatalf("got %v", err)
	}
	want := "laser configure,bristol configure,1f configure,1f init,1f arm,2f configure,1f halt"
	if got := strings.Join(ev, ","); got != want {
		t.Errorf("sequence\n%s\nwant\n%s", got, want)
	}
}

type fakeGauss struct{ n float64 }

func (f *fakeGauss) Field() (float64, error) {
	f.n++
	return 100 + f.n, nil
}
func (f *fakeGauss) Temperature() (float64, error) { return 24.5, nil }

func TestPollGaussmeter(t *testing.T) {
	s := PollSchedule(time.Millisecond, 4)
	d, err := PollGaussmeter(context.Background(), &fakeGauss{}, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Fields) != 4 || d.Fields[3] != 104 || d.Timestamps[2].Sub(d.Timestamps[0]) != 2*time.Millisecond {
		t.Errorf("data %+v", d)
	}
	p, err := d.Save(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	b, _ := os.ReadFile(p)
	if strings.Count(string(b), "\n") != 5 {
		t.Errorf("file:\n%s", b)
	}
}
