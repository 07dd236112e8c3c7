package measure

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/faradaylab/faraday/lib/bristol"
	"github.com/faradaylab/faraday/lib/daq"
	"github.com/faradaylab/faraday/lib/dlcpro"
	"github.com/faradaylab/faraday/lib/dsp7265"
	"github.com/faradaylab/faraday/lib/record"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ErrBufferTooShort is returned when a run would overflow a lock-in buffer.
var ErrBufferTooShort = dsp7265.ErrBufferTooShort

// Wavemeter is the part of the Bristol driver a run uses.
type Wavemeter interface {
	Configure(s bristol.Settings) error
	TriggerMethod() (string, error)
	Buffer(cmd string) error
	ReadBuffer() ([]bristol.Record, error)
}

// LockIn is the part of a lock-in channel a run uses.
type LockIn interface {
	Config() dsp7265.Settings
	Configure() error
	InitCurveBuffer() error
	TriggerBuffer() error
	HaltBuffer() error
	CheckCapacity(d time.Duration) error
	CurveBuffer(ctx context.Context) (dsp7265.Curves, error)
}

// Laser is the part of the DLC pro driver a wide scan uses.
type Laser interface {
	ConfigureWideScan(w dlcpro.WideScan) error
	StartWideScan() error
	StopWideScan() error
}

// Output folders under Run.Dir.
const (
	BristolDir = "Bristol data"
	LockInDir  = "Lockins data"
)

// Run is one Faraday rotation measurement. With a Laser it is a wide scan
// lasting Scan.Duration(); without one the laser is locked and the run
// lasts Duration.
type Run struct {
	Bristol         Wavemeter
	BristolSettings bristol.Settings
	LockIns         []LockIn
	Laser           Laser
	Scan            dlcpro.WideScan
	Lines           daq.Lines
	Duration        time.Duration
	// High and Low are the external trigger pulse times.
	High, Low time.Duration
	// Countdown is the number of seconds logged before the trigger train.
	Countdown int
	Dir       string
}

// LockInData is one lock-in's curves.
type LockInData struct {
	Settings dsp7265.Settings
	Curves   dsp7265.Curves
}

// Data is what a run collected.
type Data struct {
	Timing
	Internal    bool
	Bristol     []bristol.Record
	LockIns     []LockInData
	BristolPath string
	LockInPath  string
}

// Length is how long the trigger train runs.
func (r *Run) Length() time.Duration {
	if r.Laser != nil {
		return r.Scan.Duration()
	}
	return r.Duration
}

func (r *Run) what() string {
	if r.Laser != nil {
		return "wide scan"
	}
	return "measurement"
}

// Configure checks buffer capacity, configures every instrument and arms
// the buffers.
func (r *Run) Configure() error {
	d := r.Length()
	for _, l := range r.LockIns {
		if err := l.CheckCapacity(d); err != nil {
			return err
		}
	}
	if r.Laser != nil {
		if err := r.Laser.ConfigureWideScan(r.Scan); err != nil {
			return err
		}
	}
	if err := r.Bristol.Configure(r.BristolSettings); err != nil {
		return err
	}
	// lock-ins armed so far are halted again on failure
	var armed []LockIn
	disarm := func(err error) error {
		for _, l := range armed {
			err = multierr.Append(err, l.HaltBuffer())
		}
		return err
	}
	for _, l := range r.LockIns {
		if err := l.Configure(); err != nil {
			return disarm(err)
		}
		if err := l.InitCurveBuffer(); err != nil {
			return disarm(err)
		}
		if err := l.TriggerBuffer(); err != nil {
			return disarm(err)
		}
		armed = append(armed, l)
	}
	if err := r.Bristol.Buffer("INIT"); err != nil {
		return disarm(errors.Wrap(err, "initializing bristol buffer"))
	}
	log.Print("buffers initialized")
	return nil
}

func (r *Run) haltLockIns() error {
	var err error
	for _, l := range r.LockIns {
		err = multierr.Append(err, l.HaltBuffer())
	}
	return err
}

func (r *Run) halt() error {
	return multierr.Append(r.haltLockIns(), r.Bristol.Buffer("CLOS"))
}

// Execute configures the instruments, runs the trigger train, reads the
// buffers back and saves them. Data read before a failure is returned with
// the error.
func (r *Run) Execute(ctx context.Context) (*Data, error) {
	if err := r.Configure(); err != nil {
		return nil, err
	}
	// the lock-ins are armed from here on
	abort := func(err error) (*Data, error) {
		return nil, multierr.Append(err, r.haltLockIns())
	}
	method, err := r.Bristol.TriggerMethod()
	if err != nil {
		return abort(errors.Wrap(err, "reading bristol trigger method"))
	}
	data := &Data{Internal: bristol.IsInternal(method)}

	var sched Schedule
	pat := ExternalPatterns
	trigger := External
	if data.Internal {
		sched = InternalSchedule(r.BristolSettings.FrameRate, r.Length())
		pat = InternalPatterns
		trigger = Internal
		log.Print("bristol is internally triggered")
	} else {
		sched = ExternalSchedule(r.High, r.Low, r.Length())
		log.Printf("bristol is externally triggered at %.0f Hz", float64(time.Second)/float64(sched.Period))
	}
	if err := sched.Validate(); err != nil {
		return abort(err)
	}

	if r.Laser != nil {
		if err := r.Laser.StartWideScan(); err != nil {
			return abort(err)
		}
		log.Printf("wide scan armed, %v", r.Length())
	}
	err = Countdown(ctx, r.what(), r.Countdown)
	if err != nil {
		err = multierr.Append(err, r.haltLockIns())
	} else {
		log.Printf("%s started: %d periods of %v", r.what(), sched.Count, sched.Period)
		data.Timing, err = trigger(ctx, r.Lines, sched, pat, Hooks{
			Start:    func() error { return r.Bristol.Buffer("OPEN") },
			Halt:     r.halt,
			Progress: progressLogger(sched),
		})
		if err == nil {
			log.Printf("%s completed in %v", r.what(), data.Elapsed)
		}
	}
	if r.Laser != nil {
		err = multierr.Append(err, r.Laser.StopWideScan())
	}
	if err != nil {
		return data, err
	}
	return data, r.collect(ctx, data)
}

func (r *Run) collect(ctx context.Context, data *Data) error {
	var errs error
	recs, err := r.Bristol.ReadBuffer()
	if err != nil {
		errs = multierr.Append(errs, errors.Wrap(err, "reading bristol buffer"))
	} else {
		data.Bristol = recs
		if data.Elapsed > 0 {
			log.Printf("bristol: %d samples, %.1f Hz", len(recs), float64(len(recs))/data.Elapsed.Seconds())
		}
	}
	for _, l := range r.LockIns {
		c, err := l.CurveBuffer(ctx)
		// overloaded curves are still saved
		if err != nil && !errors.Is(err, dsp7265.ErrOverload) {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, err)
		data.LockIns = append(data.LockIns, LockInData{Settings: l.Config(), Curves: c})
	}
	if r.Dir == "" {
		return errs
	}
	if data.Bristol != nil {
		p, _, err := record.Save(filepath.Join(r.Dir, BristolDir), record.DatedName("Bristol", "csv", data.Start), data.Start,
			func(w io.Writer) (int, error) { return record.WriteBristol(w, data.Timestamps, data.Bristol) })
		data.BristolPath = p
		errs = multierr.Append(errs, err)
	}
	if len(data.LockIns) > 0 {
		p, _, err := record.Save(filepath.Join(r.Dir, LockInDir), record.DatedName("Faraday_lockins", "lvm", data.Start), data.Start,
			func(w io.Writer) (int, error) { return WriteLockIns(w, data) })
		data.LockInPath = p
		errs = multierr.Append(errs, err)
	}
	return errs
}

// WriteLockIns writes the lock-in curves of data as an LVM file. Point
// timestamps step by the first lock-in's storage interval from data.Start.
func WriteLockIns(w io.Writer, data *Data) (int, error) {
	if len(data.LockIns) == 0 {
		return 0, errors.New("no lock-in data")
	}
	var attrs []record.Attr
	var cols []record.Column
	for _, l := range data.LockIns {
		s := l.Settings
		attrs = append(attrs,
			record.Attr{Name: fmt.Sprintf("TC_%s[s]", s.Name), Value: record.Float(s.TimeConstant)},
			record.Attr{Name: fmt.Sprintf("SENS_%s[V]", s.Name), Value: record.Float(s.Sensitivity)},
		)
		cols = append(cols,
			record.Column{Name: "X_" + s.Name, Data: l.Curves.X},
			record.Column{Name: "Y_" + s.Name, Data: l.Curves.Y},
		)
	}
	return record.WriteLVM(w, attrs, data.Start, data.LockIns[0].Settings.Interval, cols)
}
