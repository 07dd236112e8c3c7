// Package plot draws scan results versus wavelength.
package plot

import (
	"sort"
	"time"

	"github.com/faradaylab/faraday/lib/measure"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoData is returned when there is nothing to draw.
var ErrNoData = errors.New("no scan data to plot")

// nearest returns the index of the timestamp in ts closest to t. ts must be
// sorted and not empty.
func nearest(ts []time.Time, t time.Time) int {
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(t) })
	switch {
	case i == 0:
		return 0
	case i == len(ts):
		return len(ts) - 1
	case t.Sub(ts[i-1]) <= ts[i].Sub(t):
		return i - 1
	}
	return i
}

// LockInXY maps each lock-in point onto the wavelength measured closest to
// it in time. One series per lock-in, X signal in volts.
func LockInXY(d *measure.Data) (map[string]plotter.XYs, error) {
	n := min(len(d.Timestamps), len(d.Bristol))
	if n == 0 || len(d.LockIns) == 0 {
		return nil, ErrNoData
	}
	ts := d.Timestamps[:n]
	out := make(map[string]plotter.XYs, len(d.LockIns))
	for _, l := range d.LockIns {
		xys := make(plotter.XYs, len(l.Curves.X))
		for i, x := range l.Curves.X {
			t := d.Start.Add(time.Duration(i) * l.Settings.Interval)
			xys[i] = plotter.XY{X: d.Bristol[nearest(ts, t)].Wavelength, Y: x}
		}
		out[l.Settings.Name] = xys
	}
	return out, nil
}

// PowerXY is the wavelength meter power versus wavelength.
func PowerXY(d *measure.Data) (plotter.XYs, error) {
	if len(d.Bristol) == 0 {
		return nil, ErrNoData
	}
	xys := make(plotter.XYs, len(d.Bristol))
	for i, r := range d.Bristol {
		xys[i] = plotter.XY{X: r.Wavelength, Y: float64(r.Power)}
	}
	return xys, nil
}

// Scan saves a PNG (or any format vg knows by extension) of the lock-in X
// signals versus wavelength, or of the optical power when the run has no
// lock-in data.
func Scan(path string, d *measure.Data) error {
	p := plot.New()
	p.X.Label.Text = "Wavelength (nm)"
	series, err := LockInXY(d)
	if err == nil {
		p.Title.Text = "Faraday rotation scan"
		p.Y.Label.Text = "X (V)"
		names := make([]string, 0, len(series))
		for name := range series {
			names = append(names, name)
		}
		sort.Strings(names)
		var lines []interface{}
		for _, name := range names {
			lines = append(lines, name, series[name])
		}
		if err := plotutil.AddLines(p, lines...); err != nil {
			return errors.Wrap(err, "adding lock-in lines")
		}
	} else {
		power, err := PowerXY(d)
		if err != nil {
			return err
		}
		p.Title.Text = "Wavelength meter power"
		p.Y.Label.Text = "Power (mW)"
		l, err := plotter.NewLine(power)
		if err != nil {
			return errors.Wrap(err, "power line")
		}
		p.Add(l)
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 5*vg.Inch, path), "saving %s", path)
}
