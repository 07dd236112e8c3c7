package measure

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/faradaylab/faraday/lib/record"
	"github.com/pkg/errors"
)

// FieldMeter reads the magnetic field and probe temperature.
type FieldMeter interface {
	Field() (float64, error)
	Temperature() (float64, error)
}

// GaussData is a series of field readings.
type GaussData struct {
	// Unit is the field unit symbol for the file header; empty means gauss.
	Unit       string
	Timestamps []time.Time
	Fields     []float64
	Temps      []float64
}

// PollGaussmeter reads field and temperature at each onset of s. Readings
// are timestamped start + onset.
func PollGaussmeter(ctx context.Context, g FieldMeter, s Schedule) (GaussData, error) {
	var d GaussData
	if err := s.Validate(); err != nil {
		return d, err
	}
	progress := progressLogger(s)
	start := time.Now()
	for i := 0; i < s.Count; i++ {
		if err := Spin(ctx, start, s.Onset(i)); err != nil {
			return d, err
		}
		f, err := g.Field()
		if err != nil {
			return d, errors.Wrap(err, "reading field")
		}
		t, err := g.Temperature()
		if err != nil {
			return d, errors.Wrap(err, "reading probe temperature")
		}
		d.Timestamps = append(d.Timestamps, start.Add(s.Onset(i)))
		d.Fields = append(d.Fields, f)
		d.Temps = append(d.Temps, t)
		progress(i + 1)
	}
	log.Printf("gaussmeter: %d readings in %v", s.Count, time.Since(start))
	return d, nil
}

// Save writes d as a dated CSV file under dir.
func (d GaussData) Save(dir string) (string, error) {
	if len(d.Timestamps) == 0 {
		return "", errors.New("no gaussmeter readings")
	}
	t0 := d.Timestamps[0]
	p, _, err := record.Save(dir, record.DatedName("Gaussmeter", "csv", t0), t0, func(w io.Writer) (int, error) {
		return record.WriteGauss(w, d.Unit, d.Timestamps, d.Fields, d.Temps)
	})
	return p, err
}
