// Package record writes measurement results as CSV and LabVIEW measurement
// (LVM) text files in dated folders.
package record

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/bristol"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// FolderLayout names the per-day folder.
const FolderLayout = "01-02-2006"

// UniquePath returns dir/MM-DD-YYYY/name for the day of t, creating the
// folder. When the file exists, _1, _2... is added before the extension.
func UniquePath(dir, name string, t time.Time) (string, error) {
	folder := filepath.Join(dir, t.Format(FolderLayout))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", errors.Wrap(err, "creating output folder")
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	p := filepath.Join(folder, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p, nil
		} else if err != nil {
			return "", err
		}
		p = filepath.Join(folder, fmt.Sprintf("%s_%d%s", base, i, ext))
	}
}

// DatedName returns prefix_YYYY-MM-DD.ext.
func DatedName(prefix, ext string, t time.Time) string {
	return fmt.Sprintf("%s_%s.%s", prefix, t.Format("2006-01-02"), ext)
}

// Save writes a new file under dir with write and returns its path and the
// number of data rows written.
func Save(dir, name string, t time.Time, write func(io.Writer) (int, error)) (path string, rows int, err error) {
	path, err = UniquePath(dir, name, t)
	if err != nil {
		return "", 0, err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", 0, errors.Wrap(err, "creating output file")
	}
	rows, err = write(f)
	err = multierr.Append(err, f.Close())
	if err != nil {
		return path, rows, errors.Wrapf(err, "writing %s", path)
	}
	log.Printf("saved %d rows to %s", rows, path)
	return path, rows, nil
}

// Float formats v with the fewest digits that read back exactly.
func Float(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// BristolHeader is the header of wavelength meter files.
var BristolHeader = []string{"Timestamp", "Status", "Wavelength", "Intensity"}

// WriteBristol writes one row per timestamp, pairing timestamps with buffer
// records in order. Extra timestamps or records are dropped.
func WriteBristol(w io.Writer, ts []time.Time, recs []bristol.Record) (int, error) {
	n := min(len(ts), len(recs))
	if len(ts) != len(recs) {
		log.Printf("bristol: %d timestamps for %d records, writing %d rows", len(ts), len(recs), n)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(BristolHeader); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		r := recs[i]
		cw.Write([]string{
			faraday.Timestamp(ts[i]),
			fmt.Sprintf("%05d", r.Status),
			strconv.FormatFloat(r.Wavelength, 'f', 7, 64),
			strconv.FormatFloat(float64(r.Power), 'f', 3, 64),
		})
	}
	cw.Flush()
	return n, cw.Error()
}

// Attr is a "#name value" header line of an LVM file.
type Attr struct {
	Name  string
	Value string
}

// Column is a named data column.
type Column struct {
	Name string
	Data []float64
}

// WriteLVM writes a lock-in file: attribute lines, the field and preamp
// placeholders, a header and one row per point, timestamped
// t0 + n*interval. Rows stop at the shortest column.
func WriteLVM(w io.Writer, attrs []Attr, t0 time.Time, interval time.Duration, cols []Column) (int, error) {
	for _, a := range attrs {
		if _, err := fmt.Fprintf(w, "#%s %s\n", a.Name, a.Value); err != nil {
			return 0, err
		}
	}
	if _, err := io.WriteString(w, "#Field Input Voltage\n#Preamp gain\n"); err != nil {
		return 0, err
	}
	header := []string{"Timestamp"}
	n := -1
	for _, c := range cols {
		header = append(header, c.Name)
		if n < 0 || len(c.Data) < n {
			n = len(c.Data)
		}
	}
	n = max(n, 0)
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, err
	}
	row := make([]string, len(header))
	for i := 0; i < n; i++ {
		row[0] = faraday.Timestamp(t0.Add(time.Duration(i) * interval))
		for j, c := range cols {
			row[j+1] = Float(c.Data[i])
		}
		cw.Write(row)
	}
	cw.Flush()
	return n, cw.Error()
}

// GaussHeader is the header of gaussmeter files with the field in unit,
// e.g. "G" or "T". An empty unit means gauss.
func GaussHeader(unit string) []string {
	if unit == "" {
		unit = "G"
	}
	return []string{"Timestamp", "Magnetic flux density (" + unit + ")", "Temperature (°C)"}
}

// WriteGauss writes field and probe temperature readings.
func WriteGauss(w io.Writer, unit string, ts []time.Time, fields, temps []float64) (int, error) {
	n := min(len(ts), len(fields), len(temps))
	cw := csv.NewWriter(w)
	if err := cw.Write(GaussHeader(unit)); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		cw.Write([]string{faraday.Timestamp(ts[i]), Float(fields[i]), Float(temps[i])})
	}
	cw.Flush()
	return n, cw.Error()
}
