package daq

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder(2)
	if err := r.Write(true, true); err != nil {
		t.Fatal(err)
	}
	if err := r.Write(false); !errors.Is(err, ErrLineCount) {
		t.Errorf("got %v", err)
	}
	r.Close()
	if err := r.Write(false, false); err == nil {
		t.Error("write after close succeeded")
	}
	w := r.Writes()
	if len(w) != 1 || Pattern(w[0].States) != "11" {
		t.Errorf("writes %v", w)
	}
}

// Runs and their tests import daq for Lines and Recorder; the package must
// build without cgo, so no USB driver may be linked here.
func TestNoHardwareImports(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatal(err)
		}
		for _, imp := range f.Imports {
			p, _ := strconv.Unquote(imp.Path.Value)
			if strings.Contains(p, "gousb") || strings.Contains(p, "labjack") {
				t.Errorf("%s imports %s", name, p)
			}
		}
	}
}

func TestCheckCount(t *testing.T) {
	if err := CheckCount(3, 3); err != nil {
		t.Error(err)
	}
	if err := CheckCount(2, 3); !errors.Is(err, ErrLineCount) {
		t.Errorf("got %v", err)
	}
}
