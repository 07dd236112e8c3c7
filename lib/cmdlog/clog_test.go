package cmdlog

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"testing"
)

type fakeInst struct{ sent []string }

func (f *fakeInst) Command(format string, a ...any) error {
	f.sent = append(f.sent, fmt.Sprintf(format, a...))
	return nil
}

func (f *fakeInst) Query(cmd string) (string, error) {
	f.sent = append(f.sent, cmd)
	return "DSP 7265", nil
}

func TestEcho(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	inst := &fakeInst{}
	e := New("1f", inst)
	if err := e.Command("REFP. %g", -12.5); err != nil {
		t.Fatal(err)
	}
	// a percent sign passed as an argument reaches the instrument verbatim
	if err := e.Command("%s", "SET 5%"); err != nil {
		t.Fatal(err)
	}
	s, err := e.Query("ID")
	if err != nil || s != "DSP 7265" {
		t.Fatalf("Query = %q, %v", s, err)
	}
	if got := strings.Join(inst.sent, ";"); got != "REFP. -12.5;SET 5%;ID" {
		t.Errorf("forwarded %q", got)
	}
	if !strings.Contains(buf.String(), "DSP 7265") {
		t.Errorf("response not logged: %q", buf.String())
	}
	if _, err := e.QueryLines("DC 0", 2); err == nil {
		t.Error("QueryLines on a plain instrument should fail")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "<no response>"},
		{"1.5E-3\r\n", `"1.5E-3\r\n"`},
		{"\x01\x02", "01 02"},
	}
	for _, tt := range tests {
		if got := Describe(tt.in); !strings.Contains(got, tt.want) {
			t.Errorf("Describe(%q) = %q, want it to contain %q", tt.in, got, tt.want)
		}
	}
}
