package faraday

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// fakeBus records everything written and replays canned replies.
type fakeBus struct {
	out bytes.Buffer
	in  *strings.Reader
}

func newFakeBus(replies string) *fakeBus {
	return &fakeBus{in: strings.NewReader(replies)}
}

func (f *fakeBus) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakeBus) Read(p []byte) (int, error)  { return f.in.Read(p) }

func TestNewControllerInit(t *testing.T) {
	bus := newFakeBus("")
	if _, err := NewController(bus, 7, true); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"++verbose 0",
		"++savecfg 0",
		"++addr 7",
		"++mode 1",
		"++auto 0",
		"++eoi 1",
		"++eos 0",
		"++read_tmo_ms 500",
		"++eot_char 10",
		"++eot_enable 1",
		"++savecfg 1",
		"++clr",
	}, "\n") + "\n"
	if got := bus.out.String(); got != want {
		t.Errorf("init sequence\ngot  %q\nwant %q", got, want)
	}
}

func TestNewControllerAR488(t *testing.T) {
	bus := newFakeBus("")
	if _, err := NewController(bus, 4, false, WithAR488(), WithSecondaryAddress(101)); err != nil {
		t.Fatal(err)
	}
	got := bus.out.String()
	if strings.Contains(got, "verbose") || strings.Contains(got, "savecfg") {
		t.Errorf("AR488 init must not touch verbose/savecfg: %q", got)
	}
	if !strings.Contains(got, "++addr 4 101\n") {
		t.Errorf("missing secondary address: %q", got)
	}
}

func TestNewControllerInvalid(t *testing.T) {
	tests := []struct {
		name string
		addr int
		opts []ControllerOption
	}{
		{"primary too high", 31, nil},
		{"primary negative", -1, nil},
		{"secondary too low", 5, []ControllerOption{WithSecondaryAddress(95)}},
		{"secondary too high", 5, []ControllerOption{WithSecondaryAddress(127)}},
		{"read timeout", 5, []ControllerOption{WithReadTimeout(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewController(newFakeBus(""), tt.addr, false, tt.opts...)
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("got %v, want ErrInvalidValue", err)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	bus := newFakeBus("DSP 7265\r\n")
	c, err := NewController(bus, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	bus.out.Reset()
	s, err := c.Query(" ID ")
	if err != nil {
		t.Fatal(err)
	}
	if s != "DSP 7265" {
		t.Errorf("got %q", s)
	}
	if got, want := bus.out.String(), "ID\n++read eoi\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
}

func TestDeviceReaddressing(t *testing.T) {
	bus := newFakeBus("1\n2\n3\n")
	c, err := NewController(bus, 7, false)
	if err != nil {
		t.Fatal(err)
	}
	l1f, _ := c.Device(7)
	l2f, _ := c.Device(8)
	bus.out.Reset()

	for _, d := range []*Device{l1f, l2f, l2f} {
		if _, err := d.Query("X."); err != nil {
			t.Fatal(err)
		}
	}
	want := "X.\n++read eoi\n" +
		"++addr 8\nX.\n++read eoi\n" +
		"X.\n++read eoi\n"
	if got := bus.out.String(); got != want {
		t.Errorf("got  %q\nwant %q", got, want)
	}
}

func TestDeviceInvalidAddress(t *testing.T) {
	c, err := NewController(newFakeBus(""), 7, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Device(40); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("pad 40: got %v", err)
	}
	if _, err := c.Device(4, 50); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("sad 50: got %v", err)
	}
}

func TestQueryLines(t *testing.T) {
	bus := newFakeBus("100\n-200\n300,400\n")
	c, _ := NewController(bus, 7, false)
	lines, err := c.QueryLines("DC 0", 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"100", "-200", "300", "400"}
	if strings.Join(lines, " ") != strings.Join(want, " ") {
		t.Errorf("got %v, want %v", lines, want)
	}
}

func TestQueryBinary(t *testing.T) {
	bus := newFakeBus("\x01\x02\x03\n")
	c, _ := NewController(bus, 12, false)
	b, err := c.QueryBinary("RDGFAST? 1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Errorf("got % x", b)
	}
	if c.br.Buffered() != 0 {
		t.Errorf("trailing eot_char not consumed")
	}
}

func TestInstrumentAddress(t *testing.T) {
	bus := newFakeBus("9 96\n")
	c, _ := NewController(bus, 9, false)
	pad, sad, err := c.InstrumentAddress()
	if err != nil {
		t.Fatal(err)
	}
	if pad != 9 || sad != 96 {
		t.Errorf("got %d %d", pad, sad)
	}
}

func TestGPIBTermination(t *testing.T) {
	bus := newFakeBus("2\n")
	c, _ := NewController(bus, 9, false)
	term, err := c.GPIBTermination()
	if err != nil {
		t.Fatal(err)
	}
	if term != AppendLF {
		t.Errorf("got %v", term)
	}
	if err := c.SetGPIBTermination(GpibTerm(7)); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetGPIBTermination(7): %v", err)
	}
}
