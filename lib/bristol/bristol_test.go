package bristol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/faradaylab/faraday"
	"github.com/faradaylab/faraday/lib/block"
	"github.com/pkg/errors"
)

// fakeConn records what the driver writes and replays canned replies.
type fakeConn struct {
	out bytes.Buffer
	in  *bytes.Reader
}

func (f *fakeConn) Write(p []byte) (int, error) { return f.out.Write(p) }
func (f *fakeConn) Read(p []byte) (int, error)  { return f.in.Read(p) }
func (f *fakeConn) Close() error                { return nil }

func newFake(t *testing.T, replies string) (*Wavemeter, *fakeConn) {
	t.Helper()
	fc := &fakeConn{in: bytes.NewReader([]byte(replies))}
	w, err := New(fc, WithBannerLines(0), WithQuiet())
	if err != nil {
		t.Fatal(err)
	}
	return w, fc
}

func TestNewFlushesBanner(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	go func() {
		defer server.Close()
		server.Write([]byte("Bristol Instruments\r\n\xff\xfb\x01Welcome\r\n"))
		line, _ := bufio.NewReader(server).ReadString('\n')
		if line == "*IDN?\r\n" {
			server.Write([]byte("BRISTOL WAVELENGTH METER,871A-VIS4,7000,1.0\r\n"))
		}
	}()
	w, err := New(client, WithTimeout(200*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.readLine(50 * time.Millisecond); !errors.Is(err, ErrEmptyBuffer) && !errors.Is(err, io.EOF) {
		t.Errorf("expected nothing left after ID, got %v", err)
	}
}

func TestAll(t *testing.T) {
	w, fc := newFake(t, "1234,4,1550.1234567,0.512\r\n")
	r, err := w.All(Fetch)
	if err != nil {
		t.Fatal(err)
	}
	want := Reading{ScanIndex: 1234, Status: 4, Wavelength: 1550.1234567, Power: 0.512}
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
	if got := fc.out.String(); got != ":FETC:ALL?\r\n" {
		t.Errorf("wrote %q", got)
	}
}

func TestEnvironment(t *testing.T) {
	w, _ := newFake(t, "24.50C,760.0MMHG\r\n")
	temp, p, err := w.Environment(Measure)
	if err != nil {
		t.Fatal(err)
	}
	if temp != 24.5 || p != 760 {
		t.Errorf("got %g %g", temp, p)
	}
}

func TestInvalidMode(t *testing.T) {
	w, fc := newFake(t, "")
	if _, err := w.Wavelength(Mode("XYZ")); !errors.Is(err, faraday.ErrInvalidValue) {
		t.Errorf("got %v", err)
	}
	if fc.out.Len() != 0 {
		t.Errorf("invalid mode reached the wire: %q", fc.out.String())
	}
}

func TestSetters(t *testing.T) {
	tests := []struct {
		name string
		set  func(w *Wavemeter) error
		want string
	}{
		{"average count", func(w *Wavemeter) error { return w.SetAverageCount(10) }, ":SENS:AVER:COUN 10"},
		{"average state", func(w *Wavemeter) error { return w.SetAverageState(true) }, ":SENS:AVER:STAT ON"},
		{"pid", func(w *Wavemeter) error { return w.SetPID(Proportional, 1.5) }, ":SENS:PID:LCON:PROP 1.5"},
		{"pid setpoint", func(w *Wavemeter) error { return w.SetPIDSetpoint(1550.5) }, ":SENS:PID:SPO 1550.5"},
		{"pid min", func(w *Wavemeter) error { return w.SetPIDMinVoltage(-2.5) }, ":SENS:PID:VOLT:MIN -2.5"},
		{"frame rate", func(w *Wavemeter) error { return w.SetFrameRate(250) }, ":TRIG:SEQ:RATE 250"},
		{"trigger", func(w *Wavemeter) error { return w.SetTriggerMethod(TriggerRise) }, ":TRIG:SEQ:METH RISE"},
		{"detector", func(w *Wavemeter) error { return w.SetDetector("PULS") }, ":SENS:DET:FUNC PULS"},
		{"status enable", func(w *Wavemeter) error { return w.SetStatusEnable(1 << 3) }, ":STAT:QUES:ENAB 8"},
		{"delta", func(w *Wavemeter) error { return w.SetDeltaMethod("MAXM") }, ":CALC:DELT:METH MAXM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, fc := newFake(t, "")
			if err := tt.set(w); err != nil {
				t.Fatal(err)
			}
			if got := fc.out.String(); got != tt.want+"\r\n" {
				t.Errorf("wrote %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSettersInvalid(t *testing.T) {
	tests := map[string]func(w *Wavemeter) error{
		"average count":   func(w *Wavemeter) error { return w.SetAverageCount(1) },
		"pid kind":        func(w *Wavemeter) error { return w.SetPID("GAIN", 1) },
		"pid off grid":    func(w *Wavemeter) error { return w.SetPID(Integral, 0.05) },
		"pid too high":    func(w *Wavemeter) error { return w.SetPID(Derivative, 50.1) },
		"setpoint":        func(w *Wavemeter) error { return w.SetPIDSetpoint(200) },
		"pid max":         func(w *Wavemeter) error { return w.SetPIDMaxVoltage(0) },
		"frame rate":      func(w *Wavemeter) error { return w.SetFrameRate(30) },
		"two bits":        func(w *Wavemeter) error { return w.SetStatusEnable(3) },
		"bit 12":          func(w *Wavemeter) error { return w.SetStatusEnable(1 << 12) },
		"buffer":          func(w *Wavemeter) error { return w.Buffer("DATA?") },
		"calibration tmp": func(w *Wavemeter) error { return w.SetCalibrationTemp(51) },
	}
	for name, set := range tests {
		t.Run(name, func(t *testing.T) {
			w, fc := newFake(t, "")
			if err := set(w); !errors.Is(err, faraday.ErrInvalidValue) {
				t.Errorf("got %v, want ErrInvalidValue", err)
			}
			if fc.out.Len() != 0 {
				t.Errorf("wrote %q", fc.out.String())
			}
		})
	}
}

func TestCalibrationMethodGuard(t *testing.T) {
	w, _ := newFake(t, "TIME\r\n")
	if err := w.SetCalibrationTemp(10); !errors.Is(err, ErrCalibrationMethod) {
		t.Errorf("got %v, want ErrCalibrationMethod", err)
	}

	w, fc := newFake(t, "TEMPerature\r\n")
	if err := w.SetCalibrationTemp(10); err != nil {
		t.Fatal(err)
	}
	if got, want := fc.out.String(), ":SENS:CALI:METH?\r\n:SENS:CALI:TEMP 10\r\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
}

type rawRecord struct {
	Wavelength float64
	Power      float32
	Status     uint32
	ScanIndex  uint32
}

func encodeRecords(recs ...rawRecord) []byte {
	var buf bytes.Buffer
	for _, r := range recs {
		binary.Write(&buf, binary.LittleEndian, r)
	}
	return buf.Bytes()
}

func TestReadBuffer(t *testing.T) {
	data := encodeRecords(
		rawRecord{1550.25, 0.5, 0, 1},
		rawRecord{1550.5, 0.75, 8, 2},
	)
	w, fc := newFake(t, fmt.Sprintf("#2%02d", len(data))+string(data))
	recs, err := w.ReadBuffer()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fc.out.String(), ":MMEM:CLOS\r\n:MMEM:DATA?\r\n"; got != want {
		t.Errorf("wrote %q, want %q", got, want)
	}
	want := []Record{{1550.25, 0.5, 0, 1}, {1550.5, 0.75, 8, 2}}
	if len(recs) != len(want) {
		t.Fatalf("got %d records", len(recs))
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Errorf("record %d: got %+v, want %+v", i, recs[i], want[i])
		}
	}
}

func TestDecodeRecordsPartial(t *testing.T) {
	data := append(encodeRecords(rawRecord{1, 2, 3, 4}), 0xAA, 0xBB)
	if recs := DecodeRecords(data); len(recs) != 1 || recs[0].ScanIndex != 4 {
		t.Errorf("got %+v", recs)
	}
}

func TestStatusDescriptions(t *testing.T) {
	s := Status(1 | 1<<1 | 1<<5)
	d := s.Descriptions()
	if len(d) != 2 {
		t.Fatalf("got %q", d)
	}
	if !strings.Contains(d[1], "Wavelength value outside valid range") {
		t.Errorf("got %q", d[1])
	}
	if Status(0).String() != "ok" {
		t.Errorf("zero status: %q", Status(0).String())
	}
}

func TestHelp(t *testing.T) {
	// the byte count covers CR LF terminators and padding
	w, _ := newFake(t, "23\r\n:MEAS\r\n:READ\r\n  :CALC\r\n0,\"No error\"\r\n")
	lines, err := w.Help()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(lines, " ") != ":MEAS :READ :CALC" {
		t.Errorf("got %q", lines)
	}
	if s, err := w.SystemError(); err != nil || s != `0,"No error"` {
		t.Errorf("next reply %q, %v", s, err)
	}
}

func TestStripTelnet(t *testing.T) {
	in := []byte{iac, do, 1, 'O', 'K', iac, iac, iac, sb, 24, 0, iac, se, '!'}
	if got := string(stripTelnet(in)); got != "OK\xff!" {
		t.Errorf("got %q", got)
	}
}

func TestStream(t *testing.T) {
	payload := encodeRecords(rawRecord{Wavelength: 1550, Power: 1, Status: 0x7E, ScanIndex: 0x7D})
	raw := append([]byte{0x00, 0x11}, block.Stuff(payload)...)
	s := NewStream(io.NopCloser(bytes.NewReader(raw)))
	r, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != 0x7E || r.ScanIndex != 0x7D || r.Wavelength != 1550 {
		t.Errorf("got %+v", r)
	}
	if _, err := s.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("want EOF, got %v", err)
	}
}

func TestIsInternal(t *testing.T) {
	for s, want := range map[string]bool{"INT": true, "internal": true, "RISE": false, "FALL": false} {
		if IsInternal(s) != want {
			t.Errorf("IsInternal(%q) != %v", s, want)
		}
	}
}

func TestConfigure(t *testing.T) {
	w, fc := newFake(t, "TEMP\r\n")
	if err := w.Configure(DefaultSettings()); err != nil {
		t.Fatal(err)
	}
	want := ":SENS:DET:FUNC CW\r\n" +
		":SENS:EXP:AUTO ON\r\n" +
		":SENS:CALI:METH TEMP\r\n" +
		":SENS:CALI:METH?\r\n" +
		":SENS:CALI:TEMP 5\r\n" +
		":TRIG:SEQ:METH INT\r\n" +
		":TRIG:SEQ:RATE 100\r\n" +
		":SENS:AVER:STAT OFF\r\n"
	if got := fc.out.String(); got != want {
		t.Errorf("wrote %q\nwant  %q", got, want)
	}

	s := DefaultSettings()
	s.TriggerMethod = TriggerRise
	s.FrameRate = 30
	w, _ = newFake(t, "TEMP\r\n")
	if err := w.Configure(s); err != nil {
		t.Errorf("frame rate should be ignored for external triggering: %v", err)
	}
}
