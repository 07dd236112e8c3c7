package block

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func TestReadDefinite(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("#240" + strings.Repeat("x", 40) + "tail"))
	data, err := ReadDefinite(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 40 {
		t.Errorf("got %d bytes", len(data))
	}
	rest, _ := r.ReadString(0)
	if rest != "tail" {
		t.Errorf("reader left at %q", rest)
	}
}

func TestReadDefiniteHeaderErrors(t *testing.T) {
	for _, in := range []string{"240", "#0", "#a12", "#2x4"} {
		_, err := ReadDefiniteHeader(bufio.NewReader(strings.NewReader(in)))
		if !errors.Is(err, ErrHeader) {
			t.Errorf("%q: got %v, want ErrHeader", in, err)
		}
	}
}

func TestFloat32sBE(t *testing.T) {
	var buf bytes.Buffer
	for _, f := range []float32{1.5, -2.25, 1e-3} {
		binary.Write(&buf, binary.BigEndian, f)
	}
	buf.WriteByte(0xAA)
	got := Float32sBE(buf.Bytes())
	if len(got) != 3 || got[0] != 1.5 || got[1] != -2.25 || math.Abs(float64(got[2]-1e-3)) > 1e-9 {
		t.Errorf("got %v", got)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, StartToken, 0x02, EscapeToken, 0x03}
	stuffed := Stuff(payload)
	// leading noise must be skipped
	r := bytes.NewReader(append([]byte{0x55, 0x66}, stuffed...))
	got, err := ReadFrame(r, len(payload))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got % x, want % x", got, payload)
	}
}

func TestFrameTruncated(t *testing.T) {
	r := bytes.NewReader([]byte{StartToken, 1, 2, StartToken, 3})
	if _, err := ReadFrame(r, 4); err == nil {
		t.Error("expected truncation error")
	}
}
