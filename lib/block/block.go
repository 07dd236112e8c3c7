// Package block decodes the binary replies instruments send back for buffer
// dumps: IEEE 488.2 definite-length blocks, packed float arrays and
// byte-stuffed serial frames.
package block

import (
	"bufio"
	"encoding/binary"
	"io"
	"log"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// ErrHeader is returned for a malformed block header.
var ErrHeader = errors.New("malformed block header")

// ReadDefinite reads an IEEE 488.2 definite-length block from r
//
//	'#' <n> <n length digits> <length data bytes>
//
// and returns the data bytes.
func ReadDefinite(r *bufio.Reader) ([]byte, error) {
	length, err := ReadDefiniteHeader(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.Wrapf(err, "reading %d byte block", length)
	}
	return data, nil
}

// ReadDefiniteHeader consumes a definite-length block header from r and
// returns the number of data bytes that follow.
func ReadDefiniteHeader(r *bufio.Reader) (int, error) {
	hash, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if hash != '#' {
		return 0, errors.Wrapf(ErrHeader, "want '#' got %q", hash)
	}
	nd, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if nd < '1' || nd > '9' {
		// '#0' is the indefinite form, which no instrument here sends.
		return 0, errors.Wrapf(ErrHeader, "digit count %q", nd)
	}
	digits := make([]byte, nd-'0')
	if _, err := io.ReadFull(r, digits); err != nil {
		return 0, errors.Wrap(err, "reading block length")
	}
	length, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, errors.Wrapf(ErrHeader, "length %q", digits)
	}
	return length, nil
}

// Float32sBE unpacks big-endian IEEE 754 float32 values. A trailing partial
// value is logged and dropped.
func Float32sBE(data []byte) []float32 {
	out := make([]float32, 0, len(data)/4)
	for len(data) >= 4 {
		out = append(out, math.Float32frombits(binary.BigEndian.Uint32(data)))
		data = data[4:]
	}
	if len(data) != 0 {
		log.Printf("bytes remain: %x", data)
	}
	return out
}

// Frame stuffing used by the Bristol RS-422 real time output.
const (
	StartToken  = 0x7E
	EscapeToken = 0x7D
	EscapeXOR   = 0x20
)

// ReadFrame reads one byte-stuffed frame of size payload bytes from r. Bytes
// before the next StartToken are skipped; an EscapeToken marks the following
// byte as XORed with EscapeXOR.
func ReadFrame(r io.ByteReader, size int) ([]byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartToken {
			break
		}
	}
	frame := make([]byte, 0, size)
	for len(frame) < size {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case StartToken:
			return nil, errors.Errorf("frame truncated after %d of %d bytes", len(frame), size)
		case EscapeToken:
			b, err = r.ReadByte()
			if err != nil {
				return nil, err
			}
			b ^= EscapeXOR
		}
		frame = append(frame, b)
	}
	return frame, nil
}

// Stuff is the inverse of ReadFrame, used to build frames in tests and
// simulators.
func Stuff(payload []byte) []byte {
	out := []byte{StartToken}
	for _, b := range payload {
		if b == StartToken || b == EscapeToken {
			out = append(out, EscapeToken, b^EscapeXOR)
			continue
		}
		out = append(out, b)
	}
	return out
}
