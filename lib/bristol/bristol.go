// Package bristol drives a Bristol 871 wavelength meter over its telnet SCPI
// port and reads its RS-422 real time output.
package bristol

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultAddr is the address the instrument takes on its USB network link.
const DefaultAddr = "10.199.199.1:23"

// ErrEmptyBuffer is returned when a read times out with nothing received.
var ErrEmptyBuffer = errors.New("telnet buffer was empty, read timed out")

// Wavemeter is a connection to a Bristol 871.
type Wavemeter struct {
	conn          io.ReadWriteCloser
	br            *bufio.Reader
	timeout       time.Duration
	bufferTimeout time.Duration
	bannerLines   int
	quiet         bool
	debug         bool
}

// Option configures a Wavemeter.
type Option func(*Wavemeter)

// WithTimeout sets the line read timeout (default 3 s).
func WithTimeout(d time.Duration) Option { return func(w *Wavemeter) { w.timeout = d } }

// WithBufferTimeout sets the timeout for reading an MMEM buffer dump
// (default 60 s).
func WithBufferTimeout(d time.Duration) Option {
	return func(w *Wavemeter) { w.bufferTimeout = d }
}

// WithBannerLines sets how many lines of the telnet greeting are discarded
// on connect (default 8).
func WithBannerLines(n int) Option { return func(w *Wavemeter) { w.bannerLines = n } }

// WithQuiet skips the *IDN? check on connect.
func WithQuiet() Option { return func(w *Wavemeter) { w.quiet = true } }

// WithDebug logs every command and response.
func WithDebug() Option { return func(w *Wavemeter) { w.debug = true } }

// Dial connects to the instrument's telnet port.
func Dial(ctx context.Context, addr string, opts ...Option) (*Wavemeter, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "23")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing bristol at %s", addr)
	}
	w, err := New(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

// New wraps an established connection, flushes the telnet greeting and,
// unless WithQuiet is given, logs the instrument identification.
func New(conn io.ReadWriteCloser, opts ...Option) (*Wavemeter, error) {
	w := &Wavemeter{
		conn:          conn,
		br:            bufio.NewReader(conn),
		timeout:       3 * time.Second,
		bufferTimeout: time.Minute,
		bannerLines:   8,
	}
	for _, opt := range opts {
		opt(w)
	}
	for i := 0; i < w.bannerLines; i++ {
		if _, err := w.readLine(w.timeout); err != nil {
			if errors.Is(err, ErrEmptyBuffer) || errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrap(err, "flushing telnet greeting")
		}
	}
	if !w.quiet {
		id, err := w.ID()
		if err != nil {
			return nil, errors.Wrap(err, "initializing bristol 871")
		}
		log.Printf("bristol: %s", id)
	}
	return w, nil
}

// Close closes the telnet connection.
func (w *Wavemeter) Close() error {
	return w.conn.Close()
}

// Command formats and sends a command terminated by CR LF.
func (w *Wavemeter) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	if w.debug {
		log.Printf("bristol cmd %q", cmd)
	}
	_, err := io.WriteString(w.conn, strings.TrimSpace(cmd)+"\r\n")
	return errors.Wrapf(err, "writing %q", cmd)
}

// Query sends cmd and returns the next response line.
func (w *Wavemeter) Query(cmd string) (string, error) {
	if err := w.Command(cmd); err != nil {
		return "", err
	}
	s, err := w.readLine(w.timeout)
	if err != nil {
		return "", errors.Wrapf(err, "query %q", cmd)
	}
	if w.debug {
		log.Printf("bristol read %q", s)
	}
	return s, nil
}

// ID returns the *IDN? response.
func (w *Wavemeter) ID() (string, error) {
	return w.Query("*IDN?")
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

func (w *Wavemeter) setDeadline(d time.Duration) {
	if dl, ok := w.conn.(deadliner); ok {
		_ = dl.SetReadDeadline(time.Now().Add(d))
	}
}

func (w *Wavemeter) readLine(timeout time.Duration) (string, error) {
	s, _, err := w.readRawLine(timeout)
	return s, err
}

// readRawLine is readLine that also reports how many bytes came off the
// wire, terminator and padding included.
func (w *Wavemeter) readRawLine(timeout time.Duration) (string, int, error) {
	w.setDeadline(timeout)
	b, err := w.br.ReadBytes('\n')
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if len(b) == 0 {
			return "", 0, ErrEmptyBuffer
		}
		err = nil
	}
	if err != nil && len(b) == 0 {
		return "", 0, err
	}
	return string(bytes.TrimSpace(stripTelnet(b))), len(b), nil
}

// Telnet protocol bytes.
const (
	iac  = 255
	dont = 254
	do   = 253
	wont = 252
	will = 251
	sb   = 250
	se   = 240
)

// stripTelnet removes telnet negotiation sequences from a text line. Binary
// buffer dumps are read raw and never pass through here.
func stripTelnet(b []byte) []byte {
	if bytes.IndexByte(b, iac) < 0 {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != iac {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch b[i+1] {
		case iac:
			out = append(out, iac)
			i++
		case do, dont, will, wont:
			i += 2
		case sb:
			end := bytes.Index(b[i:], []byte{iac, se})
			if end < 0 {
				return out
			}
			i += end + 1
		default:
			i++
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// leadingFloat parses the numeric prefix of s, e.g. "24.50C" -> 24.5.
func leadingFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && strings.ContainsRune("+-.0123456789eE", rune(s[end])) {
		end++
	}
	// Back off a trailing exponent marker that belongs to a unit.
	for end > 0 && (s[end-1] == 'e' || s[end-1] == 'E') {
		end--
	}
	return strconv.ParseFloat(s[:end], 64)
}
