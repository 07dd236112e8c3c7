// Package dlcpro talks to a TOPTICA DLC pro laser controller through its
// command line interface, served on TCP port 1998 and on the USB serial port.
package dlcpro

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
	"sync"
	"time"

	"github.com/faradaylab/faraday/lib/connutil"
	"github.com/pkg/errors"
)

// Port is the command line TCP port.
const Port = "1998"

// Baud is the serial command line rate.
const Baud = 115200

var prompt = []byte("> ")

// Error is an error reply from the controller, e.g. "Error: -10 unknown
// parameter".
type Error struct {
	Cmd  string
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dlc pro %s: error %d: %s", e.Cmd, e.Code, e.Msg)
}

// Client is a command line session.
type Client struct {
	mu    sync.Mutex
	rw    io.ReadWriter
	br    *bufio.Reader
	debug bool
}

// Dial connects to the command line port of the controller at addr.
func Dial(ctx context.Context, addr string, debug bool) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, Port)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing dlc pro at %s", addr)
	}
	c, err := New(conn, debug)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// OpenSerial opens the command line on a serial port.
func OpenSerial(name string, debug bool) (*Client, error) {
	p, err := connutil.OpenSerial(name, Baud, 3*time.Second)
	if err != nil {
		return nil, err
	}
	// the serial line gives no greeting until poked
	if _, err := io.WriteString(p, "\n"); err != nil {
		p.Close()
		return nil, errors.Wrap(err, "waking dlc pro")
	}
	c, err := New(p, debug)
	if err != nil {
		p.Close()
		return nil, err
	}
	return c, nil
}

// New starts a session over rw, discarding everything up to the first prompt.
func New(rw io.ReadWriter, debug bool) (*Client, error) {
	c := &Client{rw: rw, br: bufio.NewReader(rw), debug: debug}
	banner, err := c.readPrompt()
	if err != nil {
		return nil, errors.Wrap(err, "waiting for dlc pro prompt")
	}
	if debug {
		log.Printf("dlcpro banner %q", banner)
	}
	return c, nil
}

// Close closes the transport if it can be closed.
func (c *Client) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// readPrompt reads up to a prompt at the start of a line.
func (c *Client) readPrompt() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := c.br.ReadByte()
		if err != nil {
			return buf.String(), err
		}
		buf.WriteByte(b)
		p := buf.Bytes()
		if bytes.HasSuffix(p, prompt) {
			rest := p[:len(p)-len(prompt)]
			if len(rest) == 0 || rest[len(rest)-1] == '\n' {
				return string(rest), nil
			}
		}
	}
}

// Exec sends one expression and returns its result with the echo removed.
func (c *Client) Exec(expr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.debug {
		log.Printf("dlcpro cmd %q", expr)
	}
	if _, err := io.WriteString(c.rw, expr+"\n"); err != nil {
		return "", errors.Wrapf(err, "writing %q", expr)
	}
	raw, err := c.readPrompt()
	if err != nil {
		return "", errors.Wrapf(err, "reading reply to %q", expr)
	}
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(raw, "\r", ""), "\n") {
		l = strings.TrimSpace(l)
		if l == "" || l == expr {
			continue
		}
		lines = append(lines, l)
	}
	reply := strings.Join(lines, "\n")
	if c.debug {
		log.Printf("dlcpro read %q", reply)
	}
	if e := parseError(expr, reply); e != nil {
		return "", e
	}
	return reply, nil
}

func parseError(cmd, reply string) *Error {
	rest, ok := strings.CutPrefix(reply, "Error:")
	if !ok {
		return nil
	}
	e := &Error{Cmd: cmd, Msg: strings.TrimSpace(rest)}
	if f := strings.Fields(e.Msg); len(f) > 0 {
		if n, err := strconv.Atoi(f[0]); err == nil {
			e.Code = n
			e.Msg = strings.TrimSpace(strings.TrimPrefix(e.Msg, f[0]))
		}
	}
	return e
}

// Value renders v as a command line literal.
func Value(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "#t"
		}
		return "#f"
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	}
	return fmt.Sprint(v)
}

// Get returns the value of a parameter.
func (c *Client) Get(param string) (string, error) {
	return c.Exec(fmt.Sprintf("(param-ref '%s)", param))
}

// GetFloat returns a numeric parameter.
func (c *Client) GetFloat(param string) (float64, error) {
	s, err := c.Get(param)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, errors.Wrapf(err, "%s returned %q", param, s)
}

// GetBool returns a boolean parameter.
func (c *Client) GetBool(param string) (bool, error) {
	s, err := c.Get(param)
	if err != nil {
		return false, err
	}
	switch s {
	case "#t":
		return true, nil
	case "#f":
		return false, nil
	}
	return false, errors.Errorf("%s returned %q", param, s)
}

// Set writes a parameter. A nonzero result code is returned as *Error.
func (c *Client) Set(param string, v any) error {
	cmd := fmt.Sprintf("(param-set! '%s %s)", param, Value(v))
	s, err := c.Exec(cmd)
	if err != nil {
		return err
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return errors.Wrapf(err, "%s returned %q", cmd, s)
	}
	if code != 0 {
		return &Error{Cmd: cmd, Code: code, Msg: "parameter not set"}
	}
	return nil
}

// Run executes a command such as laser1:wide-scan:start.
func (c *Client) Run(command string, args ...any) error {
	var b strings.Builder
	fmt.Fprintf(&b, "(exec '%s", command)
	for _, a := range args {
		b.WriteString(" " + Value(a))
	}
	b.WriteString(")")
	_, err := c.Exec(b.String())
	return err
}
