// Copyright (c) 2020–2025 The faraday developers. All rights reserved.
// Project site: https://github.com/faradaylab/faraday
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package faraday

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Controller models a Prologix-compatible GPIB controller-in-charge. One
// controller is shared by every instrument on the bus; use Device to get an
// addressed handle for a single instrument.
type Controller struct {
	mu               sync.Mutex
	rw               io.ReadWriter
	br               *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	auto             bool
	usbTerm          byte
	eotChar          byte
	readTimeoutMS    int
	writeDelay       time.Duration
	lastWrite        time.Time
	debug            bool // if true, log controller commands before sending. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge addressing the instrument
// at addr using the given Prologix transport, which can be a Virtual COM Port
// (VCP), USB direct, or Ethernet. Enable clear to send the Selected Device
// Clear (SDC) message to the GPIB address. Optionally controller configuration
// can be included using a ControllerOption.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:            rw,
		br:            bufio.NewReader(rw),
		primaryAddr:   addr,
		usbTerm:       '\n',
		eotChar:       '\n',
		readTimeoutMS: 500,
	}

	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, errors.Wrapf(ErrInvalidValue, "primary address %d (must be 0-30)", c.primaryAddr)
	}
	if c.hasSecondaryAddr && !isSecondaryAddressValid(c.secondaryAddr) {
		return nil, errors.Wrapf(ErrInvalidValue, "secondary address %d (must be 96-126)", c.secondaryAddr)
	}
	if c.readTimeoutMS < 1 || c.readTimeoutMS > 3000 {
		return nil, errors.Wrapf(ErrInvalidValue, "read timeout %d ms (must be 1-3000)", c.readTimeoutMS)
	}

	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		c.addrCmd(c.primaryAddr, c.hasSecondaryAddr, c.secondaryAddr),
		"mode 1", // Switch to controller mode.
		"auto 0", // Turn off read-after-write and address instrument to listen.
		"eoi 1",  // Enable EOI assertion with last character.
		"eos 0",  // Append CR+LF to instrument commands.
		fmt.Sprintf("read_tmo_ms %d", c.readTimeoutMS),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1", // Append eot_char when EOI detected.
	)
	if !c.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	if clear {
		cmds = append(cmds, "clr")
	}
	for _, cmd := range cmds {
		if err := c.commandController(cmd); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithDebug causes commands and responses to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithWriteDelay enforces a minimum delay between consecutive writes to the
// adapter. Older instruments drop commands that arrive back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithReadTimeout sets the adapter's GPIB read timeout in milliseconds
// (1-3000).
func WithReadTimeout(ms int) ControllerOption {
	return func(c *Controller) { c.readTimeoutMS = ms }
}

// Write writes the given data to the instrument at the currently assigned GPIB
// address.
func (c *Controller) Write(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(p)
}

// Read reads from the instrument at the currently assigned GPIB address into
// the given byte slice.
func (c *Controller) Read(p []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.br.Read(p)
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator to the command sent to the Prologix.
func (c *Controller) Command(format string, a ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command(format, a...)
}

// Query queries the instrument at the currently assigned GPIB address using
// the given SCPI/ASCII command and returns the response with the trailing
// terminator removed. When data from host is received over USB, the Prologix
// controller removes all non-escaped LF, CR and ESC characters and appends the
// GPIB terminator before sending the data to instruments.
func (c *Controller) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query(cmd)
}

// QueryLines sends cmd and reads n terminator-delimited values from a single
// response, as produced by curve dumps that emit one value per line.
func (c *Controller) QueryLines(cmd string, n int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryLines(cmd, n)
}

func (c *Controller) queryLines(cmd string, n int) ([]string, error) {
	if err := c.sendQuery(cmd); err != nil {
		return nil, err
	}
	lines := make([]string, 0, n)
	for len(lines) < n {
		s, err := c.br.ReadString(c.eotChar)
		if err != nil {
			return lines, errors.Wrapf(err, "reading line %d of %d", len(lines)+1, n)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		for _, v := range strings.Split(s, ",") {
			lines = append(lines, strings.TrimSpace(v))
		}
	}
	return lines, nil
}

// QueryBinary sends cmd and reads exactly n bytes of binary response. An
// eot_char the adapter appended right after the data is discarded if it has
// already arrived.
func (c *Controller) QueryBinary(cmd string, n int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryBinary(cmd, n)
}

func (c *Controller) queryBinary(cmd string, n int) ([]byte, error) {
	if err := c.sendQuery(cmd); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, errors.Wrapf(err, "reading %d byte binary response", n)
	}
	if c.debug {
		log.Printf("binary read: % 2x", buf)
	}
	if c.br.Buffered() == 0 {
		return buf, nil
	}
	if b, err := c.br.Peek(1); err == nil && b[0] == c.eotChar {
		_, _ = c.br.ReadByte()
	}
	return buf, nil
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string. To indicate this is a command for the
// Prologix controller, thereby not transmitting over GPIB, two plus signs `++`
// are prepended. Addtionally, a new line is appended to act as the USB
// termination character.
func (c *Controller) QueryController(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryController(cmd)
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
// Addtionally, a new line is appended to act as the USB termination character.
func (c *Controller) CommandController(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandController(cmd)
}

// ClearDevice sends the Selected Device Clear (SDC) message to the currently
// addressed instrument.
func (c *Controller) ClearDevice() error {
	return c.CommandController("clr")
}

// Trigger sends the Group Execute Trigger (GET) message to the currently
// addressed instrument.
func (c *Controller) Trigger() error {
	return c.CommandController("trg")
}

// FrontPanel returns the currently addressed instrument to local control when
// local is true. Otherwise the Local Lockout (LLO) message is sent.
func (c *Controller) FrontPanel(local bool) error {
	if local {
		return c.CommandController("loc")
	}
	return c.CommandController("llo")
}

// InstrumentAddress returns the primary and secondary GPIB address configured
// in the adapter. The secondary address is 0 if none is set.
func (c *Controller) InstrumentAddress() (int, int, error) {
	s, err := c.QueryController("addr")
	if err != nil {
		return 0, 0, err
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, errors.Errorf("empty address reply")
	}
	pad, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing primary address %q", s)
	}
	if len(fields) == 1 {
		return pad, 0, nil
	}
	sad, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parsing secondary address %q", s)
	}
	return pad, sad, nil
}

// Version returns the adapter's version string.
func (c *Controller) Version() (string, error) {
	return c.QueryController("ver")
}

// ReadAfterWrite reports whether the adapter automatically addresses the
// instrument to talk after sending it a command.
func (c *Controller) ReadAfterWrite() (bool, error) {
	s, err := c.QueryController("auto")
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// ReadTimeout returns the adapter's read timeout in milliseconds.
func (c *Controller) ReadTimeout() (int, error) {
	s, err := c.QueryController("read_tmo_ms")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// ServiceRequest reports whether the SRQ line is asserted.
func (c *Controller) ServiceRequest() (bool, error) {
	s, err := c.QueryController("srq")
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// GPIBTermination returns the terminator the adapter appends to instrument
// commands.
func (c *Controller) GPIBTermination() (GpibTerm, error) {
	s, err := c.QueryController("eos")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing eos %q", s)
	}
	term := GpibTerm(n)
	if _, ok := gpibTermDesc[term]; !ok {
		return 0, errors.Errorf("unknown GPIB termination %d", n)
	}
	return term, nil
}

// SetGPIBTermination sets the terminator the adapter appends to instrument
// commands.
func (c *Controller) SetGPIBTermination(term GpibTerm) error {
	if _, ok := gpibTermDesc[term]; !ok {
		return errors.Wrapf(ErrInvalidValue, "GPIB termination %d", term)
	}
	return c.CommandController(fmt.Sprintf("eos %d", term))
}

func (c *Controller) addrCmd(pad int, hasSad bool, sad int) string {
	if hasSad {
		return fmt.Sprintf("addr %d %d", pad, sad)
	}
	return fmt.Sprintf("addr %d", pad)
}

// readdress switches the adapter to pad/sad unless it is already there.
// Callers hold c.mu.
func (c *Controller) readdress(pad int, hasSad bool, sad int) error {
	if pad == c.primaryAddr && hasSad == c.hasSecondaryAddr && (!hasSad || sad == c.secondaryAddr) {
		return nil
	}
	if err := c.commandController(c.addrCmd(pad, hasSad, sad)); err != nil {
		return err
	}
	c.primaryAddr, c.hasSecondaryAddr, c.secondaryAddr = pad, hasSad, sad
	return nil
}

func (c *Controller) write(p []byte) (int, error) {
	if c.writeDelay > 0 {
		if wait := c.writeDelay - time.Since(c.lastWrite); wait > 0 {
			time.Sleep(wait)
		}
	}
	n, err := c.rw.Write(p)
	c.lastWrite = time.Now()
	return n, err
}

func (c *Controller) command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.usbTerm)
	if c.debug {
		log.Printf("cmd %q", cmd)
	}
	_, err := c.write([]byte(cmd))
	return err
}

func (c *Controller) sendQuery(cmd string) error {
	cmd = fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.usbTerm)
	if c.debug {
		log.Printf("query: %q", cmd)
	}
	if _, err := c.write([]byte(cmd)); err != nil {
		return errors.Wrap(err, "writing command")
	}
	// If read-after-write is disabled, need to tell the Prologix controller to
	// read.
	if !c.auto {
		readCmd := "++read eoi"
		if _, err := c.write([]byte(fmt.Sprintf("%s%c", readCmd, c.usbTerm))); err != nil {
			return errors.Wrapf(err, "sending `%s` command", readCmd)
		}
	}
	return nil
}

func (c *Controller) query(cmd string) (string, error) {
	if err := c.sendQuery(cmd); err != nil {
		return "", err
	}
	s, err := c.br.ReadString(c.eotChar)
	if c.debug {
		log.Printf("read data: %q", s)
	}
	if err == io.EOF && s != "" {
		return strings.TrimSpace(s), nil
	}
	return strings.TrimSpace(s), err
}

func (c *Controller) commandController(cmd string) error {
	cmd = fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm)
	if c.debug {
		log.Printf("cmd %q (%2x)", cmd, cmd)
	}
	_, err := c.write([]byte(cmd))
	return err
}

func (c *Controller) queryController(cmd string) (string, error) {
	if err := c.commandController(cmd); err != nil {
		return "", err
	}
	s, err := c.br.ReadString(c.eotChar)
	if c.debug {
		log.Printf("read data: %q", s)
	}
	return strings.TrimSpace(s), err
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
