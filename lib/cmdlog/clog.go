// Package cmdlog echoes instrument traffic to the log with terminal colors.
package cmdlog

import (
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/faradaylab/faraday"
	"github.com/pkg/errors"
)

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

var (
	NameStyle = lipgloss.NewStyle().Bold(true)
	CmdStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Describe renders a response for the log: quoted when it is text, hex
// when it is binary.
func Describe(a string) string {
	if len(a) == 0 {
		return R1Style.Render("<no response>")
	}
	switch {
	case isAscii(a):
		return R2Style.Render(fmt.Sprintf("[%d] %q", len(a), a))
	case len(a) < 32:
		return R2Style.Render(fmt.Sprintf("[%d] %q (% 2x)", len(a), a, []byte(a)))
	default:
		return R2Style.Render(fmt.Sprintf("[%d] % 2x", len(a), []byte(a)))
	}
}

// Echo wraps an instrument and logs every command and response.
type Echo struct {
	name string
	inst faraday.Instrument
}

// New returns an Echo for inst, labelled name in the log.
func New(name string, inst faraday.Instrument) *Echo {
	return &Echo{name: name, inst: inst}
}

func (e *Echo) prefix(cmd string) string {
	return NameStyle.Render(e.name) + " " + CmdStyle.Render(cmd)
}

// Command forwards to the wrapped instrument.
func (e *Echo) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	err := e.inst.Command("%s", cmd)
	if err != nil {
		log.Printf("%s: %s", e.prefix(cmd), ErrStyle.Render(err.Error()))
	} else {
		log.Printf("%s()", e.prefix(cmd))
	}
	return err
}

// Query forwards to the wrapped instrument.
func (e *Echo) Query(cmd string) (string, error) {
	s, err := e.inst.Query(cmd)
	if err != nil {
		log.Printf("%s: %s", e.prefix(cmd), ErrStyle.Render(err.Error()))
		return s, err
	}
	log.Printf("%s: %s", e.prefix(cmd), Describe(s))
	return s, nil
}

// QueryLines forwards when the wrapped instrument is a faraday.LineQuerier.
func (e *Echo) QueryLines(cmd string, n int) ([]string, error) {
	lq, ok := e.inst.(faraday.LineQuerier)
	if !ok {
		return nil, errors.Errorf("%s cannot read lines", e.name)
	}
	lines, err := lq.QueryLines(cmd, n)
	if err != nil {
		log.Printf("%s: %s", e.prefix(cmd), ErrStyle.Render(err.Error()))
		return lines, err
	}
	log.Printf("%s: %s", e.prefix(cmd), R2Style.Render(fmt.Sprintf("%d lines", len(lines))))
	return lines, nil
}

// QueryBinary forwards when the wrapped instrument is a
// faraday.BinaryQuerier.
func (e *Echo) QueryBinary(cmd string, n int) ([]byte, error) {
	bq, ok := e.inst.(faraday.BinaryQuerier)
	if !ok {
		return nil, errors.Errorf("%s cannot read binary replies", e.name)
	}
	b, err := bq.QueryBinary(cmd, n)
	if err != nil {
		log.Printf("%s: %s", e.prefix(cmd), ErrStyle.Render(err.Error()))
		return b, err
	}
	log.Printf("%s: %s", e.prefix(cmd), Describe(string(b)))
	return b, nil
}
