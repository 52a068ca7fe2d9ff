// SPDX-License-Identifier: MIT

package at

import (
	"io"
	"net"
	"strconv"
)

// Emitter formats AT commands onto the transport.
//
// A command is built up as Begin, any number of argument writes, then End,
// which appends CRLF and reports the first error recorded along the way.
// The data phase of prompt commands is sent with Payload followed by Commit
// or Cancel. The Emitter holds no state between commands; the payload
// pending transmission lives on the request.
type Emitter struct {
	w   io.Writer
	err error
}

// NewEmitter creates an Emitter over the transport.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

func (e *Emitter) write(p []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(p)
	}
}

// Begin starts a command line with the AT literal.
func (e *Emitter) Begin() {
	e.write([]byte("AT"))
}

// Const writes a constant fragment of the command verb or arguments.
func (e *Emitter) Const(s string) {
	e.write([]byte(s))
}

// Number writes a decimal number, optionally quoted, optionally preceded by
// a comma.
func (e *Emitter) Number(n int64, quote, comma bool) {
	e.sep(quote, comma, strconv.FormatInt(n, 10))
}

// String writes a string argument, optionally backslash-escaping the quote,
// comma and backslash characters, optionally quoted, optionally preceded by
// a comma. Arguments longer than MaxArgLen are rejected with ErrArgTooLong
// rather than truncated.
func (e *Emitter) String(s string, escape, quote, comma bool) {
	if len(s) > MaxArgLen {
		if e.err == nil {
			e.err = ErrArgTooLong
		}
		return
	}
	if escape {
		esc := make([]byte, 0, len(s))
		for i := 0; i < len(s); i++ {
			switch c := s[i]; c {
			case '"', ',', '\\':
				esc = append(esc, '\\', c)
			case '\r', '\n':
				// control characters never belong in an argument
			default:
				esc = append(esc, c)
			}
		}
		s = string(esc)
	}
	e.sep(quote, comma, s)
}

// IP writes an IP address argument.
func (e *Emitter) IP(ip net.IP, quote, comma bool) {
	e.sep(quote, comma, ip.String())
}

// Port writes a port number argument.
func (e *Emitter) Port(port uint16, quote, comma bool) {
	e.sep(quote, comma, strconv.FormatUint(uint64(port), 10))
}

func (e *Emitter) sep(quote, comma bool, s string) {
	if comma {
		e.write([]byte(","))
	}
	if quote {
		e.write([]byte(`"`))
	}
	e.write([]byte(s))
	if quote {
		e.write([]byte(`"`))
	}
}

// End terminates the command line with CRLF and returns the first error
// recorded since the preceding End.
func (e *Emitter) End() error {
	e.write([]byte(CRLF))
	err := e.err
	e.err = nil
	return err
}

// Line emits a complete command in one call: AT, the verb with any inline
// arguments, CRLF.
func (e *Emitter) Line(cmd string) error {
	e.Begin()
	e.Const(cmd)
	return e.End()
}

// Payload transmits raw bytes during the data phase.
func (e *Emitter) Payload(p []byte) error {
	e.write(p)
	err := e.err
	e.err = nil
	return err
}

// Commit ends the data phase, committing the payload.
func (e *Emitter) Commit() error {
	return e.Payload([]byte{CtrlZ})
}

// Cancel ends the data phase, discarding the payload.
func (e *Emitter) Cancel() error {
	return e.Payload([]byte{Esc})
}
