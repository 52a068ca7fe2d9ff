// SPDX-License-Identifier: MIT

// Package trace provides a decorator for io.ReadWriter that logs all reads
// and writes, for observing the AT exchange on the wire.
package trace

import (
	"fmt"
	"io"
	"log"
)

// Trace is a trace log on an io.ReadWriter.
// All reads and writes are written to the logger.
type Trace struct {
	rw      io.ReadWriter
	l       *log.Logger
	wfmt    string
	rfmt    string
	escaped bool
}

// Option modifies a Trace object created by New.
type Option func(*Trace)

// New creates a new trace on the io.ReadWriter.
func New(rw io.ReadWriter, l *log.Logger, opts ...Option) *Trace {
	t := &Trace{rw: rw, l: l, wfmt: "w: %s", rfmt: "r: %s"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ReadFormat sets the format used for read logs.
func ReadFormat(format string) Option {
	return func(t *Trace) {
		t.rfmt = format
	}
}

// WriteFormat sets the format used for write logs.
func WriteFormat(format string) Option {
	return func(t *Trace) {
		t.wfmt = format
	}
}

// Escaped renders the traffic as quoted strings, making the CR/LF framing
// and the Ctrl-Z/Esc data phase terminators of the AT protocol visible.
func Escaped() Option {
	return func(t *Trace) {
		t.escaped = true
	}
}

func (t *Trace) log(format string, p []byte) {
	if t.escaped {
		t.l.Printf(format, fmt.Sprintf("%q", p))
		return
	}
	t.l.Printf(format, p)
}

func (t *Trace) Read(p []byte) (n int, err error) {
	n, err = t.rw.Read(p)
	if n > 0 {
		t.log(t.rfmt, p[:n])
	}
	return n, err
}

func (t *Trace) Write(p []byte) (n int, err error) {
	n, err = t.rw.Write(p)
	if n > 0 {
		t.log(t.wfmt, p[:n])
	}
	return n, err
}
