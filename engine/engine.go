// SPDX-License-Identifier: MIT

// Package engine implements the AT protocol engine for SIM800/BG95 class
// cellular modules: a pipelined command sequencer, line parser and
// connection state manager. Application requests are serialized into a
// single ordered AT command stream, each request expanding into the
// sub-command graph its dialect prescribes, with unsolicited result codes
// interleaved into the same serialized stream.
package engine

import (
	"io"
	"sync"
	"time"

	"github.com/modemlink/gsmat/at"
)

// Transport is the byte level link to the modem. The engine exclusively
// owns the transmit direction; the receive direction is consumed by the
// engine's reader goroutine.
type Transport interface {
	io.ReadWriter
}

// BaudSetter is implemented by transports that can switch line rate, used
// when the dialect raises the baudrate after reset.
type BaudSetter interface {
	SetBaudrate(bps int) error
}

// HardwareResetter is implemented by transports that expose the modem reset
// line.
type HardwareResetter interface {
	Reset(assert bool) error
}

// Config carries the engine tunables.
type Config struct {
	// MaxConns is the size of the connection table.
	MaxConns int
	// MailboxDepth bounds the number of queued requests.
	MailboxDepth int
	// CmdTimeout is the per-command response budget.
	CmdTimeout time.Duration
	// ConnIdleTimeout closes idle connections, 0 to disable.
	ConnIdleTimeout time.Duration
	// IgnoreCGACTResult tolerates a CGACT error during attach.
	IgnoreCGACTResult bool
	// SMS, Call, USSD and SSL gate the corresponding request families.
	SMS  bool
	Call bool
	USSD bool
	SSL  bool
}

// Option modifies an Engine under construction.
type Option func(*Engine)

// WithMaxConns sets the connection table size.
func WithMaxConns(n int) Option {
	return func(e *Engine) {
		e.cfg.MaxConns = n
	}
}

// WithMailboxDepth sets the request mailbox depth.
func WithMailboxDepth(n int) Option {
	return func(e *Engine) {
		e.cfg.MailboxDepth = n
	}
}

// WithCmdTimeout sets the per-command response budget.
func WithCmdTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.cfg.CmdTimeout = d
	}
}

// WithConnIdleTimeout enables the per-connection idle close timer.
func WithConnIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.cfg.ConnIdleTimeout = d
	}
}

// WithIgnoreCGACTResult tolerates CGACT failures during network attach,
// which some SIM800 firmware reports spuriously.
func WithIgnoreCGACTResult() Option {
	return func(e *Engine) {
		e.cfg.IgnoreCGACTResult = true
	}
}

// WithEventFunc sets the global event handler.
func WithEventFunc(fn EventFunc) Option {
	return func(e *Engine) {
		e.evtFn = fn
	}
}

// WithSleepFunc replaces the cooperative wait used for the delays inside
// sub-command graphs. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(e *Engine) {
		e.sleep = fn
	}
}

// WithoutSMS disables the SMS request family.
func WithoutSMS() Option {
	return func(e *Engine) {
		e.cfg.SMS = false
	}
}

// WithoutCall disables the call request family.
func WithoutCall() Option {
	return func(e *Engine) {
		e.cfg.Call = false
	}
}

// WithoutUSSD disables the USSD request family.
func WithoutUSSD() Option {
	return func(e *Engine) {
		e.cfg.USSD = false
	}
}

// WithoutSSL disables SSL connections.
func WithoutSSL() Option {
	return func(e *Engine) {
		e.cfg.SSL = false
	}
}

// Engine owns all modem state. A single long-lived goroutine runs the
// sequencer; application goroutines enqueue requests and block on the
// per-request completion channel. The engine mutex guards the connection
// table and network state for cross-thread reads; all mutation happens on
// the sequencer goroutine.
type Engine struct {
	dialect   Dialect
	transport Transport
	em        *at.Emitter

	mailbox chan *Request
	tokens  chan at.Token
	closed  chan struct{}

	evtFn EventFunc
	sleep func(time.Duration)
	cfg   Config

	mu    sync.Mutex
	conns []Conn
	net   Network

	// regSeen tracks whether a CREG/CGREG reply has been consumed since
	// reset, for dialects whose first reply is informational only.
	regSeen bool

	// pendingCMT holds a +CMT header whose message body arrives on the
	// following line.
	pendingCMT string
	// pendingMsg accumulates the +CMGL entry whose body is expected next.
	pendingMsg *Message
	// statusNum is the index of the last connection parsed from a socket
	// status scan.
	statusNum int
}

// New creates an Engine over the transport, speaking the given dialect, and
// starts its reader and sequencer goroutines. Once the transport reader
// returns EOF the engine shuts down and cannot be restarted.
func New(transport Transport, dialect Dialect, opts ...Option) *Engine {
	e := &Engine{
		dialect:   dialect,
		transport: transport,
		em:        at.NewEmitter(transport),
		closed:    make(chan struct{}),
		sleep:     time.Sleep,
		cfg: Config{
			MaxConns:     6,
			MailboxDepth: 8,
			CmdTimeout:   10 * time.Second,
			SMS:          true,
			Call:         true,
			USSD:         true,
			SSL:          true,
		},
		statusNum: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.conns = make([]Conn, e.cfg.MaxConns)
	for i := range e.conns {
		e.conns[i].num = uint8(i)
	}
	e.mailbox = make(chan *Request, e.cfg.MailboxDepth)
	e.tokens = make(chan at.Token, 64)
	go at.Stream(transport, e.tokens)
	go e.run()
	return e
}

// Closed returns a channel which blocks while the engine is alive.
func (e *Engine) Closed() <-chan struct{} {
	return e.closed
}

// Dialect returns the active dialect.
func (e *Engine) Dialect() Dialect {
	return e.dialect
}

// Emit returns the AT emitter. Only dialects, running on the sequencer
// goroutine, may transmit.
func (e *Engine) Emit() *at.Emitter {
	return e.em
}

// Delay performs a cooperative wait between sub-commands.
func (e *Engine) Delay(d time.Duration) {
	e.sleep(d)
}

// MaxConns returns the size of the connection table.
func (e *Engine) MaxConns() int {
	return e.cfg.MaxConns
}

// IgnoreCGACTResult reports whether CGACT failures are tolerated during
// attach.
func (e *Engine) IgnoreCGACTResult() bool {
	return e.cfg.IgnoreCGACTResult
}

// SetBaud switches the transport line rate, when the transport supports it.
func (e *Engine) SetBaud(bps int) error {
	if b, ok := e.transport.(BaudSetter); ok {
		return b.SetBaudrate(bps)
	}
	return nil
}

// HardwareReset drives the modem reset line, when the transport exposes it.
func (e *Engine) HardwareReset(assert bool) error {
	if r, ok := e.transport.(HardwareResetter); ok {
		return r.Reset(assert)
	}
	return nil
}

// Enqueue places the request at the tail of the mailbox without blocking.
// It fails with ResBusy when the mailbox is full, ResClosed when the engine
// has shut down, ResErr when a connection-bearing request carries a stale
// handle, and ResParam when the request family is disabled. On success the
// caller may Wait on the request.
func (e *Engine) Enqueue(req *Request) error {
	req.done = make(chan struct{})
	select {
	case <-e.closed:
		return ResClosed
	default:
	}
	switch req.Def {
	case CmdSocketOpen:
		if req.ConnStart.Type == SSL && !e.cfg.SSL {
			return ResParam
		}
	case CmdSocketSend, CmdSocketClose:
		if !e.validateRef(req.ConnOp.Ref) {
			return ResErr
		}
	case CmdSMSSend, CmdSMSList, CmdSMSDeleteAll:
		if !e.cfg.SMS {
			return ResParam
		}
	case CmdCallDial, CmdCallAnswer, CmdCallHangup:
		if !e.cfg.Call {
			return ResParam
		}
	case CmdUSSD:
		if !e.cfg.USSD {
			return ResParam
		}
	}
	select {
	case e.mailbox <- req:
		return nil
	default:
		return ResBusy
	}
}

// event delivers an event to the global handler.
func (e *Engine) event(evt Event) {
	if e.evtFn != nil {
		e.evtFn(evt)
	}
}

// run is the sequencer task. It is the only goroutine that mutates engine
// state: it executes requests one at a time in FIFO order and processes
// unsolicited lines while idle.
func (e *Engine) run() {
	for {
		select {
		case req := <-e.mailbox:
			e.execute(req)
		case tok, ok := <-e.tokens:
			if !ok {
				e.shutdown()
				return
			}
			x := &Exchange{E: e}
			e.handleToken(x, tok)
		}
	}
}

// shutdown fails queued requests and marks the engine closed.
func (e *Engine) shutdown() {
	for {
		select {
		case req := <-e.mailbox:
			e.finish(req, ResClosed)
		default:
			close(e.closed)
			return
		}
	}
}
