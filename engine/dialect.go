// SPDX-License-Identifier: MIT

package engine

// Profile is the constant description of a modem dialect: the mapping of
// generic verbs to AT commands, the literal forms that differ by family,
// and the bring-up quirks the sequencer must honor.
type Profile struct {
	Name string

	// Generic verb mapping.
	SocketOpen   Cmd
	SocketSend   Cmd
	SocketClose  Cmd
	SocketStatus Cmd

	// AttachFirst is the first sub-command of the network attach graph.
	AttachFirst Cmd

	// CGACT literal forms ("+CGACT=0" vs "+CGACT=0,1").
	CGACTSet0 string
	CGACTSet1 string

	// SkipFirstRegPoll marks the first CREG/CGREG reply during bring-up as
	// informational only.
	SkipFirstRegPoll bool

	// HighBaudrate is the rate switched to after reset, 0 to stay put.
	HighBaudrate int

	// ScanHighToLow selects the connection slot allocation order.
	ScanHighToLow bool

	// Board wiring for the power and reset lines, where the transport
	// exposes them.
	ResetGPIO int
	PowerGPIO int

	PowerOn  func(e *Engine)
	PowerOff func(e *Engine)
	Reset    func(e *Engine)
}

// Dialect binds the sequencer to one modem family. All decisions that
// differ between families route through this interface; exactly one Dialect
// is active per engine and it is selected at init.
//
// All methods are invoked on the sequencer goroutine.
type Dialect interface {
	// Profile returns the static dialect description.
	Profile() *Profile

	// Initiate formats and emits the AT line for x.Req.Cur, returning
	// ResOK once the command is on the wire, or an error result if the
	// command is not valid for this modem or its arguments are rejected.
	Initiate(x *Exchange) Result

	// ProcessSub advances the request graph after a terminal status. It
	// selects the next sub-command with x.SetNext/x.SetNextCheckError, or
	// leaves none set to complete the request from the status flags.
	ProcessSub(x *Exchange)

	// ParsePlus inspects a received line during command processing. It
	// handles +TAG responses and the untagged URCs of the family, and may
	// set or suppress the terminal status flags (the early-OK reordering
	// of CIPSTATUS/CIPSTART/CIPSEND/CUSD lives here).
	ParsePlus(x *Exchange, line string)

	// ParseSocketStatus parses one line of socket status output
	// (C:/STATE: on SIM800, +QISTATE: on BG95).
	ParseSocketStatus(x *Exchange, line string)
}

// Exchange is the mutable context a dialect works against while one
// sub-command is processed: the engine, the in-flight request (nil when a
// line arrives idle), and the terminal status flags of the current cycle.
type Exchange struct {
	E   *Engine
	Req *Request

	// OK and Errored are the terminal flags of the current cycle. ParsePlus
	// may set them early (a decisive +TAG line) or clear them (a premature
	// OK that precedes the decisive data).
	OK      bool
	Errored bool
	// ErrLine is the line that set Errored, when it was a status line.
	ErrLine string

	next    Cmd
	failRes Result
}

// SetNext schedules the next sub-command unconditionally.
func (x *Exchange) SetNext(c Cmd) {
	x.next = c
}

// SetNextCheckError schedules the next sub-command only if the completed one
// did not error; otherwise the request aborts with the error.
func (x *Exchange) SetNextCheckError(c Cmd) {
	if x.Errored {
		return
	}
	x.next = c
}

// Fail records a specific failure result for the request, overriding the
// generic error mapping.
func (x *Exchange) Fail(res Result) {
	x.Errored = true
	x.OK = false
	x.failRes = res
}

// failResult maps the terminal flags to the request result.
func (x *Exchange) failResult() Result {
	if x.failRes != ResOK {
		return x.failRes
	}
	return ResErr
}
