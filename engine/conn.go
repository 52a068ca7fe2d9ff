// SPDX-License-Identifier: MIT

package engine

import (
	"net"
	"time"
)

// ConnType identifies the transport protocol of a connection.
type ConnType uint8

const (
	// TCP connection.
	TCP ConnType = iota
	// UDP connection.
	UDP
	// SSL is TCP over TLS.
	SSL
)

func (t ConnType) String() string {
	switch t {
	case UDP:
		return "UDP"
	case SSL:
		return "SSL"
	}
	return "TCP"
}

// ConnRes records the connection outcome reported by the modem during a
// socket open request.
type ConnRes uint8

const (
	// ConnResNone means no outcome has been reported yet.
	ConnResNone ConnRes = iota
	// ConnResOK means the modem reported CONNECT OK / +QIOPEN success.
	ConnResOK
	// ConnResError means the modem reported CONNECT FAIL / +QIOPEN error.
	ConnResError
	// ConnResAlready means the modem reported ALREADY CONNECT.
	ConnResAlready
)

// Conn is one slot of the connection table. Slots are owned by the engine;
// applications hold ConnRef handles and never touch slots directly. When a
// slot is inactive its remaining fields are undefined.
type Conn struct {
	num        uint8
	valID      uint8
	active     bool
	client     bool
	inClosing  bool
	typ        ConnType
	remoteIP   net.IP
	remotePort uint16
	localPort  uint16
	fn         EventFunc
	arg        interface{}
	idle       time.Duration
	timer      *time.Timer
}

// Num returns the slot index.
func (c *Conn) Num() int {
	return int(c.num)
}

// Type returns the connection type.
func (c *Conn) Type() ConnType {
	return c.typ
}

// RemoteIP returns the peer address, if known.
func (c *Conn) RemoteIP() net.IP {
	return c.remoteIP
}

// RemotePort returns the peer port, if known.
func (c *Conn) RemotePort() uint16 {
	return c.remotePort
}

// LocalPort returns the local port, if known.
func (c *Conn) LocalPort() uint16 {
	return c.localPort
}

// Arg returns the user argument supplied when the connection was opened.
func (c *Conn) Arg() interface{} {
	return c.arg
}

// Ref returns a generation-stamped handle for the slot.
func (c *Conn) Ref() ConnRef {
	return ConnRef{num: c.num, valID: c.valID, ok: true}
}

// ConnRef is an application handle to a connection slot. The embedded
// generation counter detects references that outlive the connection: a slot
// is reused after close, its generation is bumped, and operations holding
// the old handle fail without touching modem state.
type ConnRef struct {
	num   uint8
	valID uint8
	ok    bool
}

// Num returns the slot index the handle refers to.
func (r ConnRef) Num() int {
	return int(r.num)
}

// Valid reports whether the handle was ever bound to a connection. It does
// not imply the connection is still active.
func (r ConnRef) Valid() bool {
	return r.ok
}

// FindFreeConn scans for an inactive slot in the dialect's preferred order
// and returns its index. It does not reserve the slot; activation happens
// when the modem confirms the connection.
func (e *Engine) FindFreeConn() (uint8, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dialect.Profile().ScanHighToLow {
		for i := len(e.conns) - 1; i >= 0; i-- {
			if !e.conns[i].active {
				return uint8(i), true
			}
		}
		return 0, false
	}
	for i := 0; i < len(e.conns); i++ {
		if !e.conns[i].active {
			return uint8(i), true
		}
	}
	return 0, false
}

// Conn returns the slot with the given index, or nil if out of range.
// The returned pointer is only safe to use from the sequencer goroutine.
func (e *Engine) Conn(num uint8) *Conn {
	if int(num) >= len(e.conns) {
		return nil
	}
	return &e.conns[num]
}

// ActivateConn resets the slot for a fresh connection, bumps its generation
// and marks it active. Called by dialects when the modem confirms a
// connection (CONNECT OK, +QIOPEN success).
func (e *Engine) ActivateConn(num uint8, typ ConnType, fn EventFunc, arg interface{}) *Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &e.conns[num]
	id := c.valID + 1
	*c = Conn{num: num, valID: id, active: true, client: true, typ: typ, fn: fn, arg: arg}
	return c
}

// ValidateRef reports whether the handle still refers to the live
// connection it was created for. A handle carrying a stale generation must
// be rejected without touching modem state.
func (e *Engine) ValidateRef(ref ConnRef) bool {
	return e.validateRef(ref)
}

// CloseConnSlot marks the slot inactive and emits the close event.
// A no-op if the slot is already inactive.
func (e *Engine) CloseConnSlot(num uint8, forced bool, res Result) {
	e.closeSlot(num, forced, res)
}

// NotifyConnActive emits the active event for an established connection and
// arms its idle timer.
func (e *Engine) NotifyConnActive(num uint8) {
	e.mu.Lock()
	c := &e.conns[num]
	ref := c.Ref()
	fn := c.fn
	e.mu.Unlock()
	e.dispatch(fn, Event{Type: EventConnActive, Res: ResOK, Ref: ref, Client: true, Forced: true})
	e.StartConnTimer(num)
}

// RecordSocketStatus updates the passive attributes of a slot from a status
// scan line and notes the scan position for the dialect's termination rule.
func (e *Engine) RecordSocketStatus(num int, typ ConnType, ip net.IP, remotePort, localPort uint16) {
	if num < 0 || num >= len(e.conns) {
		return
	}
	e.mu.Lock()
	c := &e.conns[num]
	c.typ = typ
	if ip != nil {
		c.remoteIP = ip
	}
	c.remotePort = remotePort
	c.localPort = localPort
	e.mu.Unlock()
	e.statusNum = num
}

// StatusScanNum returns the index of the last connection parsed in the
// current status scan, or -1.
func (e *Engine) StatusScanNum() int {
	return e.statusNum
}

// validateRef reports whether the handle still refers to the live
// connection it was created for.
func (e *Engine) validateRef(ref ConnRef) bool {
	if !ref.ok || int(ref.num) >= len(e.conns) {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	c := &e.conns[ref.num]
	return c.active && c.valID == ref.valID
}

// closeSlot marks the slot inactive, stops its idle timer, and emits the
// close event. A no-op if the slot is already inactive.
func (e *Engine) closeSlot(num uint8, forced bool, res Result) {
	if int(num) >= len(e.conns) {
		return
	}
	e.mu.Lock()
	c := &e.conns[num]
	if !c.active {
		e.mu.Unlock()
		return
	}
	ref := c.Ref()
	client := c.client
	fn := c.fn
	c.active = false
	c.inClosing = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	e.mu.Unlock()
	e.dispatch(fn, Event{Type: EventConnClose, Res: res, Ref: ref, Client: client, Forced: forced})
}

// StartConnTimer arms the idle timeout of a connection, if one is
// configured. On expiry a forced close request is enqueued on behalf of the
// application. The timer is restarted on inbound data.
func (e *Engine) StartConnTimer(num uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if int(num) >= len(e.conns) {
		return
	}
	c := &e.conns[num]
	if !c.active {
		return
	}
	if c.idle == 0 {
		c.idle = e.cfg.ConnIdleTimeout
	}
	if c.idle == 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	ref := c.Ref()
	c.timer = time.AfterFunc(c.idle, func() {
		req := NewConnCloseRequest(ref)
		req.ConnOp.Forced = true
		e.Enqueue(req)
	})
}

// deliverRecv dispatches an inbound data frame to the owning connection and
// restarts its idle timer. Frames for unknown or inactive slots are dropped.
func (e *Engine) deliverRecv(num int, data []byte) {
	if num < 0 || num >= len(e.conns) {
		return
	}
	e.mu.Lock()
	c := &e.conns[num]
	if !c.active {
		e.mu.Unlock()
		return
	}
	ref := c.Ref()
	fn := c.fn
	e.mu.Unlock()
	e.dispatch(fn, Event{Type: EventConnRecv, Res: ResOK, Ref: ref, Data: data})
	e.StartConnTimer(uint8(num))
}

// SendConnError reports a failed connection attempt to the requester's
// callback.
func (e *Engine) SendConnError(req *Request, res Result) {
	e.dispatch(req.ConnStart.Fn, Event{Type: EventConnError, Res: res})
}

// dispatch delivers an event to the per-connection callback, or the global
// one if the connection has none.
func (e *Engine) dispatch(fn EventFunc, evt Event) {
	if fn == nil {
		fn = e.evtFn
	}
	if fn != nil {
		fn(evt)
	}
}
