// SPDX-License-Identifier: MIT

package engine

import (
	"net"

	"github.com/modemlink/gsmat/info"
)

// Registration is a circuit or packet switched network registration state,
// as reported by CREG/CGREG.
type Registration uint8

const (
	// RegNone means not registered and not searching.
	RegNone Registration = iota
	// RegConnected means registered on the home network.
	RegConnected
	// RegSearching means not registered, searching for an operator.
	RegSearching
	// RegDenied means registration was denied.
	RegDenied
	// RegUnknown means the state is unknown.
	RegUnknown
	// RegConnectedRoaming means registered on a visited network.
	RegConnectedRoaming
)

func (r Registration) String() string {
	switch r {
	case RegConnected:
		return "registered"
	case RegSearching:
		return "searching"
	case RegDenied:
		return "denied"
	case RegUnknown:
		return "unknown"
	case RegConnectedRoaming:
		return "roaming"
	}
	return "not registered"
}

// registrationFromStat maps a CREG/CGREG <stat> value.
func registrationFromStat(stat int) Registration {
	switch stat {
	case 1:
		return RegConnected
	case 2:
		return RegSearching
	case 3:
		return RegDenied
	case 4:
		return RegUnknown
	case 5:
		return RegConnectedRoaming
	}
	return RegNone
}

// Network holds the packet network state. It is mutated only on the
// sequencer goroutine; cross-thread reads go through the engine accessors,
// which take the engine mutex.
type Network struct {
	attached bool
	creg     Registration
	cgreg    Registration
	operator string
	ip       net.IP
}

// IsAttached reports whether the PDP context is active.
func (e *Engine) IsAttached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.attached
}

// Registration returns the current packet registration state.
func (e *Engine) Registration() Registration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.cgreg
}

// OperatorInfo returns the operator/network info string, if known.
func (e *Engine) OperatorInfo() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.operator
}

// LocalIP returns the address assigned to the PDP context, if known.
func (e *Engine) LocalIP() net.IP {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.net.ip
}

// SetAttached records the attachment state. Each change emits exactly one
// attached/detached event; redundant updates are silent.
func (e *Engine) SetAttached(attached bool) {
	e.mu.Lock()
	changed := e.net.attached != attached
	e.net.attached = attached
	e.mu.Unlock()
	if !changed {
		return
	}
	t := EventNetworkDetached
	if attached {
		t = EventNetworkAttached
	}
	e.event(Event{Type: t, Res: ResOK})
}

// SetLocalIP records the PDP context address.
func (e *Engine) SetLocalIP(ip net.IP) {
	e.mu.Lock()
	e.net.ip = ip
	e.mu.Unlock()
}

// SetOperatorInfo records the operator/network info string and notifies the
// application.
func (e *Engine) SetOperatorInfo(s string) {
	e.mu.Lock()
	e.net.operator = s
	e.mu.Unlock()
	e.event(Event{Type: EventNetworkInfo, Res: ResOK, Info: s})
}

// parseReg handles a +CREG/+CGREG line, either a query reply
// ("+CGREG: <n>,<stat>") or an unsolicited report ("+CGREG: <stat>").
// When the dialect declares the first reply after reset informational only,
// it is consumed without updating state.
func (e *Engine) parseReg(line, tag string) {
	sc := info.NewScanner(info.TrimPrefix(line, tag))
	first := sc.Number()
	stat := first
	if sc.More() {
		stat = sc.Number()
	}
	if e.dialect.Profile().SkipFirstRegPoll && !e.regSeen {
		e.regSeen = true
		return
	}
	e.regSeen = true
	reg := registrationFromStat(stat)
	e.mu.Lock()
	if tag == "+CREG" {
		e.net.creg = reg
	} else {
		e.net.cgreg = reg
	}
	e.mu.Unlock()
}
