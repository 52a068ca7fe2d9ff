// SPDX-License-Identifier: MIT

package engine

// EventType identifies an application event.
type EventType uint8

const (
	// EventReset reports completion of a device reset sequence.
	EventReset EventType = iota
	// EventNetworkAttached reports the PDP context became active.
	EventNetworkAttached
	// EventNetworkDetached reports the PDP context became inactive.
	EventNetworkDetached
	// EventNetworkInfo reports operator/network information.
	EventNetworkInfo
	// EventSIMState reports a +CPIN SIM state indication.
	EventSIMState
	// EventConnActive reports a connection became active.
	EventConnActive
	// EventConnClose reports a connection closed.
	EventConnClose
	// EventConnRecv delivers an inbound data frame.
	EventConnRecv
	// EventConnSend reports completion of a send on a connection.
	EventConnSend
	// EventConnError reports a failed connection attempt.
	EventConnError
	// EventSMSRecv reports an inbound SMS (+CMT content or +CMTI index).
	EventSMSRecv
	// EventCallRing reports an incoming call RING.
	EventCallRing
	// EventCallChanged reports a call state change (+CLCC or a call final).
	EventCallChanged
	// EventUSSD reports an unsolicited +CUSD response.
	EventUSSD
	// EventError reports a stream level failure such as a line overflow.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventReset:
		return "reset"
	case EventNetworkAttached:
		return "network attached"
	case EventNetworkDetached:
		return "network detached"
	case EventNetworkInfo:
		return "network info"
	case EventSIMState:
		return "sim state"
	case EventConnActive:
		return "conn active"
	case EventConnClose:
		return "conn close"
	case EventConnRecv:
		return "conn recv"
	case EventConnSend:
		return "conn send"
	case EventConnError:
		return "conn error"
	case EventSMSRecv:
		return "sms recv"
	case EventCallRing:
		return "call ring"
	case EventCallChanged:
		return "call changed"
	case EventUSSD:
		return "ussd"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event carries one application notification. Conn fields are only valid for
// connection events.
type Event struct {
	Type   EventType
	Res    Result
	Ref    ConnRef
	Client bool
	// Forced distinguishes locally initiated closes (true) from peer or
	// modem initiated ones. On EventConnActive it mirrors the client flag
	// of the underlying request, matching the wire-observable behavior of
	// the modem firmware.
	Forced bool
	Data   []byte
	Info   string
	// Index is the storage index for +CMTI style SMS notifications.
	Index int
}

// EventFunc receives application events. It is invoked on the sequencer
// goroutine; implementations must not block and must not issue blocking
// engine operations.
type EventFunc func(evt Event)
