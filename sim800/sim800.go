// SPDX-License-Identifier: MIT

// Package sim800 implements the SIMCom SIM800 dialect: multi-connection
// TCP/UDP over the CIP command family, SSL via CIPSSL, and the attach
// sequence built on CSTT/CIICR/CIFSR.
package sim800

import (
	"net"
	"strings"
	"time"

	"github.com/modemlink/gsmat/engine"
	"github.com/modemlink/gsmat/info"
)

// Dialect is the SIM800 binding for the engine.
type Dialect struct {
	profile engine.Profile
}

// New creates the SIM800 dialect.
func New() *Dialect {
	return &Dialect{
		profile: engine.Profile{
			Name:         "sim800",
			SocketOpen:   engine.CmdCIPSTART,
			SocketSend:   engine.CmdCIPSEND,
			SocketClose:  engine.CmdCIPCLOSE,
			SocketStatus: engine.CmdCIPSTATUS,
			AttachFirst:  engine.CmdCGACTSet0,
			CGACTSet0:    "+CGACT=0",
			CGACTSet1:    "+CGACT=1",
			HighBaudrate: 460800,
			ResetGPIO:    100,
			PowerGPIO:    101,
		},
	}
}

// Profile returns the static dialect description.
func (d *Dialect) Profile() *engine.Profile {
	return &d.profile
}

// Initiate formats and emits the AT line for the request's current command.
func (d *Dialect) Initiate(x *engine.Exchange) engine.Result {
	e := x.E
	req := x.Req
	em := e.Emit()
	switch req.Cur {
	case engine.CmdCIPSHUT:
		if err := em.Line("+CIPSHUT"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPMUX:
		if err := em.Line("+CIPMUX=1"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPHEAD:
		if err := em.Line("+CIPHEAD=1"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPSRIP:
		if err := em.Line("+CIPSRIP=1"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPRXGET:
		if err := em.Line("+CIPRXGET=0"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCSTT:
		em.Begin()
		em.Const("+CSTT=")
		em.String(x.Req.Attach.APN, true, true, false)
		em.String(x.Req.Attach.User, true, true, true)
		em.String(x.Req.Attach.Pass, true, true, true)
		if err := em.End(); err != nil {
			return resultFor(err)
		}
	case engine.CmdCIICR:
		if err := em.Line("+CIICR"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIFSR:
		if err := em.Line("+CIFSR"); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPSSL:
		em.Begin()
		em.Const("+CIPSSL=")
		if req.ConnStart.Type == engine.SSL {
			em.Number(1, false, false)
		} else {
			em.Number(0, false, false)
		}
		if err := em.End(); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPSTART:
		num, ok := e.FindFreeConn()
		if !ok {
			e.SendConnError(req, engine.ResNoFreeConn)
			return engine.ResNoFreeConn
		}
		req.ConnStart.Num = num
		em.Begin()
		em.Const("+CIPSTART=")
		em.Number(int64(num), false, false)
		if req.ConnStart.Type == engine.UDP {
			em.String("UDP", false, true, true)
		} else {
			em.String("TCP", false, true, true)
		}
		em.String(req.ConnStart.Host, false, true, true)
		em.Port(req.ConnStart.Port, false, true)
		if err := em.End(); err != nil {
			return resultFor(err)
		}
	case engine.CmdCIPCLOSE:
		if !e.ValidateRef(req.ConnOp.Ref) {
			return engine.ResErr
		}
		em.Begin()
		em.Const("+CIPCLOSE=")
		em.Number(int64(req.ConnOp.Ref.Num()), false, false)
		if err := em.End(); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPSEND:
		if !e.ValidateRef(req.ConnOp.Ref) {
			return engine.ResErr
		}
		em.Begin()
		em.Const("+CIPSEND=")
		em.Number(int64(req.ConnOp.Ref.Num()), false, false)
		em.Number(int64(len(req.ConnOp.Data)), false, true)
		if err := em.End(); err != nil {
			return engine.ResErr
		}
	case engine.CmdCIPSTATUS:
		if err := em.Line("+CIPSTATUS"); err != nil {
			return engine.ResErr
		}
	default:
		return engine.ResErr
	}
	return engine.ResOK
}

func resultFor(err error) engine.Result {
	if err == nil {
		return engine.ResOK
	}
	return engine.ResParam
}

// attachStep is one edge of the network attach graph: the command scheduled
// once step i completes, and whether an error in the completed step aborts
// the request.
type attachStep struct {
	next  engine.Cmd
	check bool
}

// ProcessSub advances the request graph after a terminal status.
func (d *Dialect) ProcessSub(x *engine.Exchange) {
	e := x.E
	req := x.Req
	switch req.Def {
	case engine.CmdReset:
		switch req.Cur {
		case engine.CmdATZ:
			x.SetNext(engine.CmdCPINGet)
		case engine.CmdCPINGet:
			if d.profile.HighBaudrate > 0 {
				x.SetNext(engine.CmdIPR)
			} else {
				x.SetNext(engine.CmdCLCCSet)
			}
		case engine.CmdIPR:
			e.Delay(500 * time.Millisecond)
			e.SetBaud(d.profile.HighBaudrate)
			x.SetNext(engine.CmdCLCCSet)
		}

	case engine.CmdNetworkAttach:
		steps := []attachStep{
			{engine.CmdCGACTSet1, false},
			{engine.CmdCGATTSet0, !e.IgnoreCGACTResult()},
			{engine.CmdCGATTSet1, false},
			{engine.CmdCIPSHUT, true},
			{engine.CmdCIPMUX, true},
			{engine.CmdCIPRXGET, true},
			{engine.CmdCSTT, true},
			{engine.CmdCIICR, true},
			{engine.CmdCIFSR, true},
			{engine.CmdCIPSTATUS, true},
		}
		if req.I < len(steps) {
			if steps[req.I].check {
				x.SetNextCheckError(steps[req.I].next)
			} else {
				x.SetNext(steps[req.I].next)
			}
		}
		// past the table the final CIPSTATUS scan decided the flags and
		// reported the attachment state.

	case engine.CmdNetworkDetach:
		switch req.I {
		case 0:
			x.SetNext(engine.CmdCGACTSet0)
		case 1:
			x.SetNext(engine.CmdCIPSTATUS)
		default:
			e.SetAttached(false)
			x.OK = true
		}

	case engine.CmdSocketOpen:
		switch {
		case req.I == 0 && req.Cur == engine.CmdCIPSTATUS:
			if x.OK {
				x.SetNext(engine.CmdCIPSSL)
			}
		case req.I == 1 && req.Cur == engine.CmdCIPSSL:
			x.SetNext(engine.CmdCIPSTART)
		case req.I == 2 && req.Cur == engine.CmdCIPSTART:
			if x.Errored {
				req.ConnStart.Res = engine.ConnResError
			}
			x.SetNext(engine.CmdCIPSTATUS)
		case req.I == 3 && req.Cur == engine.CmdCIPSTATUS:
			// the second status scan takes the terminal decision from the
			// connection result reported by the CIPSTART URCs.
			switch req.ConnStart.Res {
			case engine.ConnResOK:
				e.NotifyConnActive(req.ConnStart.Num)
			case engine.ConnResError:
				e.SendConnError(req, engine.ResConnFail)
				x.Fail(engine.ResConnFail)
			}
		}

	case engine.CmdSocketClose:
		// The modem is observed to sometimes return ERROR on close while
		// the socket is in fact gone, with no close URC following. Possibly
		// a firmware bug; treat the connection as closed either way.
		res := engine.ResOK
		if x.Errored {
			res = engine.ResErr
		}
		e.CloseConnSlot(uint8(req.ConnOp.Ref.Num()), req.ConnOp.Forced, res)
	}
}

// ParsePlus inspects a received line during command processing, handling
// the CIP family's early-OK reordering: for CIPSTATUS, CIPSTART, CIPSEND
// and CUSD the OK precedes the decisive data and is treated as
// confirmation, not as the terminal signal.
func (d *Dialect) ParsePlus(x *engine.Exchange, line string) {
	e := x.E
	req := x.Req
	if req == nil {
		return
	}
	switch req.Cur {
	case engine.CmdCIPSTATUS:
		if x.OK {
			x.OK = false
		}
		if strings.HasPrefix(line, "C: ") || strings.HasPrefix(line, "STATE:") {
			d.ParseSocketStatus(x, line)
		}
	case engine.CmdCIPSTART:
		if x.OK {
			x.OK = false
		}
		d.parseConnectResult(x, line)
	case engine.CmdCIPSEND:
		if x.OK {
			x.OK = false
		}
		switch {
		case line == "SEND OK":
			x.OK = true
		case line == "SEND FAIL":
			x.Fail(engine.ResErr)
		case strings.HasPrefix(line, "DATA ACCEPT"):
			x.OK = true
		}
	case engine.CmdCIPCLOSE:
		if line == "CLOSE OK" || strings.HasSuffix(line, ", CLOSE OK") {
			x.OK = true
		}
	case engine.CmdCIPSHUT:
		// CIPSHUT acknowledges with SHUT OK instead of OK.
		if line == "SHUT OK" {
			x.OK = true
		}
	case engine.CmdCIFSR:
		// CIFSR answers with the bare address and no status line.
		if ip := net.ParseIP(line); ip != nil {
			e.SetLocalIP(ip)
			x.OK = true
		}
	case engine.CmdCUSD:
		if line == "OK" {
			x.OK = false
		}
		if line == "CUSTOM_OK" {
			x.OK = true
		}
	}
}

// parseConnectResult handles the "<n>, CONNECT OK/FAIL" and
// "<n>, ALREADY CONNECT" URCs that decide a CIPSTART.
func (d *Dialect) parseConnectResult(x *engine.Exchange, line string) {
	e := x.E
	req := x.Req
	if len(line) < 4 || line[0] < '0' || line[0] > '9' || line[1] != ',' || line[2] != ' ' {
		return
	}
	num := line[0] - '0'
	if int(num) >= e.MaxConns() {
		return
	}
	switch line[3:] {
	case "CONNECT OK":
		c := e.ActivateConn(num, req.ConnStart.Type, req.ConnStart.Fn, req.ConnStart.Arg)
		req.ConnStart.Num = num
		req.ConnStart.Res = engine.ConnResOK
		req.ConnStart.Ref = c.Ref()
		x.OK = true
	case "CONNECT FAIL":
		req.ConnStart.Res = engine.ConnResError
		x.Errored = true
	case "ALREADY CONNECT":
		req.ConnStart.Res = engine.ConnResAlready
		x.Errored = true
	}
}

// ParseSocketStatus parses one line of CIPSTATUS output. The general
// "STATE:" line carries the PDP context state; "C:" lines enumerate the
// connection table, and the scan terminates once the last slot is seen or
// the context reports IP INITIAL (no further lines follow that state).
func (d *Dialect) ParseSocketStatus(x *engine.Exchange, line string) {
	e := x.E
	if strings.HasPrefix(line, "STATE:") {
		state := strings.TrimSpace(line[6:])
		attached := true
		switch state {
		case "IP INITIAL":
			attached = false
			x.OK = true
		case "PDP DEACT":
			attached = false
		}
		e.SetAttached(attached)
		return
	}
	if !strings.HasPrefix(line, "C: ") {
		return
	}
	sc := info.NewScanner(line[3:])
	num := sc.Number()
	sc.Number() // bearer
	typ := engine.TCP
	if sc.String() == "UDP" {
		typ = engine.UDP
	}
	ip := sc.IP()
	port := uint16(sc.Number())
	state := sc.String()
	e.RecordSocketStatus(num, typ, ip, port, 0)
	if state == "CLOSED" {
		e.CloseConnSlot(uint8(num), false, engine.ResOK)
	}
	if num == e.MaxConns()-1 {
		x.OK = true
	}
}
