// SPDX-License-Identifier: MIT

// Package bg95 implements the Quectel BG95 dialect: TCP/UDP over the QI
// command family, PDP activation via QICSGP/QIACT, and the asynchronous
// +QIOPEN connect result.
package bg95

import (
	"strings"
	"time"

	"github.com/modemlink/gsmat/engine"
	"github.com/modemlink/gsmat/info"
)

// qiactRetryBound is the attach request's sub-command cycle count
// (registration polls included) from which a failed QIACT? ends the request
// instead of retrying activation.
const qiactRetryBound = 20

// qistatePollBound caps the QISTATE polls awaiting a connect decision.
const qistatePollBound = 6

// Dialect is the BG95 binding for the engine.
type Dialect struct {
	profile engine.Profile
}

// New creates the BG95 dialect.
func New() *Dialect {
	return &Dialect{
		profile: engine.Profile{
			Name:             "bg95",
			SocketOpen:       engine.CmdQIOPEN,
			SocketSend:       engine.CmdQISEND,
			SocketClose:      engine.CmdQICLOSE,
			SocketStatus:     engine.CmdQISTATE,
			AttachFirst:      engine.CmdCGREGGet,
			CGACTSet0:        "+CGACT=0,1",
			CGACTSet1:        "+CGACT=1,1",
			SkipFirstRegPoll: true,
			HighBaudrate:     921600,
			ResetGPIO:        100,
			PowerGPIO:        101,
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
	case engine.CmdQCFGNwScanMode:
		if err := em.Line(`+QCFG="nwscanmode",0,1`); err != nil {
			return engine.ResErr
		}
	case engine.CmdQCFGNwScanSeq:
		if err := em.Line(`+QCFG="nwscanseq",00`); err != nil {
			return engine.ResErr
		}
	case engine.CmdQCFGBand:
		if err := em.Line(`+QCFG="band",F,100002000000000F0E389F,100042000000000B0E189F,1`); err != nil {
			return engine.ResErr
		}
	case engine.CmdQICFGRetrans:
		if err := em.Line(`+QICFG="tcp/retranscfg",20,200`); err != nil {
			return engine.ResErr
		}
	case engine.CmdATS10:
		if err := em.Line("S10=15"); err != nil {
			return engine.ResErr
		}
	case engine.CmdQNWINFO:
		if err := em.Line("+QNWINFO"); err != nil {
			return engine.ResErr
		}
	case engine.CmdQICSGP:
		em.Begin()
		em.Const("+QICSGP=1,1")
		em.String(req.Attach.APN, true, true, true)
		em.String(req.Attach.User, true, true, true)
		em.String(req.Attach.Pass, true, true, true)
		if err := em.End(); err != nil {
			return engine.ResParam
		}
	case engine.CmdQIACTSet:
		if err := em.Line("+QIACT=1"); err != nil {
			return engine.ResErr
		}
	case engine.CmdQIACTGet:
		if err := em.Line("+QIACT?"); err != nil {
			return engine.ResErr
		}
	case engine.CmdQISTATE:
		if err := em.Line("+QISTATE"); err != nil {
			return engine.ResErr
		}
	case engine.CmdQIOPEN:
		num, ok := e.FindFreeConn()
		if !ok {
			e.SendConnError(req, engine.ResNoFreeConn)
			return engine.ResNoFreeConn
		}
		req.ConnStart.Num = num
		em.Begin()
		em.Const("+QIOPEN=1")
		em.Number(int64(num), false, true)
		if req.ConnStart.Type == engine.UDP {
			em.String("UDP", false, true, true)
		} else {
			em.String("TCP", false, true, true)
		}
		em.String(req.ConnStart.Host, false, true, true)
		em.Port(req.ConnStart.Port, false, true)
		// local port 0: assigned automatically for TCP/UDP service types.
		em.Number(0, false, true)
		if err := em.End(); err != nil {
			return engine.ResParam
		}
	case engine.CmdQICLOSE:
		if !e.ValidateRef(req.ConnOp.Ref) {
			return engine.ResErr
		}
		em.Begin()
		em.Const("+QICLOSE=")
		em.Number(int64(req.ConnOp.Ref.Num()), false, false)
		if err := em.End(); err != nil {
			return engine.ResErr
		}
	case engine.CmdQISEND:
		if !e.ValidateRef(req.ConnOp.Ref) {
			return engine.ResErr
		}
		em.Begin()
		em.Const("+QISEND=")
		em.Number(int64(req.ConnOp.Ref.Num()), false, false)
		em.Number(int64(len(req.ConnOp.Data)), false, true)
		if err := em.End(); err != nil {
			return engine.ResErr
		}
	default:
		return engine.ResErr
	}
	return engine.ResOK
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
				x.SetNext(engine.CmdQCFGNwScanMode)
			}
		case engine.CmdIPR:
			e.Delay(500 * time.Millisecond)
			e.SetBaud(d.profile.HighBaudrate)
			x.SetNext(engine.CmdQCFGNwScanMode)
		case engine.CmdQCFGNwScanMode:
			x.SetNext(engine.CmdQCFGNwScanSeq)
		case engine.CmdQCFGNwScanSeq:
			x.SetNext(engine.CmdQCFGBand)
		case engine.CmdQCFGBand:
			x.SetNext(engine.CmdQICFGRetrans)
		case engine.CmdQICFGRetrans:
			x.SetNext(engine.CmdATS10)
		}

	case engine.CmdNetworkAttach:
		switch req.Cur {
		case engine.CmdCGREGGet:
			switch e.Registration() {
			case engine.RegConnected, engine.RegConnectedRoaming, engine.RegUnknown:
				x.SetNext(engine.CmdQNWINFO)
			default:
				e.Delay(3 * time.Second)
				x.SetNext(engine.CmdCGREGGet)
			}
		case engine.CmdQNWINFO:
			x.SetNext(engine.CmdQICSGP)
		case engine.CmdQICSGP:
			x.SetNext(engine.CmdQIACTSet)
		case engine.CmdQIACTSet:
			// QIACT reports ERROR when the context is already active;
			// the query that follows decides either way.
			x.SetNext(engine.CmdQIACTGet)
		case engine.CmdQIACTGet:
			if !e.IsAttached() {
				if req.I >= qiactRetryBound {
					x.Fail(engine.ResNotAttached)
					return
				}
				e.Delay(100 * time.Millisecond)
				x.SetNext(engine.CmdQIACTSet)
			}
		}

	case engine.CmdNetworkDetach:
		switch req.I {
		case 0:
			x.SetNext(engine.CmdCGACTSet0)
		case 1:
			x.SetNext(engine.CmdQISTATE)
		default:
			e.SetAttached(false)
			x.OK = true
		}

	case engine.CmdSocketOpen:
		switch {
		case req.I == 0 && req.Cur == engine.CmdQISTATE:
			if x.OK {
				x.SetNext(engine.CmdQIOPEN)
			}
		case req.I == 1 && req.Cur == engine.CmdQIOPEN:
			if x.Errored {
				req.ConnStart.Res = engine.ConnResError
			}
			e.Delay(100 * time.Millisecond)
			x.SetNext(engine.CmdQISTATE)
		case req.Cur == engine.CmdQISTATE:
			// poll until the +QIOPEN URC decides the outcome, bounded.
			switch req.ConnStart.Res {
			case engine.ConnResOK:
				e.NotifyConnActive(req.ConnStart.Num)
			case engine.ConnResError, engine.ConnResAlready:
				e.SendConnError(req, engine.ResConnFail)
				x.Fail(engine.ResConnFail)
			default:
				if req.I >= qistatePollBound {
					e.SendConnError(req, engine.ResConnTimeout)
					x.Fail(engine.ResConnTimeout)
					return
				}
				e.Delay(100 * time.Millisecond)
				x.SetNext(engine.CmdQISTATE)
			}
		}

	case engine.CmdSocketClose:
		// As on the SIM800, an ERROR on close does not mean the socket
		// survived; mark it closed either way.
		res := engine.ResOK
		if x.Errored {
			res = engine.ResErr
		}
		e.CloseConnSlot(uint8(req.ConnOp.Ref.Num()), req.ConnOp.Forced, res)
	}
}

// ParsePlus inspects a received line during command processing.
func (d *Dialect) ParsePlus(x *engine.Exchange, line string) {
	e := x.E
	req := x.Req
	switch {
	case info.HasPrefix(line, "+QNWINFO"):
		sc := info.NewScanner(info.TrimPrefix(line, "+QNWINFO"))
		e.SetOperatorInfo(sc.String())
	case info.HasPrefix(line, "+QIACT"):
		// +QIACT: <ctx>,<state>,<type>,"<ip>" confirms activation before
		// the final OK; the OK is then mere confirmation.
		sc := info.NewScanner(info.TrimPrefix(line, "+QIACT"))
		sc.Number() // context id
		state := sc.Number()
		sc.Number() // context type
		if ip := sc.IP(); ip != nil {
			e.SetLocalIP(ip)
		}
		e.SetAttached(state == 1)
		if state == 1 {
			x.OK = true
		}
	case info.HasPrefix(line, "+QIOPEN"):
		// +QIOPEN: <id>,<err> arrives asynchronously after the OK.
		sc := info.NewScanner(info.TrimPrefix(line, "+QIOPEN"))
		id := sc.Number()
		errn := sc.Number()
		if req == nil || req.Def != engine.CmdSocketOpen {
			return
		}
		if errn != 0 {
			req.ConnStart.Res = engine.ConnResError
			if req.Cur == engine.CmdQIOPEN {
				x.Errored = true
			}
			return
		}
		c := e.ActivateConn(uint8(id), req.ConnStart.Type, req.ConnStart.Fn, req.ConnStart.Arg)
		req.ConnStart.Num = uint8(id)
		req.ConnStart.Res = engine.ConnResOK
		req.ConnStart.Ref = c.Ref()
	case info.HasPrefix(line, "+QISTATE"):
		d.ParseSocketStatus(x, line)
	case info.HasPrefix(line, "+QIURC"):
		sc := info.NewScanner(info.TrimPrefix(line, "+QIURC"))
		switch sc.String() {
		case "closed":
			num := sc.Number()
			e.CloseConnSlot(uint8(num), false, engine.ResOK)
			if req != nil {
				switch req.Def {
				case engine.CmdSocketSend, engine.CmdSocketClose:
					if req.ConnOp.Ref.Num() == num {
						x.Fail(engine.ResErr)
					}
				}
			}
		case "pdpdeact":
			e.SetAttached(false)
		}
	default:
		if req == nil {
			return
		}
		if req.Cur == engine.CmdQISEND {
			if x.OK {
				x.OK = false
			}
			switch {
			case line == "SEND OK":
				x.OK = true
			case line == "SEND FAIL":
				x.Fail(engine.ResErr)
			}
		}
		if req.Cur == engine.CmdCUSD {
			if line == "OK" {
				x.OK = false
			}
			if line == "CUSTOM_OK" {
				x.OK = true
			}
		}
	}
}

// ParseSocketStatus parses one +QISTATE line:
// +QISTATE: <id>,"<type>","<ip>",<port>,<localport>,<state>,...
func (d *Dialect) ParseSocketStatus(x *engine.Exchange, line string) {
	e := x.E
	if !strings.HasPrefix(line, "+QISTATE:") {
		return
	}
	sc := info.NewScanner(info.TrimPrefix(line, "+QISTATE"))
	num := sc.Number()
	typ := engine.TCP
	if sc.String() == "UDP" {
		typ = engine.UDP
	}
	ip := sc.IP()
	port := uint16(sc.Number())
	local := uint16(sc.Number())
	e.RecordSocketStatus(num, typ, ip, port, local)
}
