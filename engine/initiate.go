// SPDX-License-Identifier: MIT

package engine

import (
	"github.com/modemlink/gsmat/at"
)

// errResult maps an emitter error to a request result.
func errResult(err error) Result {
	if err == at.ErrArgTooLong {
		return ResParam
	}
	return ResErr
}

// initiate formats and transmits the AT line for the request's current
// command. Commands shared across dialects are emitted here; everything
// else routes through the dialect.
func (e *Engine) initiate(x *Exchange) Result {
	req := x.Req
	em := e.em
	switch req.Cur {
	case CmdRaw:
		if err := em.Line(req.Raw.Cmd); err != nil {
			return ResErr
		}
	case CmdATZ:
		if err := em.Line("Z"); err != nil {
			return ResErr
		}
	case CmdCPINGet:
		if err := em.Line("+CPIN?"); err != nil {
			return ResErr
		}
	case CmdIPR:
		em.Begin()
		em.Const("+IPR=")
		em.Number(int64(e.dialect.Profile().HighBaudrate), false, false)
		if err := em.End(); err != nil {
			return ResErr
		}
	case CmdCLCCSet:
		if err := em.Line("+CLCC=1"); err != nil {
			return ResErr
		}
	case CmdCGATTSet0:
		if err := em.Line("+CGATT=0"); err != nil {
			return ResErr
		}
	case CmdCGATTSet1:
		if err := em.Line("+CGATT=1"); err != nil {
			return ResErr
		}
	case CmdCGACTSet0:
		if err := em.Line(e.dialect.Profile().CGACTSet0); err != nil {
			return ResErr
		}
	case CmdCGACTSet1:
		if err := em.Line(e.dialect.Profile().CGACTSet1); err != nil {
			return ResErr
		}
	case CmdCREGGet:
		if err := em.Line("+CREG?"); err != nil {
			return ResErr
		}
	case CmdCGREGGet:
		if err := em.Line("+CGREG?"); err != nil {
			return ResErr
		}
	case CmdCOPSGet:
		if err := em.Line("+COPS?"); err != nil {
			return ResErr
		}
	case CmdCMGS:
		em.Begin()
		em.Const("+CMGS=")
		if req.SMS.PDU != "" {
			em.Number(int64(req.SMS.TPDULen), false, false)
		} else {
			em.String(req.SMS.Number, false, true, false)
		}
		if err := em.End(); err != nil {
			return errResult(err)
		}
	case CmdCMGL:
		em.Begin()
		em.Const("+CMGL=")
		em.String("ALL", false, true, false)
		if err := em.End(); err != nil {
			return ResErr
		}
	case CmdCMGDA:
		em.Begin()
		em.Const("+CMGDA=")
		em.String(req.SMS.Category.String(), false, true, false)
		if err := em.End(); err != nil {
			return ResErr
		}
	case CmdATD:
		em.Begin()
		em.Const("D")
		em.String(req.Call.Number, false, false, false)
		em.Const(";")
		if err := em.End(); err != nil {
			return errResult(err)
		}
	case CmdATA:
		if err := em.Line("A"); err != nil {
			return ResErr
		}
	case CmdATH:
		if err := em.Line("H"); err != nil {
			return ResErr
		}
	case CmdCUSD:
		em.Begin()
		em.Const("+CUSD=1")
		em.String(req.USSD.Code, true, true, true)
		em.Const(",15")
		if err := em.End(); err != nil {
			return errResult(err)
		}
	default:
		return e.dialect.Initiate(x)
	}
	return ResOK
}
