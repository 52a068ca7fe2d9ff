// SPDX-License-Identifier: MIT

package engine

import (
	"strings"
	"time"

	"github.com/modemlink/gsmat/at"
	"github.com/modemlink/gsmat/info"
)

// initialCmd maps a request verb to the first AT command of its graph.
func (e *Engine) initialCmd(req *Request) Cmd {
	p := e.dialect.Profile()
	switch req.Def {
	case CmdReset:
		return CmdATZ
	case CmdNetworkAttach:
		return p.AttachFirst
	case CmdNetworkDetach:
		return CmdCGATTSet0
	case CmdSocketOpen:
		return p.SocketStatus
	case CmdSocketSend:
		return p.SocketSend
	case CmdSocketClose:
		return p.SocketClose
	case CmdSMSSend:
		return CmdCMGS
	case CmdSMSList:
		return CmdCMGL
	case CmdSMSDeleteAll:
		return CmdCMGDA
	case CmdCallDial:
		return CmdATD
	case CmdCallAnswer:
		return CmdATA
	case CmdCallHangup:
		return CmdATH
	case CmdUSSD:
		return CmdCUSD
	}
	return req.Def
}

// genericDef reports whether the request verb completes in a single
// sub-command handled by the engine, independent of dialect.
func genericDef(def Cmd) bool {
	switch def {
	case CmdRaw, CmdSMSSend, CmdSMSList, CmdSMSDeleteAll,
		CmdCallDial, CmdCallAnswer, CmdCallHangup, CmdUSSD:
		return true
	}
	return false
}

// execute runs one request to completion. It owns the request exclusively:
// no other request emits AT lines until this one finishes.
func (e *Engine) execute(req *Request) {
	req.Cur = e.initialCmd(req)
	req.I = 0
	e.pendingMsg = nil
	x := &Exchange{E: e, Req: req}

	if req.Def == CmdReset {
		e.regSeen = false
		if hook := e.dialect.Profile().Reset; hook != nil {
			hook(e)
		}
	}
	if req.Def == CmdSocketOpen {
		// guarantee no AT line is emitted when the table is full.
		num, ok := e.FindFreeConn()
		if !ok {
			e.SendConnError(req, ResNoFreeConn)
			e.finish(req, ResNoFreeConn)
			return
		}
		req.ConnStart.Num = num
	}

	if res := e.initiate(x); res != ResOK {
		e.finish(req, res)
		return
	}
	for {
		x.OK, x.Errored, x.ErrLine = false, false, ""
		x.next, x.failRes = CmdIdle, ResOK
		e.statusNum = -1
		if res := e.await(x); res != ResOK {
			e.finish(req, res)
			return
		}
		res := e.advance(x)
		if res == ResCont {
			req.I++
			continue
		}
		e.finish(req, res)
		return
	}
}

// await consumes tokens until a terminal status is observed for the current
// sub-command, the command budget expires, or the transport closes.
func (e *Engine) await(x *Exchange) Result {
	d := x.Req.Timeout
	if d == 0 {
		d = e.cfg.CmdTimeout
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case tok, ok := <-e.tokens:
			if !ok {
				return ResClosed
			}
			if e.handleToken(x, tok) {
				return ResOK
			}
		case <-timer.C:
			return ResTimeout
		}
	}
}

// advance applies the sub-command graph step after a terminal status:
// either a new sub-command was selected and emitted (ResCont), or the
// request is complete.
func (e *Engine) advance(x *Exchange) Result {
	req := x.Req
	if !genericDef(req.Def) {
		e.dialect.ProcessSub(x)
	}
	if x.next != CmdIdle {
		req.Cur = x.next
		x.next = CmdIdle
		if res := e.initiate(x); res != ResOK {
			return res
		}
		return ResCont
	}
	req.Cur = CmdIdle
	if x.OK {
		return ResOK
	}
	return x.failResult()
}

// finish stamps the result, emits the request's completion event, and
// releases the caller. Events always precede the completion signal.
func (e *Engine) finish(req *Request, res Result) {
	switch req.Def {
	case CmdReset:
		e.event(Event{Type: EventReset, Res: res})
	case CmdSocketSend:
		e.dispatch(nil, Event{Type: EventConnSend, Res: res, Ref: req.ConnOp.Ref})
	}
	req.res = res
	close(req.done)
}

// handleToken processes one token from the splitter, returning true when it
// completed the current sub-command. With no request in flight (x.Req nil)
// only URC side effects apply.
func (e *Engine) handleToken(x *Exchange, tok at.Token) bool {
	switch tok.Kind {
	case at.TokenData:
		e.deliverRecv(tok.Conn, tok.Data)
		return false
	case at.TokenPrompt:
		e.handlePrompt(x)
		return false
	case at.TokenErr:
		e.event(Event{Type: EventError, Res: ResErr, Info: tok.Err.Error()})
		return false
	}
	line := tok.Text
	if line == "" {
		return false
	}
	// a +CMT header delivers its message body on the following line.
	if e.pendingCMT != "" {
		hdr := e.pendingCMT
		e.pendingCMT = ""
		e.event(Event{Type: EventSMSRecv, Res: ResOK, Info: info.TrimPrefix(hdr, "+CMT"), Data: []byte(line)})
		return false
	}
	req := x.Req
	if req != nil && req.Cur == CmdCMGL && e.pendingMsg != nil {
		if cls := at.Classify(line); cls == at.ClassInfo {
			e.pendingMsg.Text = line
			req.SMS.List = append(req.SMS.List, *e.pendingMsg)
			e.pendingMsg = nil
			return false
		}
	}
	cls := at.Classify(line)
	switch cls {
	case at.ClassOK:
		if req != nil {
			x.OK = true
		}
	case at.ClassError:
		if req != nil {
			x.Errored = true
			x.ErrLine = line
		}
	case at.ClassCallFinal:
		if req != nil && req.Def == CmdCallDial {
			x.Errored = true
			x.ErrLine = line
		} else {
			e.event(Event{Type: EventCallChanged, Res: ResOK, Info: line})
		}
	}
	if req != nil && req.Def == CmdRaw && (cls == at.ClassInfo || cls == at.ClassURC) {
		req.Info = append(req.Info, line)
	}
	e.parseURC(x, line)
	e.dialect.ParsePlus(x, line)
	return req != nil && (x.OK || x.Errored)
}

// handlePrompt reacts to the data phase prompt by streaming the pending
// payload and committing it. Prompts with no in-flight prompt command are
// ignored.
func (e *Engine) handlePrompt(x *Exchange) {
	req := x.Req
	if req == nil {
		return
	}
	p := e.dialect.Profile()
	switch req.Cur {
	case p.SocketSend:
		e.em.Payload(req.ConnOp.Data)
		e.em.Commit()
	case CmdCMGS:
		if req.SMS.PDU != "" {
			e.em.Payload([]byte(req.SMS.PDU))
		} else {
			e.em.Payload([]byte(req.SMS.Text))
		}
		e.em.Commit()
	}
}

// parseURC handles the dialect independent unsolicited lines, interleaved
// with whatever request is in flight.
func (e *Engine) parseURC(x *Exchange, line string) {
	req := x.Req
	switch {
	case line == "RING":
		e.event(Event{Type: EventCallRing, Res: ResOK})
	case info.HasPrefix(line, "+CMTI"):
		sc := info.NewScanner(info.TrimPrefix(line, "+CMTI"))
		sc.String() // storage
		e.event(Event{Type: EventSMSRecv, Res: ResOK, Index: sc.Number(), Info: line})
	case info.HasPrefix(line, "+CMT"):
		e.pendingCMT = line
	case info.HasPrefix(line, "+CLCC"):
		e.event(Event{Type: EventCallChanged, Res: ResOK, Info: info.TrimPrefix(line, "+CLCC")})
	case info.HasPrefix(line, "+CPIN"):
		e.event(Event{Type: EventSIMState, Res: ResOK, Info: info.TrimPrefix(line, "+CPIN")})
	case strings.HasPrefix(line, "+PDP: DEACT"):
		e.SetAttached(false)
	case info.HasPrefix(line, "+CREG"):
		e.parseReg(line, "+CREG")
	case info.HasPrefix(line, "+CGREG"):
		e.parseReg(line, "+CGREG")
	case info.HasPrefix(line, "+COPS"):
		sc := info.NewScanner(info.TrimPrefix(line, "+COPS"))
		sc.Number() // mode
		sc.Number() // format
		if op := sc.String(); op != "" {
			e.SetOperatorInfo(op)
		}
	case info.HasPrefix(line, "+CUSD"):
		if req != nil && req.Cur == CmdCUSD {
			sc := info.NewScanner(info.TrimPrefix(line, "+CUSD"))
			sc.Number() // reporting
			req.USSD.Response = sc.String()
			x.OK = true
		} else {
			e.event(Event{Type: EventUSSD, Res: ResOK, Info: info.TrimPrefix(line, "+CUSD")})
		}
	case info.HasPrefix(line, "+CMGS"):
		if req != nil && req.Cur == CmdCMGS {
			req.SMS.MR = info.TrimPrefix(line, "+CMGS")
		}
	case info.HasPrefix(line, "+CMGL"):
		if req != nil && req.Cur == CmdCMGL {
			sc := info.NewScanner(info.TrimPrefix(line, "+CMGL"))
			m := &Message{
				Index:  sc.Number(),
				Stat:   sc.String(),
				Number: sc.String(),
			}
			sc.String() // alpha
			m.Time = sc.String()
			e.pendingMsg = m
		}
	default:
		if num, ok := parseClosedURC(line); ok {
			e.closeSlot(uint8(num), false, ResOK)
			if req != nil && requestTargets(req, uint8(num)) {
				x.Fail(ResErr)
			}
		}
	}
}

// parseClosedURC matches the untagged "<n>, CLOSED" line.
func parseClosedURC(line string) (int, bool) {
	if len(line) < 3 || line[0] < '0' || line[0] > '9' {
		return 0, false
	}
	if !strings.HasSuffix(line, ", CLOSED") || len(line) != len(", CLOSED")+1 {
		return 0, false
	}
	return int(line[0] - '0'), true
}

// requestTargets reports whether the in-flight request operates on the
// connection slot.
func requestTargets(req *Request, num uint8) bool {
	switch req.Def {
	case CmdSocketSend, CmdSocketClose:
		return req.ConnOp.Ref.num == num
	case CmdSocketOpen:
		return req.ConnStart.Num == num && req.ConnStart.Res == ConnResOK
	}
	return false
}
