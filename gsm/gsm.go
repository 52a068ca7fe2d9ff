// SPDX-License-Identifier: MIT

// Package gsm provides the blocking application API over the AT protocol
// engine. Each operation enqueues a request on the sequencer and waits for
// its completion; events raised along the way (connection lifecycle,
// inbound data, SMS, calls) are delivered to the configured callbacks
// before the operation returns.
package gsm

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/warthog618/sms/encoding/pdumode"

	"github.com/modemlink/gsmat/engine"
)

// Modem is a handle to one cellular module.
type Modem struct {
	eng     *engine.Engine
	sca     pdumode.SMSCAddress
	pduMode bool
}

// Option modifies a Modem under construction.
type Option func(*Modem)

// WithPDUMode selects PDU mode for SMS transmission.
func WithPDUMode() Option {
	return func(m *Modem) {
		m.pduMode = true
	}
}

// WithSCA overrides the SMSC address configured in the SIM for PDU mode
// transmission.
func WithSCA(sca pdumode.SMSCAddress) Option {
	return func(m *Modem) {
		m.sca = sca
	}
}

// New creates a Modem over the transport, speaking the given dialect.
// Engine options (connection table size, timeouts, event handler, feature
// toggles) are passed through.
func New(transport io.ReadWriter, dialect engine.Dialect, opts []Option, engOpts ...engine.Option) *Modem {
	m := &Modem{}
	for _, opt := range opts {
		opt(m)
	}
	m.eng = engine.New(transport, dialect, engOpts...)
	return m
}

// Engine exposes the underlying engine for status reads.
func (m *Modem) Engine() *engine.Engine {
	return m.eng
}

// Closed returns a channel which blocks while the modem is alive.
func (m *Modem) Closed() <-chan struct{} {
	return m.eng.Closed()
}

// run enqueues the request and blocks until it completes or ctx is done.
// A context expiring leaves the sequencer running the request; there is no
// cancellation of an in-flight AT command.
func (m *Modem) run(ctx context.Context, req *engine.Request) error {
	if err := m.eng.Enqueue(req); err != nil {
		return err
	}
	res, err := req.Wait(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}

// Reset performs the cold bring-up sequence of the module.
func (m *Modem) Reset(ctx context.Context) error {
	return errors.WithMessage(m.run(ctx, engine.NewResetRequest()), "reset failed")
}

// NetworkAttach brings up the PDP context on the given APN.
func (m *Modem) NetworkAttach(ctx context.Context, apn, user, pass string) error {
	return errors.WithMessage(m.run(ctx, engine.NewAttachRequest(apn, user, pass)), "attach failed")
}

// NetworkDetach tears down the PDP context.
func (m *Modem) NetworkDetach(ctx context.Context) error {
	return errors.WithMessage(m.run(ctx, engine.NewDetachRequest()), "detach failed")
}

// IsAttached reports whether the PDP context is active.
func (m *Modem) IsAttached() bool {
	return m.eng.IsAttached()
}

// ConnStart opens a TCP, UDP or SSL connection to host:port. fn receives
// the connection's events; a nil fn falls back to the global handler.
func (m *Modem) ConnStart(ctx context.Context, typ engine.ConnType, host string, port uint16, fn engine.EventFunc, arg interface{}) (engine.ConnRef, error) {
	if host == "" {
		return engine.ConnRef{}, engine.ResParam
	}
	req := engine.NewConnStartRequest(typ, host, port, fn, arg)
	if err := m.run(ctx, req); err != nil {
		return engine.ConnRef{}, errors.WithMessage(err, fmt.Sprintf("connect %s:%d failed", host, port))
	}
	return req.ConnStart.Ref, nil
}

// ConnSend transmits data on the connection.
func (m *Modem) ConnSend(ctx context.Context, ref engine.ConnRef, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return errors.WithMessage(m.run(ctx, engine.NewConnSendRequest(ref, data)), "send failed")
}

// ConnClose closes the connection. Closing an already closed connection
// fails without touching modem state.
func (m *Modem) ConnClose(ctx context.Context, ref engine.ConnRef) error {
	return errors.WithMessage(m.run(ctx, engine.NewConnCloseRequest(ref)), "close failed")
}

// SendSMS sends a text mode SMS to the number and returns the message
// reference reported by the modem.
func (m *Modem) SendSMS(ctx context.Context, number, text string) (string, error) {
	if m.pduMode {
		return "", ErrWrongMode
	}
	req := engine.NewSMSSendRequest(number, text)
	if err := m.run(ctx, req); err != nil {
		return "", err
	}
	return req.SMS.MR, nil
}

// SendSMSPDU sends a binary TPDU in PDU mode and returns the message
// reference reported by the modem.
func (m *Modem) SendSMSPDU(ctx context.Context, tpdu []byte) (string, error) {
	if !m.pduMode {
		return "", ErrWrongMode
	}
	pdu := pdumode.PDU{SMSC: m.sca, TPDU: tpdu}
	s, err := pdu.MarshalHexString()
	if err != nil {
		return "", err
	}
	req := engine.NewSMSSendPDURequest(s, len(tpdu))
	if err := m.run(ctx, req); err != nil {
		return "", err
	}
	return req.SMS.MR, nil
}

// ListSMS returns the messages stored on the module.
func (m *Modem) ListSMS(ctx context.Context) ([]engine.Message, error) {
	req := engine.NewSMSListRequest()
	if err := m.run(ctx, req); err != nil {
		return nil, err
	}
	return req.SMS.List, nil
}

// DeleteAllSMS mass deletes stored messages in the category.
func (m *Modem) DeleteAllSMS(ctx context.Context, cat engine.SMSDeleteCategory) error {
	return m.run(ctx, engine.NewSMSDeleteAllRequest(cat))
}

// Dial places a voice call.
func (m *Modem) Dial(ctx context.Context, number string) error {
	if number == "" {
		return engine.ResParam
	}
	return m.run(ctx, engine.NewCallDialRequest(number))
}

// Answer answers an incoming call.
func (m *Modem) Answer(ctx context.Context) error {
	return m.run(ctx, engine.NewCallAnswerRequest())
}

// Hangup ends the current call.
func (m *Modem) Hangup(ctx context.Context) error {
	return m.run(ctx, engine.NewCallHangupRequest())
}

// USSD runs a USSD code and returns the network's response.
func (m *Modem) USSD(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", engine.ResParam
	}
	req := engine.NewUSSDRequest(code)
	if err := m.run(ctx, req); err != nil {
		return "", err
	}
	return req.USSD.Response, nil
}

// Command issues a raw AT command (without the AT prefix or terminator) and
// returns the info lines preceding the status.
func (m *Modem) Command(ctx context.Context, cmd string) ([]string, error) {
	req := engine.NewRawRequest(cmd)
	if err := m.run(ctx, req); err != nil {
		return nil, err
	}
	return req.Info, nil
}

var (
	// ErrWrongMode indicates the modem is operating in the wrong SMS mode
	// for the requested operation.
	ErrWrongMode = errors.New("modem is in the wrong mode")
)
