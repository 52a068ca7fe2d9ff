/*
  Test suite for the engine package.

	These tests drive the sequencer with a scripted mockModem which does not
	attempt to emulate a real modem; it asserts the exact lines the engine
	emits and plays back canned responses, so the command graphs and URC
	interleaving can be exercised deterministically.
*/
package engine_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modemlink/gsmat/engine"
	"github.com/modemlink/gsmat/sim800"
)

// step is one expected write and the responses it elicits.
type step struct {
	want string
	rsp  []string
}

// mockModem is a scripted transport. Writes are reassembled into complete
// command lines (or data phase chunks terminated by Ctrl-Z) and checked
// against the script in order; responses are queued to the reader.
type mockModem struct {
	t      *testing.T
	mu     sync.Mutex
	buf    []byte
	script []step
	writes []string
	r      chan []byte
	closed bool
}

func newMockModem(t *testing.T, script []step) *mockModem {
	return &mockModem{t: t, script: script, r: make(chan []byte, 64)}
}

func (m *mockModem) Read(p []byte) (int, error) {
	data, ok := <-m.r
	if !ok {
		return 0, io.EOF
	}
	copy(p, data)
	return len(data), nil
}

func (m *mockModem) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf, p...)
	for {
		var chunk string
		if i := bytes.Index(m.buf, []byte("\r\n")); i >= 0 {
			chunk = string(m.buf[:i+2])
			m.buf = m.buf[i+2:]
		} else if i := bytes.IndexByte(m.buf, 0x1a); i >= 0 {
			chunk = string(m.buf[:i+1])
			m.buf = m.buf[i+1:]
		} else {
			break
		}
		m.dispatch(chunk)
	}
	return len(p), nil
}

func (m *mockModem) dispatch(chunk string) {
	m.writes = append(m.writes, chunk)
	if len(m.script) == 0 {
		return
	}
	s := m.script[0]
	m.script = m.script[1:]
	if s.want != "" && s.want != chunk {
		m.t.Errorf("unexpected write: got %q, want %q", chunk, s.want)
	}
	for _, rsp := range s.rsp {
		m.r <- []byte(rsp)
	}
}

func (m *mockModem) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.r)
	}
}

// inject delivers unsolicited bytes from the modem.
func (m *mockModem) inject(s string) {
	m.r <- []byte(s)
}

func (m *mockModem) cmdLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func setupEngine(t *testing.T, d engine.Dialect, script []step, opts ...engine.Option) (*engine.Engine, *mockModem, chan engine.Event) {
	mm := newMockModem(t, script)
	evts := make(chan engine.Event, 64)
	opts = append([]engine.Option{
		engine.WithEventFunc(func(evt engine.Event) { evts <- evt }),
		engine.WithSleepFunc(func(time.Duration) {}),
		engine.WithCmdTimeout(2 * time.Second),
	}, opts...)
	e := engine.New(mm, d, opts...)
	t.Cleanup(mm.Close)
	return e, mm, evts
}

func runReq(t *testing.T, e *engine.Engine, req *engine.Request) engine.Result {
	t.Helper()
	require.Nil(t, e.Enqueue(req))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := req.Wait(ctx)
	require.Nil(t, err)
	return res
}

func nextEvent(t *testing.T, evts chan engine.Event) engine.Event {
	t.Helper()
	select {
	case evt := <-evts:
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return engine.Event{}
}

func TestRawCommand(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CSQ\r\n", []string{"\r\n+CSQ: 15,99\r\n", "\r\nOK\r\n"}},
	})
	req := engine.NewRawRequest("+CSQ")
	res := runReq(t, e, req)
	assert.Equal(t, engine.ResOK, res)
	assert.Equal(t, []string{"+CSQ: 15,99"}, req.Info)
}

func TestRawCommandError(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+BOGUS\r\n", []string{"\r\n+CME ERROR: 58\r\n"}},
	})
	res := runReq(t, e, engine.NewRawRequest("+BOGUS"))
	assert.Equal(t, engine.ResErr, res)
}

func TestCommandTimeout(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CSQ\r\n", nil},
	}, engine.WithCmdTimeout(50*time.Millisecond))
	res := runReq(t, e, engine.NewRawRequest("+CSQ"))
	assert.Equal(t, engine.ResTimeout, res)
}

func TestWaitTimeoutDoesNotCancel(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CSQ\r\n", nil},
	})
	req := engine.NewRawRequest("+CSQ")
	require.Nil(t, e.Enqueue(req))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := req.Wait(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
	// the request is still in flight; a late response completes it.
	mm.inject("\r\nOK\r\n")
	select {
	case <-req.Done():
		assert.Equal(t, engine.ResOK, req.Result())
	case <-time.After(time.Second):
		t.Fatal("request not completed")
	}
}

func TestRequestFIFO(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), []step{
		{"AT+FIRST\r\n", []string{"\r\nOK\r\n"}},
		{"AT+SECOND\r\n", []string{"\r\nOK\r\n"}},
	})
	r1 := engine.NewRawRequest("+FIRST")
	r2 := engine.NewRawRequest("+SECOND")
	require.Nil(t, e.Enqueue(r1))
	require.Nil(t, e.Enqueue(r2))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r2.Wait(ctx)
	require.Nil(t, err)
	assert.Equal(t, engine.ResOK, res)
	// first completed before second even started emitting.
	select {
	case <-r1.Done():
	default:
		t.Error("first request not complete")
	}
	assert.Equal(t, []string{"AT+FIRST\r\n", "AT+SECOND\r\n"}, mm.cmdLines())
}

func TestEnqueueBusy(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), []step{
		{"AT+STUCK\r\n", nil},
	}, engine.WithMailboxDepth(1), engine.WithCmdTimeout(300*time.Millisecond))
	r1 := engine.NewRawRequest("+STUCK")
	require.Nil(t, e.Enqueue(r1))
	// wait for the sequencer to pick r1 up and block awaiting its response.
	deadline := time.Now().Add(time.Second)
	for len(mm.cmdLines()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("command never emitted")
		}
		time.Sleep(time.Millisecond)
	}
	r2 := engine.NewRawRequest("+QUEUED")
	require.Nil(t, e.Enqueue(r2))
	err := e.Enqueue(engine.NewRawRequest("+OVERFLOW"))
	assert.Equal(t, engine.ResBusy, err)
}

func TestStaleHandle(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), nil)
	c := e.ActivateConn(0, engine.TCP, nil, nil)
	stale := c.Ref()
	e.CloseConnSlot(0, true, engine.ResOK)
	e.ActivateConn(0, engine.TCP, nil, nil)
	// the old handle carries the superseded generation.
	err := e.Enqueue(engine.NewConnSendRequest(stale, []byte("x")))
	assert.Equal(t, engine.ResErr, err)
	assert.Empty(t, mm.cmdLines())
}

func TestCloseAlreadyClosed(t *testing.T) {
	e, mm, evts := setupEngine(t, sim800.New(), nil)
	c := e.ActivateConn(0, engine.TCP, nil, nil)
	ref := c.Ref()
	e.CloseConnSlot(0, true, engine.ResOK)
	nextEvent(t, evts) // the close event
	err := e.Enqueue(engine.NewConnCloseRequest(ref))
	assert.Equal(t, engine.ResErr, err)
	assert.Empty(t, mm.cmdLines())
	select {
	case evt := <-evts:
		t.Errorf("unexpected event: %v", evt.Type)
	default:
	}
}

func TestNoFreeConn(t *testing.T) {
	e, mm, evts := setupEngine(t, sim800.New(), nil, engine.WithMaxConns(1))
	e.ActivateConn(0, engine.TCP, nil, nil)
	req := engine.NewConnStartRequest(engine.TCP, "10.0.0.1", 80, nil, nil)
	res := runReq(t, e, req)
	assert.Equal(t, engine.ResNoFreeConn, res)
	// the request failed before any AT line was emitted.
	assert.Empty(t, mm.cmdLines())
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventConnError, evt.Type)
	assert.Equal(t, engine.ResNoFreeConn, evt.Res)
}

func TestInboundData(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), nil)
	recv := make(chan engine.Event, 4)
	e.ActivateConn(1, engine.TCP, func(evt engine.Event) { recv <- evt }, nil)
	mm.inject("+RECEIVE,1,5:\r\nhello")
	select {
	case evt := <-recv:
		assert.Equal(t, engine.EventConnRecv, evt.Type)
		assert.Equal(t, 1, evt.Ref.Num())
		assert.Equal(t, []byte("hello"), evt.Data)
	case <-time.After(time.Second):
		t.Fatal("no data event")
	}
}

func TestInboundDataZeroLength(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), nil)
	recv := make(chan engine.Event, 4)
	e.ActivateConn(2, engine.TCP, func(evt engine.Event) { recv <- evt }, nil)
	mm.inject("+RECEIVE,2,0:\r\n")
	select {
	case evt := <-recv:
		assert.Equal(t, engine.EventConnRecv, evt.Type)
		assert.Len(t, evt.Data, 0)
	case <-time.After(time.Second):
		t.Fatal("no data event")
	}
}

func TestCloseWhileSendInProgress(t *testing.T) {
	e, _, evts := setupEngine(t, sim800.New(), []step{
		// the peer closes before the data prompt arrives.
		{"AT+CIPSEND=1,5\r\n", []string{"\r\n1, CLOSED\r\n"}},
	})
	conns := make(chan engine.Event, 4)
	c := e.ActivateConn(1, engine.TCP, func(evt engine.Event) { conns <- evt }, nil)
	req := engine.NewConnSendRequest(c.Ref(), []byte("hello"))
	res := runReq(t, e, req)
	assert.Equal(t, engine.ResErr, res)
	select {
	case evt := <-conns:
		assert.Equal(t, engine.EventConnClose, evt.Type)
		assert.False(t, evt.Forced)
	case <-time.After(time.Second):
		t.Fatal("no close event")
	}
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventConnSend, evt.Type)
	assert.Equal(t, engine.ResErr, evt.Res)
	assert.False(t, e.ValidateRef(c.Ref()))
}

func TestSendData(t *testing.T) {
	e, _, evts := setupEngine(t, sim800.New(), []step{
		{"AT+CIPSEND=0,5\r\n", []string{"\r\n> "}},
		{"hello\x1a", []string{"\r\nSEND OK\r\n"}},
	})
	c := e.ActivateConn(0, engine.TCP, nil, nil)
	res := runReq(t, e, engine.NewConnSendRequest(c.Ref(), []byte("hello")))
	assert.Equal(t, engine.ResOK, res)
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventConnSend, evt.Type)
	assert.Equal(t, engine.ResOK, evt.Res)
}

func TestSendFail(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CIPSEND=0,5\r\n", []string{"\r\n> "}},
		{"hello\x1a", []string{"\r\nSEND FAIL\r\n"}},
	})
	c := e.ActivateConn(0, engine.TCP, nil, nil)
	res := runReq(t, e, engine.NewConnSendRequest(c.Ref(), []byte("hello")))
	assert.Equal(t, engine.ResErr, res)
}

func TestSMSSendText(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CMGS=\"+12345\"\r\n", []string{"\r\n> "}},
		{"Zoot Zoot\x1a", []string{"\r\n+CMGS: 55\r\n", "\r\nOK\r\n"}},
	})
	req := engine.NewSMSSendRequest("+12345", "Zoot Zoot")
	res := runReq(t, e, req)
	assert.Equal(t, engine.ResOK, res)
	assert.Equal(t, "55", req.SMS.MR)
}

func TestSMSList(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CMGL=\"ALL\"\r\n", []string{
			"\r\n+CMGL: 1,\"REC READ\",\"+12345\",\"\",\"24/01/01,12:00:00+00\"\r\n",
			"first message\r\n",
			"\r\n+CMGL: 2,\"REC UNREAD\",\"+67890\",\"\",\"24/01/02,13:00:00+00\"\r\n",
			"second message\r\n",
			"\r\nOK\r\n",
		}},
	})
	req := engine.NewSMSListRequest()
	res := runReq(t, e, req)
	assert.Equal(t, engine.ResOK, res)
	require.Len(t, req.SMS.List, 2)
	assert.Equal(t, 1, req.SMS.List[0].Index)
	assert.Equal(t, "REC READ", req.SMS.List[0].Stat)
	assert.Equal(t, "+12345", req.SMS.List[0].Number)
	assert.Equal(t, "first message", req.SMS.List[0].Text)
	assert.Equal(t, "second message", req.SMS.List[1].Text)
}

func TestSMSDeleteAll(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CMGDA=\"DEL READ\"\r\n", []string{"\r\nOK\r\n"}},
	})
	res := runReq(t, e, engine.NewSMSDeleteAllRequest(engine.SMSDeleteRead))
	assert.Equal(t, engine.ResOK, res)
}

func TestSMSRecvIndication(t *testing.T) {
	_, mm, evts := setupEngine(t, sim800.New(), nil)
	mm.inject("\r\n+CMT: \"+12345\",\"\",\"24/01/01,12:00:00+00\"\r\nhello sms\r\n")
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventSMSRecv, evt.Type)
	assert.Equal(t, []byte("hello sms"), evt.Data)
	mm.inject("\r\n+CMTI: \"SM\",3\r\n")
	evt = nextEvent(t, evts)
	assert.Equal(t, engine.EventSMSRecv, evt.Type)
	assert.Equal(t, 3, evt.Index)
}

func TestUSSD(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		// the OK precedes the +CUSD data and must not complete the request.
		{"AT+CUSD=1,\"*100#\",15\r\n", []string{"\r\nOK\r\n", "\r\n+CUSD: 0,\"Balance 42.00\",15\r\n"}},
	})
	req := engine.NewUSSDRequest("*100#")
	res := runReq(t, e, req)
	assert.Equal(t, engine.ResOK, res)
	assert.Equal(t, "Balance 42.00", req.USSD.Response)
}

func TestCallDial(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"ATD+12345;\r\n", []string{"\r\nOK\r\n"}},
	})
	res := runReq(t, e, engine.NewCallDialRequest("+12345"))
	assert.Equal(t, engine.ResOK, res)
}

func TestCallDialNoCarrier(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"ATD+12345;\r\n", []string{"\r\nNO CARRIER\r\n"}},
	})
	res := runReq(t, e, engine.NewCallDialRequest("+12345"))
	assert.Equal(t, engine.ResErr, res)
}

func TestCallURCs(t *testing.T) {
	_, mm, evts := setupEngine(t, sim800.New(), nil)
	mm.inject("\r\nRING\r\n")
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventCallRing, evt.Type)
	mm.inject("\r\n+CLCC: 1,1,4,0,0,\"+12345\",145\r\n")
	evt = nextEvent(t, evts)
	assert.Equal(t, engine.EventCallChanged, evt.Type)
	mm.inject("\r\nNO CARRIER\r\n")
	evt = nextEvent(t, evts)
	assert.Equal(t, engine.EventCallChanged, evt.Type)
	assert.Equal(t, "NO CARRIER", evt.Info)
}

func TestFeatureToggles(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), nil,
		engine.WithoutSMS(), engine.WithoutCall(), engine.WithoutUSSD())
	assert.Equal(t, engine.ResParam, e.Enqueue(engine.NewSMSSendRequest("+1", "x")))
	assert.Equal(t, engine.ResParam, e.Enqueue(engine.NewCallDialRequest("+1")))
	assert.Equal(t, engine.ResParam, e.Enqueue(engine.NewUSSDRequest("*#")))
}

func TestEngineClosed(t *testing.T) {
	e, mm, _ := setupEngine(t, sim800.New(), nil)
	mm.Close()
	select {
	case <-e.Closed():
	case <-time.After(time.Second):
		t.Fatal("engine did not close")
	}
	err := e.Enqueue(engine.NewRawRequest("+CSQ"))
	assert.Equal(t, engine.ResClosed, err)
}

func TestLineOverflowReported(t *testing.T) {
	_, mm, evts := setupEngine(t, sim800.New(), nil)
	long := make([]byte, 1100)
	for i := range long {
		long[i] = 'a'
	}
	mm.inject(string(long))
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventError, evt.Type)
}

func TestIdleTimeoutClosesConn(t *testing.T) {
	e, _, _ := setupEngine(t, sim800.New(), []step{
		{"AT+CIPCLOSE=0\r\n", []string{"\r\n0, CLOSE OK\r\n"}},
	}, engine.WithConnIdleTimeout(30*time.Millisecond))
	conns := make(chan engine.Event, 4)
	e.ActivateConn(0, engine.TCP, func(evt engine.Event) { conns <- evt }, nil)
	e.StartConnTimer(0)
	select {
	case evt := <-conns:
		assert.Equal(t, engine.EventConnClose, evt.Type)
		assert.True(t, evt.Forced)
	case <-time.After(time.Second):
		t.Fatal("idle timer did not close the connection")
	}
}

func TestPDPDeactURC(t *testing.T) {
	e, mm, evts := setupEngine(t, sim800.New(), nil)
	e.SetAttached(true)
	nextEvent(t, evts) // attached
	mm.inject("\r\n+PDP: DEACT\r\n")
	evt := nextEvent(t, evts)
	assert.Equal(t, engine.EventNetworkDetached, evt.Type)
	assert.False(t, e.IsAttached())
}
