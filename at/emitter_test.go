package at

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterLine(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	require.Nil(t, em.Line("+CIPSTATUS"))
	assert.Equal(t, "AT+CIPSTATUS\r\n", b.String())
}

func TestEmitterArgs(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	em.Begin()
	em.Const("+CIPSTART=")
	em.Number(0, false, false)
	em.String("TCP", false, true, true)
	em.String("93.184.216.34", false, true, true)
	em.Port(80, false, true)
	require.Nil(t, em.End())
	assert.Equal(t, "AT+CIPSTART=0,\"TCP\",\"93.184.216.34\",80\r\n", b.String())
}

func TestEmitterEscapedString(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	em.Begin()
	em.Const("+CSTT=")
	em.String(`a"p,n`, true, true, false)
	require.Nil(t, em.End())
	assert.Equal(t, "AT+CSTT=\"a\\\"p\\,n\"\r\n", b.String())
}

func TestEmitterStripsControlChars(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	em.Begin()
	em.String("ho\r\nst", true, true, false)
	require.Nil(t, em.End())
	assert.Equal(t, "AT\"host\"\r\n", b.String())
}

func TestEmitterArgTooLong(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	em.Begin()
	em.String(string(make([]byte, MaxArgLen+1)), false, true, false)
	assert.Equal(t, ErrArgTooLong, em.End())
	// next command starts clean.
	require.Nil(t, em.Line("Z"))
}

func TestEmitterIP(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	em.Begin()
	em.IP(net.ParseIP("10.0.0.1"), true, false)
	require.Nil(t, em.End())
	assert.Equal(t, "AT\"10.0.0.1\"\r\n", b.String())
}

func TestEmitterDataPhase(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	require.Nil(t, em.Payload([]byte("hello")))
	require.Nil(t, em.Commit())
	assert.Equal(t, "hello\x1a", b.String())
	b.Reset()
	require.Nil(t, em.Cancel())
	assert.Equal(t, "\x1b", b.String())
}

func TestEmitterNegativeNumber(t *testing.T) {
	var b bytes.Buffer
	em := NewEmitter(&b)
	em.Begin()
	em.Number(-15, false, false)
	require.Nil(t, em.End())
	assert.Equal(t, "AT-15\r\n", b.String())
}
