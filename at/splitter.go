// SPDX-License-Identifier: MIT

package at

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

// TokenKind identifies the framing of a token produced by the Splitter.
type TokenKind int

const (
	// TokenLine is a CRLF terminated response or URC line, terminator
	// stripped.
	TokenLine TokenKind = iota
	// TokenPrompt is the single character data phase prompt.
	TokenPrompt
	// TokenData is the raw payload of an inbound data frame.
	TokenData
	// TokenErr reports a stream level failure (line overflow, read error).
	TokenErr
)

// Token is one unit of modem output.
type Token struct {
	Kind TokenKind
	Text string // TokenLine
	Data []byte // TokenData payload
	Conn int    // connection index from the data frame header, -1 otherwise
	Err  error  // TokenErr
}

// Splitter tokenizes the modem byte stream. It implements bufio.SplitFunc
// through its Split method and keeps the small amount of state needed to
// switch between line mode and the byte-counted raw mode that follows a
// data frame header (+RECEIVE, +IPD, +QIURC "recv").
//
// Kind and Conn report the classification of the most recent token, and must
// be read before the next Split call. The Splitter is not safe for
// concurrent use; it is owned by the goroutine driving the scanner.
type Splitter struct {
	raw     int // remaining raw payload bytes, -1 in line mode
	rawConn int
	zero    bool // a zero length frame header was seen
	kind    TokenKind
	conn    int
}

// NewSplitter creates a Splitter in line mode.
func NewSplitter() *Splitter {
	return &Splitter{raw: -1, conn: -1, rawConn: -1}
}

// Kind returns the kind of the last token returned by Split.
func (s *Splitter) Kind() TokenKind {
	return s.kind
}

// Conn returns the connection index of the last token, or -1.
func (s *Splitter) Conn() int {
	return s.conn
}

// TakeZeroFrame reports whether the last line armed a zero length data
// frame, and clears the flag. The caller is responsible for synthesizing the
// empty payload token, as no further input is required to complete it.
func (s *Splitter) TakeZeroFrame() (conn int, ok bool) {
	if !s.zero {
		return -1, false
	}
	s.zero = false
	return s.rawConn, true
}

// Split is a bufio.SplitFunc.
func (s *Splitter) Split(data []byte, atEOF bool) (int, []byte, error) {
	if len(data) == 0 {
		return 0, nil, nil
	}
	if s.raw >= 0 {
		return s.splitRaw(data, atEOF)
	}
	if data[0] == '>' {
		// prompt has no terminator; swallow any trailing space.
		i := 1
		for ; i < len(data) && data[i] == ' '; i++ {
		}
		s.kind = TokenPrompt
		s.conn = -1
		return i, data[0:1], nil
	}
	if bytes.HasPrefix(data, []byte("+IPD,")) {
		// payload follows the colon directly, without a terminator.
		i := bytes.IndexByte(data, ':')
		if i < 0 {
			if len(data) > MaxLineLen {
				return 0, nil, ErrLineOverflow
			}
			return 0, nil, nil
		}
		line := data[:i+1]
		s.armFrame(line)
		s.kind = TokenLine
		s.conn = -1
		return i + 1, line, nil
	}
	i := bytes.Index(data, []byte(CRLF))
	if i < 0 {
		// a line of exactly MaxLineLen may still be awaiting its
		// terminator, so only MaxLineLen+2 buffered bytes prove overflow.
		if len(data) > MaxLineLen+1 || (atEOF && len(data) > MaxLineLen) {
			return 0, nil, ErrLineOverflow
		}
		if atEOF {
			return len(data), data, nil
		}
		return 0, nil, nil
	}
	if i > MaxLineLen {
		return 0, nil, ErrLineOverflow
	}
	line := data[:i]
	s.armFrame(line)
	s.kind = TokenLine
	s.conn = -1
	return i + len(CRLF), line, nil
}

func (s *Splitter) splitRaw(data []byte, atEOF bool) (int, []byte, error) {
	if len(data) < s.raw {
		if atEOF {
			return 0, nil, io.ErrUnexpectedEOF
		}
		return 0, nil, nil
	}
	payload := data[:s.raw]
	s.kind = TokenData
	s.conn = s.rawConn
	n := s.raw
	s.raw = -1
	return n, payload, nil
}

// armFrame inspects a completed line for a data frame header and, if one is
// found, switches the Splitter to raw mode for the advertised byte count.
func (s *Splitter) armFrame(line []byte) {
	var conn, length int
	var ok bool
	switch {
	case bytes.HasPrefix(line, []byte("+RECEIVE,")):
		// +RECEIVE,<n>,<len>: with an optional +CIPSRIP ip:port decoration
		// between the length and the final colon.
		if line[len(line)-1] != ':' {
			return
		}
		conn, length, ok = parseFrameArgs(string(line[len("+RECEIVE,") : len(line)-1]))
	case bytes.HasPrefix(line, []byte("+IPD,")):
		// +IPD,<len>: carries no connection index.
		if line[len(line)-1] != ':' {
			return
		}
		_, length, ok = parseFrameArgs("0," + string(line[len("+IPD,"):len(line)-1]))
		conn = 0
	case bytes.HasPrefix(line, []byte(`+QIURC: "recv",`)):
		// direct push mode: +QIURC: "recv",<n>,<len>. Without a length the
		// data is pulled with QIRD and no raw payload follows.
		conn, length, ok = parseFrameArgs(string(line[len(`+QIURC: "recv",`):]))
	default:
		return
	}
	if !ok || length > MaxFrameLen {
		return
	}
	s.rawConn = conn
	if length == 0 {
		s.zero = true
		return
	}
	s.raw = length
}

// parseFrameArgs parses the leading "<conn>,<len>" of a frame header
// argument list, tolerating trailing fields.
func parseFrameArgs(args string) (conn, length int, ok bool) {
	conn = -1
	f := 0
	for len(args) > 0 && f < 2 {
		j := 0
		for j < len(args) && args[j] >= '0' && args[j] <= '9' {
			j++
		}
		if j == 0 {
			return 0, 0, false
		}
		n, err := strconv.Atoi(args[:j])
		if err != nil {
			return 0, 0, false
		}
		if f == 0 {
			conn = n
		} else {
			length = n
		}
		f++
		if j < len(args) && args[j] == ',' {
			j++
		} else if f < 2 {
			return 0, 0, false
		}
		args = args[j:]
	}
	return conn, length, f == 2
}

// Stream reads the modem byte stream and delivers tokens on out until the
// reader fails or reaches EOF. The out channel is closed on return, which
// is how the sequencer learns the transport is gone.
func Stream(r io.Reader, out chan<- Token) {
	s := NewSplitter()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), MaxFrameLen+MaxLineLen+2)
	scanner.Split(s.Split)
	for scanner.Scan() {
		tok := Token{Kind: s.Kind(), Conn: s.Conn()}
		if tok.Kind == TokenData {
			tok.Data = append([]byte(nil), scanner.Bytes()...)
		} else {
			tok.Text = scanner.Text()
		}
		out <- tok
		if conn, ok := s.TakeZeroFrame(); ok {
			out <- Token{Kind: TokenData, Conn: conn, Data: []byte{}}
		}
	}
	if err := scanner.Err(); err != nil {
		out <- Token{Kind: TokenErr, Conn: -1, Err: err}
	}
	close(out)
}
