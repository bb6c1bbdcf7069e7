package httpparse

import "bytes"

// Scanner walks a byte slice looking for CRLF-delimited lines without
// copying. It is driven incrementally by the connection state
// machine: each call to NextLine either returns a complete line or
// reports that more bytes are needed, so a line split across two
// socket reads resumes exactly where it left off.
type Scanner struct {
	buf    []byte
	pos    int
	Strict Level
}

// NewScanner wraps buf (the unconsumed portion of the connection's
// read buffer) starting at offset 0.
func NewScanner(buf []byte, strict Level) *Scanner {
	return &Scanner{buf: buf, Strict: strict}
}

// Reset rearms the scanner over a new buffer span, used each time the
// connection appends more bytes from a socket read.
func (s *Scanner) Reset(buf []byte) {
	s.buf = buf
	s.pos = 0
}

// Pos returns how many bytes have been consumed so far.
func (s *Scanner) Pos() int { return s.pos }

// Remaining returns the unconsumed tail of the buffer.
func (s *Scanner) Remaining() []byte { return s.buf[s.pos:] }

// NextLine returns the next line (without its terminator) and
// advances past it. ok is false when no complete line is available
// yet (caller must read more and Reset). broken is true when the
// line was terminated by a bare LF rather than CRLF, which is only
// tolerated at Strict <= LevelRelaxed1.
func (s *Scanner) NextLine() (line []byte, ok bool, broken bool) {
	rest := s.buf[s.pos:]
	idx := bytes.IndexByte(rest, '\n')
	if idx < 0 {
		return nil, false, false
	}
	end := idx
	brk := true
	if idx > 0 && rest[idx-1] == '\r' {
		end = idx - 1
		brk = false
	}
	line = rest[:end]
	s.pos += idx + 1
	return line, true, brk
}

// IsEndOfHeaders reports whether line is the empty line terminating
// the request-line/header block (or a chunked body's trailer block).
func IsEndOfHeaders(line []byte) bool { return len(line) == 0 }

// IsFolded reports whether line begins with a space or tab, meaning
// it continues the previous header's value (obsolete line folding).
// Only honoured at Strict <= LevelRelaxed1 (see strictness.go).
func IsFolded(line []byte) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}
