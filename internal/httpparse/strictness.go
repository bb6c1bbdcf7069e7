package httpparse

// Level is the daemon's protocol strictness setting, −3…+3. Negative
// values relax tolerance for non-conformant clients; positive values
// reject more aggressively. There is no single authoritative ladder
// for this in the HTTP RFCs, so the exact behaviour at each step is
// whatever this package's own tests pin down.
type Level int

const (
	LevelRelaxed3 Level = -3 // also tolerate HTTP/0.9-style request lines (no headers, no proto)
	LevelRelaxed2 Level = -2 // also tolerate a missing Host header on HTTP/1.1
	LevelRelaxed1 Level = -1 // also tolerate bare-LF line endings and obsolete header folding
	LevelDefault  Level = 0  // RFC-conformant with tolerance for duplicate-but-consistent Content-Length
	LevelStrict1  Level = 1  // reject duplicate Content-Length even when consistent
	LevelStrict2  Level = 2  // reject any header line exceeding the conservative 4000-byte RFC suggestion
	LevelStrict3  Level = 3  // do not honour HTTP/1.0 keep-alive; such a connection closes after its reply
)

// AllowsBareLF reports whether a bare '\n' line terminator (no
// preceding '\r') is tolerated.
func (l Level) AllowsBareLF() bool { return l <= LevelRelaxed1 }

// AllowsFolding reports whether obsolete header-line folding
// (continuation lines starting with SP/HTAB) is tolerated.
func (l Level) AllowsFolding() bool { return l <= LevelRelaxed1 }

// AllowsMissingHost reports whether an HTTP/1.1 request lacking a
// Host header is tolerated instead of rejected with 400.
func (l Level) AllowsMissingHost() bool { return l <= LevelRelaxed2 }

// AllowsHTTP09 reports whether a request line with no protocol token
// and no headers at all is accepted as a simple GET.
func (l Level) AllowsHTTP09() bool { return l <= LevelRelaxed3 }

// AllowsDuplicateContentLength reports whether two Content-Length
// headers with identical values are tolerated instead of rejected.
func (l Level) AllowsDuplicateContentLength() bool { return l <= LevelDefault }

// MaxHeaderLineLen returns 0 (no extra limit beyond the connection's
// memory pool) unless strict level 2+ is set, in which case it
// enforces the conservative 4000-byte line length RFC 9112 recommends
// implementations support at minimum.
func (l Level) MaxHeaderLineLen() int {
	if l >= LevelStrict2 {
		return 4000
	}
	return 0
}

// RejectsHTTP10KeepAlive reports whether an HTTP/1.0 request using
// "Connection: keep-alive" (a de-facto extension, not in the 1.0
// spec) is denied keep-alive: the request is still served, and the
// connection closes after the reply.
func (l Level) RejectsHTTP10KeepAlive() bool { return l >= LevelStrict3 }
