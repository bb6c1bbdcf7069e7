package httpparse

import (
	"bytes"
	"errors"
	"strconv"
)

// UploadSizeUnknown marks a request body of undetermined length
// (chunked transfer-encoding). A request with neither Content-Length
// nor chunked framing also starts out with this value; the connection
// state machine sets it to 0 once the headers are complete, treating
// such a request as having no body.
const UploadSizeUnknown int64 = -1

// Proto is the wire HTTP version of a parsed request.
type Proto int

const (
	Proto10 Proto = iota
	Proto11
)

// Request is the parsed request line, headers, and body-framing
// state for one request on a connection. It is owned by the
// connection's pool.Arena for its lifetime and is reset, not
// reallocated, between requests on a keep-alive connection.
type Request struct {
	Method              string
	Path                string
	RawQuery            string
	Proto               Proto
	Header              Header
	RemainingUploadSize int64

	HaveExpect100     bool
	HaveChunkedUpload bool
	HaveAuthHeader    bool

	// NumCRSPReplaced and SkippedBrokenLines count relaxed-mode
	// tolerances applied while parsing this request, surfaced to
	// NotifyConnection/logging for operational visibility.
	NumCRSPReplaced    int
	SkippedBrokenLines int

	// App is set by the connection state machine to its connection
	// before each handler invocation (the "headers-processed" /
	// "full-request-received" two-call contract), so an adapter can
	// reach the connection's Body; a value the handler stores there
	// is overwritten before the next call.
	App any
}

// Reset clears r for reuse by the next request on the same
// connection. The Header's backing array is kept to avoid a fresh
// allocation per request.
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.RawQuery = ""
	r.Proto = Proto11
	r.Header.Reset()
	r.RemainingUploadSize = UploadSizeUnknown
	r.HaveExpect100 = false
	r.HaveChunkedUpload = false
	r.HaveAuthHeader = false
	r.NumCRSPReplaced = 0
	r.SkippedBrokenLines = 0
	r.App = nil
}

var (
	// ErrNeedMoreData signals the scanner ran out of buffered bytes
	// mid-line; the caller should read more from the socket and retry.
	ErrNeedMoreData = errors.New("httpparse: need more data")
	// ErrBadRequestLine is a hard parse failure on the request line.
	ErrBadRequestLine = errors.New("httpparse: malformed request line")
	// ErrBadHeaderLine is a hard parse failure on a header line.
	ErrBadHeaderLine = errors.New("httpparse: malformed header line")
	// ErrConflictingContentLength is a hard failure: two
	// Content-Length headers disagree.
	ErrConflictingContentLength = errors.New("httpparse: conflicting content-length headers")
	// ErrLineTooLong is a hard failure under LevelStrict2+.
	ErrLineTooLong = errors.New("httpparse: header line exceeds limit")
	// ErrMissingHost is a hard failure: HTTP/1.1 without Host, at
	// default strictness or stricter.
	ErrMissingHost = errors.New("httpparse: missing Host header")
)

// ParseRequestLine parses "METHOD SP request-target SP HTTP/x.y" (or,
// at LevelRelaxed3, a bare "METHOD SP request-target" HTTP/0.9 line)
// into req.
func ParseRequestLine(line []byte, strict Level, req *Request) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 < 0 {
		return ErrBadRequestLine
	}
	req.Method = string(line[:sp1])
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 < 0 {
		if !strict.AllowsHTTP09() {
			return ErrBadRequestLine
		}
		target := rest
		path, query := splitQuery(target)
		req.Path = string(path)
		req.RawQuery = string(query)
		req.Proto = Proto10
		return nil
	}
	target := rest[:sp2]
	protoTok := rest[sp2+1:]
	path, query := splitQuery(target)
	req.Path = string(path)
	req.RawQuery = string(query)

	switch {
	case bytes.Equal(protoTok, []byte("HTTP/1.1")):
		req.Proto = Proto11
	case bytes.Equal(protoTok, []byte("HTTP/1.0")):
		req.Proto = Proto10
	default:
		return ErrBadRequestLine
	}
	return nil
}

func splitQuery(target []byte) (path, query []byte) {
	if i := bytes.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, nil
}

// ParseHeaderLine parses one "Name: value" line (after obsolete-line
// folding, if any, has already been merged by the caller) and adds it
// to req.Header, updating the framing flags.
func ParseHeaderLine(line []byte, strict Level, req *Request) error {
	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return ErrBadHeaderLine
	}
	name := bytes.TrimSpace(line[:colon])
	value := bytes.TrimSpace(line[colon+1:])
	if len(name) == 0 {
		return ErrBadHeaderLine
	}
	if n := strict.MaxHeaderLineLen(); n > 0 && len(line) > n {
		return ErrLineTooLong
	}

	switch {
	case equalFoldFast(string(name), "Content-Length"):
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || n < 0 {
			return ErrBadHeaderLine
		}
		if existing, ok := req.Header.Get("Content-Length"); ok {
			if existing != string(value) {
				return ErrConflictingContentLength
			}
			if !strict.AllowsDuplicateContentLength() {
				return ErrConflictingContentLength
			}
		}
		if !req.HaveChunkedUpload {
			req.RemainingUploadSize = n
		}
	case equalFoldFast(string(name), "Transfer-Encoding"):
		if equalFold(string(bytes.ToLower(value)), "chunked") {
			req.HaveChunkedUpload = true
			req.RemainingUploadSize = UploadSizeUnknown
		}
	case equalFoldFast(string(name), "Expect"):
		if containsTokenFold(string(value), "100-continue") {
			req.HaveExpect100 = true
		}
	case equalFoldFast(string(name), "Authorization"):
		req.HaveAuthHeader = true
	}

	req.Header.Add(string(name), string(value))
	return nil
}

func containsTokenFold(s, token string) bool {
	return len(s) >= len(token) && equalFold(s[:len(token)], token)
}

// FoldHeaderLine merges an obsolete folded continuation line (one
// beginning with SP/HTAB, see IsFolded) into the previously parsed
// header's value.
func FoldHeaderLine(line []byte, req *Request) {
	req.Header.AppendToLast(string(bytes.TrimSpace(line)))
}

// ValidateHost checks the Host-header presence rule for req once all
// headers have been parsed.
func ValidateHost(req *Request, strict Level) error {
	if req.Proto != Proto11 {
		return nil
	}
	if _, ok := req.Header.Get("Host"); ok {
		return nil
	}
	if strict.AllowsMissingHost() {
		return nil
	}
	return ErrMissingHost
}
