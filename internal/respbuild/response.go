package respbuild

import "sync/atomic"

// HeaderField is one response header, order-preserving to match
// httpparse.HeaderField's round-trip contract on the request side.
type HeaderField struct {
	Name  string
	Value string
}

// Response is an application-constructed reply. A Response may be
// marked Reusable and handed to many connections (a canned 404 page,
// for instance); once Frozen it must not be mutated except through
// the atomic refcount.
type Response struct {
	StatusCode int
	Headers    []HeaderField
	Content    Content

	Chunked               bool // force chunked framing even when Content.Len() is known
	Mode10                bool // force an HTTP/1.0-style status line
	CloseForced           bool // always close after this response
	ContentLengthByApp    bool // app already set Content-Length itself
	HeadOnly              bool // suppress body regardless of Content
	HasBasicAuthChallenge bool

	Frozen   bool
	Reusable bool
	refcount atomic.Int32
}

// AddHeader appends a header, preserving duplicates.
func (r *Response) AddHeader(name, value string) {
	r.Headers = append(r.Headers, HeaderField{Name: name, Value: value})
}

// AddBasicAuthChallenge attaches a WWW-Authenticate: Basic header for
// realm and sets HasBasicAuthChallenge; the response builder does not
// read that flag.
func (r *Response) AddBasicAuthChallenge(realm string) {
	r.AddHeader("WWW-Authenticate", `Basic realm="`+realm+`"`)
	r.HasBasicAuthChallenge = true
}

// Acquire increments the shared-response refcount; used when a
// Reusable Response is handed to another connection.
func (r *Response) Acquire() { r.refcount.Add(1) }

// Release decrements the refcount and reports whether this was the
// last reference (in which case the caller may return pooled
// resources the Content holds, e.g. an open FileContent fd).
func (r *Response) Release() bool {
	return r.refcount.Add(-1) == 0
}
