// Package http provides the application-facing request Context used
// above internal/conn's two-phase HandlerFunc callback: a fixed
// param-slot-plus-overflow-map design with String/JSON/Bytes/Data/
// Error/Success response helpers, reused via sync.Pool across
// requests. It builds an internal/respbuild.Response and returns an
// internal/conn.Action rather than writing bytes straight to a
// net.Conn.
package http

import (
	"encoding/json"
	"net/url"
	"sync"

	"github.com/sabrq/httpd/core/sendfile"
	"github.com/sabrq/httpd/core/sse"
	"github.com/sabrq/httpd/internal/conn"
	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/respbuild"
	"github.com/sabrq/httpd/internal/upgrade"
)

// FDContext is the per-request convenience handed to application
// handlers built on top of the daemon's raw HandlerFunc. It is
// acquired fresh (from a pool) by the handler adapter in app/app.go
// and released once that adapter has read the handler's Action back.
type FDContext struct {
	req     *httpparse.Request
	resp    *respbuild.Response
	aborted bool
	forced  *conn.Action

	paramKeys        [4]string
	paramValues      [4]string
	paramCount       int
	paramMapOverflow map[string]string
}

var ctxPool = sync.Pool{
	New: func() any { return &FDContext{} },
}

// AcquireContext fetches a pooled FDContext wrapping req, ready for a
// handler to populate a response on.
func AcquireContext(req *httpparse.Request) *FDContext {
	c := ctxPool.Get().(*FDContext)
	c.req = req
	c.resp = &respbuild.Response{StatusCode: 200}
	c.aborted = false
	c.forced = nil
	c.paramCount = 0
	c.paramMapOverflow = nil
	return c
}

// ReleaseContext returns ctx to the pool. Callers must not use ctx
// again afterwards.
func ReleaseContext(ctx *FDContext) {
	ctx.req = nil
	ctx.resp = nil
	ctx.forced = nil
	ctxPool.Put(ctx)
}

// Reset reinitializes ctx for reuse outside the pool (e.g. a
// benchmark driving the same FDContext through many iterations
// without going through Acquire/Release each time).
func (c *FDContext) Reset(code int, req *httpparse.Request) {
	c.req = req
	c.resp = &respbuild.Response{StatusCode: code}
	c.aborted = false
	c.forced = nil
	c.paramCount = 0
	c.paramMapOverflow = nil
}

// ensureResp lazily allocates resp for a zero-value FDContext built
// directly (&FDContext{}) rather than through Acquire.
func (c *FDContext) ensureResp() *respbuild.Response {
	if c.resp == nil {
		c.resp = &respbuild.Response{StatusCode: 200}
	}
	return c.resp
}

// SetParam sets a path parameter (zero-allocation for up to 4 params
// per request, overflowing to a map beyond that).
func (c *FDContext) SetParam(key, value string) {
	if c.paramCount < len(c.paramKeys) {
		c.paramKeys[c.paramCount] = key
		c.paramValues[c.paramCount] = value
		c.paramCount++
		return
	}
	if c.paramMapOverflow == nil {
		c.paramMapOverflow = make(map[string]string)
	}
	c.paramMapOverflow[key] = value
}

// Param gets a path parameter.
func (c *FDContext) Param(key string) string {
	for i := 0; i < c.paramCount; i++ {
		if c.paramKeys[i] == key {
			return c.paramValues[i]
		}
	}
	if c.paramMapOverflow != nil {
		return c.paramMapOverflow[key]
	}
	return ""
}

// RequestValueKind selects which request namespace Value looks a key
// up in.
type RequestValueKind int

const (
	ValueHeader RequestValueKind = iota
	ValueQuery
	ValueParam
)

// Value returns one request datum by (kind, key): a header field, a
// query-string parameter, or a router path parameter. The second
// return reports presence, distinguishing an absent key from an
// empty value.
func (c *FDContext) Value(kind RequestValueKind, key string) (string, bool) {
	switch kind {
	case ValueHeader:
		return c.req.Header.Get(key)
	case ValueQuery:
		values, err := url.ParseQuery(c.req.RawQuery)
		if err != nil {
			return "", false
		}
		vs, ok := values[key]
		if !ok || len(vs) == 0 {
			return "", false
		}
		return vs[0], true
	case ValueParam:
		v := c.Param(key)
		return v, v != ""
	}
	return "", false
}

// Respond overrides whatever response helpers have accumulated with
// an explicit Action, for handlers that need suspend/abort/upgrade
// semantics the String/JSON/Data helpers do not express.
func (c *FDContext) Respond(a conn.Action) {
	act := a
	c.forced = &act
}

// Method returns the HTTP method.
func (c *FDContext) Method() string { return c.req.Method }

// Path returns the request path.
func (c *FDContext) Path() string { return c.req.Path }

// Query gets a query-string parameter, parsing RawQuery lazily and
// only once per call (queries are not expected on the router's hot
// path the way headers and paths are).
func (c *FDContext) Query(key string) string {
	values, err := url.ParseQuery(c.req.RawQuery)
	if err != nil {
		return ""
	}
	return values.Get(key)
}

// Header gets a request header.
func (c *FDContext) Header(key string) string {
	v, _ := c.req.Header.Get(key)
	return v
}

// Body returns the request body accumulated so far. Only valid from
// the StageFullReqReceived handler call; the connection stashes
// itself in req.App on both handler invocations so Body can reach the
// accumulated bytes without the connection package being exported
// wholesale to applications.
func (c *FDContext) Body() []byte {
	conn, ok := c.req.App.(interface{ Body() []byte })
	if !ok {
		return nil
	}
	return conn.Body()
}

// Bind JSON-decodes the request body into v.
func (c *FDContext) Bind(v any) error {
	return json.Unmarshal(c.Body(), v)
}

// Abort marks the context so a middleware pipeline stops calling
// subsequent handlers; the response already set is still sent.
func (c *FDContext) Abort() { c.aborted = true }

// IsAborted reports whether Abort was called.
func (c *FDContext) IsAborted() bool { return c.aborted }

// SetHeader adds a response header.
func (c *FDContext) SetHeader(name, value string) { c.ensureResp().AddHeader(name, value) }

// Status sets the response status code with no body.
func (c *FDContext) Status(code int) { c.ensureResp().StatusCode = code }

// String sends a text/plain response.
func (c *FDContext) String(code int, s string) {
	c.ensureResp().StatusCode = code
	c.SetHeader("Content-Type", "text/plain; charset=utf-8")
	c.resp.Content = respbuild.BufferContent{Data: []byte(s)}
}

// JSON sends an application/json response.
func (c *FDContext) JSON(code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.String(500, "json marshal error")
		return
	}
	c.ensureResp().StatusCode = code
	c.SetHeader("Content-Type", "application/json")
	c.resp.Content = respbuild.BufferContent{Data: data}
}

// Bytes sends a raw application/octet-stream response.
func (c *FDContext) Bytes(code int, data []byte) {
	c.Data(code, "application/octet-stream", data)
}

// Data sends a raw response with an explicit content type.
func (c *FDContext) Data(code int, contentType string, data []byte) {
	c.ensureResp().StatusCode = code
	c.SetHeader("Content-Type", contentType)
	c.resp.Content = respbuild.BufferContent{Data: data}
}

// Error sends a JSON error envelope.
func (c *FDContext) Error(code int, message string) {
	c.JSON(code, map[string]any{"code": code, "message": message})
}

// Success sends a JSON success envelope.
func (c *FDContext) Success(data any) {
	c.JSON(200, map[string]any{"code": 0, "message": "success", "data": data})
}

var fileCache = sendfile.NewFileCache(1000)

// ServeFile stats and opens filePath through the shared LRU file
// cache and attaches it as a respbuild.FileContent; the connection's
// write loop performs the actual zero-copy sendfile (or, under TLS, a
// buffered pread/write loop) once the response is flushed.
func (c *FDContext) ServeFile(filePath string) error {
	f, err := fileCache.Get(filePath)
	if err != nil {
		c.String(404, "not found")
		return err
	}
	stat, err := f.Stat()
	if err != nil {
		c.String(500, "internal server error")
		return err
	}
	c.ensureResp().StatusCode = 200
	c.SetHeader("Content-Type", sendfile.GetContentType(filePath))
	c.resp.Content = respbuild.FileContent{FD: int(f.Fd()), Offset: 0, Length: stat.Size()}
	return nil
}

// StreamSSE attaches an SSE event stream as the response body: status
// 200, the standard text/event-stream headers, and a
// respbuild.CallbackContent driven by h's subscriber channel for
// clientID. Response framing falls out of the normal chunked-body
// path (4.F/4.E) since the length of an event stream is unknown ahead
// of time.
func (c *FDContext) StreamSSE(h *sse.Handler, clientID string) {
	resp := c.ensureResp()
	resp.StatusCode = 200
	for k, v := range sse.WriteSSEHeaders() {
		if k == "Connection" {
			continue // the response builder emits its own Connection token
		}
		c.SetHeader(k, v)
	}
	resp.Content = respbuild.CallbackContent{Gen: h.Generator(clientID)}
}

// Upgrade marks the response as a protocol upgrade: a 101 status is
// sent and cb takes over the raw connection afterwards. protocol and
// headers are matched against the client's request by the caller
// (e.g. upgradeproto/websocket) before calling this.
func (c *FDContext) Upgrade(protocol string, headers []respbuild.HeaderField, cb func(*upgrade.Handle)) {
	c.forced = &conn.Action{
		Kind:            conn.ActionUpgrade,
		UpgradeProtocol: protocol,
		UpgradeHeaders:  headers,
		UpgradeCallback: upgrade.Handler(cb),
	}
}

// Action converts the context's accumulated response into the Action
// internal/conn.HandlerFunc must return.
func (c *FDContext) Action() conn.Action {
	if c.forced != nil {
		return *c.forced
	}
	return conn.Action{Kind: conn.ActionFinish, Response: c.ensureResp()}
}

