package conn

import (
	"bytes"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/pool"
	"github.com/sabrq/httpd/internal/respbuild"
	"github.com/sabrq/httpd/internal/upgrade"
)

// newPair wires a Connection to one end of a unix socketpair and
// returns the other end as a plain *os.File the test drives directly,
// playing the role of the remote client.
func newPair(t *testing.T, poolSize int) (*Connection, *os.File) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	arena := pool.New(make([]byte, poolSize))
	limits := Limits{Timeout: time.Second, MaxBodyBuffer: 1 << 20, Strict: httpparse.LevelDefault}
	c := New(fds[0], nil, &net.TCPAddr{}, arena, limits, nil)
	client := os.NewFile(uintptr(fds[1]), "test-client")
	t.Cleanup(func() { client.Close() })
	return c, client
}

func okResponse(body string) Action {
	return Action{Kind: ActionFinish, Response: &respbuild.Response{
		StatusCode: 200,
		Content:    respbuild.BufferContent{Data: []byte(body)},
	}}
}

func readAll(t *testing.T, f *os.File) string {
	t.Helper()
	f.SetReadDeadline(time.Now().Add(time.Second))
	var buf bytes.Buffer
	tmp := make([]byte, 4096)
	for {
		n, err := f.Read(tmp)
		buf.Write(tmp[:n])
		if err != nil {
			break
		}
		if n < len(tmp) {
			// Likely drained everything currently buffered; one more
			// non-blocking-ish read attempt distinguishes "more
			// coming" from "that's all" well enough for these tests.
			break
		}
	}
	return buf.String()
}

// HTTP/1.1 GET, Host header, no body; the
// handler replies 200 "ok"; response line is "HTTP/1.1 200 OK",
// Content-Length: 2, connection kept alive.
func TestHTTP11GetKeepAlive(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))

	closed := c.Advance(func(req *httpparse.Request) Action {
		if req.Path != "/hello" {
			t.Errorf("path = %q, want /hello", req.Path)
		}
		return okResponse("ok")
	})
	if closed {
		t.Fatalf("connection closed, want kept alive")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line: %q", resp)
	}
	if !strings.Contains(resp, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length: %q", resp)
	}
	if !strings.Contains(resp, "Connection: keep-alive\r\n") {
		t.Fatalf("missing keep-alive token: %q", resp)
	}
	if !strings.HasSuffix(resp, "\r\n\r\nok") {
		t.Fatalf("missing body: %q", resp)
	}
	if c.Stage == StageClosed {
		t.Fatalf("stage is Closed, want still alive waiting for next request")
	}
}

// HTTP/1.0 GET with no Connection: keep-alive always
// closes, even though the status line is still HTTP/1.1.
func TestHTTP10NoKeepAliveCloses(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("GET / HTTP/1.0\r\n\r\n"))

	closed := c.Advance(func(req *httpparse.Request) Action {
		return okResponse("hi")
	})
	if !closed {
		t.Fatalf("connection not closed, want closed (HTTP/1.0, no keep-alive)")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line should still be HTTP/1.1: %q", resp)
	}
	if !strings.Contains(resp, "Connection: close\r\n") {
		t.Fatalf("missing Connection: close: %q", resp)
	}
}

// A chunked POST, two chunks (5 + 10 bytes) then the final
// chunk marker; handler's final call sees RemainingUploadSize == 0
// (sentinel cleared to the fixed-size-style zero once chunked body is
// fully consumed is represented here by HaveChunkedUpload having run
// to completion), response is 204 with no body and no Content-Length.
func TestChunkedPostNoContent(t *testing.T) {
	c, client := newPair(t, 8192)
	req := "POST /up HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n" +
		"a\r\n0123456789\r\n" +
		"0\r\n\r\n"
	client.Write([]byte(req))

	var gotBody []byte
	closed := c.Advance(func(r *httpparse.Request) Action {
		if r.RemainingUploadSize != -1 && r.RemainingUploadSize != 0 {
			// still receiving: headers-processed call, nothing to assert.
		}
		gotBody = append([]byte(nil), c.Body()...)
		return Action{Kind: ActionFinish, Response: &respbuild.Response{StatusCode: 204}}
	})
	if closed {
		t.Fatalf("connection closed, want kept alive")
	}
	if string(gotBody) != "hello0123456789" {
		t.Fatalf("body = %q, want %q", gotBody, "hello0123456789")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 204 No Content\r\n") {
		t.Fatalf("status line: %q", resp)
	}
	if strings.Contains(resp, "Content-Length") {
		t.Fatalf("204 must not carry Content-Length: %q", resp)
	}
}

// Expect: 100-continue triggers a 100 Continue line ahead
// of reading the body.
func TestExpect100Continue(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("POST /up HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\nExpect: 100-continue\r\n\r\nabc"))

	calls := 0
	closed := c.Advance(func(r *httpparse.Request) Action {
		calls++
		if calls == 1 {
			// First (headers-processed) call: don't respond yet, so
			// the 100-continue preamble is sent before the body read.
			return Action{}
		}
		return okResponse("ok")
	})
	if closed {
		t.Fatalf("connection closed unexpectedly")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 100 Continue\r\n\r\n") {
		t.Fatalf("missing 100 Continue preamble: %q", resp)
	}
	if !strings.Contains(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("missing final response: %q", resp)
	}
}

// A request line longer than the connection's memory pool
// produces 414 URI Too Long and closes.
func TestURITooLong(t *testing.T) {
	c, client := newPair(t, 64) // tiny pool: the request line alone overflows it
	long := strings.Repeat("a", 200)
	client.Write([]byte("GET /" + long + " HTTP/1.1\r\n"))

	closed := c.Advance(func(r *httpparse.Request) Action {
		t.Fatalf("handler should never be invoked for an oversized request line")
		return Action{}
	})
	if !closed {
		t.Fatalf("connection should close on buffer exhaustion")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 414 URI Too Long\r\n") {
		t.Fatalf("status line: %q", resp)
	}
	if !strings.Contains(resp, "Connection: close\r\n") {
		t.Fatalf("missing Connection: close: %q", resp)
	}
}

// An Upgrade action emits 101 Switching Protocols with the
// merged headers and hands the raw stream to the UpgradeHandler once
// the reply is fully flushed.
func TestUpgradeSwitchingProtocols(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("GET /ws HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\nEXTRA"))

	var handedBuffered []byte
	called := false
	closed := c.Advance(func(r *httpparse.Request) Action {
		return Action{
			Kind:            ActionUpgrade,
			UpgradeProtocol: "websocket",
			UpgradeHeaders:  []respbuild.HeaderField{{Name: "Sec-WebSocket-Accept", Value: "K"}},
			UpgradeCallback: func(h *upgrade.Handle) {
				called = true
				handedBuffered = append([]byte(nil), h.Buffered...)
			},
		}
	})
	if !closed {
		t.Fatalf("connection should report closed once the upgrade hand-off completes")
	}
	if !called {
		t.Fatalf("UpgradeCallback was never invoked")
	}
	if string(handedBuffered) != "EXTRA" {
		t.Fatalf("buffered leftover = %q, want %q", handedBuffered, "EXTRA")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n") {
		t.Fatalf("status line: %q", resp)
	}
	if !strings.Contains(resp, "Upgrade: websocket\r\n") {
		t.Fatalf("missing Upgrade header: %q", resp)
	}
	if !strings.Contains(resp, "Connection: upgrade\r\n") {
		t.Fatalf("missing Connection: upgrade: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: K\r\n") {
		t.Fatalf("missing app header: %q", resp)
	}
}

// TestWriteOffsetInvariant checks write_send_off <= write_append_off
// <= write_size once a full reply has been sent and the connection
// recycled.
func TestWriteOffsetInvariant(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	c.Advance(func(r *httpparse.Request) Action { return okResponse("ok") })
	if c.writeOff > c.writeLen || c.writeLen > len(c.writeBuf) {
		t.Fatalf("write offsets out of order: off=%d len=%d bufcap=%d", c.writeOff, c.writeLen, len(c.writeBuf))
	}
	readAll(t, client)
}

// TestRecycleResetsState checks that after a full reply + keep-alive
// recycle, the request object is cleared.
func TestRecycleResetsState(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("GET /first HTTP/1.1\r\nHost: x\r\nX-Foo: bar\r\n\r\n"))
	c.Advance(func(r *httpparse.Request) Action { return okResponse("ok") })
	readAll(t, client)

	if c.Request.Path != "" {
		t.Fatalf("Request.Path not cleared after recycle: %q", c.Request.Path)
	}
	if _, ok := c.Request.Header.Get("X-Foo"); ok {
		t.Fatalf("Request.Header not cleared after recycle")
	}
	if c.Stage != StageReqLineReceiving && c.Stage != StageInit {
		t.Fatalf("stage after recycle = %v, want back at Init/ReqLineReceiving", c.Stage)
	}
}

// TestStartClosingIdempotent: startClosing(r1); startClosing(r2)
// leaves the connection in the state imposed by r1.
func TestStartClosingIdempotent(t *testing.T) {
	c, _ := newPair(t, 8192)
	var gotReason CloseReason
	calls := 0
	c.onClose = func(reason CloseReason, msg string) {
		calls++
		gotReason = reason
	}
	c.startClosing(CloseReasonProtocolError, "first")
	c.startClosing(CloseReasonIOError, "second")
	if calls != 1 {
		t.Fatalf("onClose invoked %d times, want exactly 1", calls)
	}
	if gotReason != CloseReasonProtocolError {
		t.Fatalf("reason = %v, want the first reason", gotReason)
	}
	if c.Stage != StageClosed {
		t.Fatalf("stage = %v, want Closed", c.Stage)
	}
}

// TestChunkSizeOverflow: a chunk-size token >= 2^24 is rejected with
// 413, never used to size an allocation.
func TestChunkSizeOverflow(t *testing.T) {
	c, client := newPair(t, 8192)
	req := "POST /up HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"1000000\r\n" // 0x1000000 == 2^24, at the boundary, must be rejected
	client.Write([]byte(req))

	closed := c.Advance(func(r *httpparse.Request) Action { return okResponse("ok") })
	if !closed {
		t.Fatalf("connection should close on chunk-size overflow")
	}
	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 413 ") {
		t.Fatalf("status line: %q", resp)
	}
}

// TestFixedBodyStopsAtContentLength: at the exact Content-Length
// byte, body receiving ends without consuming anything past it -- a
// pipelined second request following the body must still parse.
func TestFixedBodyStopsAtContentLength(t *testing.T) {
	c, client := newPair(t, 8192)
	wire := "POST /a HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabc" +
		"GET /b HTTP/1.1\r\nHost: x\r\n\r\n"
	client.Write([]byte(wire))

	var paths []string
	var bodies []string
	handler := func(r *httpparse.Request) Action {
		if r.RemainingUploadSize > 0 {
			return Action{} // headers-processed call; wait for the body
		}
		paths = append(paths, r.Path)
		bodies = append(bodies, string(c.Body()))
		return okResponse("ok")
	}
	if closed := c.Advance(handler); closed {
		t.Fatalf("connection closed, want kept alive for the pipelined request")
	}
	readAll(t, client)

	if len(paths) < 2 {
		t.Fatalf("handler saw %d requests (%v), want both pipelined requests", len(paths), paths)
	}
	if paths[0] != "/a" || paths[1] != "/b" {
		t.Fatalf("paths = %v, want [/a /b]", paths)
	}
	if bodies[0] != "abc" {
		t.Fatalf("first body = %q, want %q (must not consume past Content-Length)", bodies[0], "abc")
	}
	if bodies[1] != "" {
		t.Fatalf("second body = %q, want empty", bodies[1])
	}
}

// TestSuspendResume: an ActionSuspend parks the connection; Resume
// hands it the final action and the next Advance pass sends it.
func TestSuspendResume(t *testing.T) {
	c, client := newPair(t, 8192)
	client.Write([]byte("GET /slow HTTP/1.1\r\nHost: x\r\n\r\n"))

	if closed := c.Advance(func(r *httpparse.Request) Action {
		return Action{Kind: ActionSuspend}
	}); closed {
		t.Fatalf("suspended connection reported closed")
	}
	if !c.Suspended() {
		t.Fatalf("connection not marked suspended")
	}

	c.Resume(okResponse("later"))
	if closed := c.Advance(func(r *httpparse.Request) Action {
		t.Fatalf("handler must not run again after Resume supplied the action")
		return Action{}
	}); closed {
		t.Fatalf("connection closed, want kept alive")
	}

	resp := readAll(t, client)
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line: %q", resp)
	}
	if !strings.HasSuffix(resp, "later") {
		t.Fatalf("body missing: %q", resp)
	}
}
