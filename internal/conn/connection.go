// Package conn implements the per-connection state machine: the
// sequence of named Stages a connection moves through from accept to
// close, driving the header/line parser, the response builder, and
// the optional Upgrade hand-off.
package conn

import (
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/ioutil"
	"github.com/sabrq/httpd/internal/pool"
	"github.com/sabrq/httpd/internal/respbuild"
	"github.com/sabrq/httpd/internal/tlstransport"
	"github.com/sabrq/httpd/internal/upgrade"
)

// Limits bounds resource use per connection; the daemon applies the
// same Limits to every connection it owns.
type Limits struct {
	Timeout       time.Duration
	MaxBodyBuffer int64 // hard cap on a discarded-or-buffered request body
	Strict        httpparse.Level
	SuppressDate  bool // omit the automatic Date: header on replies
}

// Connection owns one accepted socket's entire lifecycle: its memory
// arena, read/write buffers, in-flight Request/Response, and Stage.
// A Connection is only ever touched by the single goroutine that owns
// it (see the concurrency model) -- there is no internal locking.
type Connection struct {
	FD     int
	Raw    net.Conn
	TLS    tlstransport.Session
	Remote net.Addr

	Arena  *pool.Arena
	Limits Limits

	scanner  httpparse.Scanner
	readBuf  []byte // view of Arena's tail region currently holding unread bytes
	readLen  int    // bytes of readBuf currently valid
	consumed int    // bytes of readBuf the scanner has consumed

	writeBuf []byte
	writeLen int
	writeOff int

	Request  httpparse.Request
	response *respbuild.Response
	framing  respbuild.Framing

	Stage      Stage
	LastActive time.Time

	discardRequest bool
	suspended      bool
	stopWithError  bool
	keepAlive      bool
	handlerCalled  bool

	// earlyBodyComplete records whether the request body was already
	// fully received when the handler's first invocation ran; together
	// with a response from that invocation it lets the final-call site
	// skip the second invocation. finalHandlerCalled keeps a resumed
	// connection from re-entering the handler at the final-call site.
	earlyBodyComplete  bool
	finalHandlerCalled bool

	bodyBuf     []byte
	chunkPhase  int // 0=size line, 1=data, 2=trailer CRLF
	chunkRemain int64

	// interimPending holds the unflushed remainder of a 1xx interim
	// reply across would-block boundaries.
	interimPending []byte

	// Resumable response-body write state: bodyIter produces the next
	// piece of the body on demand, bodyPending holds a piece that was
	// only partially flushed by a prior Advance call that suspended
	// mid-write, and bodyDone/bodyIterInit track the iterator's
	// lifecycle across suspend/resume boundaries.
	bodyIter     func() ([]byte, bool, error)
	bodyIterInit bool
	bodyPending  []byte
	bodyDone     bool

	pendingUpgrade *Action

	timeoutOverride time.Duration

	bytesIn  int64
	bytesOut int64

	// transportHandedOff is set once socket ownership moved to an
	// Upgrade handler or an ALPN companion; ReleaseTransport then
	// leaves the net.Conn alone and only closes the daemon's dup fd.
	transportHandedOff bool

	onClose   func(reason CloseReason, logMsg string)
	onRelease func()
	wake      func()

	resumeMu     sync.Mutex
	resumeAction *Action

	// OnRequestLine, when set, fires as soon as a request line has
	// been parsed, before headers arrive (the daemon's early-URI
	// logging hook).
	OnRequestLine func(method, path string)

	// ALPNHandoff, when set, is consulted once after the first
	// successful TLS read: if the handshake negotiated a protocol
	// other than the core listener's own candidate list (h2 in
	// practice, since ALPNProtocols never offers it), it is called
	// with a net.Conn over the same TLS record stream (replaying the
	// bytes this connection already decrypted) and takes ownership the
	// same way an Upgrade callback does. alpnChecked guards against
	// re-checking on every subsequent read.
	ALPNHandoff func(conn net.Conn, negotiatedProtocol string) bool
	alpnChecked bool
}

// replayConn prepends buffered bytes already decrypted off the wire
// ahead of further reads from the embedded net.Conn, the same
// buffered-prefix trick upgrade.Handle uses, but satisfying the full
// net.Conn interface (via embedding) since golang.org/x/net/http2's
// ServeConn needs one.
type replayConn struct {
	net.Conn
	buffered []byte
}

func (r *replayConn) Read(p []byte) (int, error) {
	if len(r.buffered) > 0 {
		n := copy(p, r.buffered)
		r.buffered = r.buffered[n:]
		return n, nil
	}
	return r.Conn.Read(p)
}

// New wires a freshly accepted connection with its backing arena.
func New(fd int, raw net.Conn, remote net.Addr, arena *pool.Arena, limits Limits, onClose func(CloseReason, string)) *Connection {
	c := &Connection{
		FD:         fd,
		Raw:        raw,
		Remote:     remote,
		Arena:      arena,
		Limits:     limits,
		Stage:      StageInit,
		LastActive: time.Now(),
		onClose:    onClose,
	}
	c.Request.Reset()
	c.armReadBuffer()
	return c
}

// SetOnClose rebinds the teardown callback. A connection drawn back
// out of the daemon's pool (see pools.ConnectionPool and Reset below)
// is a new accepted socket wrapping an old struct; its previous
// owner's onClose closure captured that owner's own bookkeeping and
// must be replaced before the connection is handed to the stage
// machine again.
func (c *Connection) SetOnClose(fn func(reason CloseReason, logMsg string)) {
	c.onClose = fn
}

// SetOnRelease installs the resource-return hook ReleaseTransport
// fires after the socket is closed: the daemon uses it to hand the
// arena's backing block and the Connection struct itself back to
// their pools, strictly after the owning engine has finished touching
// the connection.
func (c *Connection) SetOnRelease(fn func()) { c.onRelease = fn }

// SetWaker installs the callback Resume uses to get the owning
// engine's attention from another goroutine.
func (c *Connection) SetWaker(fn func()) { c.wake = fn }

// Reset rearms a Connection struct drawn from the daemon's connection
// pool for a newly accepted socket. Between requests on one keep-alive
// socket the state machine uses recycleForNextRequest instead, which
// keeps the pipelined bytes that Reset drops.
func (c *Connection) Reset(fd int, raw net.Conn, remote net.Addr) {
	c.FD = fd
	c.Raw = raw
	c.Remote = remote
	c.Stage = StageInit
	c.LastActive = time.Now()
	c.discardRequest = false
	c.suspended = false
	c.stopWithError = false
	c.keepAlive = false
	c.handlerCalled = false
	c.earlyBodyComplete = false
	c.finalHandlerCalled = false
	c.chunkPhase = 0
	c.chunkRemain = 0
	c.bodyBuf = c.bodyBuf[:0]
	c.interimPending = nil
	c.writeLen, c.writeOff = 0, 0
	c.bodyIter = nil
	c.bodyIterInit = false
	c.bodyPending = nil
	c.bodyDone = false
	c.pendingUpgrade = nil
	c.alpnChecked = false
	c.bytesIn = 0
	c.bytesOut = 0
	c.transportHandedOff = false
	c.resumeAction = nil
	c.Request.Reset()
	c.Arena.Reset()
	c.armReadBuffer()
}

func (c *Connection) armReadBuffer() {
	c.readBuf = c.Arena.AcquireReadBuffer()
	c.readLen = 0
	c.consumed = 0
	c.scanner.Reset(nil)
}

// compactReadBuffer moves the unconsumed request bytes (a pipelined
// next request, or bytes the client sent ahead of an Upgrade reply)
// to the read region's trailing span and returns the region's leading
// remainder to the arena, so the write buffer acquired next is a
// disjoint span and the response bytes cannot overwrite them.
func (c *Connection) compactReadBuffer() {
	leftover := c.readLen - c.consumed
	release := len(c.readBuf) - leftover
	copy(c.readBuf[release:], c.readBuf[c.consumed:c.readLen])
	c.Arena.ShrinkTail(release)
	c.readBuf = c.Arena.AcquireReadBuffer()
	c.consumed = 0
	c.readLen = leftover
}

// Suspended reports whether the application parked this connection
// via ActionSuspend.
func (c *Connection) Suspended() bool { return c.suspended }

// WantWrite reports whether the connection has buffered bytes still
// waiting to be sent, used by the event engine to decide whether to
// arm the poller for write-readiness before the next suspend.
func (c *Connection) WantWrite() bool { return c.writeOff < c.writeLen }

// TLSBuffered reports whether the TLS layer may hold decrypted
// plaintext an edge-triggered poller would never re-announce; the
// event engine re-queues the connection instead of parking it on the
// readiness set while this is true.
func (c *Connection) TLSBuffered() bool {
	return c.TLS != nil && c.TLS.HasBufferedData()
}

// IdleTimeout returns the Duration this connection should be closed
// after if no readiness activity touches it, honouring Limits.Timeout
// unless a per-connection override was set via SetTimeout.
func (c *Connection) IdleTimeout() time.Duration {
	if c.timeoutOverride > 0 {
		return c.timeoutOverride
	}
	return c.Limits.Timeout
}

// SetTimeout overrides the default timeout for this connection only;
// the event engine moves it into its custom-timeout queue so it is
// swept independently of connections still using the daemon default.
func (c *Connection) SetTimeout(d time.Duration) { c.timeoutOverride = d }

// Touch records read/write activity, resetting the idle clock the
// event engine's timeout sweep measures against.
func (c *Connection) Touch() { c.LastActive = time.Now() }

// CloseForTimeout tears the connection down with CloseReasonTimeout,
// called by the event engine's timeout sweep once IdleTimeout elapses
// without activity.
func (c *Connection) CloseForTimeout() {
	c.startClosing(CloseReasonTimeout, "no activity within timeout")
}

// Close tears the connection down with an explicit reason, for
// daemon-level forced closes that happen before or outside the normal
// Advance loop (accept-policy rejection, engine registration failure,
// shutdown).
func (c *Connection) Close(reason CloseReason, msg string) {
	c.startClosing(reason, msg)
}

// Resume hands a suspended connection the Action its handler finally
// settled on. Safe to call from any goroutine: the action is parked
// under a small mutex and applied by the owning goroutine at its next
// Advance pass, which the waker callback provokes.
func (c *Connection) Resume(a Action) {
	c.resumeMu.Lock()
	act := a
	c.resumeAction = &act
	c.resumeMu.Unlock()
	if c.wake != nil {
		c.wake()
	}
}

func (c *Connection) takeResume() *Action {
	c.resumeMu.Lock()
	act := c.resumeAction
	c.resumeAction = nil
	c.resumeMu.Unlock()
	return act
}

// recv performs one non-blocking read, growing readLen, through the
// TLS session if present.
func (c *Connection) recv() (int, ioutil.Status) {
	free := c.readBuf[c.readLen:]
	if len(free) == 0 {
		return 0, ioutil.StatusWouldBlock
	}
	if c.TLS != nil {
		return c.TLS.Recv(free)
	}
	return ioutil.Recv(c.FD, free)
}

func (c *Connection) send(buf []byte) (int, ioutil.Status) {
	var n int
	var status ioutil.Status
	if c.TLS != nil {
		n, status = c.TLS.Send(buf)
	} else {
		n, status = ioutil.Send(c.FD, buf)
	}
	c.bytesOut += int64(n)
	return n, status
}

// BytesIn and BytesOut report the connection's lifetime transfer
// totals, fed to the daemon's notify-stream callback at close.
func (c *Connection) BytesIn() int64  { return c.bytesIn }
func (c *Connection) BytesOut() int64 { return c.bytesOut }

// Advance runs the state machine until it either suspends waiting for
// I/O, finishes and recycles the connection for another request,
// or closes. It returns true once the connection is fully closed.
func (c *Connection) Advance(h HandlerFunc) bool {
	for {
		if c.suspended {
			act := c.takeResume()
			if act == nil {
				return false
			}
			c.suspended = false
			c.applyAction(*act)
			continue
		}
		switch c.Stage {
		case StageClosed:
			return true

		case StageInit:
			c.Stage = StageReqLineReceiving

		case StageReqLineReceiving:
			line, ok, err := c.nextLine()
			if err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				continue
			}
			if !ok {
				if !c.fillMore() {
					return false
				}
				continue
			}
			if len(line) == 0 {
				continue // tolerate a leading blank line before the request line
			}
			if err := httpparse.ParseRequestLine(line, c.Limits.Strict, &c.Request); err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				continue
			}
			if c.OnRequestLine != nil {
				c.OnRequestLine(c.Request.Method, c.Request.Path)
			}
			c.Stage = StageReqLineReceived

		case StageReqLineReceived:
			c.Stage = StageReqHeadersReceiving

		case StageReqHeadersReceiving:
			line, ok, err := c.nextLine()
			if err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				continue
			}
			if !ok {
				if !c.fillMore() {
					return false
				}
				continue
			}
			if httpparse.IsEndOfHeaders(line) {
				c.Stage = StageHeadersReceived
				continue
			}
			if httpparse.IsFolded(line) {
				if !c.Limits.Strict.AllowsFolding() {
					c.fail(CloseReasonProtocolError, "obsolete header folding rejected")
					continue
				}
				httpparse.FoldHeaderLine(line, &c.Request)
				continue
			}
			if err := httpparse.ParseHeaderLine(line, c.Limits.Strict, &c.Request); err != nil {
				if err == httpparse.ErrBadHeaderLine && c.Limits.Strict < httpparse.LevelDefault {
					c.Request.SkippedBrokenLines++
					continue
				}
				c.fail(CloseReasonProtocolError, err.Error())
				continue
			}

		case StageHeadersReceived:
			if err := httpparse.ValidateHost(&c.Request, c.Limits.Strict); err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				continue
			}
			// A request with neither Content-Length nor chunked framing
			// has no body at all.
			if !c.Request.HaveChunkedUpload && c.Request.RemainingUploadSize == httpparse.UploadSizeUnknown {
				c.Request.RemainingUploadSize = 0
			}
			c.keepAlive = c.computeKeepAlive()
			c.Stage = StageHeadersProcessed

		case StageHeadersProcessed:
			if !c.handlerCalled {
				c.handlerCalled = true
				c.earlyBodyComplete = c.Request.RemainingUploadSize == 0
				c.Request.App = c
				c.applyAction(h(&c.Request))
				if c.suspended || c.Stage == StageClosed {
					continue
				}
			}
			if c.Request.HaveExpect100 && c.response == nil && !c.discardRequest {
				c.Stage = StageContinueSending
			} else {
				c.Stage = StageBodyReceiving
			}

		case StageContinueSending:
			if !c.writeInterim(100) {
				return false
			}
			c.Stage = StageBodyReceiving

		case StageBodyReceiving:
			done, ok := c.readBody()
			if !ok {
				if !c.fillMore() {
					return false
				}
				continue
			}
			if done {
				c.Stage = StageBodyReceived
			}

		case StageBodyReceived:
			if c.Request.HaveChunkedUpload {
				c.Stage = StageFootersReceiving
			} else {
				c.Stage = StageFullReqReceived
			}

		case StageFootersReceiving:
			line, ok, err := c.nextLine()
			if err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				continue
			}
			if !ok {
				if !c.fillMore() {
					return false
				}
				continue
			}
			if httpparse.IsEndOfHeaders(line) {
				c.Stage = StageFootersReceived
				continue
			}
			_ = httpparse.ParseHeaderLine(line, c.Limits.Strict, &c.Request)

		case StageFootersReceived:
			c.Stage = StageFullReqReceived

		case StageFullReqReceived:
			// Final handler call, skipped when the first invocation
			// already produced a response (or an upgrade) for a request
			// whose body was complete before that invocation ran.
			responded := c.response != nil || c.pendingUpgrade != nil
			if !c.finalHandlerCalled && !c.stopWithError && !(responded && c.earlyBodyComplete) {
				c.finalHandlerCalled = true
				c.Request.App = c
				c.applyAction(h(&c.Request))
				if c.suspended || c.Stage == StageClosed {
					continue
				}
			}
			c.Stage = StageStartReply

		case StageStartReply:
			c.buildReply()
			c.Stage = StageHeadersSending

		case StageHeadersSending:
			if !c.flushWrite() {
				return false
			}
			c.Stage = StageHeadersSent

		case StageHeadersSent:
			// flushWrite already drained the body through writeBody;
			// reaching here means headers and body are both on the wire.
			c.Stage = StageFullReplySent

		case StageFullReplySent:
			if c.pendingUpgrade != nil {
				c.Stage = StageUpgrading
				continue
			}
			if c.keepAlive {
				c.recycleForNextRequest()
			} else {
				c.startClosing(CloseReasonNormal, "response sent, no keep-alive")
			}

		case StageUpgrading:
			c.Stage = StageUpgraded
			c.runUpgrade()
			c.Stage = StageUpgradedCleaning

		case StageUpgraded:
			c.Stage = StageUpgradedCleaning

		case StageUpgradedCleaning:
			c.startClosing(CloseReasonUpgradeEnded, "upgrade handler returned")

		default:
			c.fail(CloseReasonProtocolError, "unreachable stage")
		}
	}
}

func (c *Connection) recycleForNextRequest() {
	c.Stage = StageInit
	c.handlerCalled = false
	c.earlyBodyComplete = false
	c.finalHandlerCalled = false
	c.discardRequest = false
	c.response = nil
	c.pendingUpgrade = nil
	c.writeLen, c.writeOff = 0, 0
	c.chunkPhase = 0
	c.chunkRemain = 0
	c.bodyBuf = c.bodyBuf[:0]
	c.bodyIter = nil
	c.bodyIterInit = false
	c.bodyPending = nil
	c.bodyDone = false
	c.interimPending = nil
	leftover := c.readBuf[c.consumed:c.readLen]
	c.Arena.Reset()
	c.readBuf = c.Arena.AcquireReadBuffer()
	n := copy(c.readBuf, leftover)
	c.readLen = n
	c.consumed = 0
	c.scanner.Reset(c.readBuf[:c.readLen])
	c.Request.Reset()
}

func (c *Connection) nextLine() (line []byte, ok bool, err error) {
	c.scanner.Reset(c.readBuf[c.consumed:c.readLen])
	c.scanner.Strict = c.Limits.Strict
	l, ok, broken := c.scanner.NextLine()
	if !ok {
		return nil, false, nil
	}
	if broken && !c.Limits.Strict.AllowsBareLF() {
		return nil, false, httpparse.ErrBadRequestLine
	}
	if broken {
		c.Request.NumCRSPReplaced++
	}
	c.consumed += c.scanner.Pos()
	return l, true, nil
}

// fillMore performs one non-blocking recv, returning false if the
// caller must suspend until the poller reports readability again.
func (c *Connection) fillMore() bool {
	n, status := c.recv()
	switch status {
	case ioutil.StatusOK:
		if n == 0 {
			c.startClosing(CloseReasonClientShutdown, "peer closed before request complete")
			return true
		}
		if !c.alpnChecked {
			c.alpnChecked = true
			if c.TLS != nil && c.ALPNHandoff != nil {
				if proto := c.TLS.NegotiatedProtocol(); proto != "" && proto != "http/1.1" && proto != "http/1.0" {
					buffered := append([]byte(nil), c.readBuf[c.readLen:c.readLen+n]...)
					wrapped := &replayConn{Conn: c.TLS.Underlying(), buffered: buffered}
					if c.ALPNHandoff(wrapped, proto) {
						c.transportHandedOff = true
						c.startClosing(CloseReasonALPNHandoff, "handed off to ALPN companion: "+proto)
						return true
					}
				}
			}
		}
		c.readLen += n
		c.bytesIn += int64(n)
		c.LastActive = time.Now()
		if c.readLen == len(c.readBuf) {
			// Full buffer: reclaim the span the scanner already consumed
			// before giving up. Exhaustion only counts when no token
			// could be extracted from the whole region.
			if c.consumed > 0 {
				copy(c.readBuf, c.readBuf[c.consumed:c.readLen])
				c.readLen -= c.consumed
				c.consumed = 0
			} else {
				c.writeCannedError(c.bufferExhaustedStatus(), "buffer-exhausted", "request exceeds connection memory limit")
			}
		}
		return true
	case ioutil.StatusWouldBlock:
		return false
	case ioutil.StatusPeerClosed:
		c.startClosing(CloseReasonClientShutdown, "peer closed")
		return true
	default:
		c.startClosing(CloseReasonIOError, "recv failed")
		return true
	}
}

func (c *Connection) fail(reason CloseReason, msg string) {
	c.startClosing(reason, msg)
}

// bufferExhaustedStatus maps the stage a read-buffer-full condition
// was hit in onto the stage-specific 4xx: the request line
// overflowing is a 414, headers a 431, and the body a 413.
func (c *Connection) bufferExhaustedStatus() int {
	switch c.Stage {
	case StageReqLineReceiving:
		return 414
	case StageReqHeadersReceiving:
		return 431
	default:
		return 413
	}
}

func (c *Connection) applyAction(a Action) {
	switch a.Kind {
	case ActionFinish:
		c.response = a.Response
	case ActionSuspend:
		c.suspended = true
	case ActionAbort:
		c.startClosing(CloseReasonProtocolError, "handler aborted")
	case ActionUpgrade:
		for _, hdr := range a.UpgradeHeaders {
			if equalFoldHeaderName(hdr.Name, "Connection") {
				c.fail(CloseReasonProtocolError, "upgrade action supplied its own Connection header")
				return
			}
		}
		resp := &respbuild.Response{StatusCode: 101}
		resp.AddHeader("Upgrade", a.UpgradeProtocol)
		for _, hdr := range a.UpgradeHeaders {
			resp.AddHeader(hdr.Name, hdr.Value)
		}
		c.response = resp
		act := a
		c.pendingUpgrade = &act
	}
}

func (c *Connection) computeKeepAlive() bool {
	connHdr, has := c.Request.Header.Get("Connection")
	if c.Request.Proto == httpparse.Proto11 {
		if has && containsToken(connHdr, "close") {
			return false
		}
		return true
	}
	if has && containsToken(connHdr, "keep-alive") {
		if c.Limits.Strict.RejectsHTTP10KeepAlive() {
			return false
		}
		return true
	}
	return false
}

func equalFoldHeaderName(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return trimSpaceLower(a) == trimSpaceLower(b)
}

func containsToken(s, token string) bool {
	lo := 0
	for lo < len(s) {
		hi := lo
		for hi < len(s) && s[hi] != ',' {
			hi++
		}
		field := trimSpaceLower(s[lo:hi])
		if field == token {
			return true
		}
		lo = hi + 1
	}
	return false
}

func trimSpaceLower(s string) string {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	b := []byte(s[i:j])
	for k, ch := range b {
		if 'A' <= ch && ch <= 'Z' {
			b[k] = ch + 'a' - 'A'
		}
	}
	return string(b)
}

// startClosing is the single idempotent entry point into connection
// teardown: it may be called from any stage, any number of times.
func (c *Connection) startClosing(reason CloseReason, msg string) {
	if c.Stage == StageClosed {
		return
	}
	c.Stage = StageClosed
	if c.onClose != nil {
		c.onClose(reason, msg)
	}
}

func (c *Connection) runUpgrade() {
	if c.pendingUpgrade == nil || c.pendingUpgrade.UpgradeCallback == nil {
		return
	}
	c.transportHandedOff = true
	buffered := append([]byte(nil), c.readBuf[c.consumed:c.readLen]...)
	handle := upgrade.NewHandle(c.Raw, buffered, nil)
	c.pendingUpgrade.UpgradeCallback(handle)
}

// ReleaseTransport closes the connection's socket resources. It runs
// on the owning goroutine strictly after the connection has been
// unregistered from its event engine, so the fd cannot be recycled
// into a new accept while the poller still references it. When the
// transport was handed off (Upgrade, ALPN companion) the net.Conn
// belongs to its new owner and only the daemon's dup fd is closed.
func (c *Connection) ReleaseTransport() {
	if c.FD >= 0 {
		_ = syscall.Close(c.FD)
		c.FD = -1
	}
	if !c.transportHandedOff && c.Raw != nil {
		_ = c.Raw.Close()
	}
	if c.onRelease != nil {
		fn := c.onRelease
		c.onRelease = nil
		fn()
	}
}
