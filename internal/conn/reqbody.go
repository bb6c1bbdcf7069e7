package conn

import (
	"github.com/sabrq/httpd/internal/ioutil"
)

// writeInterim flushes a bodyless status-code-only response (used for
// 100 Continue) straight from a small scratch buffer, independent of
// c.response/c.writeBuf so it never disturbs the final reply's state.
// A partially flushed line is parked in interimPending and resumed on
// the next pass rather than restarted.
func (c *Connection) writeInterim(code int) bool {
	if c.interimPending == nil {
		c.interimPending = []byte("HTTP/1.1 " + itoa(code) + " " + interimText(code) + "\r\n\r\n")
	}
	for len(c.interimPending) > 0 {
		n, status := c.send(c.interimPending)
		switch status {
		case ioutil.StatusOK:
			c.interimPending = c.interimPending[n:]
		case ioutil.StatusWouldBlock:
			return false
		default:
			c.startClosing(CloseReasonIOError, "send failed")
			return true
		}
	}
	c.interimPending = nil
	return true
}

func interimText(code int) string {
	if code == 100 {
		return "Continue"
	}
	return "Informational"
}

// writeCannedError flushes a minimal status-line-only reply for a
// hard receive-side failure (414/431/413) straight to the socket,
// bypassing the pool's write buffer since the pool may itself be the
// resource that is exhausted, then closes the connection. Matches
// the "best-effort 4xx reply" policy for the Hard receive error
// family (see startClosing/CloseReasonBufferExhausted).
func (c *Connection) writeCannedError(code int, reason, logMsg string) {
	line := "HTTP/1.1 " + itoa(code) + " " + cannedStatusText(code) + "\r\nConnection: close\r\n\r\n"
	data := []byte(line)
	for len(data) > 0 {
		n, status := c.send(data)
		switch status {
		case ioutil.StatusOK:
			data = data[n:]
		case ioutil.StatusWouldBlock:
			// Best-effort only: don't block the owning goroutine
			// retrying a doomed write. Close without finishing it.
			c.startClosing(CloseReasonBufferExhausted, logMsg)
			return
		default:
			c.startClosing(CloseReasonIOError, "send failed")
			return
		}
	}
	c.startClosing(CloseReasonBufferExhausted, logMsg)
}

func cannedStatusText(code int) string {
	switch code {
	case 413:
		return "Content Too Large"
	case 414:
		return "URI Too Long"
	case 431:
		return "Request Header Fields Too Large"
	default:
		return "Bad Request"
	}
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// readBody pulls request-body bytes out of the already-buffered
// region plus further non-blocking recvs, accumulating them into
// c.bodyBuf up to Limits.MaxBodyBuffer (a body over that limit is
// discarded) for the handler's final invocation, which reads them via
// Body.
// Returns (done, progressed): done means the body is fully consumed;
// progressed false means the caller must fillMore and retry.
func (c *Connection) readBody() (done bool, progressed bool) {
	if c.Request.HaveChunkedUpload {
		return c.readChunkedBody()
	}
	return c.readFixedBody()
}

func (c *Connection) readFixedBody() (bool, bool) {
	if c.Request.RemainingUploadSize <= 0 {
		return true, true
	}
	avail := c.readBuf[c.consumed:c.readLen]
	if len(avail) == 0 {
		return false, false
	}
	take := avail
	if int64(len(take)) > c.Request.RemainingUploadSize {
		take = take[:c.Request.RemainingUploadSize]
	}
	c.appendBody(take)
	c.consumed += len(take)
	c.Request.RemainingUploadSize -= int64(len(take))
	return c.Request.RemainingUploadSize == 0, true
}

// readChunkedBody implements a minimal chunked-transfer-coding
// decoder: size line, that many data bytes, trailing CRLF, repeated
// until a zero-size chunk is seen. Chunk extensions (";name=value"
// after the size) are accepted and ignored.
func (c *Connection) readChunkedBody() (bool, bool) {
	for {
		switch c.chunkPhase {
		case 0:
			line, ok, err := c.nextLine()
			if err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				return false, true
			}
			if !ok {
				return false, false
			}
			size, ok := parseChunkSize(line)
			if !ok {
				c.fail(CloseReasonProtocolError, "bad chunk size")
				return false, true
			}
			if size >= maxChunkSize {
				c.writeCannedError(413, "chunk-size-overflow", "chunk size exceeds 24-bit limit")
				return false, true
			}
			if size == 0 {
				// Last-chunk marker: the body size is finally known.
				c.Request.RemainingUploadSize = 0
				c.chunkPhase = 0
				return true, true
			}
			c.chunkRemain = size
			c.chunkPhase = 1
		case 1:
			avail := c.readBuf[c.consumed:c.readLen]
			if len(avail) == 0 {
				return false, false
			}
			take := avail
			if int64(len(take)) > c.chunkRemain {
				take = take[:c.chunkRemain]
			}
			c.appendBody(take)
			c.consumed += len(take)
			c.chunkRemain -= int64(len(take))
			if c.chunkRemain == 0 {
				c.chunkPhase = 2
			} else {
				return false, false
			}
		case 2:
			line, ok, err := c.nextLine()
			if err != nil {
				c.fail(CloseReasonProtocolError, err.Error())
				return false, true
			}
			if !ok {
				return false, false
			}
			if len(line) != 0 {
				c.fail(CloseReasonProtocolError, "malformed chunk trailer")
				return false, true
			}
			c.chunkPhase = 0
		}
	}
}

// maxChunkSize is the 24-bit ceiling on a single chunk: a chunk-size
// token whose value is >= 2^24 is rejected with 413 rather than
// accepted and used to size an allocation.
const maxChunkSize = 1 << 24

func parseChunkSize(line []byte) (int64, bool) {
	for i, b := range line {
		if b == ';' {
			line = line[:i]
			break
		}
	}
	if len(line) == 0 {
		return 0, false
	}
	var v int64
	for _, b := range line {
		var d int64
		switch {
		case '0' <= b && b <= '9':
			d = int64(b - '0')
		case 'a' <= b && b <= 'f':
			d = int64(b-'a') + 10
		case 'A' <= b && b <= 'F':
			d = int64(b-'A') + 10
		default:
			return 0, false
		}
		v = v*16 + d
	}
	return v, true
}

func (c *Connection) appendBody(b []byte) {
	if c.discardRequest {
		return
	}
	if int64(len(c.bodyBuf)+len(b)) > c.Limits.MaxBodyBuffer {
		c.discardRequest = true
		c.bodyBuf = c.bodyBuf[:0]
		return
	}
	c.bodyBuf = append(c.bodyBuf, b...)
}

// Body returns the request body accumulated so far. Valid once the
// handler is invoked at StageFullReqReceived.
func (c *Connection) Body() []byte { return c.bodyBuf }
