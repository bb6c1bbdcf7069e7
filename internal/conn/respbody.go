package conn

import (
	"errors"
	"syscall"

	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/ioutil"
	"github.com/sabrq/httpd/internal/respbuild"
)

// errWouldBlock is returned by a body source when it cannot produce
// bytes right now; writeBody suspends the connection until the next
// engine pass instead of treating it as a failure.
var errWouldBlock = errors.New("body source would block")

func (c *Connection) buildReply() {
	if c.response == nil {
		c.response = &respbuild.Response{StatusCode: 500}
	}
	b := respbuild.Builder{SuppressDate: c.Limits.SuppressDate}
	c.compactReadBuffer()
	dst := c.Arena.AcquireWriteBuffer()
	info := respbuild.RequestInfo{
		Mode10:    c.Request.Proto == httpparse.Proto10 || c.response.Mode10,
		HeadOnly:  c.Request.Method == "HEAD",
		Upgrading: c.pendingUpgrade != nil,
	}
	framing := b.ChooseFraming(info, c.response)
	// The keep-alive verdict settles here: a forced close, a discarded
	// request, or a body whose end is signalled by closing the
	// connection all override whatever the request headers allowed.
	if c.response.CloseForced || c.discardRequest || framing == respbuild.FramingCloseDelimited {
		c.keepAlive = false
	}
	info.KeepAlive = c.keepAlive && c.pendingUpgrade == nil
	n, _ := b.WriteHeaders(dst, info, c.response)
	c.framing = framing
	c.writeBuf = dst[:n]
	c.writeLen = n
	c.writeOff = 0
}

// flushWrite drains c.writeBuf[writeOff:writeLen], returning false if
// the caller must suspend until writability is reported again.
func (c *Connection) flushWrite() bool {
	for c.writeOff < c.writeLen {
		n, status := c.send(c.writeBuf[c.writeOff:c.writeLen])
		switch status {
		case ioutil.StatusOK:
			c.writeOff += n
		case ioutil.StatusWouldBlock:
			return false
		default:
			c.startClosing(CloseReasonIOError, "send failed")
			return true
		}
	}
	if c.Stage == StageHeadersSending {
		return c.writeBody()
	}
	return true
}

// writeBody drains c.response.Content after the header block has been
// fully flushed, honouring the chosen Framing. The body iterator and
// the pending-piece slice survive a would-block, so a partially
// flushed piece resumes exactly where it stopped instead of
// restarting the content source from the beginning.
func (c *Connection) writeBody() bool {
	if c.response.Content == nil || c.framing == respbuild.FramingNone {
		return true
	}
	if !c.bodyIterInit {
		c.bodyIterInit = true
		c.bodyIter = c.newBodyIter()
	}
	for {
		for len(c.bodyPending) > 0 {
			n, status := c.send(c.bodyPending)
			switch status {
			case ioutil.StatusOK:
				c.bodyPending = c.bodyPending[n:]
			case ioutil.StatusWouldBlock:
				return false
			default:
				c.startClosing(CloseReasonIOError, "send failed")
				return true
			}
		}
		if c.bodyDone {
			return true
		}
		piece, done, err := c.bodyIter()
		if err == errWouldBlock {
			return false
		}
		if err != nil {
			c.startClosing(CloseReasonIOError, "body write failed: "+err.Error())
			return true
		}
		if done {
			c.bodyDone = true
		}
		c.bodyPending = piece
	}
}

// newBodyIter builds a closure producing successive wire-ready pieces
// of the response body, chunk-framed already when the reply is
// chunked. The closure owns all per-body progress state (segment
// index, file offset, generator scratch), which is what makes a
// suspended body write resumable.
func (c *Connection) newBodyIter() func() ([]byte, bool, error) {
	chunked := c.framing == respbuild.FramingChunked
	if body, ok := c.response.Content.(respbuild.CallbackContent); ok && chunked {
		return c.generatorIter(body.Gen)
	}
	src := c.contentSource()
	if !chunked {
		return src
	}
	return wrapChunked(src)
}

// generatorIter drives a dynamic-content generator with the reserved
// chunk prefix: the generator writes its payload after the size
// reservation and the hex digits are back-filled in place, so each
// produced piece reaches the wire without an extra copy.
func (c *Connection) generatorIter(gen respbuild.Generator) func() ([]byte, bool, error) {
	scratch := make([]byte, 32*1024)
	finalOwed := false
	return func() ([]byte, bool, error) {
		if finalOwed {
			return []byte("0\r\n\r\n"), true, nil
		}
		n, done, err := gen(scratch[respbuild.ChunkPrefixLen : len(scratch)-2])
		if err != nil {
			return nil, false, err
		}
		if n == 0 {
			if done {
				return []byte("0\r\n\r\n"), true, nil
			}
			return nil, false, errWouldBlock
		}
		start := respbuild.BackfillChunkPrefix(scratch, n)
		end := respbuild.ChunkPrefixLen + n
		end += respbuild.ChunkTrailer(scratch[end:])
		if done {
			finalOwed = true
		}
		return scratch[start:end], false, nil
	}
}

// wrapChunked frames each raw piece from src as one chunk and appends
// the final zero-chunk marker after src reports done.
func wrapChunked(src func() ([]byte, bool, error)) func() ([]byte, bool, error) {
	finalOwed := false
	return func() ([]byte, bool, error) {
		if finalOwed {
			return []byte("0\r\n\r\n"), true, nil
		}
		piece, done, err := src()
		if err != nil {
			return nil, false, err
		}
		if len(piece) == 0 {
			if done {
				return []byte("0\r\n\r\n"), true, nil
			}
			return nil, false, errWouldBlock
		}
		if done {
			finalOwed = true
		}
		return frameChunk(piece), false, nil
	}
}

func frameChunk(data []byte) []byte {
	buf := make([]byte, respbuild.ChunkPrefixLen+len(data)+2)
	n := respbuild.ChunkHeader(buf, len(data))
	n += copy(buf[n:], data)
	n += respbuild.ChunkTrailer(buf[n:])
	return buf[:n]
}

// contentSource builds the raw piece producer for the response's
// Content, with no chunk framing applied.
func (c *Connection) contentSource() func() ([]byte, bool, error) {
	switch body := c.response.Content.(type) {
	case respbuild.BufferContent:
		sent := false
		return func() ([]byte, bool, error) {
			if sent {
				return nil, true, nil
			}
			sent = true
			return body.Data, true, nil
		}

	case respbuild.VectoredContent:
		i := 0
		return func() ([]byte, bool, error) {
			// The previous segment is fully on the wire by the time
			// the next piece is requested; release it now.
			if i > 0 && body.Segments[i-1].Free != nil {
				body.Segments[i-1].Free()
				body.Segments[i-1].Free = nil
			}
			if i == len(body.Segments) {
				return nil, true, nil
			}
			seg := body.Segments[i]
			i++
			return seg.Data, false, nil
		}

	case respbuild.FileContent:
		if c.TLS == nil {
			// Zero-copy path straight from the page cache to the
			// socket; offset and remaining survive across passes.
			off := body.Offset
			remaining := body.Length
			return func() ([]byte, bool, error) {
				for remaining > 0 {
					n, err := syscall.Sendfile(c.FD, body.FD, &off, int(min(remaining, 1<<20)))
					if n > 0 {
						remaining -= int64(n)
					}
					if err == syscall.EAGAIN {
						return nil, false, errWouldBlock
					}
					if err != nil {
						return nil, false, err
					}
					if n == 0 && remaining > 0 {
						return nil, false, errors.New("file truncated mid-response")
					}
				}
				return nil, true, nil
			}
		}
		// Under TLS the bytes must pass through the record layer, so
		// fall back to a buffered pread loop.
		off := body.Offset
		remaining := body.Length
		scratch := make([]byte, 32*1024)
		return func() ([]byte, bool, error) {
			if remaining == 0 {
				return nil, true, nil
			}
			want := min(remaining, int64(len(scratch)))
			n, err := syscall.Pread(body.FD, scratch[:want], off)
			if err != nil {
				return nil, false, err
			}
			if n == 0 {
				return nil, false, errors.New("file truncated mid-response")
			}
			off += int64(n)
			remaining -= int64(n)
			return scratch[:n], remaining == 0, nil
		}

	case respbuild.PipeContent:
		scratch := make([]byte, 32*1024)
		return func() ([]byte, bool, error) {
			n, err := body.Src.Read(scratch)
			if n > 0 {
				return scratch[:n], err != nil, nil
			}
			if err != nil {
				return nil, true, nil
			}
			return nil, false, errWouldBlock
		}

	case respbuild.CallbackContent:
		scratch := make([]byte, 32*1024)
		return func() ([]byte, bool, error) {
			n, done, err := body.Gen(scratch)
			if err != nil {
				return nil, false, err
			}
			if n == 0 && !done {
				return nil, false, errWouldBlock
			}
			return scratch[:n], done, nil
		}
	}
	return func() ([]byte, bool, error) { return nil, true, nil }
}
