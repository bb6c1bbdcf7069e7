package respbuild

import (
	"strings"
	"testing"
	"time"
)

func TestWriteHeadersContentLengthFraming(t *testing.T) {
	b := Builder{}
	resp := &Response{StatusCode: 200, Content: BufferContent{Data: []byte("ok")}}
	dst := make([]byte, 512)
	n, framing := b.WriteHeaders(dst, RequestInfo{KeepAlive: true}, resp)
	if framing != FramingContentLength {
		t.Fatalf("framing = %v, want FramingContentLength", framing)
	}
	out := string(dst[:n])
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Fatalf("status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 2\r\n") {
		t.Fatalf("missing Content-Length: %q", out)
	}
	if !strings.Contains(out, "Connection: keep-alive\r\n") {
		t.Fatalf("missing Connection: keep-alive: %q", out)
	}
}

func TestWriteHeadersUnknownLengthChunkedOnHTTP11(t *testing.T) {
	b := Builder{}
	resp := &Response{StatusCode: 200, Content: PipeContent{}}
	dst := make([]byte, 512)
	_, framing := b.WriteHeaders(dst, RequestInfo{KeepAlive: true}, resp)
	if framing != FramingChunked {
		t.Fatalf("framing = %v, want FramingChunked", framing)
	}
}

func TestWriteHeadersUnknownLengthCloseDelimitedOnHTTP10(t *testing.T) {
	b := Builder{}
	resp := &Response{StatusCode: 200, Content: PipeContent{}}
	dst := make([]byte, 512)
	_, framing := b.WriteHeaders(dst, RequestInfo{Mode10: true, KeepAlive: false}, resp)
	if framing != FramingCloseDelimited {
		t.Fatalf("framing = %v, want FramingCloseDelimited", framing)
	}
}

func TestWriteHeaders204SuppressesBody(t *testing.T) {
	b := Builder{}
	resp := &Response{StatusCode: 204, Content: BufferContent{Data: []byte("ignored")}}
	dst := make([]byte, 512)
	n, framing := b.WriteHeaders(dst, RequestInfo{KeepAlive: true}, resp)
	if framing != FramingNone {
		t.Fatalf("framing = %v, want FramingNone for 204", framing)
	}
	out := string(dst[:n])
	if strings.Contains(out, "Content-Length") {
		t.Fatalf("204 must not carry Content-Length: %q", out)
	}
}

func TestWriteHeadersUpgradeConnectionToken(t *testing.T) {
	b := Builder{}
	resp := &Response{StatusCode: 101}
	resp.AddHeader("Upgrade", "websocket")
	dst := make([]byte, 512)
	n, _ := b.WriteHeaders(dst, RequestInfo{KeepAlive: true, Upgrading: true}, resp)
	out := string(dst[:n])
	if !strings.Contains(out, "Connection: upgrade\r\n") {
		t.Fatalf("expected Connection: upgrade regardless of KeepAlive, got %q", out)
	}
}

// Date header line is exactly 37 bytes on the wire ("Date: " + the
// 29-byte RFC 1123 timestamp "Mon, 02 Jan 2006 15:04:05 GMT" + CRLF)
// and the value ends in GMT.
func TestDateHeaderFormat(t *testing.T) {
	v := dateClock.Get()
	if !strings.HasSuffix(v, "GMT") {
		t.Fatalf("date value %q does not end in GMT", v)
	}
	if len(v) != len(rfc1123GMT) {
		t.Fatalf("date value %q has length %d, want %d", v, len(v), len(rfc1123GMT))
	}
	if _, err := time.Parse(rfc1123GMT, v); err != nil {
		t.Fatalf("date value does not parse as RFC1123 GMT: %v", err)
	}
}

// Chunk encode/decode identity: ChunkHeader + payload + ChunkTrailer,
// followed by FinalChunk, round-trips through a minimal decoder the
// same shape internal/conn.readChunkedBody uses.
func TestChunkRoundTrip(t *testing.T) {
	payload := []byte("hello world, this is a chunked payload")
	frame := make([]byte, ChunkPrefixLen+len(payload)+2)
	n := ChunkHeader(frame, len(payload))
	hdrLen := n
	n += copy(frame[n:], payload)
	n += ChunkTrailer(frame[n:])
	frame = frame[:n]

	crlf := strings.Index(string(frame), "\r\n")
	if crlf < 0 || crlf+2 != hdrLen {
		t.Fatalf("chunk header %q not terminated where ChunkHeader reported", frame[:hdrLen])
	}
	var size int
	for _, c := range frame[:crlf] {
		size = size*16 + hexVal(c)
	}
	if size != len(payload) {
		t.Fatalf("decoded size = %d, want %d", size, len(payload))
	}
	got := frame[hdrLen : hdrLen+size]
	if string(got) != string(payload) {
		t.Fatalf("decoded payload = %q, want %q", got, payload)
	}
	if string(frame[hdrLen+size:]) != "\r\n" {
		t.Fatalf("missing chunk trailer CRLF")
	}

	var final [5]byte
	fn := FinalChunk(final[:])
	if string(final[:fn]) != "0\r\n\r\n" {
		t.Fatalf("FinalChunk = %q, want 0\\r\\n\\r\\n", final[:fn])
	}
}

// BackfillChunkPrefix right-aligns the size digits so the wire bytes
// begin at the returned offset with no padding, with the payload
// already in place after the reservation.
func TestBackfillChunkPrefix(t *testing.T) {
	payload := []byte("0123456789abcdef0123") // 20 bytes -> hex "14"
	buf := make([]byte, ChunkPrefixLen+len(payload))
	copy(buf[ChunkPrefixLen:], payload)
	start := BackfillChunkPrefix(buf, len(payload))
	wire := string(buf[start:])
	if !strings.HasPrefix(wire, "14\r\n") {
		t.Fatalf("wire prefix = %q, want 14\\r\\n", wire[:4])
	}
	if wire[4:] != string(payload) {
		t.Fatalf("payload moved: %q", wire[4:])
	}
}

func TestWriteHeadersChunkedFlagForcesChunked(t *testing.T) {
	b := Builder{}
	resp := &Response{StatusCode: 200, Chunked: true, Content: BufferContent{Data: []byte("known length")}}
	dst := make([]byte, 512)
	n, framing := b.WriteHeaders(dst, RequestInfo{KeepAlive: true}, resp)
	if framing != FramingChunked {
		t.Fatalf("framing = %v, want FramingChunked when the Chunked flag is set", framing)
	}
	out := string(dst[:n])
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Fatalf("missing Transfer-Encoding header: %q", out)
	}
	if strings.Contains(out, "Content-Length") {
		t.Fatalf("chunked reply must not carry Content-Length: %q", out)
	}

	// On HTTP/1.0 the flag is ignored and the known length wins.
	_, framing = b.WriteHeaders(dst, RequestInfo{Mode10: true}, resp)
	if framing != FramingContentLength {
		t.Fatalf("framing = %v, want FramingContentLength on HTTP/1.0", framing)
	}
}

func hexVal(b byte) int {
	switch {
	case '0' <= b && b <= '9':
		return int(b - '0')
	case 'a' <= b && b <= 'f':
		return int(b-'a') + 10
	case 'A' <= b && b <= 'F':
		return int(b-'A') + 10
	default:
		return 0
	}
}

func TestNormalizeCharsetFallsBackToUTF8(t *testing.T) {
	if got := NormalizeCharset(""); got != "utf-8" {
		t.Fatalf("empty charset = %q, want utf-8", got)
	}
	if got := NormalizeCharset("not-a-real-charset"); got != "utf-8" {
		t.Fatalf("unknown charset = %q, want utf-8 fallback", got)
	}
}

func BenchmarkWriteHeaders(b *testing.B) {
	bl := Builder{}
	resp := &Response{StatusCode: 200, Content: BufferContent{Data: []byte("hello world")}}
	resp.AddHeader("Content-Type", "text/plain; charset=utf-8")
	resp.AddHeader("X-Request-ID", "42")
	dst := make([]byte, 1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bl.WriteHeaders(dst, RequestInfo{KeepAlive: true}, resp)
	}
}
