package rpc

import (
	"bytes"
	"testing"

	"github.com/sabrq/httpd/core/rpc/protocol"
)

func TestFrameRoundTrip(t *testing.T) {
	frame := protocol.NewFrame(protocol.TypeRequest, 12345)
	frame.Metadata = []byte(`{"service":"echo","method":"Range"}`)
	frame.Payload = []byte(`{"n":3}`)

	encoded := frame.Encode()
	if len(encoded) != frame.WireSize() {
		t.Fatalf("encoded %d bytes, WireSize says %d", len(encoded), frame.WireSize())
	}

	size, err := protocol.SizeFromHeader(encoded[:protocol.HeaderSize])
	if err != nil {
		t.Fatalf("SizeFromHeader: %v", err)
	}
	if size != len(encoded) {
		t.Fatalf("header announces %d bytes, frame is %d", size, len(encoded))
	}

	decoded, err := protocol.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != protocol.TypeRequest || decoded.RequestID != 12345 {
		t.Errorf("type/id = %v/%d, want request/12345", decoded.Type, decoded.RequestID)
	}
	if !bytes.Equal(decoded.Metadata, frame.Metadata) || !bytes.Equal(decoded.Payload, frame.Payload) {
		t.Errorf("metadata/payload corrupted: %q %q", decoded.Metadata, decoded.Payload)
	}
}

func TestFrameFlagsSurviveRoundTrip(t *testing.T) {
	frame := protocol.NewFrame(protocol.TypeRequest, 1)
	frame.SetFlag(protocol.FlagCompressed)
	frame.SetFlag(protocol.FlagPriority)

	decoded, err := protocol.Decode(frame.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !decoded.HasFlag(protocol.FlagCompressed) || !decoded.HasFlag(protocol.FlagPriority) {
		t.Error("flag bits lost on the wire")
	}
	if decoded.HasFlag(protocol.FlagOneWay) {
		t.Error("unset flag bit appeared on the wire")
	}
}

func TestFrameRejectsOversizedSections(t *testing.T) {
	frame := protocol.NewFrame(protocol.TypeRequest, 1)
	frame.Payload = make([]byte, 0x10000)

	dst := make([]byte, frame.WireSize())
	if _, err := frame.EncodeTo(dst); err != protocol.ErrFrameTooLarge {
		t.Fatalf("EncodeTo = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeRejectsForeignBytes(t *testing.T) {
	junk := make([]byte, protocol.HeaderSize)
	copy(junk, "GET / HTTP/1.1\r\n") // an HTTP peer dialed the RPC port
	if _, err := protocol.Decode(junk); err != protocol.ErrInvalidMagic {
		t.Fatalf("Decode(junk) = %v, want ErrInvalidMagic", err)
	}
}

func TestMsgTypeStrings(t *testing.T) {
	if got := protocol.TypeStreamChunk.String(); got != "stream-chunk" {
		t.Errorf("TypeStreamChunk.String() = %q", got)
	}
	if got := protocol.MsgType(0xEE).String(); got != "unknown-type-0xee" {
		t.Errorf("unknown MsgType.String() = %q", got)
	}
}

func BenchmarkFrameEncode(b *testing.B) {
	frame := protocol.NewFrame(protocol.TypeRequest, 1)
	frame.Metadata = []byte(`{"service":"calc","method":"Add"}`)
	frame.Payload = make([]byte, 1024)
	dst := make([]byte, frame.WireSize())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := frame.EncodeTo(dst); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFrameDecode(b *testing.B) {
	frame := protocol.NewFrame(protocol.TypeRequest, 1)
	frame.Metadata = []byte(`{"service":"calc","method":"Add"}`)
	frame.Payload = make([]byte, 1024)
	encoded := frame.Encode()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := protocol.Decode(encoded); err != nil {
			b.Fatal(err)
		}
	}
}
