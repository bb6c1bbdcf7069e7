// Package protocol defines the wire format for the duplex RPC
// protocol: fixed 16-byte headers followed by a metadata block (the
// service/method envelope) and an opaque payload encoded by a
// core/rpc/codec Codec. Streaming replies are carried as a run of
// chunk frames closed by an explicit terminator, the duplex-stream
// analogue of the HTTP side's chunked body framing.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout, 16-byte header then variable data:
//
//	magic(4) version(1) type(1) flags(1) reserved(1)
//	request-id(4) meta-len(2) payload-len(2)
//	metadata(meta-len) payload(payload-len)
//
// Lengths are big-endian. Metadata and payload are both bounded at
// 64 KiB by the 16-bit length fields; a frame that would exceed that
// is rejected at encode time rather than truncated on the wire.
const (
	// Magic identifies a frame stream: "RPC\0".
	Magic uint32 = 0x52504300

	// Version is the only wire revision this package speaks.
	Version byte = 0x01

	// HeaderSize is the fixed frame-header length.
	HeaderSize = 16
)

// MsgType discriminates what a frame carries.
type MsgType byte

const (
	TypeRequest     MsgType = 0x01 // unary call
	TypeResponse    MsgType = 0x02 // unary reply
	TypeStreamOpen  MsgType = 0x03 // open a streamed call
	TypeStreamChunk MsgType = 0x04 // one streamed reply element
	TypeStreamClose MsgType = 0x05 // end of a streamed reply
	TypeError       MsgType = 0x06 // call failed; payload is the message
	TypePing        MsgType = 0x07 // keepalive probe
	TypePong        MsgType = 0x08 // keepalive answer
)

func (t MsgType) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	case TypeStreamOpen:
		return "stream-open"
	case TypeStreamChunk:
		return "stream-chunk"
	case TypeStreamClose:
		return "stream-close"
	case TypeError:
		return "error"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown-type-%#02x", byte(t))
	}
}

// Frame flag bits.
const (
	FlagCompressed byte = 1 << 0 // payload is compressed
	FlagPriority   byte = 1 << 1 // deliver ahead of queued frames
	FlagOneWay     byte = 1 << 2 // caller expects no reply frame
)

var (
	ErrInvalidMagic   = errors.New("protocol: bad frame magic")
	ErrInvalidVersion = errors.New("protocol: unsupported frame version")
	ErrFrameTooLarge  = errors.New("protocol: metadata or payload exceeds 64 KiB frame limit")
)

// Frame is one decoded (or to-be-encoded) protocol frame.
type Frame struct {
	Magic     uint32
	Version   byte
	Type      MsgType
	Flags     byte
	Reserved  byte
	RequestID uint32
	Metadata  []byte // service/method envelope, JSON
	Payload   []byte // codec-encoded argument or reply
}

// NewFrame builds a frame of the given type for requestID with the
// current magic and version stamped in.
func NewFrame(typ MsgType, requestID uint32) *Frame {
	return &Frame{
		Magic:     Magic,
		Version:   Version,
		Type:      typ,
		RequestID: requestID,
	}
}

// SetFlag arms a flag bit.
func (f *Frame) SetFlag(flag byte) { f.Flags |= flag }

// HasFlag reports whether a flag bit is armed.
func (f *Frame) HasFlag(flag byte) bool { return f.Flags&flag != 0 }

// WireSize reports the encoded length of f.
func (f *Frame) WireSize() int { return FrameSize(len(f.Metadata), len(f.Payload)) }

// Encode serialises f into a fresh buffer. Oversized metadata or
// payload yields nil and ErrFrameTooLarge via EncodeTo's guard; the
// no-error form exists because every frame the server and client
// build is bounded well under the limit, and a nil buffer surfaces
// immediately as a zero-byte write at the call site.
func (f *Frame) Encode() []byte {
	buf := make([]byte, f.WireSize())
	if _, err := f.EncodeTo(buf); err != nil {
		return nil
	}
	return buf
}

// EncodeTo serialises f into dst, returning the bytes written.
func (f *Frame) EncodeTo(dst []byte) (int, error) {
	metaLen, payloadLen := len(f.Metadata), len(f.Payload)
	if metaLen > 0xFFFF || payloadLen > 0xFFFF {
		return 0, ErrFrameTooLarge
	}
	total := FrameSize(metaLen, payloadLen)
	if len(dst) < total {
		return 0, fmt.Errorf("protocol: encode buffer too small: need %d, have %d", total, len(dst))
	}

	binary.BigEndian.PutUint32(dst[0:4], f.Magic)
	dst[4] = f.Version
	dst[5] = byte(f.Type)
	dst[6] = f.Flags
	dst[7] = f.Reserved
	binary.BigEndian.PutUint32(dst[8:12], f.RequestID)
	binary.BigEndian.PutUint16(dst[12:14], uint16(metaLen))
	binary.BigEndian.PutUint16(dst[14:16], uint16(payloadLen))

	n := HeaderSize
	n += copy(dst[n:], f.Metadata)
	n += copy(dst[n:], f.Payload)
	return n, nil
}

// decodeHeader parses and validates the fixed header fields.
func decodeHeader(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("protocol: short header: need %d, got %d", HeaderSize, len(buf))
	}
	f := &Frame{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Type:      MsgType(buf[5]),
		Flags:     buf[6],
		Reserved:  buf[7],
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
	}
	if f.Magic != Magic {
		return nil, ErrInvalidMagic
	}
	if f.Version != Version {
		return nil, ErrInvalidVersion
	}
	return f, nil
}

// Decode parses one complete frame out of buf. The metadata and
// payload slices are copied so the caller may recycle buf.
func Decode(buf []byte) (*Frame, error) {
	f, err := decodeHeader(buf)
	if err != nil {
		return nil, err
	}

	metaLen := int(binary.BigEndian.Uint16(buf[12:14]))
	payloadLen := int(binary.BigEndian.Uint16(buf[14:16]))
	if want := FrameSize(metaLen, payloadLen); len(buf) < want {
		return nil, fmt.Errorf("protocol: short frame: need %d, got %d", want, len(buf))
	}

	if metaLen > 0 {
		f.Metadata = append([]byte(nil), buf[HeaderSize:HeaderSize+metaLen]...)
	}
	if payloadLen > 0 {
		f.Payload = append([]byte(nil), buf[HeaderSize+metaLen:HeaderSize+metaLen+payloadLen]...)
	}
	return f, nil
}

// FrameSize reports the wire size for the given section lengths.
func FrameSize(metaLen, payloadLen int) int {
	return HeaderSize + metaLen + payloadLen
}

// SizeFromHeader reports the full frame length announced by an
// already-read header, so a reader can size the remainder of its read.
func SizeFromHeader(headerBuf []byte) (int, error) {
	if len(headerBuf) < HeaderSize {
		return 0, fmt.Errorf("protocol: short header: need %d, got %d", HeaderSize, len(headerBuf))
	}
	metaLen := int(binary.BigEndian.Uint16(headerBuf[12:14]))
	payloadLen := int(binary.BigEndian.Uint16(headerBuf[14:16]))
	return FrameSize(metaLen, payloadLen), nil
}
