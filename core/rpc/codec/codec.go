// Package codec selects the payload encoding for RPC frames. A Codec
// turns call arguments and replies into the opaque payload bytes a
// protocol.Frame carries; the frame envelope itself (service, method,
// request id) never passes through a Codec. Codecs are looked up by
// the lowercase token a peer would negotiate ("json", "protobuf",
// "gob"), the same way the HTTP side keys content handling off a
// Content-Type token.
package codec

import (
	"encoding/json"
	"errors"
)

// Codec encodes and decodes one frame payload at a time. Every
// implementation here is a stateless empty struct, safe to share
// across connections.
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error

	// Name returns the negotiation token for this codec.
	Name() string
}

// ErrUnknownCodec is returned by ByName for a token no registered
// codec answers to.
var ErrUnknownCodec = errors.New("codec: unknown codec name")

// ByName resolves a negotiated codec token onto an implementation.
func ByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSON{}, nil
	case "protobuf":
		return Protobuf{}, nil
	case "gob":
		return Gob{}, nil
	default:
		return nil, ErrUnknownCodec
	}
}

// JSON is the default codec: interoperable with any peer and
// debuggable on the wire, at the cost of verbosity.
type JSON struct{}

func (JSON) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (JSON) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (JSON) Name() string { return "json" }
