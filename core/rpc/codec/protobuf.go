package codec

import (
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Protobuf encodes payloads with google.golang.org/protobuf. Unlike
// JSON and Gob it cannot take arbitrary values: both sides of a call
// must use generated proto.Message types, which is what makes the
// wire form stable across schema evolution.
type Protobuf struct{}

func (Protobuf) Encode(v interface{}) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: protobuf payload must be a proto.Message, got %T", v)
	}
	return proto.Marshal(msg)
}

func (Protobuf) Decode(data []byte, v interface{}) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("codec: protobuf target must be a proto.Message, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}

func (Protobuf) Name() string { return "protobuf" }
