package codec

import (
	"bytes"
	"encoding/gob"
)

// Gob is the Go-to-Go binary codec: denser than JSON and free of
// generated types, but only usable when both peers are Go programs
// sharing the argument/reply type definitions.
type Gob struct{}

func (Gob) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Gob) Decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (Gob) Name() string { return "gob" }
