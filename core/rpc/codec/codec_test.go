package codec

import (
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type sample struct {
	Name  string
	Value int
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON{}

	original := &sample{Name: "test", Value: 42}
	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded := &sample{}
	if err := c.Decode(data, decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *decoded != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestGobRoundTrip(t *testing.T) {
	c := Gob{}

	original := &sample{Name: "binary", Value: -7}
	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded := &sample{}
	if err := c.Decode(data, decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *decoded != *original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestProtobufRoundTrip(t *testing.T) {
	c := Protobuf{}

	original := wrapperspb.Int32(42)
	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded := &wrapperspb.Int32Value{}
	if err := c.Decode(data, decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !proto.Equal(original, decoded) {
		t.Errorf("round trip mismatch: got %v, want %v", decoded, original)
	}
}

func TestProtobufRejectsNonMessage(t *testing.T) {
	c := Protobuf{}
	if _, err := c.Encode(&sample{}); err == nil {
		t.Error("Encode accepted a non-proto.Message value")
	}
	if err := c.Decode([]byte{}, &sample{}); err == nil {
		t.Error("Decode accepted a non-proto.Message target")
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "protobuf", "gob"} {
		c, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("ByName(%q).Name() = %q", name, c.Name())
		}
	}
	if _, err := ByName("xml"); err != ErrUnknownCodec {
		t.Errorf("ByName(unknown) = %v, want ErrUnknownCodec", err)
	}
}

func BenchmarkJSONEncode(b *testing.B) {
	c := JSON{}
	msg := &sample{Name: "benchmark message with some data", Value: 1}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Encode(msg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtobufEncode(b *testing.B) {
	c := Protobuf{}
	msg := wrapperspb.String("benchmark message with some data")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Encode(msg); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkProtobufDecode(b *testing.B) {
	c := Protobuf{}
	msg := wrapperspb.String("benchmark message")
	data, err := c.Encode(msg)
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		decoded := &wrapperspb.StringValue{}
		if err := c.Decode(data, decoded); err != nil {
			b.Fatal(err)
		}
	}
}
