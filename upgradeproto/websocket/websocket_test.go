package websocket

import "testing"

func TestFrameFields(t *testing.T) {
	frame := Frame{
		Fin:     true,
		OpCode:  OpText,
		Payload: []byte("Hello, World!"),
	}

	if frame.OpCode != OpText {
		t.Errorf("Expected OpCode %d, got %d", OpText, frame.OpCode)
	}

	if string(frame.Payload) != "Hello, World!" {
		t.Errorf("Expected 'Hello, World!', got '%s'", frame.Payload)
	}
}

func TestHubBasic(t *testing.T) {
	hub := NewHub(100)
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
}

func TestAcceptKey(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("AcceptKey() = %q, want %q", got, want)
	}
}
