package http2

import (
	"net"
	"net/http"
	"testing"
)

func TestServeRejectsNonH2(t *testing.T) {
	s := NewServer(Config{Handler: http.NewServeMux()})
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	if s.Serve(server, "http/1.1") {
		t.Fatal("Serve should reject a non-h2 negotiated protocol")
	}
	if s.TotalConnections() != 0 {
		t.Fatalf("TotalConnections = %d, want 0", s.TotalConnections())
	}
}

func TestServeAcceptsH2(t *testing.T) {
	s := NewServer(Config{Handler: http.NewServeMux()})
	client, server := net.Pipe()
	defer client.Close()

	if !s.Serve(server, "h2") {
		t.Fatal("Serve should accept an h2 negotiated protocol")
	}
	if s.TotalConnections() != 1 {
		t.Fatalf("TotalConnections = %d, want 1", s.TotalConnections())
	}
}

func TestServeClosed(t *testing.T) {
	s := NewServer(Config{Handler: http.NewServeMux()})
	s.Close()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	if s.Serve(server, "h2") {
		t.Fatal("Serve should reject connections after Close")
	}
}
