// Package http2 is an optional companion to daemon: a
// golang.org/x/net/http2 server that the daemon hands a connection to
// once its TLS handshake negotiates "h2" via ALPN, a case the core
// listener's own candidate list (internal/tlstransport.ALPNProtocols)
// deliberately excludes. It is not part of the connection stage
// machine and never parses HTTP/1.x -- it is a second, independent
// protocol implementation sharing only the listening TLS certificate.
package http2

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"
)

// Server wraps an *http2.Server and the net/http Handler it dispatches
// to, servicing one daemon-handed-off connection per Serve call.
type Server struct {
	h2      *http2.Server
	handler http.Handler

	mu               sync.RWMutex
	closed           bool
	activeStreams    atomic.Int64
	totalConnections atomic.Uint64
}

// Config configures the companion server. Handler is required; the
// remaining fields have the same defaults golang.org/x/net/http2 uses
// when left zero.
type Config struct {
	Handler              http.Handler
	MaxConcurrentStreams uint32
	MaxReadFrameSize     uint32
}

// NewServer builds a Server ready to register via
// daemon.WithALPNCompanion.
func NewServer(cfg Config) *Server {
	return &Server{
		h2: &http2.Server{
			MaxConcurrentStreams: cfg.MaxConcurrentStreams,
			MaxReadFrameSize:     cfg.MaxReadFrameSize,
		},
		handler: cfg.Handler,
	}
}

// Serve implements daemon.ALPNCompanion. conn has already completed
// its TLS handshake (ALPN negotiated negotiatedProtocol); Serve
// returns false without touching it unless negotiatedProtocol is
// "h2", leaving the daemon to close the connection.
func (s *Server) Serve(conn net.Conn, negotiatedProtocol string) bool {
	if negotiatedProtocol != "h2" {
		return false
	}
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return false
	}

	s.totalConnections.Add(1)
	go s.h2.ServeConn(conn, &http2.ServeConnOpts{Handler: s.instrumented()})
	return true
}

// instrumented wraps handler so ActiveStreams reflects in-flight
// requests across every ServeConn goroutine this Server has started.
func (s *Server) instrumented() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.activeStreams.Add(1)
		defer s.activeStreams.Add(-1)
		s.handler.ServeHTTP(w, r)
	})
}

// ActiveStreams reports the number of HTTP/2 requests currently being
// handled across all connections this Server owns.
func (s *Server) ActiveStreams() int64 { return s.activeStreams.Load() }

// TotalConnections reports how many connections have been handed to
// Serve since the Server was created.
func (s *Server) TotalConnections() uint64 { return s.totalConnections.Load() }

// Close marks the Server closed; connections already handed off keep
// running to completion, but Serve stops accepting new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
