// Package server implements the duplex frame-based RPC protocol's
// listening side. Beyond its own net.Listener, Bind exposes a Server
// as an upgrade.Handler so an application can multiplex RPC calls over
// the same Upgrade hand-off core/http/context.go's Upgrade attaches
// for WebSocket, the same way a respbuild.Generator streams an SSE
// body: TypeStreamOpen drives repeated TypeStreamChunk frames off a
// slice-shaped reply instead of one TypeResponse frame. handleConn
// runs over any io.ReadWriteCloser, not just a net.Conn, so the same
// frame loop serves a plain TCP connection or an Upgrade hand-off.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sabrq/httpd/core/observability"
	"github.com/sabrq/httpd/core/rpc/codec"
	"github.com/sabrq/httpd/core/rpc/protocol"
	"github.com/sabrq/httpd/core/rpc/registry"
	"github.com/sabrq/httpd/internal/upgrade"
)

var ErrServerClosed = errors.New("server closed")

// Server represents an RPC server.
type Server struct {
	registry   *registry.Registry
	listener   net.Listener
	codec      codec.Codec
	log        observability.Logger
	mu         sync.RWMutex
	conns      map[io.Closer]struct{}
	activeReqs atomic.Int64
	shutdown   atomic.Bool
}

// Metadata holds RPC request metadata.
type Metadata struct {
	Service string
	Method  string
}

// NewServer creates a new RPC server.
func NewServer(opts ...Option) *Server {
	s := &Server{
		registry: registry.NewRegistry(),
		codec:    codec.JSON{},
		log:      observability.NopLogger{},
		conns:    make(map[io.Closer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Option configures a server.
type Option func(*Server)

// WithCodec sets the codec.
func WithCodec(c codec.Codec) Option { return func(s *Server) { s.codec = c } }

// WithLogger sets the diagnostic sink; defaults to a no-op logger.
func WithLogger(l observability.Logger) Option { return func(s *Server) { s.log = l } }

// Register registers a service.
func (s *Server) Register(serviceName string, service interface{}) error {
	return s.registry.Register(serviceName, service)
}

// ListenAndServe starts the RPC server on its own TCP listener, for
// hosts that want RPC as an independent network service rather than
// multiplexed over an existing HTTP connection (see Bind).
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = ln
	s.log.Printf("rpc: listening on %s", addr)
	return s.Serve(ln)
}

// Serve accepts connections on the listener.
func (s *Server) Serve(ln net.Listener) error {
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			s.log.Printf("rpc: accept error: %v", err)
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetReadDeadline(time.Now().Add(5 * time.Minute))
		}
		s.trackConn(conn, true)
		go s.handleConn(conn)
	}
}

// Bind returns an upgrade.Handler that runs this Server's frame
// protocol over an already-accepted, already-upgraded connection --
// the RPC equivalent of upgradeproto/websocket.Handler.Bind. A host
// calls ctx.Upgrade("rpc.v1", nil, rpcServer.Bind()) the same way it
// would for a WebSocket client.
func (s *Server) Bind() upgrade.Handler {
	return func(h *upgrade.Handle) {
		s.trackConn(h, true)
		s.handleConn(h)
	}
}

func (s *Server) trackConn(c io.Closer, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

// handleConn drives frames off any duplex byte stream: a plain
// net.Conn from ListenAndServe/Serve, or an *upgrade.Handle from Bind.
func (s *Server) handleConn(rwc io.ReadWriteCloser) {
	defer func() {
		rwc.Close()
		s.trackConn(rwc, false)
	}()

	for {
		headerBuf := make([]byte, protocol.HeaderSize)
		if _, err := io.ReadFull(rwc, headerBuf); err != nil {
			if err != io.EOF {
				s.log.Printf("rpc: read header error: %v", err)
			}
			return
		}

		frameSize, err := protocol.SizeFromHeader(headerBuf)
		if err != nil {
			s.log.Printf("rpc: frame size error: %v", err)
			return
		}

		fullBuf := make([]byte, frameSize)
		copy(fullBuf, headerBuf)
		if _, err := io.ReadFull(rwc, fullBuf[protocol.HeaderSize:]); err != nil {
			s.log.Printf("rpc: read frame error: %v", err)
			return
		}

		frame, err := protocol.Decode(fullBuf)
		if err != nil {
			s.log.Printf("rpc: decode frame error: %v", err)
			return
		}

		switch frame.Type {
		case protocol.TypeRequest:
			s.handleRequest(rwc, frame)
		case protocol.TypeStreamOpen:
			s.handleStream(rwc, frame)
		case protocol.TypePing:
			s.handlePing(rwc, frame)
		default:
			s.log.Printf("rpc: unknown frame type: %v", frame.Type)
		}
	}
}

// handleRequest handles a unary RPC request.
func (s *Server) handleRequest(w io.Writer, frame *protocol.Frame) {
	s.activeReqs.Add(1)
	defer s.activeReqs.Add(-1)

	method, arg, err := s.decodeCall(frame)
	if err != nil {
		s.sendError(w, frame.RequestID, err)
		return
	}

	reply, err := method.Call(context.Background(), arg)
	if err != nil {
		s.sendError(w, frame.RequestID, err)
		return
	}

	replyData, err := s.codec.Encode(reply)
	if err != nil {
		s.sendError(w, frame.RequestID, fmt.Errorf("encode reply error: %w", err))
		return
	}

	respFrame := protocol.NewFrame(protocol.TypeResponse, frame.RequestID)
	respFrame.Payload = replyData
	if _, err := w.Write(respFrame.Encode()); err != nil {
		s.log.Printf("rpc: write response error: %v", err)
	}
}

// handleStream handles a streaming RPC call: the registered method
// still returns a single reply, but when that reply is a slice,
// handleStream walks it element by element, writing one
// TypeStreamChunk frame per element and a final TypeStreamClose --
// the duplex-stream analogue of respbuild.Generator's buf-at-a-time
// contract. A non-slice reply degrades to a single chunk plus close.
func (s *Server) handleStream(w io.Writer, frame *protocol.Frame) {
	s.activeReqs.Add(1)
	defer s.activeReqs.Add(-1)

	method, arg, err := s.decodeCall(frame)
	if err != nil {
		s.sendError(w, frame.RequestID, err)
		return
	}

	reply, err := method.Call(context.Background(), arg)
	if err != nil {
		s.sendError(w, frame.RequestID, err)
		return
	}

	elems := streamElements(reply)
	for _, elem := range elems {
		data, err := s.codec.Encode(elem)
		if err != nil {
			s.sendError(w, frame.RequestID, fmt.Errorf("encode chunk error: %w", err))
			return
		}
		chunk := protocol.NewFrame(protocol.TypeStreamChunk, frame.RequestID)
		chunk.Payload = data
		if _, err := w.Write(chunk.Encode()); err != nil {
			s.log.Printf("rpc: write chunk error: %v", err)
			return
		}
	}

	closeFrame := protocol.NewFrame(protocol.TypeStreamClose, frame.RequestID)
	if _, err := w.Write(closeFrame.Encode()); err != nil {
		s.log.Printf("rpc: write stream-close error: %v", err)
	}
}

// streamElements returns v's elements if it is a slice or array
// (dereferencing one pointer level first), otherwise a single-element
// slice holding v itself.
func streamElements(v interface{}) []interface{} {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []interface{}{v}
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func (s *Server) decodeCall(frame *protocol.Frame) (*registry.Method, interface{}, error) {
	var meta Metadata
	if err := json.Unmarshal(frame.Metadata, &meta); err != nil {
		return nil, nil, fmt.Errorf("invalid metadata: %w", err)
	}
	method, err := s.registry.Method(meta.Service, meta.Method)
	if err != nil {
		return nil, nil, err
	}
	arg := reflect.New(method.ArgType).Interface()
	if err := s.codec.Decode(frame.Payload, arg); err != nil {
		return nil, nil, fmt.Errorf("decode arg error: %w", err)
	}
	return method, arg, nil
}

func (s *Server) handlePing(w io.Writer, frame *protocol.Frame) {
	pongFrame := protocol.NewFrame(protocol.TypePong, frame.RequestID)
	w.Write(pongFrame.Encode())
}

func (s *Server) sendError(w io.Writer, requestID uint32, err error) {
	errFrame := protocol.NewFrame(protocol.TypeError, requestID)
	errFrame.Payload = []byte(err.Error())
	w.Write(errFrame.Encode())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	conns := make([]io.Closer, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		for s.activeReqs.Load() > 0 {
			time.Sleep(100 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns server statistics.
func (s *Server) Stats() map[string]interface{} {
	s.mu.RLock()
	numConns := len(s.conns)
	s.mu.RUnlock()

	return map[string]interface{}{
		"connections":     numConns,
		"active_requests": s.activeReqs.Load(),
		"services":        len(s.registry.Services()),
	}
}
