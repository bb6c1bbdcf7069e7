// Package tlstransport is the abstract TLS transport: a Session
// interface with handshake/recv/send/shutdown/has-buffered-data, and
// a Backend dispatch table behind it. The only registered Backend
// wraps Go's standard crypto/tls, the same library core/http2 relies
// on for its own ALPN negotiation.
package tlstransport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sabrq/httpd/internal/ioutil"
)

// ALPNProtocols is the daemon's fixed negotiation list: HTTP/2 is
// deliberately absent from the core listener.
var ALPNProtocols = []string{"http/1.1", "http/1.0"}

// HandshakeStatus reports the outcome of a handshake or shutdown
// attempt, mirroring ioutil.Status so the connection state machine
// can drive both I/O and TLS through the same suspend/retry loop.
type HandshakeStatus int

const (
	HandshakeDone HandshakeStatus = iota
	HandshakeWantRead
	HandshakeWantWrite
	HandshakeFailed
)

// Session is the per-connection TLS transport contract.
type Session interface {
	Handshake() (HandshakeStatus, error)
	Recv(buf []byte) (int, ioutil.Status)
	Send(buf []byte) (int, ioutil.Status)
	Shutdown() (HandshakeStatus, error)
	// HasBufferedData reports whether decrypted plaintext is sitting
	// in the TLS layer's internal buffer that a subsequent
	// edge-triggered readability notification will not re-announce.
	HasBufferedData() bool
	NegotiatedProtocol() string
	// Underlying returns the net.Conn the handshake completed on, for
	// the rare case (ALPN negotiating something other than the core
	// listener's own candidate list) where a caller outside this
	// package needs to keep reading/writing the same TLS record
	// stream directly -- see Connection.ALPNHandoff.
	Underlying() net.Conn
}

// Config carries the daemon-wide TLS material a Backend is armed with
// once at daemon start: an in-memory PEM certificate chain and key,
// an optional client CA bundle (enabling client-certificate
// verification when present), and whether ALPN is suppressed.
type Config struct {
	CertPEM     []byte
	KeyPEM      []byte
	ClientCAPEM []byte
	NoALPN      bool
}

// Backend constructs Sessions for accepted connections. Exactly one
// Backend is registered today (stdlibBackend); a host application
// embedding a second TLS library registers its own without touching
// the daemon package, preserving the dispatch shape the original
// multi-TLS design called for. Init is called once, from daemon
// start, before any NewSession call.
type Backend interface {
	Name() string
	Init(cfg Config) error
	NewSession(conn net.Conn, isClient bool) Session
}

var registry = map[string]Backend{}

// Register adds a Backend under name. Daemon.Start looks backends up
// by name; omitting WithTLS leaves the daemon running in plaintext.
func Register(b Backend) { registry[b.Name()] = b }

// Lookup returns a registered Backend by name.
func Lookup(name string) (Backend, bool) {
	b, ok := registry[name]
	return b, ok
}

func init() {
	Register(&stdlibBackend{})
}

type stdlibBackend struct {
	cfg *tls.Config
}

func (*stdlibBackend) Name() string { return "crypto/tls" }

func (b *stdlibBackend) Init(cfg Config) error {
	tcfg := &tls.Config{
		SessionTicketsDisabled: true,
		Renegotiation:          tls.RenegotiateNever,
	}
	if !cfg.NoALPN {
		tcfg.NextProtos = ALPNProtocols
	}
	if len(cfg.CertPEM) > 0 || len(cfg.KeyPEM) > 0 {
		cert, err := tls.X509KeyPair(cfg.CertPEM, cfg.KeyPEM)
		if err != nil {
			return err
		}
		tcfg.Certificates = []tls.Certificate{cert}
	}
	if len(cfg.ClientCAPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.ClientCAPEM) {
			return errors.New("tlstransport: no usable certificates in client CA bundle")
		}
		tcfg.ClientCAs = pool
		tcfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	b.cfg = tcfg
	return nil
}

func (b *stdlibBackend) NewSession(conn net.Conn, isClient bool) Session {
	cfg := b.cfg
	if cfg == nil {
		cfg = &tls.Config{
			NextProtos:             ALPNProtocols,
			SessionTicketsDisabled: true,
			Renegotiation:          tls.RenegotiateNever,
		}
	}
	if isClient {
		return &stdlibSession{conn: tls.Client(conn, cfg)}
	}
	return &stdlibSession{conn: tls.Server(conn, cfg)}
}

// stdlibSession adapts *tls.Conn to Session. crypto/tls.Conn performs
// blocking I/O internally even over a non-blocking fd (it retries on
// the underlying net.Conn's deadline semantics), so Handshake/Recv/
// Send here arm a near-immediate deadline before each call and
// translate the resulting timeout into StatusWouldBlock -- this keeps
// the connection state machine's suspend/resume contract intact
// without forking crypto/tls. Plaintext the record layer already
// buffered is returned regardless of the deadline.
type stdlibSession struct {
	conn       *tls.Conn
	negotiated string

	// mayBuffer is the conservative buffered-plaintext signal behind
	// HasBufferedData; see there.
	mayBuffer bool
}

// tlsPollBudget bounds how long one Recv/Send/Handshake attempt may
// occupy the owning goroutine waiting on the record layer before it is
// reported as would-block and retried on the next readiness pass.
const tlsPollBudget = 5 * time.Millisecond

func (s *stdlibSession) Handshake() (HandshakeStatus, error) {
	_ = s.conn.SetDeadline(time.Now().Add(tlsPollBudget))
	err := s.conn.Handshake()
	_ = s.conn.SetDeadline(time.Time{})
	if err != nil {
		if isTimeout(err) {
			return HandshakeWantRead, nil
		}
		return HandshakeFailed, err
	}
	s.negotiated = s.conn.ConnectionState().NegotiatedProtocol
	return HandshakeDone, nil
}

func (s *stdlibSession) Recv(buf []byte) (int, ioutil.Status) {
	_ = s.conn.SetReadDeadline(time.Now().Add(tlsPollBudget))
	n, err := s.conn.Read(buf)
	_ = s.conn.SetReadDeadline(time.Time{})
	s.mayBuffer = err == nil && n > 0 && n == len(buf)
	return translate(n, err)
}

func (s *stdlibSession) Send(buf []byte) (int, ioutil.Status) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(tlsPollBudget))
	n, err := s.conn.Write(buf)
	_ = s.conn.SetWriteDeadline(time.Time{})
	return translate(n, err)
}

func (s *stdlibSession) Shutdown() (HandshakeStatus, error) {
	if err := s.conn.CloseWrite(); err != nil {
		return HandshakeFailed, err
	}
	return HandshakeDone, nil
}

// HasBufferedData reports whether the record layer may still hold
// decrypted plaintext that no socket readiness notification will
// re-announce. crypto/tls exports no direct probe, so this is the
// conservative signal: a Recv that filled the caller's buffer
// completely may have drained only part of the decrypted record. The
// event engine re-queues the connection while this reports true, so a
// false positive costs one extra pass that ends in would-block; a
// false negative cannot occur, because a partial read proves the
// buffer is empty.
func (s *stdlibSession) HasBufferedData() bool { return s.mayBuffer }

func (s *stdlibSession) NegotiatedProtocol() string { return s.negotiated }

func (s *stdlibSession) Underlying() net.Conn { return s.conn }

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

func translate(n int, err error) (int, ioutil.Status) {
	if err == nil {
		return n, ioutil.StatusOK
	}
	if isTimeout(err) {
		return 0, ioutil.StatusWouldBlock
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return n, ioutil.StatusPeerClosed
	}
	var alert tls.AlertError
	var rhe tls.RecordHeaderError
	if errors.As(err, &alert) || errors.As(err, &rhe) {
		return n, ioutil.StatusTLSError
	}
	return n, ioutil.StatusConnBroken
}
