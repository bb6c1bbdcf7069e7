// Package upgrade implements the post-101 hand-off: once a Switching
// Protocols response has been flushed, the connection's raw byte
// stream is handed to an application-supplied Handler and the daemon
// core stops interpreting bytes on that connection entirely.
package upgrade

import "net"

// Handle is the raw duplex stream an UpgradeHandler takes ownership
// of. It wraps the accepted net.Conn plus any bytes the read buffer
// already held past the end of the upgrade request (a client is
// allowed to start sending protocol bytes immediately after its
// request, without waiting for the 101 reply).
type Handle struct {
	Conn     net.Conn
	Buffered []byte
	closed   func()
}

// NewHandle constructs a Handle. closed, when non-nil, runs on every
// Close call, after the underlying connection is closed. internal/conn
// passes nil: its state machine moves to upgraded-cleaning as soon as
// the upgrade callback returns.
func NewHandle(c net.Conn, buffered []byte, closed func()) *Handle {
	return &Handle{Conn: c, Buffered: buffered, closed: closed}
}

// Read first drains any buffered bytes left over from the request
// parse, then reads from the underlying connection.
func (h *Handle) Read(p []byte) (int, error) {
	if len(h.Buffered) > 0 {
		n := copy(p, h.Buffered)
		h.Buffered = h.Buffered[n:]
		return n, nil
	}
	return h.Conn.Read(p)
}

// Write writes directly to the underlying connection.
func (h *Handle) Write(p []byte) (int, error) {
	return h.Conn.Write(p)
}

// Close tears down the upgraded connection.
func (h *Handle) Close() error {
	err := h.Conn.Close()
	if h.closed != nil {
		h.closed()
	}
	return err
}

// Handler takes ownership of a Handle after a successful Upgrade
// Action. It typically runs the application's own framing (e.g. the
// adapted websocket package's RFC 6455 frame codec) directly over
// Handle's Read/Write.
type Handler func(h *Handle)
