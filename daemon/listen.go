package daemon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sabrq/httpd/internal/events"
	"github.com/sabrq/httpd/internal/ioutil"
)

// shard is one worker daemon in pool mode: a self-contained event
// engine plus the goroutine running it. The master Daemon owns the
// listener and steers each accepted connection to exactly one shard
// for that connection's whole lifetime.
type shard struct {
	engine *events.Engine
}

// bindListener binds (or adopts) the listening TCP socket per the
// frozen option set: WithListenSocket wins outright, otherwise
// bind-sockaddr or bind-port is bound with the configured
// address-reuse and TCP Fast Open behaviour applied before listen.
func (d *Daemon) bindListener() error {
	if d.cfg.listenSocket != nil {
		d.listener = d.cfg.listenSocket
		return nil
	}
	addr := d.cfg.bindSockaddr
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(d.cfg.bindPort))
	}
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				if d.cfg.addrReuse {
					if ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); ctrlErr != nil {
						return
					}
				}
				if d.cfg.tcpFastOpen {
					// Best effort: kernels built without the option
					// simply decline it.
					_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_FASTOPEN, d.cfg.listenBacklog)
				}
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("daemon: listen on %s: %w", addr, err)
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("daemon: unexpected listener type %T", ln)
	}
	d.listener = tcp
	return nil
}

func setNonblocking(fd int) error { return ioutil.SetNonblocking(fd) }

// ipTracker enforces the per-IP connection limit under a small mutex,
// shared by every accept path regardless of work mode.
type ipTracker struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
}

func newIPTracker(limit int) *ipTracker {
	return &ipTracker{counts: make(map[string]int), limit: limit}
}

// tryAcquire records one connection from addr, reporting false when
// the per-IP limit is already met. The returned host key must be
// handed back to release exactly once.
func (t *ipTracker) tryAcquire(addr net.Addr) (string, bool) {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.counts[host] >= t.limit {
		return host, false
	}
	t.counts[host]++
	return host, true
}

func (t *ipTracker) release(host string) {
	t.mu.Lock()
	if n := t.counts[host]; n <= 1 {
		delete(t.counts, host)
	} else {
		t.counts[host] = n - 1
	}
	t.mu.Unlock()
}
