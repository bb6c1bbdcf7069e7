package daemon

import (
	"net"
	"time"

	"github.com/sabrq/httpd/core/observability"
	"github.com/sabrq/httpd/core/poller"
	"github.com/sabrq/httpd/internal/conn"
	"github.com/sabrq/httpd/internal/httpparse"
)

// WorkMode selects how the daemon multiplexes connections across
// goroutines.
type WorkMode int

const (
	// ModeExternalPeriodic: the host calls (*Daemon).Poll(timeout)
	// itself on its own schedule; nothing runs on a daemon goroutine.
	ModeExternalPeriodic WorkMode = iota
	// ModeExternalEventLoop: the host drives the engine and feeds
	// readiness back via (*Daemon).NotifyReadable/NotifyWritable. Those
	// reach the engine only when WithPollSyscall(poller.StrategyExternal)
	// is also given; the daemon does not pick that strategy itself, and
	// it reports no FD registrations to the host.
	ModeExternalEventLoop
	// ModeExternalSingleFD: the host watches one aggregate descriptor
	// ((*Daemon).PollFD) with its own event loop (epoll-only).
	ModeExternalSingleFD
	// ModeInternalSingleThread: one internal goroutine runs the event
	// engine for every connection.
	ModeInternalSingleThread
	// ModeThreadPerConnection: a fresh goroutine per accepted
	// connection, each running its own single-connection event loop.
	ModeThreadPerConnection
	// ModeThreadPool: N shards, each a goroutine running its own
	// events.Engine, each connection assigned at accept to the shard
	// with the fewest connections.
	ModeThreadPool
)

// NonceStore is the pluggable digest-authentication nonce cache the
// Dauth* options configure. No concrete implementation ships with
// this module (digest auth's credential store and hash primitives are
// explicitly out of scope); a host application wanting
// WithTLSPSKCallback-style digest auth registers its own NonceStore.
type NonceStore interface {
	Issue(bindAddr string) (nonce string, err error)
	Validate(nonce string, nc uint32) bool
}

// AcceptPolicy decides whether to accept a connection from remote at
// all, evaluated immediately after accept and before any bytes are
// read.
type AcceptPolicy func(remote net.Addr) bool

// config accumulates every DaemonOption before Start() freezes it
// into an immutable Daemon. Field names mirror the WithXxx option
// names 1:1.
type config struct {
	workMode     WorkMode
	pollStrategy poller.Strategy
	logCallback  observability.Logger

	bindPort          int
	bindSockaddr      string
	listenSocket      *net.TCPListener
	addrReuse         bool
	tcpFastOpen       bool
	listenBacklog     int
	sigpipeSuppressed bool

	tlsEnabled      bool
	tlsCertFile     string
	tlsKeyFile      string
	tlsClientCAFile string
	tlsPSKCallback  func(identity string) (key []byte, ok bool)
	noALPN          bool
	alpnCompanion   ALPNCompanion

	defaultTimeout             time.Duration
	globalConnectionLimit      int
	perIPLimit                 int
	acceptPolicy               AcceptPolicy
	strictLevel                httpparse.Level
	earlyURILogger             func(method, path string)
	disableURIQueryPlusAsSpace bool
	suppressDateHeader         bool
	enableShoutcast            bool
	connMemoryLimit            int
	largePoolSize              int
	stackSize                  int // accepted, ignored: goroutines have no fixed stack size
	fdNumberLimit              int
	turbo                      bool
	disableThreadSafety        bool // accepted, ignored: Go connections are always single-goroutine-owned
	disallowUpgrade            bool
	disallowSuspendResume      bool
	daemonReadyCallback        func(info Info)
	notifyConnection           func(event conn.CloseReason, remote net.Addr, msg string)
	notifyStream               func(remote net.Addr, bytesIn, bytesOut int64)
	randomEntropy              func([]byte) (int, error)

	nonceStore           NonceStore
	dauthMapSize         int
	dauthNonceBindType   int
	dauthDefNonceTimeout time.Duration
	dauthDefMaxNC        uint32

	shardCount int
}

func defaultConfig() *config {
	return &config{
		workMode:             ModeInternalSingleThread,
		pollStrategy:         poller.StrategyAuto,
		bindPort:             8080,
		addrReuse:            true,
		listenBacklog:        1024,
		defaultTimeout:       30 * time.Second,
		connMemoryLimit:      32 * 1024,
		largePoolSize:        256 * 1024,
		fdNumberLimit:        0, // 0: no explicit daemon-side cap beyond the OS rlimit
		strictLevel:          httpparse.LevelDefault,
		dauthMapSize:         1024,
		dauthDefNonceTimeout: 5 * time.Minute,
		dauthDefMaxNC:        100,
		shardCount:           4,
	}
}

// DaemonOption configures a Daemon. Options are applied only by New,
// so none can be applied after Start; Handle, the one setter on a
// Daemon, returns ErrOptionsFrozen once Start has run.
type DaemonOption func(*config)

func WithWorkMode(m WorkMode) DaemonOption { return func(c *config) { c.workMode = m } }

func WithPollSyscall(s poller.Strategy) DaemonOption { return func(c *config) { c.pollStrategy = s } }

func WithLogCallback(l observability.Logger) DaemonOption { return func(c *config) { c.logCallback = l } }

func WithBindPort(port int) DaemonOption { return func(c *config) { c.bindPort = port } }

func WithBindSockaddr(addr string) DaemonOption { return func(c *config) { c.bindSockaddr = addr } }

// WithListenSocket adopts an already-listening TCP socket (e.g.
// handed down by a supervisor across an exec) instead of binding one.
func WithListenSocket(l *net.TCPListener) DaemonOption {
	return func(c *config) { c.listenSocket = l }
}

func WithListenAddrReuse(reuse bool) DaemonOption { return func(c *config) { c.addrReuse = reuse } }

// WithTCPFastOpen requests TCP Fast Open on the listening socket
// where the platform's net package supports it; a no-op elsewhere.
func WithTCPFastOpen(enabled bool) DaemonOption { return func(c *config) { c.tcpFastOpen = enabled } }

func WithListenBacklog(n int) DaemonOption { return func(c *config) { c.listenBacklog = n } }

func WithSigpipeSuppressed(suppress bool) DaemonOption {
	return func(c *config) { c.sigpipeSuppressed = suppress }
}

func WithTLS(enabled bool) DaemonOption { return func(c *config) { c.tlsEnabled = enabled } }

func WithTLSKeyCert(keyFile, certFile string) DaemonOption {
	return func(c *config) { c.tlsKeyFile = keyFile; c.tlsCertFile = certFile }
}

func WithTLSClientCA(caFile string) DaemonOption {
	return func(c *config) { c.tlsClientCAFile = caFile }
}

func WithTLSPSKCallback(cb func(identity string) ([]byte, bool)) DaemonOption {
	return func(c *config) { c.tlsPSKCallback = cb }
}

func WithNoALPN(noALPN bool) DaemonOption { return func(c *config) { c.noALPN = noALPN } }

// ALPNCompanion serves a connection whose TLS handshake negotiated a
// protocol outside the core listener's own candidate list
// (tlstransport.ALPNProtocols never offers anything but http/1.1 and
// http/1.0). core/http2 implements this for "h2", so a host that
// wants HTTP/2 registers one companion alongside the plain HTTP/1.x
// daemon instead of teaching the stage machine a second wire format.
type ALPNCompanion interface {
	// Serve takes ownership of conn -- an already-handshake-completed
	// TLS connection replaying any bytes the daemon had already
	// decrypted -- for negotiatedProtocol. It reports whether it
	// accepted the connection; returning false leaves the connection
	// to the daemon, which closes it (the core stage machine has
	// already given up on interpreting HTTP/1.x off this socket).
	Serve(conn net.Conn, negotiatedProtocol string) bool
}

// WithALPNCompanion registers a sibling protocol handler that TLS
// connections are handed off to when ALPN negotiates something other
// than http/1.1 or http/1.0. Has no effect unless WithTLS(true) is
// also given.
func WithALPNCompanion(companion ALPNCompanion) DaemonOption {
	return func(c *config) { c.alpnCompanion = companion }
}

func WithDefaultTimeout(d time.Duration) DaemonOption {
	return func(c *config) { c.defaultTimeout = d }
}

func WithGlobalConnectionLimit(n int) DaemonOption {
	return func(c *config) { c.globalConnectionLimit = n }
}

func WithPerIPLimit(n int) DaemonOption { return func(c *config) { c.perIPLimit = n } }

func WithAcceptPolicy(p AcceptPolicy) DaemonOption { return func(c *config) { c.acceptPolicy = p } }

func WithProtocolStrictLevel(l httpparse.Level) DaemonOption {
	return func(c *config) { c.strictLevel = l }
}

func WithEarlyURILogger(f func(method, path string)) DaemonOption {
	return func(c *config) { c.earlyURILogger = f }
}

func WithDisableURIQueryPlusAsSpace(disable bool) DaemonOption {
	return func(c *config) { c.disableURIQueryPlusAsSpace = disable }
}

func WithSuppressDateHeader(suppress bool) DaemonOption {
	return func(c *config) { c.suppressDateHeader = suppress }
}

func WithEnableShoutcast(enabled bool) DaemonOption {
	return func(c *config) { c.enableShoutcast = enabled }
}

func WithConnMemoryLimit(bytes int) DaemonOption {
	return func(c *config) {
		if bytes < 256 {
			bytes = 256
		}
		c.connMemoryLimit = bytes
	}
}

func WithLargePoolSize(bytes int) DaemonOption { return func(c *config) { c.largePoolSize = bytes } }

// WithStackSize is accepted for API compatibility with embedders
// porting tuning knobs from a thread-per-connection C daemon, but is
// a no-op here: goroutines grow their stacks on demand, there is no
// fixed per-connection stack to size.
func WithStackSize(bytes int) DaemonOption { return func(c *config) { c.stackSize = bytes } }

func WithFDNumberLimit(n int) DaemonOption { return func(c *config) { c.fdNumberLimit = n } }

func WithTurbo(enabled bool) DaemonOption { return func(c *config) { c.turbo = enabled } }

// WithDisableThreadSafety is accepted for API compatibility but is a
// no-op: every Connection is already pinned to exactly one goroutine
// for its lifetime, so there is no shared mutable state to race on in
// the first place.
func WithDisableThreadSafety(disable bool) DaemonOption {
	return func(c *config) { c.disableThreadSafety = disable }
}

func WithDisallowUpgrade(disallow bool) DaemonOption {
	return func(c *config) { c.disallowUpgrade = disallow }
}

func WithDisallowSuspendResume(disallow bool) DaemonOption {
	return func(c *config) { c.disallowSuspendResume = disallow }
}

func WithDaemonReadyCallback(f func(info Info)) DaemonOption {
	return func(c *config) { c.daemonReadyCallback = f }
}

func WithNotifyConnection(f func(reason conn.CloseReason, remote net.Addr, msg string)) DaemonOption {
	return func(c *config) { c.notifyConnection = f }
}

func WithNotifyStream(f func(remote net.Addr, bytesIn, bytesOut int64)) DaemonOption {
	return func(c *config) { c.notifyStream = f }
}

func WithRandomEntropy(src func([]byte) (int, error)) DaemonOption {
	return func(c *config) { c.randomEntropy = src }
}

func WithNonceStore(s NonceStore) DaemonOption { return func(c *config) { c.nonceStore = s } }

func WithDauthMapSize(n int) DaemonOption { return func(c *config) { c.dauthMapSize = n } }

func WithDauthNonceBindType(t int) DaemonOption { return func(c *config) { c.dauthNonceBindType = t } }

func WithDauthDefNonceTimeout(d time.Duration) DaemonOption {
	return func(c *config) { c.dauthDefNonceTimeout = d }
}

func WithDauthDefMaxNC(n uint32) DaemonOption { return func(c *config) { c.dauthDefMaxNC = n } }

// WithShardCount sets the number of events.Engine shards ModeThreadPool
// spreads connections across; defaults to 4.
func WithShardCount(n int) DaemonOption {
	return func(c *config) {
		if n > 0 {
			c.shardCount = n
		}
	}
}
