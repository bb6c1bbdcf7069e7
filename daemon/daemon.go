// Package daemon is the embeddable HTTP daemon itself: it owns the
// listening socket, the event engine(s), and the accept loop, and
// wires the internal/conn, internal/events, core/poller,
// internal/tlstransport, and core/pools packages together behind a
// small functional-options API. Six WorkMode strategies cover running
// its own accept/event goroutines, adopting a pre-bound socket, or
// running with no internal goroutine at all and letting the host
// drive it directly.
package daemon

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sabrq/httpd/core/observability"
	"github.com/sabrq/httpd/core/poller"
	"github.com/sabrq/httpd/core/pools"
	"github.com/sabrq/httpd/internal/conn"
	"github.com/sabrq/httpd/internal/events"
	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/pool"
	"github.com/sabrq/httpd/internal/tlstransport"
)

// State is the Daemon's lifecycle state.
type State int

const (
	StateNew State = iota
	StateRunning
	StateStopped
	StateFailed
)

var (
	ErrOptionsFrozen         = errors.New("daemon: options are frozen after Start")
	ErrNotRunning            = errors.New("daemon: not running")
	ErrAlreadyStarted        = errors.New("daemon: already started")
	ErrSuspendResumeDisabled = errors.New("daemon: suspend/resume is disabled by option")
	// ErrUpgradeUnsupportedInThreadPerConnection is returned by Start
	// when both ModeThreadPerConnection and Upgrade support are
	// configured: a per-connection goroutine has nowhere to migrate an
	// upgraded connection's ownership to that the external modes or
	// the shard pool do, so the combination is rejected rather than
	// silently mishandled (see DESIGN.md's Open Question resolution).
	ErrUpgradeUnsupportedInThreadPerConnection = errors.New("daemon: Upgrade is unsupported with ModeThreadPerConnection")
)

// Info reports a running (or stopped) Daemon's observable state, the
// backing store for (*Daemon).Info().
type Info struct {
	Addr            net.Addr
	TLSBackend      string
	PollFD          int
	NextDeadline    time.Duration
	HasConnections  bool
	ConnectionCount int
	State           State
}

// Daemon owns a listening socket and every connection accepted on it.
// Build one with New, configure it with DaemonOption values, then
// call Start.
type Daemon struct {
	cfg *config

	mu    sync.Mutex
	state State

	listener   *net.TCPListener
	tlsBackend tlstransport.Backend
	bytePool   *pools.BytePool
	connPool   *pools.ConnectionPool
	ips        *ipTracker

	// notifyPool runs NotifyConnection/NotifyStream callbacks off the
	// engine goroutines so a slow host callback never stalls a pass.
	notifyPool *pools.WorkerPool

	// ModeInternalSingleThread / ModeExternalEventLoop / ModeExternalSingleFD
	// / ModeExternalPeriodic
	engine *events.Engine

	// ModeThreadPool
	shards []*shard

	// ModeThreadPerConnection: live per-connection engines, so Stop
	// can reach them.
	perConn map[*events.Engine]struct{}

	handler conn.HandlerFunc

	connCount atomic.Int64
	wg        sync.WaitGroup

	stopOnce sync.Once
}

// New constructs an unstarted Daemon from opts. It does not bind a
// socket or allocate engine state yet -- that happens in Start, so
// configuration is only ever valid before Start.
func New(opts ...DaemonOption) (*Daemon, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Daemon{cfg: cfg, state: StateNew, perConn: make(map[*events.Engine]struct{})}, nil
}

// Handle registers the application's request handler. Must be called
// before Start.
func (d *Daemon) Handle(h conn.HandlerFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateNew {
		return ErrOptionsFrozen
	}
	d.handler = h
	return nil
}

func (d *Daemon) logger() observability.Logger {
	if d.cfg.logCallback != nil {
		return d.cfg.logCallback
	}
	return observability.NopLogger{}
}

// Start binds (or adopts) the listening socket, allocates the event
// engine(s), and -- for every WorkMode except ModeExternalPeriodic --
// launches the accept/drive goroutines. Returns ErrAlreadyStarted if
// called twice, and ErrUpgradeUnsupportedInThreadPerConnection if
// ModeThreadPerConnection is paired with Upgrade support.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateNew {
		return ErrAlreadyStarted
	}
	if d.handler == nil {
		return errors.New("daemon: Handle must be called before Start")
	}
	if d.cfg.workMode == ModeThreadPerConnection && !d.cfg.disallowUpgrade {
		return ErrUpgradeUnsupportedInThreadPerConnection
	}

	if err := d.bindListener(); err != nil {
		d.state = StateFailed
		return statusErr(StatusListenFailure, err)
	}

	if d.cfg.tlsEnabled {
		backend, ok := tlstransport.Lookup("crypto/tls")
		if !ok {
			d.state = StateFailed
			return statusErr(StatusTLSFailure, errors.New("daemon: no TLS backend registered"))
		}
		tcfg, err := d.loadTLSMaterial()
		if err != nil {
			d.state = StateFailed
			return statusErr(StatusTLSFailure, err)
		}
		if err := backend.Init(tcfg); err != nil {
			d.state = StateFailed
			return statusErr(StatusTLSFailure, err)
		}
		d.tlsBackend = backend
	}

	if d.cfg.turbo {
		pools.OptimizeForHighThroughput()
	}

	d.bytePool = pools.NewBytePool()
	d.connPool = pools.NewConnectionPool(1024, func() any { return &conn.Connection{} })
	d.ips = newIPTracker(d.cfg.perIPLimit)
	if d.cfg.notifyConnection != nil || d.cfg.notifyStream != nil {
		d.notifyPool = pools.NewWorkerPool(2)
	}

	switch d.cfg.workMode {
	case ModeExternalPeriodic, ModeExternalEventLoop, ModeExternalSingleFD:
		eng, err := events.New(d.cfg.pollStrategy, d.logger())
		if err != nil {
			d.state = StateFailed
			return err
		}
		d.engine = eng
		if d.cfg.workMode != ModeExternalPeriodic {
			// ModeExternalEventLoop/ModeExternalSingleFD still need the
			// accept loop to hand new connections into d.engine; only
			// the drive loop stays external (the host calls Poll or
			// NotifyReadable/NotifyWritable on its own schedule).
			d.wg.Add(1)
			go d.acceptLoop(func(c *conn.Connection) { d.register(d.engine, c) })
		}

	case ModeInternalSingleThread:
		eng, err := events.New(d.cfg.pollStrategy, d.logger())
		if err != nil {
			d.state = StateFailed
			return err
		}
		d.engine = eng
		d.wg.Add(2)
		go d.acceptLoop(func(c *conn.Connection) { d.register(d.engine, c) })
		go func() {
			defer d.wg.Done()
			d.engine.Run(d.handler)
		}()

	case ModeThreadPerConnection:
		d.wg.Add(1)
		go d.acceptLoop(d.runOnOwnGoroutine)

	case ModeThreadPool:
		d.shards = make([]*shard, d.cfg.shardCount)
		for i := range d.shards {
			eng, err := events.New(d.cfg.pollStrategy, d.logger())
			if err != nil {
				d.state = StateFailed
				return err
			}
			sh := &shard{engine: eng}
			d.shards[i] = sh
			d.wg.Add(1)
			go func(sh *shard) {
				defer d.wg.Done()
				sh.engine.Run(d.handler)
			}(sh)
		}
		d.wg.Add(1)
		go d.acceptLoop(func(c *conn.Connection) { d.registerLeastLoaded(c) })

	default:
		d.state = StateFailed
		return errors.New("daemon: unknown WorkMode")
	}

	d.state = StateRunning
	if d.cfg.daemonReadyCallback != nil {
		// Invoke outside the daemon mutex so the callback may call
		// Info()/PollFD() without deadlocking.
		info := d.infoLocked()
		d.mu.Unlock()
		d.cfg.daemonReadyCallback(info)
		d.mu.Lock()
	}
	return nil
}

// loadTLSMaterial reads the configured PEM files into the in-memory
// form the TLS backend is armed with.
func (d *Daemon) loadTLSMaterial() (tlstransport.Config, error) {
	cfg := tlstransport.Config{NoALPN: d.cfg.noALPN}
	if d.cfg.tlsCertFile != "" {
		pem, err := os.ReadFile(d.cfg.tlsCertFile)
		if err != nil {
			return cfg, err
		}
		cfg.CertPEM = pem
	}
	if d.cfg.tlsKeyFile != "" {
		pem, err := os.ReadFile(d.cfg.tlsKeyFile)
		if err != nil {
			return cfg, err
		}
		cfg.KeyPEM = pem
	}
	if d.cfg.tlsClientCAFile != "" {
		pem, err := os.ReadFile(d.cfg.tlsClientCAFile)
		if err != nil {
			return cfg, err
		}
		cfg.ClientCAPEM = pem
	}
	return cfg, nil
}

// notify dispatches a host callback through the worker pool when one
// exists, falling back to inline execution when it is saturated.
func (d *Daemon) notify(task func()) {
	if d.notifyPool == nil || !d.notifyPool.Submit(task) {
		task()
	}
}

// acceptLoop runs on its own goroutine for every work mode except
// ModeExternalPeriodic (where Poll drains accepts instead). assign
// hands each freshly wrapped Connection to whichever engine or shard
// should own it.
func (d *Daemon) acceptLoop(assign func(*conn.Connection)) {
	defer d.wg.Done()
	for {
		// Back-pressure: when every slot is taken, stop accepting until
		// one frees instead of churning accept-then-close.
		for limit := d.effectiveConnLimit(); limit > 0 && int(d.connCount.Load()) >= limit; {
			if d.State() != StateRunning {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		raw, err := d.listener.Accept()
		if err != nil {
			if d.State() != StateRunning {
				return
			}
			d.logger().Printf("daemon: accept failed: %v", err)
			continue
		}
		d.admit(raw, assign)
	}
}

// effectiveConnLimit folds the explicit connection limit and the
// fd-number budget into one accept cap (0 means uncapped).
func (d *Daemon) effectiveConnLimit() int {
	limit := d.cfg.globalConnectionLimit
	if d.cfg.fdNumberLimit > 0 && (limit == 0 || d.cfg.fdNumberLimit < limit) {
		limit = d.cfg.fdNumberLimit
	}
	return limit
}

// admit applies accept policy and limits to one accepted socket and,
// if it passes, wraps and assigns it.
func (d *Daemon) admit(raw net.Conn, assign func(*conn.Connection)) {
	if d.State() != StateRunning {
		raw.Close()
		return
	}
	if d.cfg.acceptPolicy != nil && !d.cfg.acceptPolicy(raw.RemoteAddr()) {
		raw.Close()
		return
	}
	ipKey, ok := d.ips.tryAcquire(raw.RemoteAddr())
	if !ok {
		raw.Close()
		return
	}
	c, err := d.wrap(raw, ipKey)
	if err != nil {
		d.logger().Printf("daemon: wrap failed: %v", err)
		d.ips.release(ipKey)
		raw.Close()
		return
	}
	d.connCount.Add(1)
	assign(c)
}

// wrap turns a freshly accepted net.Conn into a Connection: duplicates
// its file descriptor, arms O_NONBLOCK on the dup (which Go's runtime
// netpoller does not own), draws a backing arena from the tiered byte
// pool, and -- if TLS is configured -- attaches a Session. The dup is
// taken through SyscallConn rather than TCPConn.File so no *os.File
// (and no finalizer racing to close the descriptor) is ever created
// for it; Connection.ReleaseTransport closes it with a raw
// syscall.Close.
func (d *Daemon) wrap(raw net.Conn, ipKey string) (*conn.Connection, error) {
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		return nil, errors.New("daemon: accepted connection is not *net.TCPConn")
	}
	sc, err := tcp.SyscallConn()
	if err != nil {
		return nil, err
	}
	fd := -1
	var dupErr error
	if err := sc.Control(func(s uintptr) { fd, dupErr = syscall.Dup(int(s)) }); err != nil {
		return nil, err
	}
	if dupErr != nil {
		return nil, dupErr
	}
	if err := setNonblocking(fd); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	buf := d.bytePool.Get(d.cfg.connMemoryLimit)
	arena := pool.New(buf)
	limits := conn.Limits{
		Timeout:       d.cfg.defaultTimeout,
		MaxBodyBuffer: int64(d.cfg.largePoolSize),
		Strict:        d.cfg.strictLevel,
		SuppressDate:  d.cfg.suppressDateHeader,
	}
	var c *conn.Connection
	if pooled, ok := d.connPool.Get().(*conn.Connection); ok && pooled != nil {
		pooled.Arena = arena
		pooled.Limits = limits
		pooled.Reset(fd, raw, raw.RemoteAddr())
		c = pooled
	} else {
		c = conn.New(fd, raw, raw.RemoteAddr(), arena, limits, nil)
	}

	remote := raw.RemoteAddr()
	c.SetOnClose(func(reason conn.CloseReason, msg string) {
		d.connCount.Add(-1)
		d.ips.release(ipKey)
		if d.cfg.notifyConnection != nil {
			d.notify(func() { d.cfg.notifyConnection(reason, remote, msg) })
		}
		if d.cfg.notifyStream != nil {
			in, out := c.BytesIn(), c.BytesOut()
			d.notify(func() { d.cfg.notifyStream(remote, in, out) })
		}
	})
	c.SetOnRelease(func() {
		d.bytePool.Put(arena.Backing())
		d.connPool.Put(c)
	})
	c.OnRequestLine = d.cfg.earlyURILogger

	c.TLS = nil
	c.ALPNHandoff = nil
	if d.tlsBackend != nil {
		c.TLS = d.tlsBackend.NewSession(raw, false)
		if d.cfg.alpnCompanion != nil {
			c.ALPNHandoff = d.cfg.alpnCompanion.Serve
		}
	}
	return c, nil
}

func (d *Daemon) register(eng *events.Engine, c *conn.Connection) {
	c.SetWaker(func() { eng.Enqueue(c) })
	if err := eng.Register(c, false); err != nil {
		d.logger().Printf("daemon: register failed: %v", err)
		c.Close(conn.CloseReasonIOError, "engine registration failed")
		c.ReleaseTransport()
	}
}

// registerLeastLoaded assigns c to whichever ModeThreadPool shard
// currently owns the fewest connections. Placement is a one-time
// decision: a connection is pinned to its shard's engine for its
// whole lifetime, so there is no later rebalancing.
func (d *Daemon) registerLeastLoaded(c *conn.Connection) {
	best := d.shards[0]
	for _, sh := range d.shards[1:] {
		if sh.engine.Count() < best.engine.Count() {
			best = sh
		}
	}
	d.register(best.engine, c)
}

// runOnOwnGoroutine backs ModeThreadPerConnection: each connection
// gets a dedicated engine of its own, so the connection's existing
// poller-driven Advance loop still applies, at the cost of one poller
// instance per connection. The goroutine exits as soon as its one
// connection is gone.
func (d *Daemon) runOnOwnGoroutine(c *conn.Connection) {
	eng, err := events.New(poller.StrategyAuto, d.logger())
	if err != nil {
		d.logger().Printf("daemon: per-connection engine failed: %v", err)
		c.Close(conn.CloseReasonIOError, "per-connection engine failed")
		c.ReleaseTransport()
		return
	}
	c.SetWaker(func() { eng.Enqueue(c) })
	if err := eng.Register(c, false); err != nil {
		eng.Close()
		c.Close(conn.CloseReasonIOError, "engine registration failed")
		c.ReleaseTransport()
		return
	}
	d.mu.Lock()
	d.perConn[eng] = struct{}{}
	d.mu.Unlock()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for !eng.StopRequested() && eng.HasConnections() {
			eng.RunOnce(d.handler, -1)
		}
		eng.CloseAll()
		d.mu.Lock()
		delete(d.perConn, eng)
		d.mu.Unlock()
		eng.Close()
	}()
}

// Poll drives one engine pass for the external work modes, waiting at
// most timeout for readiness. In ModeExternalPeriodic it also drains
// any connections already queued on the listening socket first, since
// no accept goroutine exists in that mode.
func (d *Daemon) Poll(timeout time.Duration) error {
	if d.engine == nil || d.State() != StateRunning {
		return ErrNotRunning
	}
	if d.cfg.workMode == ModeExternalPeriodic {
		d.acceptPending()
	}
	d.engine.RunOnce(d.handler, int(timeout/time.Millisecond))
	return nil
}

// acceptPending accepts every connection already queued on the
// listener without blocking, via a zero deadline.
func (d *Daemon) acceptPending() {
	for {
		_ = d.listener.SetDeadline(time.Now())
		raw, err := d.listener.Accept()
		if err != nil {
			_ = d.listener.SetDeadline(time.Time{})
			return
		}
		d.admit(raw, func(c *conn.Connection) { d.register(d.engine, c) })
	}
}

// Resume reactivates a connection whose handler returned
// ActionSuspend, handing it the action it should proceed with. req
// must be the same Request the suspended handler invocation received.
func (d *Daemon) Resume(req *httpparse.Request, a conn.Action) error {
	if d.cfg.disallowSuspendResume {
		return ErrSuspendResumeDisabled
	}
	c, ok := req.App.(*conn.Connection)
	if !ok {
		return errors.New("daemon: request is not attached to a connection")
	}
	c.Resume(a)
	return nil
}

// NotifyReadable/NotifyWritable feed readiness events to the engine
// for ModeExternalEventLoop, where the host owns FD registration with
// its own epoll/kqueue instance and calls these as it observes
// activity. The host then calls Poll to let the daemon process them.
func (d *Daemon) NotifyReadable(fd int) {
	if r, ok := d.pollerAsExternal(); ok {
		r.NotifyReadable(fd)
	}
}

func (d *Daemon) NotifyWritable(fd int) {
	if r, ok := d.pollerAsExternal(); ok {
		r.NotifyWritable(fd)
	}
}

func (d *Daemon) pollerAsExternal() (*poller.ExternalReactor, bool) {
	if d.engine == nil {
		return nil, false
	}
	r, ok := d.engine.Poller().(*poller.ExternalReactor)
	return r, ok
}

// PollFD exposes the aggregate poll descriptor for ModeExternalSingleFD.
func (d *Daemon) PollFD() int {
	if d.engine == nil {
		return -1
	}
	return d.engine.PollFD()
}

// State reports the Daemon's current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Info reports the Daemon's current observable state.
func (d *Daemon) Info() Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.infoLocked()
}

func (d *Daemon) infoLocked() Info {
	info := Info{State: d.state, PollFD: -1}
	if d.listener != nil {
		info.Addr = d.listener.Addr()
	}
	if d.tlsBackend != nil {
		info.TLSBackend = d.tlsBackend.Name()
	}
	if d.engine != nil {
		info.PollFD = d.engine.PollFD()
		info.HasConnections = d.engine.HasConnections()
		info.ConnectionCount = d.engine.Count()
		info.NextDeadline = d.engine.NextDeadline()
	}
	for _, sh := range d.shards {
		info.ConnectionCount += sh.engine.Count()
		if sh.engine.HasConnections() {
			info.HasConnections = true
		}
	}
	for eng := range d.perConn {
		info.ConnectionCount += eng.Count()
		if eng.HasConnections() {
			info.HasConnections = true
		}
	}
	return info
}

// Stop joins every engine goroutine, closes the listener, and
// transitions to StateStopped. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStopped
	perConn := make([]*events.Engine, 0, len(d.perConn))
	for eng := range d.perConn {
		perConn = append(perConn, eng)
	}
	d.mu.Unlock()

	d.stopOnce.Do(func() {
		if d.listener != nil {
			d.listener.Close()
		}
		if d.engine != nil {
			d.engine.Stop()
		}
		for _, sh := range d.shards {
			sh.engine.Stop()
		}
		for _, eng := range perConn {
			eng.Stop()
		}
		d.wg.Wait()
		if d.engine != nil {
			d.engine.CloseAll()
			d.engine.Close()
		}
		for _, sh := range d.shards {
			sh.engine.CloseAll()
			sh.engine.Close()
		}
		if d.notifyPool != nil {
			d.notifyPool.Close()
		}
	})
	return nil
}
