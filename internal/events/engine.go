// Package events is the per-daemon event engine: it multiplexes N
// connections over one poller.Poller strategy, maintains a ready
// queue of connections that can make progress without a fresh
// readiness notification, and enforces per-connection timeouts from
// two insertion-ordered queues (default and custom). A single
// deadline-driven wait loop drives the whole thing, falling straight
// through to Stop/ITC cancellation rather than polling on a fixed
// tick.
package events

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sabrq/httpd/core/poller"
	"github.com/sabrq/httpd/internal/conn"
	"github.com/sabrq/httpd/internal/ioutil"
)

// Logger is the minimal structured-logging sink the engine reports
// through; satisfied by observability.Logger without importing it
// (avoids a dependency cycle, since observability wraps this engine's
// NotifyConnection hook in turn).
type Logger interface {
	Printf(format string, args ...any)
}

type registration struct {
	c        *conn.Connection
	wantW    bool
	queued   bool          // already sitting in the ready queue
	defElem  *list.Element // membership in the default-timeout queue
	custElem *list.Element // membership in the custom-timeout queue
}

// Engine owns one poller.Poller and every connection currently
// registered with it. An Engine is meant to run on exactly one
// goroutine (daemon work modes 1-4) or one per shard (mode 6); it is
// not safe to call Run from two goroutines on the same Engine, though
// Register/Unregister/Enqueue/Wake may be called cross-goroutine
// (they take the internal mutex and, where they need to interrupt a
// blocked Wait, signal the ITC).
type Engine struct {
	p   poller.Poller
	itc *ioutil.ITC
	log Logger

	mu    sync.Mutex
	conns map[int]*registration
	ready []*registration // connections runnable without a poll event
	def   *list.List      // default-timeout queue, insertion order, head = next to expire
	cust  *list.List      // custom-timeout queue

	stopRequested atomic.Bool
}

// New constructs an Engine over strategy's Poller, registering the
// ITC's read end so Stop (and cross-goroutine Wake) can interrupt a
// blocked Wait call.
func New(strategy poller.Strategy, log Logger) (*Engine, error) {
	p, err := poller.New(strategy)
	if err != nil {
		return nil, err
	}
	itc, err := ioutil.NewITC()
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := p.Add(itc.FD(), false); err != nil {
		p.Close()
		itc.Close()
		return nil, err
	}
	return &Engine{
		p:     p,
		itc:   itc,
		log:   log,
		conns: make(map[int]*registration),
		def:   list.New(),
		cust:  list.New(),
	}, nil
}

// PollFD exposes the underlying poller's descriptor, for
// ModeExternalSingleFD, where a host watches this one descriptor
// itself instead of letting the engine run its own wait loop (-1 if
// the strategy has none).
func (e *Engine) PollFD() int { return e.p.FD() }

// Poller exposes the poller itself, for the daemon's
// ModeExternalEventLoop bridge (NotifyReadable/NotifyWritable need
// the concrete ExternalReactor).
func (e *Engine) Poller() poller.Poller { return e.p }

// Register adds a freshly accepted (or recycled) connection to the
// engine's readiness set and timeout queues. The connection is also
// placed on the ready queue once, so any bytes the client sent before
// registration are processed on the next pass even under an
// edge-triggered poller.
func (e *Engine) Register(c *conn.Connection, custom bool) error {
	if err := e.p.Add(c.FD, c.WantWrite()); err != nil {
		return err
	}
	r := &registration{c: c, wantW: c.WantWrite()}
	e.mu.Lock()
	e.conns[c.FD] = r
	if custom {
		r.custElem = e.cust.PushBack(c)
	} else {
		r.defElem = e.def.PushBack(c)
	}
	r.queued = true
	e.ready = append(e.ready, r)
	e.mu.Unlock()
	e.wakeWait()
	return nil
}

// Unregister removes a connection from the poller and both timeout
// queues; called once a connection reaches its closed stage.
func (e *Engine) Unregister(c *conn.Connection) {
	e.mu.Lock()
	r, ok := e.conns[c.FD]
	if ok {
		delete(e.conns, c.FD)
		if r.defElem != nil {
			e.def.Remove(r.defElem)
		}
		if r.custElem != nil {
			e.cust.Remove(r.custElem)
		}
	}
	e.mu.Unlock()
	if ok {
		_ = e.p.Remove(c.FD)
	}
}

// Enqueue marks a connection runnable without waiting for a poll
// event, used when an application resumes a suspended connection (the
// bytes it needs may already be buffered). Safe to call
// cross-goroutine.
func (e *Engine) Enqueue(c *conn.Connection) {
	e.mu.Lock()
	r, ok := e.conns[c.FD]
	if ok && !r.queued {
		r.queued = true
		e.ready = append(e.ready, r)
	}
	e.mu.Unlock()
	if ok {
		e.wakeWait()
	}
}

// touch moves c to the tail of whichever timeout queue it belongs to,
// resetting its idle clock.
func (e *Engine) touch(r *registration) {
	r.c.Touch()
	e.mu.Lock()
	if r.defElem != nil {
		e.def.MoveToBack(r.defElem)
	}
	if r.custElem != nil {
		e.cust.MoveToBack(r.custElem)
	}
	e.mu.Unlock()
}

// Wake interrupts a blocked Wait call so the engine re-evaluates
// stopRequested or its ready queue on its next pass. Safe to call
// cross-goroutine.
func (e *Engine) Wake() { e.wakeWait() }

func (e *Engine) wakeWait() {
	e.itc.Wake()
	// The external reactor's Wait does not watch the ITC pipe; it has
	// its own wake channel.
	if w, ok := e.p.(interface{ WakeWait() }); ok {
		w.WakeWait()
	}
}

// Stop requests the owning goroutine's Run loop exit at the start of
// its next pass, and interrupts a blocked Wait immediately.
func (e *Engine) Stop() {
	e.stopRequested.Store(true)
	e.wakeWait()
}

func (e *Engine) StopRequested() bool { return e.stopRequested.Load() }

// Close releases the poller and ITC. Call only after Run has returned.
func (e *Engine) Close() error {
	e.itc.Close()
	return e.p.Close()
}

// nextDeadlineMillis computes the poller's maximum blocking time from
// the head of both timeout queues: since connections are appended in
// arrival order and a queue's head is always the next to expire, the
// engine only ever has to look at two elements to bound its wait.
func (e *Engine) nextDeadlineMillis() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.ready) > 0 {
		return 0
	}
	best := -1
	for _, q := range [2]*list.List{e.def, e.cust} {
		if q.Len() == 0 {
			continue
		}
		c := q.Front().Value.(*conn.Connection)
		to := c.IdleTimeout()
		if to <= 0 {
			continue
		}
		remain := to - time.Since(c.LastActive)
		ms := int(remain / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		if best < 0 || ms < best {
			best = ms
		}
	}
	if best < 0 {
		return 1000 // no active timeout: still wake periodically for Stop responsiveness
	}
	return best
}

// NextDeadline reports how long the engine could block before a
// timeout needs servicing, for the daemon's Info surface and for
// external hosts sizing their own wait calls.
func (e *Engine) NextDeadline() time.Duration {
	return time.Duration(e.nextDeadlineMillis()) * time.Millisecond
}

// sweepTimeouts closes every connection at either queue's head whose
// IdleTimeout has elapsed since LastActive.
func (e *Engine) sweepTimeouts() {
	now := time.Now()
	var expired []*conn.Connection
	e.mu.Lock()
	for _, q := range [2]*list.List{e.def, e.cust} {
		for el := q.Front(); el != nil; {
			c := el.Value.(*conn.Connection)
			to := c.IdleTimeout()
			if to <= 0 || now.Sub(c.LastActive) < to {
				break
			}
			next := el.Next()
			expired = append(expired, c)
			el = next
		}
	}
	e.mu.Unlock()
	for _, c := range expired {
		c.CloseForTimeout()
		e.Unregister(c)
		c.ReleaseTransport()
	}
}

// drive advances one connection's state machine once and rearms or
// retires it afterwards.
func (e *Engine) drive(r *registration, handler conn.HandlerFunc) {
	e.touch(r)
	closed := r.c.Advance(handler)
	if closed {
		e.Unregister(r.c)
		r.c.ReleaseTransport()
		return
	}
	wantW := r.c.WantWrite()
	if wantW != r.wantW {
		_ = e.p.Modify(r.c.FD, wantW)
		r.wantW = wantW
	}
	// Plaintext parked inside the TLS layer never shows up as socket
	// readiness, so an edge-triggered poller would strand a connection
	// waiting for read progress; keep it on the ready queue until the
	// TLS buffer drains. Write-blocked and app-suspended connections
	// are excluded -- writability events and Resume already re-arm
	// those, and re-queueing them here would spin the engine.
	if !r.c.Suspended() && !wantW && r.c.TLSBuffered() {
		e.Enqueue(r.c)
	}
}

// RunOnce performs one engine pass: drain the ready queue, wait on
// the poller for at most timeoutMillis (0 polls without blocking; a
// negative value lets the engine pick its own deadline from the
// timeout queues), advance every ready connection once, and sweep
// expired timeouts. ModeExternalPeriodic and ModeExternalSingleFD
// hosts reach this through Daemon.Poll; Run loops it.
func (e *Engine) RunOnce(handler conn.HandlerFunc, timeoutMillis int) {
	e.mu.Lock()
	ready := e.ready
	e.ready = nil
	for _, r := range ready {
		r.queued = false
	}
	e.mu.Unlock()
	for _, r := range ready {
		// Identity check: the fd may have been unregistered (and even
		// reused by a newer connection) since this entry was queued.
		if live, ok := e.lookup(r.c.FD); ok && live == r {
			e.drive(r, handler)
		}
	}

	if timeoutMillis < 0 {
		timeoutMillis = e.nextDeadlineMillis()
	}
	evs, err := e.p.Wait(timeoutMillis)
	if err != nil {
		if e.log != nil {
			e.log.Printf("events: poller wait failed: %v", err)
		}
		return
	}
	for _, ev := range evs {
		if ev.FD == e.itc.FD() {
			e.itc.Drain()
			continue
		}
		r, ok := e.lookup(ev.FD)
		if !ok {
			continue
		}
		e.drive(r, handler)
	}
	e.sweepTimeouts()
}

// CloseAll force-closes every still-registered connection with the
// daemon-shutdown reason, called after the run loop has exited.
func (e *Engine) CloseAll() {
	e.mu.Lock()
	regs := make([]*registration, 0, len(e.conns))
	for _, r := range e.conns {
		regs = append(regs, r)
	}
	e.mu.Unlock()
	for _, r := range regs {
		r.c.Close(conn.CloseReasonShutdown, "daemon shutdown")
		e.Unregister(r.c)
		r.c.ReleaseTransport()
	}
}

func (e *Engine) lookup(fd int) (*registration, bool) {
	e.mu.Lock()
	r, ok := e.conns[fd]
	e.mu.Unlock()
	return r, ok
}

// Run drives the engine until Stop is called, with run-to-blocked
// semantics per connection: a connection is advanced until it
// suspends on I/O and never monopolizes the goroutine across passes.
func (e *Engine) Run(handler conn.HandlerFunc) {
	for !e.stopRequested.Load() {
		e.RunOnce(handler, -1)
	}
}

// HasConnections reports whether any connection is currently
// registered, for Daemon.Info's dynamic "has-connections" field.
func (e *Engine) HasConnections() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns) > 0
}

// Count returns the number of connections currently owned by this
// engine, used for per-shard least-loaded assignment in pool mode.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}
