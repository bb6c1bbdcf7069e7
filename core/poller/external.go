package poller

import (
	"sync"
	"time"
)

// ExternalReactor is the StrategyExternal poller: the host application
// feeds readiness in through NotifyReadable/NotifyWritable. Add/Remove
// here only forward to the host callbacks, if any are set; Wait blocks
// on an internal channel fed by the Notify* methods instead of making
// its own readiness syscall. It has no descriptor of its own (FD
// returns -1), so ModeExternalSingleFD's aggregate descriptor comes
// from a native poller instead.
type ExternalReactor struct {
	mu      sync.Mutex
	pending []Event
	woken   chan struct{}
	onArm   func(fd int, write bool)
	onDrop  func(fd int)
}

// NewExternalReactor constructs a reactor with no host callbacks
// wired; SetCallbacks attaches them. Daemon.Start does not call
// SetCallbacks, so a reactor the daemon creates reports no FD
// registrations to the host.
func NewExternalReactor() *ExternalReactor {
	return &ExternalReactor{woken: make(chan struct{}, 1)}
}

// SetCallbacks wires the host's FD registration hooks for work mode 2.
// onArm is called whenever a connection needs to start or stop
// watching for write-readiness; onDrop when a connection is removed.
func (r *ExternalReactor) SetCallbacks(onArm func(fd int, write bool), onDrop func(fd int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onArm, r.onDrop = onArm, onDrop
}

func (r *ExternalReactor) Add(fd int, write bool) error {
	r.mu.Lock()
	cb := r.onArm
	r.mu.Unlock()
	if cb != nil {
		cb(fd, write)
	}
	return nil
}

func (r *ExternalReactor) Modify(fd int, write bool) error { return r.Add(fd, write) }

func (r *ExternalReactor) Remove(fd int) error {
	r.mu.Lock()
	cb := r.onDrop
	r.mu.Unlock()
	if cb != nil {
		cb(fd)
	}
	return nil
}

// NotifyReadable/NotifyWritable are called by the host's own event
// loop to hand one readiness event to the next Wait call.
func (r *ExternalReactor) NotifyReadable(fd int) { r.notify(Event{FD: fd, Readable: true}) }
func (r *ExternalReactor) NotifyWritable(fd int) { r.notify(Event{FD: fd, Writable: true}) }

func (r *ExternalReactor) notify(ev Event) {
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.mu.Unlock()
	select {
	case r.woken <- struct{}{}:
	default:
	}
}

// WakeWait unblocks a Wait call that has no pending events, used by
// the engine's Stop/Enqueue paths since the ITC pipe is not something
// this reactor's Wait ever watches.
func (r *ExternalReactor) WakeWait() {
	select {
	case r.woken <- struct{}{}:
	default:
	}
}

func (r *ExternalReactor) Wait(timeoutMillis int) ([]Event, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		out := r.pending
		r.pending = nil
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	if timeoutMillis == 0 {
		return nil, nil
	}
	if timeoutMillis < 0 {
		<-r.woken
	} else {
		t := time.NewTimer(time.Duration(timeoutMillis) * time.Millisecond)
		select {
		case <-r.woken:
			t.Stop()
		case <-t.C:
		}
	}
	r.mu.Lock()
	out := r.pending
	r.pending = nil
	r.mu.Unlock()
	return out, nil
}

func (r *ExternalReactor) Close() error { return nil }

// FD returns -1: the reactor has no descriptor of its own to expose.
func (r *ExternalReactor) FD() int { return -1 }
