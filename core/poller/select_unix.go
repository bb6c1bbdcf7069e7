//go:build linux

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// selectPoller is a level-triggered readiness-set strategy: one
// syscall yields read/write/error sets and the caller linearly scans
// its own registered fd set against them, via golang.org/x/sys/unix's
// Select binding (the stdlib syscall package doesn't expose select
// portably across the daemon's supported platforms). unix.FdSet.Bits
// is a []int64 on linux/amd64-family targets, which the bit math
// below assumes; the strategy is offered as an explicit opt-in
// (StrategySelect) alongside the native epoll/kqueue default, not as
// their fallback target on other GOOS values.
type selectPoller struct {
	mu      sync.Mutex
	readFDs map[int]bool
	writeFD map[int]bool
}

func newSelectPoller() (Poller, error) {
	return &selectPoller{readFDs: map[int]bool{}, writeFD: map[int]bool{}}, nil
}

func (p *selectPoller) Add(fd int, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readFDs[fd] = true
	if write {
		p.writeFD[fd] = true
	}
	return nil
}

func (p *selectPoller) Modify(fd int, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if write {
		p.writeFD[fd] = true
	} else {
		delete(p.writeFD, fd)
	}
	return nil
}

func (p *selectPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readFDs, fd)
	delete(p.writeFD, fd)
	return nil
}

func (p *selectPoller) Wait(timeoutMillis int) ([]Event, error) {
	p.mu.Lock()
	var rset, wset unix.FdSet
	maxFD := 0
	for fd := range p.readFDs {
		fdSet(&rset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	for fd := range p.writeFD {
		fdSet(&wset, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	p.mu.Unlock()

	var tv *unix.Timeval
	if timeoutMillis >= 0 {
		tv = &unix.Timeval{Sec: int64(timeoutMillis / 1000), Usec: int64((timeoutMillis % 1000) * 1000)}
	}
	n, err := unix.Select(maxFD+1, &rset, &wset, nil, tv)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, n)
	for fd := range p.readFDs {
		r := fdIsSet(&rset, fd)
		w := p.writeFD[fd] && fdIsSet(&wset, fd)
		if r || w {
			out = append(out, Event{FD: fd, Readable: r, Writable: w})
		}
	}
	return out, nil
}

func (p *selectPoller) Close() error { return nil }

// FD returns -1: the select strategy has no single descriptor a host
// event loop could watch instead (that is what StrategyExternal is for).
func (p *selectPoller) FD() int { return -1 }

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
