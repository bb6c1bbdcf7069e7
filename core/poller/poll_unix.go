//go:build linux

package poller

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollPoller is the per-fd-ready strategy: one poll(2) call over an
// array of {fd, events} records, rebuilt from the registered set on
// every Wait. It sits between the select strategy (fixed-size fd
// bitmaps) and epoll (kernel-side interest set): no FD_SETSIZE limit,
// no kernel registration, O(n) per wait.
type pollPoller struct {
	mu      sync.Mutex
	readFDs map[int]bool
	writeFD map[int]bool
}

func newPollPoller() (Poller, error) {
	return &pollPoller{readFDs: map[int]bool{}, writeFD: map[int]bool{}}, nil
}

func (p *pollPoller) Add(fd int, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readFDs[fd] = true
	if write {
		p.writeFD[fd] = true
	}
	return nil
}

func (p *pollPoller) Modify(fd int, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if write {
		p.writeFD[fd] = true
	} else {
		delete(p.writeFD, fd)
	}
	return nil
}

func (p *pollPoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readFDs, fd)
	delete(p.writeFD, fd)
	return nil
}

func (p *pollPoller) Wait(timeoutMillis int) ([]Event, error) {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.readFDs))
	for fd := range p.readFDs {
		ev := int16(unix.POLLIN | unix.POLLRDHUP)
		if p.writeFD[fd] {
			ev |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}
	p.mu.Unlock()

	n, err := unix.Poll(fds, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, Event{
			FD:       int(pfd.Fd),
			Readable: pfd.Revents&(unix.POLLIN|unix.POLLRDHUP|unix.POLLERR|unix.POLLHUP) != 0,
			Writable: pfd.Revents&(unix.POLLOUT|unix.POLLERR|unix.POLLHUP) != 0,
		})
	}
	return out, nil
}

func (p *pollPoller) Close() error { return nil }

// FD returns -1: like select, poll has no single descriptor to expose.
func (p *pollPoller) FD() int { return -1 }
