//go:build darwin

package poller

import "syscall"

// kqueuePoller is the Darwin/BSD strategy behind the daemon's
// edge-triggered readiness API (kqueue fills the same role epoll
// fills on Linux), with independently added/removed read and write
// filters so the event engine can arm/disarm write-readiness per
// connection.
type kqueuePoller struct {
	kqfd   int
	events []syscall.Kevent_t
}

func newNative() (Poller, error) {
	kqfd, err := syscall.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{kqfd: kqfd, events: make([]syscall.Kevent_t, 1024)}, nil
}

func (p *kqueuePoller) change(fd int, filter int16, flags uint16) error {
	ev := syscall.Kevent_t{Ident: uint64(fd), Filter: filter, Flags: flags}
	_, err := syscall.Kevent(p.kqfd, []syscall.Kevent_t{ev}, nil, nil)
	return err
}

func (p *kqueuePoller) Add(fd int, write bool) error {
	if err := p.change(fd, syscall.EVFILT_READ, syscall.EV_ADD|syscall.EV_ENABLE); err != nil {
		return err
	}
	if write {
		return p.change(fd, syscall.EVFILT_WRITE, syscall.EV_ADD|syscall.EV_ENABLE)
	}
	return nil
}

func (p *kqueuePoller) Modify(fd int, write bool) error {
	if write {
		return p.change(fd, syscall.EVFILT_WRITE, syscall.EV_ADD|syscall.EV_ENABLE)
	}
	return p.change(fd, syscall.EVFILT_WRITE, syscall.EV_DELETE)
}

func (p *kqueuePoller) Remove(fd int) error {
	_ = p.change(fd, syscall.EVFILT_WRITE, syscall.EV_DELETE)
	return p.change(fd, syscall.EVFILT_READ, syscall.EV_DELETE)
}

func (p *kqueuePoller) Wait(timeoutMillis int) ([]Event, error) {
	var ts *syscall.Timespec
	if timeoutMillis >= 0 {
		ts = &syscall.Timespec{
			Sec:  int64(timeoutMillis / 1000),
			Nsec: int64((timeoutMillis % 1000) * 1000000),
		}
	}
	n, err := syscall.Kevent(p.kqfd, nil, p.events, ts)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	byFD := make(map[int]*Event, n)
	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Ident)
		e, ok := byFD[fd]
		if !ok {
			order = append(order, fd)
			e = &Event{FD: fd}
			byFD[fd] = e
		}
		switch ev.Filter {
		case syscall.EVFILT_READ:
			e.Readable = true
		case syscall.EVFILT_WRITE:
			e.Writable = true
		}
		if ev.Flags&syscall.EV_EOF != 0 {
			e.Readable = true
		}
	}
	out := make([]Event, 0, len(order))
	for _, fd := range order {
		out = append(out, *byFD[fd])
	}
	return out, nil
}

func (p *kqueuePoller) Close() error { return syscall.Close(p.kqfd) }

func (p *kqueuePoller) FD() int { return p.kqfd }
