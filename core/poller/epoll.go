//go:build linux

package poller

import "syscall"

// epollPoller is the Linux strategy behind the daemon's
// edge-triggered readiness API: it registers read+write interest
// (EPOLLET) so the event engine can arm/disarm EPOLLOUT per
// connection as its write buffer drains, and exposes the epoll fd
// itself for ModeExternalSingleFD. Edge-triggering is safe here
// because the connection state machine always drains a socket until
// WouldBlock within one engine pass (internal/conn's fillMore loop),
// never relying on a second readiness notification for data already
// in the kernel buffer.
type epollPoller struct {
	epfd   int
	events []syscall.EpollEvent
}

func newNative() (Poller, error) {
	epfd, err := syscall.EpollCreate1(syscall.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd, events: make([]syscall.EpollEvent, 1024)}, nil
}

func (p *epollPoller) Add(fd int, write bool) error {
	ev := syscall.EpollEvent{Events: interestMask(write), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) Modify(fd int, write bool) error {
	ev := syscall.EpollEvent{Events: interestMask(write), Fd: int32(fd)}
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_MOD, fd, &ev)
}

func interestMask(write bool) uint32 {
	// EPOLLRDHUP (0x2000) surfaces a peer half-close as readability so
	// the connection state machine sees it as an ordinary zero-byte
	// read rather than waiting on a write that will never progress.
	m := uint32(syscall.EPOLLIN) | 0x2000 | uint32(syscall.EPOLLET&0xffffffff)
	if write {
		m |= uint32(syscall.EPOLLOUT)
	}
	return m
}

func (p *epollPoller) Remove(fd int) error {
	return syscall.EpollCtl(p.epfd, syscall.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Wait(timeoutMillis int) ([]Event, error) {
	n, err := syscall.EpollWait(p.epfd, p.events, timeoutMillis)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := p.events[i]
		out = append(out, Event{
			FD:       int(ev.Fd),
			Readable: ev.Events&(syscall.EPOLLIN|0x2000|syscall.EPOLLERR|syscall.EPOLLHUP) != 0,
			Writable: ev.Events&(syscall.EPOLLOUT|syscall.EPOLLERR|syscall.EPOLLHUP) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error { return syscall.Close(p.epfd) }

func (p *epollPoller) FD() int { return p.epfd }
