//go:build !linux

package poller

// newSelectPoller backs StrategySelect. It is only implemented on
// Linux (see select_unix.go) since that is the only platform in the
// daemon's supported set where golang.org/x/sys/unix.FdSet's bit
// layout is depended on directly; other platforms should request
// StrategyAuto (epoll/kqueue) or StrategyExternal instead.
func newSelectPoller() (Poller, error) {
	return nil, ErrUnsupported
}
