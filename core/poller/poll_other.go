//go:build !linux

package poller

// newPollPoller backs StrategyPoll. Like the select strategy it is
// only implemented on Linux; other platforms should request
// StrategyAuto (epoll/kqueue) or StrategyExternal instead.
func newPollPoller() (Poller, error) {
	return nil, ErrUnsupported
}
