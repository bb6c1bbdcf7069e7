package observability

import (
	"log"
	"os"
)

// Logger is the structured-logging sink the daemon and its event
// engine report diagnostics through (poller wait failures, protocol
// errors tolerated at a relaxed strictness level, accept errors).
// Satisfied by *StdLogger below or any host-supplied implementation
// wired in via daemon.WithLogCallback.
type Logger interface {
	Printf(format string, args ...any)
}

// StdLogger adapts the standard library's log.Logger to Logger,
// the default sink a Daemon uses when WithLogCallback is not given.
type StdLogger struct {
	l *log.Logger
}

// NewStdLogger wraps log.New(os.Stderr, prefix, log.LstdFlags) as a
// Logger.
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{l: log.New(os.Stderr, prefix, log.LstdFlags)}
}

func (s *StdLogger) Printf(format string, args ...any) { s.l.Printf(format, args...) }

// NopLogger discards everything, used when a Daemon is started with
// no log callback and no StdLogger fallback is wanted (e.g. tests).
type NopLogger struct{}

func (NopLogger) Printf(string, ...any) {}
