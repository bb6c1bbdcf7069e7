package daemon

import "errors"

// StatusCode is the closed enumeration the public daemon surface
// reports through its errors: every error returned by New, Handle,
// Start, Poll, Resume, or Stop maps onto exactly one of these via
// Code. Hosts that only care about the family can switch on the code
// instead of matching sentinel errors.
type StatusCode int

const (
	StatusOK StatusCode = iota
	// StatusTooEarly: the operation needs state that only exists
	// later in the lifecycle (e.g. Poll before Start).
	StatusTooEarly
	// StatusTooLate: the operation's window has passed (e.g. Handle
	// or a second Start after the daemon is running).
	StatusTooLate
	// StatusOptionsConflict: two configured options cannot hold at
	// once (e.g. ModeThreadPerConnection with Upgrade support).
	StatusOptionsConflict
	// StatusInfoGetTypeNotApplicable: an Info field was requested that
	// the daemon's configuration never populates (e.g. the aggregate
	// poll FD outside ModeExternalSingleFD).
	StatusInfoGetTypeNotApplicable
	// StatusInfoGetBuffTooSmall: a caller-supplied buffer cannot hold
	// the requested Info field.
	StatusInfoGetBuffTooSmall
	StatusListenFailure
	StatusTLSFailure
	StatusThreadFailure
	StatusMallocFailure
	StatusInternalError
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTooEarly:
		return "too-early"
	case StatusTooLate:
		return "too-late"
	case StatusOptionsConflict:
		return "options-conflict"
	case StatusInfoGetTypeNotApplicable:
		return "info-get-type-not-applicable"
	case StatusInfoGetBuffTooSmall:
		return "info-get-buff-too-small"
	case StatusListenFailure:
		return "listen-failure"
	case StatusTLSFailure:
		return "tls-failure"
	case StatusThreadFailure:
		return "thread-failure"
	case StatusMallocFailure:
		return "malloc-failure"
	default:
		return "internal-error"
	}
}

// StatusError attaches a StatusCode to an underlying cause.
type StatusError struct {
	Status StatusCode
	Err    error
}

func (e *StatusError) Error() string { return e.Status.String() + ": " + e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

func statusErr(code StatusCode, err error) error {
	return &StatusError{Status: code, Err: err}
}

// Code maps any error returned by the daemon's public surface onto
// the closed StatusCode set; nil maps to StatusOK.
func Code(err error) StatusCode {
	if err == nil {
		return StatusOK
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	switch {
	case errors.Is(err, ErrOptionsFrozen), errors.Is(err, ErrAlreadyStarted):
		return StatusTooLate
	case errors.Is(err, ErrNotRunning):
		return StatusTooEarly
	case errors.Is(err, ErrUpgradeUnsupportedInThreadPerConnection),
		errors.Is(err, ErrSuspendResumeDisabled):
		return StatusOptionsConflict
	default:
		return StatusInternalError
	}
}
