package conn

import (
	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/respbuild"
	"github.com/sabrq/httpd/internal/upgrade"
)

// ActionKind is the tag of an Action the application handler returns.
type ActionKind int

const (
	// ActionFinish completes the response with resp.
	ActionFinish ActionKind = iota
	// ActionSuspend parks the connection until the application calls
	// Connection.Resume explicitly (used for async handlers that
	// compute a response off the owning goroutine).
	ActionSuspend
	// ActionAbort tears the connection down immediately, no response
	// sent (used when the handler detects it cannot safely reply).
	ActionAbort
	// ActionUpgrade completes the handshake with a 101 response and
	// hands the raw connection to Callback afterwards.
	ActionUpgrade
)

// Action is returned by a HandlerFunc invocation to tell the
// connection state machine what to do next.
type Action struct {
	Kind     ActionKind
	Response *respbuild.Response

	// Upgrade fields, valid when Kind == ActionUpgrade.
	UpgradeProtocol string
	UpgradeHeaders  []respbuild.HeaderField
	UpgradeCallback upgrade.Handler
}

// HandlerFunc is the application request callback. It is invoked
// twice per request unless the first call already produces a final
// Action with no remaining upload: once at StageHeadersProcessed
// (req.RemainingUploadSize may still be > 0) and again at
// StageFullReqReceived.
type HandlerFunc func(req *httpparse.Request) Action

