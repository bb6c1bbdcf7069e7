package pools

import (
	"math"
	"runtime/debug"
	"sync"
)

// GCProfile is one garbage-collector tuning posture the daemon can
// adopt at start.
type GCProfile struct {
	// Percent is the GOGC target; higher means less frequent cycles
	// and more retained heap.
	Percent int

	// MemoryLimit is the runtime's soft heap ceiling in bytes; 0
	// leaves it unset.
	MemoryLimit int64

	// Ballast, when > 0, pins a byte slice of that size so the live
	// heap never looks tiny to the pacer and early cycles don't fire
	// while the connection pools are still warming up.
	Ballast int64
}

var (
	ballastMu sync.Mutex
	ballast   []byte
)

// Apply installs profile on the runtime.
func Apply(profile GCProfile) {
	if profile.Percent > 0 {
		debug.SetGCPercent(profile.Percent)
	}
	if profile.MemoryLimit > 0 {
		debug.SetMemoryLimit(profile.MemoryLimit)
	}
	ballastMu.Lock()
	if profile.Ballast > 0 {
		ballast = make([]byte, profile.Ballast)
	} else {
		ballast = nil
	}
	ballastMu.Unlock()
}

// OptimizeForHighThroughput is what the daemon's turbo option maps
// to: rare GC cycles and a 100 MB heap floor, trading memory for
// request throughput.
func OptimizeForHighThroughput() {
	Apply(GCProfile{Percent: 300, Ballast: 100 << 20})
}

// OptimizeForLowLatency favours short pauses over throughput, for
// hosts embedding the daemon next to latency-sensitive work.
func OptimizeForLowLatency() {
	Apply(GCProfile{Percent: 150, Ballast: 30 << 20})
}

// RestoreDefaults undoes any applied profile, returning the collector
// to its out-of-the-box pacing and releasing the ballast.
func RestoreDefaults() {
	debug.SetGCPercent(100)
	debug.SetMemoryLimit(math.MaxInt64)
	ballastMu.Lock()
	ballast = nil
	ballastMu.Unlock()
}
