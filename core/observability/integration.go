package observability

import (
	"fmt"
	"runtime"
)

// Observatory bundles a PerformanceMonitor behind the on/off switch
// core/middleware.Metrics checks before doing any work, so a disabled
// Observatory costs one atomic load per request.
type Observatory struct {
	Monitor *PerformanceMonitor
	enabled bool
}

// NewObservatory creates an enabled Observatory.
func NewObservatory() *Observatory {
	return &Observatory{
		Monitor: NewPerformanceMonitor(),
		enabled: true,
	}
}

// TraceHandler times fn and records it against name. core/middleware.Metrics
// does not call it; only code that wraps a handler in TraceHandler
// itself gets timed this way.
func (o *Observatory) TraceHandler(name string, fn func() error) error {
	if !o.enabled {
		return fn()
	}
	start := o.Monitor.StartTrace()
	err := fn()
	o.Monitor.EndTrace(name, start, err != nil)
	return err
}

// Report renders the current bottleneck list and heap stats as plain
// text, suitable for passing to an observability.Logger.Printf at a
// fixed interval.
func (o *Observatory) Report() string {
	var b []byte
	b = append(b, "handler bottlenecks:\n"...)

	bottlenecks := o.Monitor.GetBottlenecks()
	if len(bottlenecks) == 0 {
		b = append(b, "  none\n"...)
	} else {
		for i, bn := range bottlenecks {
			b = append(b, fmt.Sprintf("  %d. [%s] %s: %s (severity %d/10)\n",
				i+1, bn.Type, bn.Location, bn.Details, bn.Severity)...)
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	b = append(b, fmt.Sprintf("heap: alloc=%dMB objects=%d gc=%d goroutines=%d\n",
		m.HeapAlloc/(1024*1024), m.HeapObjects, m.NumGC, runtime.NumGoroutine())...)

	return string(b)
}

// Enable turns monitoring back on.
func (o *Observatory) Enable() {
	o.enabled = true
	o.Monitor.enabled.Store(true)
}

// Disable stops recording new samples; GetBottlenecks keeps returning
// the last computed set.
func (o *Observatory) Disable() {
	o.enabled = false
	o.Monitor.enabled.Store(false)
}
