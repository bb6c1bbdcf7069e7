// Package middleware is the optional request pipeline a host layers
// above the daemon's raw per-connection callback: an ordered list of
// handlers that run before the route handler and may short-circuit it
// via FDContext.Abort. Panic recovery is not a middleware here -- the
// pipeline runs middlewares *before* the final handler, so a deferred
// recover inside one could never observe the handler's panic;
// app.App guards the whole dispatch instead.
package middleware

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sabrq/httpd/core/http"
	"github.com/sabrq/httpd/core/observability"
	"github.com/sabrq/httpd/core/pools"
)

// HandlerFunc is one pipeline stage, sharing the route handlers'
// FDContext so a stage can read the request and stage response
// headers.
type HandlerFunc func(*http.FDContext)

// Pipeline runs its stages in registration order, stopping at the
// first stage that aborts the context.
type Pipeline struct {
	handlers []HandlerFunc
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Use appends a stage; returns the pipeline for chaining.
func (p *Pipeline) Use(handler HandlerFunc) *Pipeline {
	p.handlers = append(p.handlers, handler)
	return p
}

// Execute runs every stage, then finalHandler unless a stage aborted.
func (p *Pipeline) Execute(ctx *http.FDContext, finalHandler HandlerFunc) {
	for _, h := range p.handlers {
		h(ctx)
		if ctx.IsAborted() {
			return
		}
	}
	finalHandler(ctx)
}

// AsyncHandlerFunc is a fire-and-forget stage: it observes the request
// (logging, metrics) but cannot influence the response, so it runs off
// the request path.
type AsyncHandlerFunc func(*http.FDContext)

// AsyncPipeline pairs a synchronous Pipeline with observer stages
// drained by a pools.WorkerPool, so a slow observer backend can never
// add request latency. A saturated pool runs the observer inline --
// observations are never dropped, only occasionally paid for.
type AsyncPipeline struct {
	sync      *Pipeline
	observers []AsyncHandlerFunc
	pool      *pools.WorkerPool
}

// NewAsyncPipeline starts the observer pool with the given worker
// count (<= 0 takes the pool's own default).
func NewAsyncPipeline(workers int) *AsyncPipeline {
	return &AsyncPipeline{
		sync: NewPipeline(),
		pool: pools.NewWorkerPool(workers),
	}
}

// UseSync appends a synchronous stage.
func (p *AsyncPipeline) UseSync(handler HandlerFunc) *AsyncPipeline {
	p.sync.Use(handler)
	return p
}

// UseAsync appends an observer stage.
func (p *AsyncPipeline) UseAsync(handler AsyncHandlerFunc) *AsyncPipeline {
	p.observers = append(p.observers, handler)
	return p
}

// Execute runs the synchronous pipeline, then hands each observer to
// the worker pool. Observers see the context after the response was
// staged; they must not mutate it.
func (p *AsyncPipeline) Execute(ctx *http.FDContext, finalHandler HandlerFunc) {
	p.sync.Execute(ctx, finalHandler)
	if ctx.IsAborted() {
		return
	}
	for _, observer := range p.observers {
		observer := observer
		if !p.pool.Submit(func() { observer(ctx) }) {
			observer(ctx)
		}
	}
}

// Close joins the observer pool; call once no more requests will be
// executed.
func (p *AsyncPipeline) Close() { p.pool.Close() }

// Logger is an observer stage printing one line per request.
func Logger() AsyncHandlerFunc {
	return func(ctx *http.FDContext) {
		log.Printf("[%s] %s", ctx.Method(), ctx.Path())
	}
}

// CORS staged permissive cross-origin headers and answers OPTIONS
// preflights with an empty 204.
func CORS() HandlerFunc {
	return func(ctx *http.FDContext) {
		ctx.SetHeader("Access-Control-Allow-Origin", "*")
		ctx.SetHeader("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		ctx.SetHeader("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.Method() == "OPTIONS" {
			ctx.Abort()
			ctx.Status(204)
		}
	}
}

// RateLimiter rejects requests beyond requestsPerSecond with a 429,
// refilling its whole token budget once per second.
func RateLimiter(requestsPerSecond int) HandlerFunc {
	var (
		mu         sync.Mutex
		tokens     = requestsPerSecond
		lastRefill = time.Now()
	)

	return func(ctx *http.FDContext) {
		mu.Lock()
		if now := time.Now(); now.Sub(lastRefill) >= time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		ok := tokens > 0
		if ok {
			tokens--
		}
		mu.Unlock()

		if ok {
			return
		}
		ctx.Abort()
		ctx.JSON(429, map[string]interface{}{"error": "Too Many Requests"})
	}
}

// RequestID stamps each response with a process-unique request id.
func RequestID() HandlerFunc {
	var counter atomic.Uint64
	return func(ctx *http.FDContext) {
		ctx.SetHeader("X-Request-ID", fmt.Sprintf("%d", counter.Add(1)))
	}
}

// Metrics is an observer stage recording each request's route against
// obs. Duration is recorded as zero -- an observer sees arrival, not
// completion; wrap the handler itself with obs.TraceHandler for
// per-request timing.
func Metrics(obs *observability.Observatory) AsyncHandlerFunc {
	return func(ctx *http.FDContext) {
		obs.Monitor.RecordRequest(ctx.Method()+" "+ctx.Path(), 0, false)
	}
}
