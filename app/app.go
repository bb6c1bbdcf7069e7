// Package app is the host-facing convenience wrapper around daemon,
// router, and middleware: it is the thing most embedders import
// instead of wiring internal/conn.HandlerFunc by hand. It is a thin
// adapter over daemon.Daemon + core/router + core/middleware, with
// the same New/Run/awaitSignal shape and SIGINT/SIGTERM
// graceful-shutdown goroutine as a typical net/http-style
// application entry point. Request-handling concerns live in
// internal/conn (the stage machine) and core/http (the FDContext
// handlers actually see).
package app

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sabrq/httpd/config"
	httpctx "github.com/sabrq/httpd/core/http"
	"github.com/sabrq/httpd/core/middleware"
	"github.com/sabrq/httpd/core/router"
	"github.com/sabrq/httpd/daemon"
	"github.com/sabrq/httpd/internal/conn"
	"github.com/sabrq/httpd/internal/httpparse"
	"github.com/sabrq/httpd/internal/respbuild"
	"github.com/sabrq/httpd/upgradeproto/websocket"
)

// HandlerFunc is an application route handler, built on
// httpctx.FDContext instead of a net/http ResponseWriter.
type HandlerFunc func(ctx *httpctx.FDContext)

// App bundles a Config, a router, and a middleware pipeline into the
// daemon.HandlerFunc the daemon actually calls. One App owns exactly
// one Daemon.
type App struct {
	cfg      *config.Config
	router   router.Router
	pipeline *middleware.Pipeline
	daemon   *daemon.Daemon
}

// New creates an application instance with an empty radix router and
// pipeline; call Use/Handle (or GET/POST/...) before Run.
func New(cfg *config.Config) *App {
	return &App{
		cfg:      cfg,
		router:   router.NewRadixRouter(),
		pipeline: middleware.NewPipeline(),
	}
}

// Use appends a middleware to the request pipeline every route passes
// through before its handler runs.
func (a *App) Use(h middleware.HandlerFunc) { a.pipeline.Use(h) }

// SetRouter swaps the default RadixRouter for a host-supplied
// router.Router implementation. Must be called before any
// Handle/GET/POST/... registration.
func (a *App) SetRouter(r router.Router) { a.router = r }

// Handle registers h for method+path.
func (a *App) Handle(method, path string, h HandlerFunc) {
	a.router.Add(method, path, func(ctx any) { h(ctx.(*httpctx.FDContext)) })
}

func (a *App) GET(path string, h HandlerFunc)    { a.Handle("GET", path, h) }
func (a *App) POST(path string, h HandlerFunc)   { a.Handle("POST", path, h) }
func (a *App) PUT(path string, h HandlerFunc)    { a.Handle("PUT", path, h) }
func (a *App) DELETE(path string, h HandlerFunc) { a.Handle("DELETE", path, h) }

// UpgradeWebSocket validates the client's handshake headers against
// the parsed request ctx wraps and, if they check out, calls
// ctx.Upgrade with the computed Sec-WebSocket-Accept header and a
// callback that binds the post-101 stream to hub under clientID. It
// reports whether the upgrade was accepted; callers should otherwise
// reply with a 400.
func (a *App) UpgradeWebSocket(ctx *httpctx.FDContext, hub *websocket.Hub, clientID string) bool {
	if ctx.Header("Upgrade") != "websocket" {
		return false
	}
	key := ctx.Header("Sec-WebSocket-Key")
	if key == "" {
		return false
	}
	headers := []respbuild.HeaderField{{Name: "Sec-WebSocket-Accept", Value: websocket.AcceptKey(key)}}
	ctx.Upgrade("websocket", headers, websocket.NewHandler(hub).Bind(clientID))
	return true
}

// handlerFunc builds the internal/conn.HandlerFunc the daemon calls
// for every request: acquire a pooled FDContext, resolve the route
// through the router (falling back to 404), run the middleware
// pipeline, and read the resulting Action back out. A panicking
// handler or middleware is recovered here -- this is the outermost
// application frame, so a panic is converted to a 500 instead of
// tearing down the daemon goroutine that called us.
func (a *App) handlerFunc() conn.HandlerFunc {
	return func(req *httpparse.Request) (act conn.Action) {
		if req.RemainingUploadSize != 0 {
			// Headers-processed invocation with body bytes still
			// outstanding: defer routing to the final invocation so the
			// route handler always sees the complete body.
			return conn.Action{}
		}
		ctx := httpctx.AcquireContext(req)
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic in handler for %s %s: %v", req.Method, req.Path, rec)
				act = conn.Action{Kind: conn.ActionFinish, Response: &respbuild.Response{
					StatusCode: 500,
					Content:    respbuild.BufferContent{Data: []byte("internal server error")},
				}}
			}
			httpctx.ReleaseContext(ctx)
		}()

		h, params := a.router.Find(req.Method, req.Path)
		for k, v := range params {
			ctx.SetParam(k, v)
		}

		if h == nil {
			ctx.String(404, "not found")
		} else {
			a.pipeline.Execute(ctx, func(c *httpctx.FDContext) { h(c) })
		}

		return ctx.Action()
	}
}

// Run starts the daemon built from cfg.DaemonOptions and installs the
// graceful-shutdown signal handler. It does not block: Start returns
// once the daemon's goroutines are launched, and Run returns after it
// (Run's caller typically waits on a signal or its own blocking work
// after calling Run).
func (a *App) Run() error {
	d, err := daemon.New(a.cfg.DaemonOptions()...)
	if err != nil {
		return err
	}
	if err := d.Handle(a.handlerFunc()); err != nil {
		return err
	}
	a.daemon = d

	go a.awaitSignal()

	log.Printf("httpd starting on port %d [%s]", a.cfg.Port, a.cfg.Env)
	return d.Start()
}

// Daemon exposes the underlying daemon.Daemon, e.g. for Info() or a
// manual Stop() outside the signal handler.
func (a *App) Daemon() *daemon.Daemon { return a.daemon }

func (a *App) awaitSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("signal received: %v, shutting down", sig)

	if a.daemon != nil {
		if err := a.daemon.Stop(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}
	os.Exit(0)
}
