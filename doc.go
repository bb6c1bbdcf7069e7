/*
Package httpd is an embeddable HTTP/1.0 and HTTP/1.1 server library.

A host application creates a Daemon (package daemon), supplies a
request handler, and lets the daemon accept, parse, and reply to HTTP
requests on a listening socket. The library owns the wire protocol,
connection lifecycle, concurrency, optional TLS, and optional protocol
switching ("HTTP Upgrade").

Quick Start

	package main

	import (
		"github.com/sabrq/httpd/app"
		"github.com/sabrq/httpd/config"
		httpctx "github.com/sabrq/httpd/core/http"
	)

	func main() {
		cfg := config.New()
		a := app.New(cfg)

		a.GET("/hello", func(ctx *httpctx.FDContext) {
			ctx.String(200, "Hello, World!")
		})

		a.GET("/json", func(ctx *httpctx.FDContext) {
			ctx.JSON(200, map[string]string{"message": "ok"})
		})

		if err := a.Run(); err != nil {
			panic(err)
		}
	}

Components

The core of this module is the per-connection HTTP state machine and
the event-driven scheduling layer that drives it:

  - internal/pool: per-connection bump-style memory arena
  - internal/ioutil: non-blocking socket I/O shim and the ITC wakeup primitive
  - internal/tlstransport: abstract TLS transport (handshake/send/recv/shutdown)
  - internal/httpparse: CRLF line/header tokenizer and request parser
  - internal/conn: the ~30-stage connection state machine
  - internal/respbuild: status line + header + body framing
  - internal/events: the per-daemon event engine (poll/epoll/kqueue/external)
  - daemon: the six threading/work modes and the public Daemon API
  - internal/upgrade: post-101 hand-off to an application protocol handler

Above the core sit an application-facing layer and a domain stack
exercising it: core/http (request Context), core/router (radix-tree
routing), core/middleware (request pipeline), core/pools /
core/poller / core/optimize (pooling, multiplexing, and
path-comparison fast paths backing the core), core/observability
(structured logging and metrics), core/sendfile (zero-copy file
responses), core/sse and upgradeproto/websocket (streaming response
and Upgrade reference consumers), core/rpc (a duplex RPC protocol
exercising callback-streamed response bodies), and core/http2 (an
optional ALPN companion listener, explicitly outside the core state
machine).

See DESIGN.md in the module root for the full component breakdown.
*/
package httpd
