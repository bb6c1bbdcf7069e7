package app

import (
	"testing"

	"github.com/sabrq/httpd/config"
	httpctx "github.com/sabrq/httpd/core/http"
	"github.com/sabrq/httpd/internal/conn"
	"github.com/sabrq/httpd/internal/httpparse"
)

func testRequest(method, path string) *httpparse.Request {
	req := &httpparse.Request{}
	req.Reset()
	req.Method = method
	req.Path = path
	req.RemainingUploadSize = 0
	return req
}

func TestHandlerFuncRoutesAndFallsBackTo404(t *testing.T) {
	a := New(&config.Config{})
	a.GET("/hello", func(ctx *httpctx.FDContext) { ctx.String(200, "hi") })
	h := a.handlerFunc()

	act := h(testRequest("GET", "/hello"))
	if act.Kind != conn.ActionFinish || act.Response == nil || act.Response.StatusCode != 200 {
		t.Fatalf("routed action = %+v, want a 200 finish", act)
	}

	miss := h(testRequest("GET", "/missing"))
	if miss.Response == nil || miss.Response.StatusCode != 404 {
		t.Fatalf("unrouted action = %+v, want a 404 finish", miss)
	}
}

func TestHandlerFuncDefersUntilBodyComplete(t *testing.T) {
	a := New(&config.Config{})
	called := false
	a.POST("/upload", func(ctx *httpctx.FDContext) { called = true })
	h := a.handlerFunc()

	early := testRequest("POST", "/upload")
	early.RemainingUploadSize = 5
	if act := h(early); act.Response != nil {
		t.Fatalf("headers-processed call produced a response: %+v", act)
	}
	if called {
		t.Fatal("route handler ran before the body was complete")
	}

	if act := h(testRequest("POST", "/upload")); act.Response == nil {
		t.Fatal("final call produced no response")
	}
	if !called {
		t.Fatal("route handler never ran")
	}
}

func TestHandlerFuncRecoversPanickingHandler(t *testing.T) {
	a := New(&config.Config{})
	a.GET("/boom", func(ctx *httpctx.FDContext) { panic("kaboom") })
	h := a.handlerFunc()

	act := h(testRequest("GET", "/boom"))
	if act.Kind != conn.ActionFinish || act.Response == nil || act.Response.StatusCode != 500 {
		t.Fatalf("recovered action = %+v, want a 500 finish", act)
	}
}
