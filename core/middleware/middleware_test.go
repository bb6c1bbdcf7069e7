package middleware

import (
	"testing"
	"time"

	"github.com/sabrq/httpd/core/http"
	"github.com/sabrq/httpd/internal/httpparse"
)

func TestPipelineRunsStagesThenHandler(t *testing.T) {
	pipeline := NewPipeline()

	var order []string
	pipeline.Use(func(ctx *http.FDContext) { order = append(order, "first") })
	pipeline.Use(func(ctx *http.FDContext) { order = append(order, "second") })

	pipeline.Execute(&http.FDContext{}, func(ctx *http.FDContext) {
		order = append(order, "handler")
	})

	want := []string{"first", "second", "handler"}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("ran %v, want %v", order, want)
		}
	}
}

func TestPipelineAbortShortCircuits(t *testing.T) {
	pipeline := NewPipeline()

	secondRan, handlerRan := false, false
	pipeline.Use(func(ctx *http.FDContext) { ctx.Abort() })
	pipeline.Use(func(ctx *http.FDContext) { secondRan = true })

	pipeline.Execute(&http.FDContext{}, func(ctx *http.FDContext) { handlerRan = true })

	if secondRan {
		t.Error("stage after the aborting one still ran")
	}
	if handlerRan {
		t.Error("final handler ran despite abort")
	}
}

func corsCtx(method string) *http.FDContext {
	req := &httpparse.Request{}
	req.Reset()
	req.Method = method
	ctx := &http.FDContext{}
	ctx.Reset(200, req)
	return ctx
}

func TestCORSPreflightAborts(t *testing.T) {
	cors := CORS()

	get := corsCtx("GET")
	cors(get)
	if get.IsAborted() {
		t.Error("plain GET was aborted")
	}

	preflight := corsCtx("OPTIONS")
	cors(preflight)
	if !preflight.IsAborted() {
		t.Error("OPTIONS preflight was not answered directly")
	}
	if resp := preflight.Action().Response; resp.StatusCode != 204 {
		t.Errorf("preflight status = %d, want 204", resp.StatusCode)
	}
}

func TestRateLimiterBudgetAndRefill(t *testing.T) {
	limiter := RateLimiter(2)

	ctx1, ctx2, ctx3 := &http.FDContext{}, &http.FDContext{}, &http.FDContext{}
	limiter(ctx1)
	limiter(ctx2)
	limiter(ctx3)
	if ctx1.IsAborted() || ctx2.IsAborted() {
		t.Error("requests within budget were limited")
	}
	if !ctx3.IsAborted() {
		t.Error("request over budget was not limited")
	}

	time.Sleep(1100 * time.Millisecond)
	ctx4 := &http.FDContext{}
	limiter(ctx4)
	if ctx4.IsAborted() {
		t.Error("request after refill was limited")
	}
}

func TestRequestIDStampsHeader(t *testing.T) {
	stamp := RequestID()
	// The header lands on the staged response, which Action() exposes.
	ctx := &http.FDContext{}
	stamp(ctx)
	resp := ctx.Action().Response
	if resp == nil || len(resp.Headers) == 0 || resp.Headers[0].Name != "X-Request-ID" {
		t.Fatalf("X-Request-ID header not staged: %+v", resp)
	}
}

func TestAsyncPipelineRunsObservers(t *testing.T) {
	p := NewAsyncPipeline(2)
	defer p.Close()

	syncRan := false
	observed := make(chan struct{}, 1)

	p.UseSync(func(ctx *http.FDContext) { syncRan = true })
	p.UseAsync(func(ctx *http.FDContext) { observed <- struct{}{} })

	p.Execute(&http.FDContext{}, func(ctx *http.FDContext) {})

	if !syncRan {
		t.Error("sync stage did not run")
	}
	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Error("observer stage did not run")
	}
}

func BenchmarkPipeline(b *testing.B) {
	pipeline := NewPipeline()
	pipeline.Use(func(ctx *http.FDContext) {})
	pipeline.Use(func(ctx *http.FDContext) {})
	final := func(ctx *http.FDContext) {}

	ctx := &http.FDContext{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pipeline.Execute(ctx, final)
	}
}

func BenchmarkRequestID(b *testing.B) {
	stamp := RequestID()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx := &http.FDContext{}
		stamp(ctx)
	}
}
