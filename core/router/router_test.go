package router

import "testing"

// The Router contract RadixRouter (and any host-supplied strategy
// handed to app.App.SetRouter) must satisfy: static matching,
// parameter extraction, method discrimination, and a nil result for
// unknown paths.
func TestRouterContract(t *testing.T) {
	var r Router = NewRadixRouter()

	var hit string
	mk := func(tag string) HandlerFunc {
		return func(ctx any) { hit = tag }
	}
	r.Add("GET", "/api/status", mk("status"))
	r.Add("POST", "/api/status", mk("status-post"))
	r.Add("GET", "/api/users/:id", mk("user"))

	h, params := r.Find("GET", "/api/status")
	if h == nil {
		t.Fatal("static GET route not found")
	}
	h(nil)
	if hit != "status" {
		t.Fatalf("static GET dispatched to %q", hit)
	}
	if len(params) != 0 {
		t.Fatalf("static route returned params %v", params)
	}

	h, _ = r.Find("POST", "/api/status")
	if h == nil {
		t.Fatal("static POST route not found")
	}
	h(nil)
	if hit != "status-post" {
		t.Fatalf("method discrimination failed, dispatched to %q", hit)
	}

	h, params = r.Find("GET", "/api/users/42")
	if h == nil {
		t.Fatal("param route not found")
	}
	if params["id"] != "42" {
		t.Fatalf("param id = %q, want 42", params["id"])
	}

	if h, _ := r.Find("GET", "/api/unknown"); h != nil {
		t.Fatal("unknown path matched")
	}
	if h, _ := r.Find("DELETE", "/api/status"); h != nil {
		t.Fatal("unregistered method matched")
	}
}

func TestRouterCatchAll(t *testing.T) {
	var r Router = NewRadixRouter()
	r.Add("GET", "/files/*path", func(ctx any) {})

	h, params := r.Find("GET", "/files/css/app.css")
	if h == nil {
		t.Fatal("catch-all route not found")
	}
	if params["path"] != "css/app.css" {
		t.Fatalf("catch-all param = %q, want css/app.css", params["path"])
	}
}
