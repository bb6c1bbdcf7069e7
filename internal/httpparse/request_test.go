package httpparse

import "testing"

func TestParseRequestLine(t *testing.T) {
	var req Request
	req.Reset()
	if err := ParseRequestLine([]byte("GET /a/b?x=1 HTTP/1.1"), LevelDefault, &req); err != nil {
		t.Fatalf("ParseRequestLine: %v", err)
	}
	if req.Method != "GET" || req.Path != "/a/b" || req.RawQuery != "x=1" || req.Proto != Proto11 {
		t.Fatalf("got %+v", req)
	}
}

func TestParseRequestLineHTTP09OnlyAtRelaxed3(t *testing.T) {
	var req Request
	req.Reset()
	if err := ParseRequestLine([]byte("GET /a"), LevelDefault, &req); err == nil {
		t.Fatalf("expected bare GET to be rejected at default strictness")
	}
	req.Reset()
	if err := ParseRequestLine([]byte("GET /a"), LevelRelaxed3, &req); err != nil {
		t.Fatalf("expected bare GET to be tolerated at LevelRelaxed3: %v", err)
	}
	if req.Proto != Proto10 {
		t.Fatalf("HTTP/0.9-style request should be recorded as Proto10, got %v", req.Proto)
	}
}

// Header round-trip: a request parsed then serialised from the
// stored multimap yields the same set of header lines, in the same
// insertion order, duplicates included.
func TestHeaderRoundTripPreservesOrderAndDuplicates(t *testing.T) {
	var req Request
	req.Reset()
	lines := []string{
		"Host: example.com",
		"X-Multi: one",
		"Accept: */*",
		"X-Multi: two",
	}
	for _, l := range lines {
		if err := ParseHeaderLine([]byte(l), LevelDefault, &req); err != nil {
			t.Fatalf("ParseHeaderLine(%q): %v", l, err)
		}
	}
	got := req.Header.All()
	if len(got) != len(lines) {
		t.Fatalf("got %d fields, want %d", len(got), len(lines))
	}
	for i, f := range got {
		want := lines[i]
		line := f.Name + ": " + f.Value
		if line != want {
			t.Errorf("field %d = %q, want %q", i, line, want)
		}
	}
	multi := req.Header.Values("X-Multi")
	if len(multi) != 2 || multi[0] != "one" || multi[1] != "two" {
		t.Fatalf("X-Multi values = %v, want [one two]", multi)
	}
}

func TestConflictingContentLengthIsHardError(t *testing.T) {
	var req Request
	req.Reset()
	if err := ParseHeaderLine([]byte("Content-Length: 5"), LevelDefault, &req); err != nil {
		t.Fatalf("first Content-Length: %v", err)
	}
	if err := ParseHeaderLine([]byte("Content-Length: 6"), LevelDefault, &req); err != ErrConflictingContentLength {
		t.Fatalf("conflicting Content-Length: got %v, want ErrConflictingContentLength", err)
	}
}

func TestDuplicateConsistentContentLengthAllowedAtDefault(t *testing.T) {
	var req Request
	req.Reset()
	ParseHeaderLine([]byte("Content-Length: 5"), LevelDefault, &req)
	if err := ParseHeaderLine([]byte("Content-Length: 5"), LevelDefault, &req); err != nil {
		t.Fatalf("consistent duplicate Content-Length should be tolerated at LevelDefault: %v", err)
	}
	if err := ParseHeaderLine([]byte("Content-Length: 5"), LevelStrict1, &req); err != ErrConflictingContentLength {
		t.Fatalf("consistent duplicate Content-Length must be rejected at LevelStrict1: %v", err)
	}
}

func TestTransferEncodingChunkedOverridesContentLength(t *testing.T) {
	var req Request
	req.Reset()
	ParseHeaderLine([]byte("Content-Length: 10"), LevelDefault, &req)
	ParseHeaderLine([]byte("Transfer-Encoding: chunked"), LevelDefault, &req)
	if !req.HaveChunkedUpload {
		t.Fatalf("HaveChunkedUpload not set")
	}
	if req.RemainingUploadSize != UploadSizeUnknown {
		t.Fatalf("RemainingUploadSize = %d, want UploadSizeUnknown (chunked takes precedence)", req.RemainingUploadSize)
	}
}

func TestValidateHostMissingOnHTTP11(t *testing.T) {
	var req Request
	req.Reset()
	req.Proto = Proto11
	if err := ValidateHost(&req, LevelDefault); err != ErrMissingHost {
		t.Fatalf("got %v, want ErrMissingHost", err)
	}
	if err := ValidateHost(&req, LevelRelaxed2); err != nil {
		t.Fatalf("LevelRelaxed2 should tolerate missing Host: %v", err)
	}
}

func TestFoldedContinuationExtendsPreviousHeader(t *testing.T) {
	var req Request
	req.Reset()
	if err := ParseHeaderLine([]byte("X-Long: part-one"), LevelRelaxed1, &req); err != nil {
		t.Fatalf("ParseHeaderLine: %v", err)
	}
	FoldHeaderLine([]byte("\t part-two"), &req)
	v, _ := req.Header.Get("X-Long")
	if v != "part-one part-two" {
		t.Fatalf("folded value = %q, want %q", v, "part-one part-two")
	}
}

func BenchmarkParseRequestLine(b *testing.B) {
	line := []byte("GET /api/v1/users/42?fields=name,email HTTP/1.1")
	var req Request
	for i := 0; i < b.N; i++ {
		req.Reset()
		if err := ParseRequestLine(line, LevelDefault, &req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkParseHeaderLine(b *testing.B) {
	line := []byte("Content-Type: application/json; charset=utf-8")
	var req Request
	for i := 0; i < b.N; i++ {
		req.Reset()
		if err := ParseHeaderLine(line, LevelDefault, &req); err != nil {
			b.Fatal(err)
		}
	}
}
