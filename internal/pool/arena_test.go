package pool

import (
	"bytes"
	"testing"
)

// The read region and the write buffer must never alias: bytes parked
// in the read region (a pipelined request, data buffered ahead of an
// Upgrade reply) have to survive a full write-buffer fill.
func TestReadAndWriteBuffersAreDisjoint(t *testing.T) {
	a := New(make([]byte, 1024))

	rb := a.AcquireReadBuffer()
	if len(rb) != 1024 {
		t.Fatalf("fresh read region = %d bytes, want the whole block", len(rb))
	}

	// Keep 100 "unconsumed" bytes: move them to the region's trailing
	// span, then release the leading remainder -- the same compaction
	// the connection performs before building a reply.
	release := len(rb) - 100
	for i := 0; i < 100; i++ {
		rb[release+i] = 0xAA
	}
	a.ShrinkTail(release)
	rb = a.AcquireReadBuffer()
	if len(rb) != 100 {
		t.Fatalf("read region after shrink = %d bytes, want 100", len(rb))
	}
	if !bytes.Equal(rb, bytes.Repeat([]byte{0xAA}, 100)) {
		t.Fatalf("kept bytes not at the shrunken region's front: % x", rb[:8])
	}

	wb := a.AcquireWriteBuffer()
	if len(wb) != 1024-100 {
		t.Fatalf("write buffer = %d bytes, want %d", len(wb), 1024-100)
	}

	// Fill the entire write buffer; the parked read bytes must be
	// untouched.
	for i := range wb {
		wb[i] = 0xBB
	}
	if !bytes.Equal(rb, bytes.Repeat([]byte{0xAA}, 100)) {
		t.Fatalf("write-buffer fill corrupted the read region: % x", rb[:8])
	}
}

func TestShrinkTailClampsAtBlockEnd(t *testing.T) {
	a := New(make([]byte, 64))
	a.ShrinkTail(1 << 20)
	if got := len(a.AcquireReadBuffer()); got != 0 {
		t.Fatalf("read region after over-shrink = %d bytes, want 0", got)
	}
	if got := len(a.AcquireWriteBuffer()); got != 64 {
		t.Fatalf("write buffer after full shrink = %d bytes, want 64", got)
	}
}

func TestAllocGrowsIntoReleasedSpace(t *testing.T) {
	a := New(make([]byte, 64))
	if b := a.Alloc(1); b != nil {
		t.Fatalf("Alloc before any shrink returned %d bytes, want nil (read region owns the block)", len(b))
	}
	a.ShrinkTail(64)
	if b := a.Alloc(32); len(b) != 32 {
		t.Fatalf("Alloc(32) = %d bytes", len(b))
	}
	if b := a.Alloc(33); b != nil {
		t.Fatalf("Alloc past capacity returned %d bytes, want nil", len(b))
	}
	if b := a.Alloc(-1); b != nil {
		t.Fatalf("Alloc(-1) returned non-nil")
	}
}

func TestReleaseWriteBufferReturnsSpan(t *testing.T) {
	a := New(make([]byte, 128))
	a.ShrinkTail(128)
	if got := a.Free(); got != 128 {
		t.Fatalf("Free after full shrink = %d, want 128", got)
	}
	wb := a.AcquireWriteBuffer()
	if len(wb) != 128 || a.Free() != 0 {
		t.Fatalf("acquire: len=%d free=%d, want 128/0", len(wb), a.Free())
	}
	a.ReleaseWriteBuffer()
	if got := a.Free(); got != 128 {
		t.Fatalf("Free after release = %d, want 128", got)
	}
	if got := len(a.AcquireWriteBuffer()); got != 128 {
		t.Fatalf("re-acquire after release = %d bytes, want 128", got)
	}
}

func TestResetRearmsWholeBlock(t *testing.T) {
	a := New(make([]byte, 256))
	a.ShrinkTail(200)
	a.AcquireWriteBuffer()
	a.Reset()
	if got := len(a.AcquireReadBuffer()); got != 256 {
		t.Fatalf("read region after Reset = %d bytes, want 256", got)
	}
	if got := a.Free(); got != 0 {
		t.Fatalf("Free after Reset = %d, want 0 (read region owns the block again)", got)
	}
}
