package respbuild

// Content is the body source attached to a Response. Exactly one
// concrete implementation is set at a time.
type Content interface {
	// Len returns the body length, or -1 if unknown (forcing chunked
	// framing or end-of-connection framing).
	Len() int64
	isContent()
}

// BufferContent is a body fully held in memory.
type BufferContent struct {
	Data []byte
}

func (b BufferContent) Len() int64 { return int64(len(b.Data)) }
func (BufferContent) isContent()   {}

// VectoredSegment is one piece of a VectoredContent body, with an
// optional Free callback invoked once the segment has been fully
// written -- the same release-on-completion shape zero-copy sendfile
// needs, generalized to arbitrary in-memory segments too.
type VectoredSegment struct {
	Data []byte
	Free func()
}

// VectoredContent is a body assembled from multiple non-contiguous
// segments without copying them into one buffer first.
type VectoredContent struct {
	Segments []VectoredSegment
}

func (v VectoredContent) Len() int64 {
	var n int64
	for _, s := range v.Segments {
		n += int64(len(s.Data))
	}
	return n
}
func (VectoredContent) isContent() {}

// FileContent is a body served from an open file descriptor, sent
// with sendfile(2) for zero-copy transmission (read with pread instead
// when the connection runs over TLS).
type FileContent struct {
	FD     int
	Offset int64
	Length int64
}

func (f FileContent) Len() int64 { return f.Length }
func (FileContent) isContent()   {}

// Reader is the minimal streaming source PipeContent wraps; avoids an
// io.Reader import edge case where Read may legitimately return
// (0, nil) for a pipe with nothing ready yet.
type Reader interface {
	Read(p []byte) (n int, err error)
}

// PipeContent is a body of unknown length read incrementally from an
// application-supplied Reader; forces chunked or close-delimited
// framing.
type PipeContent struct {
	Src Reader
}

func (PipeContent) Len() int64 { return -1 }
func (PipeContent) isContent() {}

// Generator is a dynamic-content-creator callback: it writes into buf
// and reports how many bytes it produced and whether it is done.
// core/sse drives one of these to stream a body to the connection a
// piece at a time.
type Generator func(buf []byte) (n int, done bool, err error)

// CallbackContent is a body produced by repeated Generator calls,
// each writing into a scratch buffer the connection keeps for the
// response (not the arena write buffer).
type CallbackContent struct {
	Gen Generator
}

func (CallbackContent) Len() int64 { return -1 }
func (CallbackContent) isContent() {}
