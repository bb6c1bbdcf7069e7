// Package pools holds the daemon's three allocation-pressure
// mitigations: pooled arena backing blocks (BytePool), pooled
// per-connection structs (ConnectionPool), and a fixed goroutine pool
// (WorkerPool) that keeps host notification callbacks off the engine
// goroutines.
package pools

import "sync"

// BytePool hands out byte slices from size-tiered free lists. The
// daemon draws every connection's arena backing block from here
// (daemon.wrap) and the connection's release hook returns it, so a
// busy keep-alive daemon stops allocating block-sized slices once its
// tiers are warm.
type BytePool struct {
	tiers []tier
}

type tier struct {
	size int
	pool *sync.Pool
}

// defaultTiers covers the arena sizes the conn-memory-limit option
// realistically takes, from tiny embedded configs up to the 32 KiB
// default.
var defaultTiers = []int{512, 2048, 8192, 32768}

// NewBytePool builds a pool over the default size tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultTiers)
}

// NewBytePoolWithSizes builds a pool over ascending custom tiers.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{tiers: make([]tier, len(sizes))}
	for i, size := range sizes {
		size := size
		bp.tiers[i] = tier{
			size: size,
			pool: &sync.Pool{New: func() any {
				buf := make([]byte, size)
				return &buf
			}},
		}
	}
	return bp
}

// Get returns a slice of exactly the requested length, drawn from the
// smallest tier that fits; a request beyond every tier is allocated
// directly and will not be pooled on return.
func (bp *BytePool) Get(size int) []byte {
	for _, t := range bp.tiers {
		if size <= t.size {
			buf := *t.pool.Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a slice to its tier, matched by capacity. Slices that
// came from the direct-allocation overflow path are left to the GC.
func (bp *BytePool) Put(buf []byte) {
	capacity := cap(buf)
	for _, t := range bp.tiers {
		if capacity == t.size {
			full := buf[:capacity]
			t.pool.Put(&full)
			return
		}
	}
}
