package pools

import (
	"sync"
	"sync/atomic"
)

// ConnectionPool recycles the daemon's own per-accept struct (see
// internal/conn.Connection) across sockets so a busy daemon under
// ModeInternalSingleThread/ModeExternalEventLoop isn't allocating one
// on every accept. The pooled object's own Reset method (not an
// interface here -- the daemon is this package's only caller and
// knows the concrete type) rearms it for the new socket; Put just
// returns the struct, since Reset needs the new fd/net.Conn/net.Addr
// that are only known at the next Get site, not at Put time.
type ConnectionPool struct {
	pool     sync.Pool
	gets     atomic.Uint64
	puts     atomic.Uint64
	capacity int
}

// NewConnectionPool creates a new connection pool. newFunc is called
// whenever the pool is empty; the daemon passes one that allocates a
// bare *conn.Connection.
func NewConnectionPool(capacity int, newFunc func() any) *ConnectionPool {
	cp := &ConnectionPool{
		capacity: capacity,
	}

	cp.pool.New = newFunc

	return cp
}

// Get retrieves a connection from the pool, allocating a fresh one
// via newFunc if the pool is currently empty.
func (cp *ConnectionPool) Get() any {
	cp.gets.Add(1)
	obj := cp.pool.Get()
	return obj
}

// Put returns a connection to the pool once its owner has finished
// with it. The caller must not touch obj again afterward.
func (cp *ConnectionPool) Put(obj any) {
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// Stats returns pool statistics
func (cp *ConnectionPool) Stats() (gets, puts uint64, hitRate float64) {
	g := cp.gets.Load()
	p := cp.puts.Load()

	if g > 0 {
		hitRate = float64(p) / float64(g)
	}

	return g, p, hitRate
}
