package http

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrTableFull is returned by Acquire when the live connection limit is
	// reached.
	ErrTableFull = errors.New("connection table full")

	// ErrFdOutOfRange is returned by Acquire for descriptors the table cannot
	// index.
	ErrFdOutOfRange = errors.New("descriptor outside connection table")
)

// ConnectionTable maps socket descriptors to their HTTPConnection.
//
// Slots are indexed by descriptor value and allocated lazily on first use;
// a slot's HTTPConnection (with its buffers) is then reused by every later
// socket that receives the same descriptor number.
//
// Thread safety:
// Acquire is only called by the reactor goroutine. Release may be called by
// whichever goroutine currently owns the connection. A slot is marked free
// before its descriptor is closed, so the kernel cannot hand the same number
// to accept while the slot is still marked busy.
type ConnectionTable struct {
	slots   []atomic.Pointer[HTTPConnection]
	limit   int32
	count   atomic.Int32
	newConn func() *HTTPConnection
}

// NewConnectionTable creates a table indexing descriptors [0, capacity) and
// admitting at most limit live connections.
func NewConnectionTable(capacity, limit int, newConn func() *HTTPConnection) (*ConnectionTable, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid connection table capacity %d", capacity)
	}
	if limit <= 0 || limit > capacity {
		limit = capacity
	}
	return &ConnectionTable{
		slots:   make([]atomic.Pointer[HTTPConnection], capacity),
		limit:   int32(limit),
		newConn: newConn,
	}, nil
}

// Acquire marks the slot for fd busy and returns its connection.
func (t *ConnectionTable) Acquire(fd int) (*HTTPConnection, error) {
	if fd < 0 || fd >= len(t.slots) {
		return nil, fmt.Errorf("fd %d: %w", fd, ErrFdOutOfRange)
	}
	if t.count.Load() >= t.limit {
		return nil, ErrTableFull
	}

	conn := t.slots[fd].Load()
	if conn == nil {
		conn = t.newConn()
		t.slots[fd].Store(conn)
	}
	if !conn.inUse.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("fd %d: slot already in use", fd)
	}

	t.count.Add(1)
	return conn, nil
}

// Get returns the live connection for fd, or nil.
func (t *ConnectionTable) Get(fd int) *HTTPConnection {
	if fd < 0 || fd >= len(t.slots) {
		return nil
	}
	conn := t.slots[fd].Load()
	if conn == nil || !conn.inUse.Load() {
		return nil
	}
	return conn
}

// Release marks the slot of conn free. Releasing a free slot is a no-op.
func (t *ConnectionTable) Release(conn *HTTPConnection) bool {
	if !conn.inUse.CompareAndSwap(true, false) {
		return false
	}
	t.count.Add(-1)
	return true
}

// Count returns the number of live connections.
func (t *ConnectionTable) Count() int32 {
	return t.count.Load()
}

// Limit returns the live connection limit.
func (t *ConnectionTable) Limit() int32 {
	return t.limit
}

// Capacity returns the number of indexable descriptors.
func (t *ConnectionTable) Capacity() int {
	return len(t.slots)
}

// Range calls fn for every live connection until fn returns false.
func (t *ConnectionTable) Range(fn func(*HTTPConnection) bool) {
	for i := range t.slots {
		conn := t.slots[i].Load()
		if conn == nil || !conn.inUse.Load() {
			continue
		}
		if !fn(conn) {
			return
		}
	}
}
