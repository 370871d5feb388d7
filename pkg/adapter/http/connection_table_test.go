package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T, capacity, limit int) (*ConnectionTable, *int) {
	t.Helper()

	created := 0
	table, err := NewConnectionTable(capacity, limit, func() *HTTPConnection {
		created++
		return &HTTPConnection{fd: -1}
	})
	require.NoError(t, err)
	return table, &created
}

func TestConnectionTableRejectsInvalidCapacity(t *testing.T) {
	_, err := NewConnectionTable(0, 0, nil)
	assert.Error(t, err)
}

func TestConnectionTableClampsLimit(t *testing.T) {
	table, _ := newTestTable(t, 8, 100)
	assert.Equal(t, int32(8), table.Limit())
	assert.Equal(t, 8, table.Capacity())

	table, _ = newTestTable(t, 8, 0)
	assert.Equal(t, int32(8), table.Limit())
}

func TestConnectionTableAcquireRelease(t *testing.T) {
	table, created := newTestTable(t, 8, 8)

	conn, err := table.Acquire(3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), table.Count())
	assert.Same(t, conn, table.Get(3))
	assert.Nil(t, table.Get(4))

	_, err = table.Acquire(3)
	assert.Error(t, err, "busy slot must not be handed out twice")
	assert.Equal(t, int32(1), table.Count())

	assert.True(t, table.Release(conn))
	assert.False(t, table.Release(conn), "second release is a no-op")
	assert.Equal(t, int32(0), table.Count())
	assert.Nil(t, table.Get(3))

	again, err := table.Acquire(3)
	require.NoError(t, err)
	assert.Same(t, conn, again, "slot connection is reused")
	assert.Equal(t, 1, *created)
}

func TestConnectionTableFdOutOfRange(t *testing.T) {
	table, _ := newTestTable(t, 4, 4)

	_, err := table.Acquire(4)
	assert.ErrorIs(t, err, ErrFdOutOfRange)
	_, err = table.Acquire(-1)
	assert.ErrorIs(t, err, ErrFdOutOfRange)
	assert.Nil(t, table.Get(100))
}

func TestConnectionTableLimit(t *testing.T) {
	table, _ := newTestTable(t, 8, 2)

	_, err := table.Acquire(1)
	require.NoError(t, err)
	second, err := table.Acquire(2)
	require.NoError(t, err)

	_, err = table.Acquire(3)
	assert.ErrorIs(t, err, ErrTableFull)

	table.Release(second)
	_, err = table.Acquire(3)
	assert.NoError(t, err)
}

func TestConnectionTableRange(t *testing.T) {
	table, _ := newTestTable(t, 8, 8)

	for _, fd := range []int{1, 4, 6} {
		conn, err := table.Acquire(fd)
		require.NoError(t, err)
		conn.fd = fd
	}
	released, err := table.Acquire(5)
	require.NoError(t, err)
	table.Release(released)

	var seen []int
	table.Range(func(c *HTTPConnection) bool {
		seen = append(seen, c.fd)
		return true
	})
	assert.Equal(t, []int{1, 4, 6}, seen)

	calls := 0
	table.Range(func(*HTTPConnection) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
}
