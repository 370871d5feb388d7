package docroot

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Mapper establishes and removes read-only views of file contents.
//
// The default implementation uses mmap(2). Tests substitute failing or
// counting mappers.
type Mapper interface {
	Map(f *os.File, size int64) ([]byte, error)
	Unmap(data []byte) error
}

type mmapMapper struct{}

// MmapMapper returns the mmap-backed Mapper.
func MmapMapper() Mapper {
	return mmapMapper{}
}

func (mmapMapper) Map(f *os.File, size int64) ([]byte, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("file size %d exceeds address space", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return data, nil
}

func (mmapMapper) Unmap(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Mapping is a resolved file ready for delivery: its size, content type and,
// for non-empty files, a read-only view of its bytes.
//
// A Mapping is a scoped resource. It is acquired by Root.Resolve and must be
// released exactly once the response has been flushed or the connection is
// torn down. Release is idempotent, and safe on a nil *Mapping.
type Mapping struct {
	path        string
	data        []byte
	size        int64
	contentType string

	mapper   Mapper
	released atomic.Bool
	live     *atomic.Int64
}

// Path returns the resolved filesystem path.
func (m *Mapping) Path() string {
	return m.path
}

// Bytes returns the file contents. The slice is invalid after Release.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Size returns the file size in bytes.
func (m *Mapping) Size() int64 {
	return m.size
}

// ContentType returns the MIME type announced for the file.
func (m *Mapping) ContentType() string {
	return m.contentType
}

// Released reports whether Release has run.
func (m *Mapping) Released() bool {
	return m == nil || m.released.Load()
}

// Release removes the view of the file. Calls after the first are no-ops.
func (m *Mapping) Release() error {
	if m == nil || !m.released.CompareAndSwap(false, true) {
		return nil
	}

	data := m.data
	m.data = nil
	if data == nil {
		return nil
	}

	if m.live != nil {
		m.live.Add(-1)
	}
	if err := m.mapper.Unmap(data); err != nil {
		return fmt.Errorf("release %s: %w", m.path, err)
	}
	return nil
}
