// Package docroot resolves request paths against a document root and hands
// out scoped, memory-mapped views of the files it finds.
//
// Resolution is purely local: the document root is a directory on the host.
// It may be populated once at startup from object storage (see Seed), but
// requests never reach beyond the local filesystem.
package docroot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

const (
	// DefaultMaxPathLen bounds document root plus URL when no limit is
	// configured.
	DefaultMaxPathLen = 200

	// DefaultDocumentName is served for requests of "/".
	DefaultDocumentName = "index.html"
)

// Config configures a Root.
type Config struct {
	// Path is the document root directory. It must exist.
	Path string

	// DefaultDocument replaces a request for "/". Empty selects
	// DefaultDocumentName.
	DefaultDocument string

	// MaxPathLen bounds the length of root + URL. Zero selects
	// DefaultMaxPathLen.
	MaxPathLen int

	// Mapper maps file contents. Nil selects MmapMapper.
	Mapper Mapper
}

// Root is a document root.
//
// Thread safety:
// Resolve may be called concurrently. Each returned Mapping has a single
// owner.
type Root struct {
	path            string
	defaultDocument string
	maxPathLen      int
	mapper          Mapper

	live atomic.Int64
}

// New validates cfg and returns a Root.
func New(cfg Config) (*Root, error) {
	if cfg.Path == "" {
		return nil, errors.New("docroot: path is required")
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("docroot: resolve %q: %w", cfg.Path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("docroot: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("docroot: %s is not a directory", abs)
	}

	if cfg.DefaultDocument == "" {
		cfg.DefaultDocument = DefaultDocumentName
	}
	if strings.ContainsRune(cfg.DefaultDocument, '/') {
		return nil, fmt.Errorf("docroot: default document %q must be a file name", cfg.DefaultDocument)
	}
	if cfg.MaxPathLen <= 0 {
		cfg.MaxPathLen = DefaultMaxPathLen
	}
	if cfg.Mapper == nil {
		cfg.Mapper = MmapMapper()
	}

	return &Root{
		path:            strings.TrimRight(abs, "/"),
		defaultDocument: cfg.DefaultDocument,
		maxPathLen:      cfg.MaxPathLen,
		mapper:          cfg.Mapper,
	}, nil
}

// Path returns the absolute document root.
func (r *Root) Path() string {
	return r.path
}

// DefaultDocument returns the file name served for "/".
func (r *Root) DefaultDocument() string {
	return r.defaultDocument
}

// LiveMappings returns the number of mappings acquired and not yet released.
func (r *Root) LiveMappings() int64 {
	return r.live.Load()
}

// Resolve maps a normalized, root-relative URL (leading "/") to a file.
//
// Returns a Mapping the caller must Release, or an error wrapping one of
// ErrNotFound, ErrPathTooLong, ErrForbidden or ErrMapFailed. Empty files
// resolve to a Mapping with no view.
func (r *Root) Resolve(url string) (*Mapping, error) {
	for _, segment := range strings.Split(url, "/") {
		if segment == ".." {
			return nil, fmt.Errorf("%s: %w", url, ErrForbidden)
		}
	}

	path := r.path + url
	if len(path) > r.maxPathLen {
		return nil, fmt.Errorf("%d bytes: %w", len(path), ErrPathTooLong)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}

	if info.Mode().Perm()&0o004 == 0 {
		return nil, fmt.Errorf("%s not world-readable: %w", path, ErrForbidden)
	}
	if info.IsDir() || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file: %w", path, ErrForbidden)
	}

	m := &Mapping{
		path:   path,
		size:   info.Size(),
		mapper: r.mapper,
	}

	if m.size == 0 {
		m.contentType = detectContentType(path, nil)
		return m, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, classifyOpenError(path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := r.mapper.Map(f, m.size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, ErrMapFailed, err)
	}

	r.live.Add(1)
	m.data = data
	m.live = &r.live
	m.contentType = detectContentType(path, data)
	return m, nil
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", path, ErrForbidden)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	default:
		// ENOTDIR, ELOOP, ENAMETOOLONG and friends all mean there is
		// nothing servable at this path.
		return fmt.Errorf("%s: %w: %v", path, ErrNotFound, err)
	}
}
