package docroot

import "errors"

// Resolution errors. Protocol handlers map them to response statuses:
//
//	ErrNotFound, ErrPathTooLong -> 404
//	ErrForbidden                -> 403
//	ErrMapFailed                -> 500
//
// Implementations wrap them with the offending path:
//
//	return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
var (
	// ErrNotFound indicates the resolved path does not exist.
	ErrNotFound = errors.New("docroot: file not found")

	// ErrForbidden indicates the target exists but may not be served: it is a
	// directory or special file, is not world-readable, or the URL tried to
	// climb out of the document root.
	ErrForbidden = errors.New("docroot: access forbidden")

	// ErrPathTooLong indicates document root plus URL exceeds the configured
	// path bound. The request is treated as not found rather than truncated.
	ErrPathTooLong = errors.New("docroot: resolved path too long")

	// ErrMapFailed indicates the file could not be opened or mapped.
	ErrMapFailed = errors.New("docroot: mapping failed")
)
