package adapter

import (
	"context"

	"github.com/marmos91/dittohttp/pkg/docroot"
)

// Adapter represents a protocol-specific server adapter managed by DittoServer.
//
// Each adapter implements one wire protocol and provides a unified interface
// for lifecycle management. All adapters serve the same document root.
//
// Lifecycle:
//  1. Creation: Adapter is created with protocol-specific configuration
//  2. Document root injection: SetDocRoot() provides the shared file source
//  3. Startup: Serve() starts the protocol server and blocks until shutdown
//  4. Shutdown: Stop() initiates graceful shutdown with timeout
//
// Thread safety:
// Implementations must be safe for concurrent use. SetDocRoot() is called
// once before Serve(), but Stop() may be called concurrently with Serve().
type Adapter interface {
	// Serve starts the protocol server and blocks until the context is
	// cancelled, Stop is called, or an unrecoverable error occurs.
	//
	// If Serve returns before shutdown was requested, DittoServer treats it
	// as fatal and stops all other adapters.
	//
	// Returns:
	//   - nil on graceful shutdown
	//   - error if startup fails or shutdown is not graceful
	Serve(ctx context.Context) error

	// SetDocRoot injects the document root served by the adapter.
	//
	// Called exactly once by DittoServer before Serve().
	SetDocRoot(root *docroot.Root)

	// Stop initiates graceful shutdown and waits for it to complete or for
	// ctx to expire. It must be idempotent and safe to call concurrently
	// with Serve().
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging and metrics ("HTTP").
	Protocol() string

	// Port returns the TCP port the adapter listens on. Before Serve() has
	// bound its socket this is the configured port, which may be 0.
	Port() int
}
