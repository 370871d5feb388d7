package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/adapter"
	"github.com/marmos91/dittohttp/pkg/docroot"
	"github.com/marmos91/dittohttp/pkg/metrics"
)

// DefaultStopTimeout bounds the shutdown of all adapters.
const DefaultStopTimeout = 30 * time.Second

// DittoServer manages the lifecycle of the protocol adapters serving one
// document root, and of the optional metrics endpoint.
//
// Lifecycle:
//  1. Creation: New() with the document root
//  2. Registration: AddAdapter() for each protocol
//  3. Startup: Serve() starts all adapters concurrently
//  4. Shutdown: Context cancellation triggers graceful shutdown of all adapters
//
// Thread safety:
// DittoServer is safe for concurrent use. AddAdapter() may be called concurrently
// with other methods. Serve() should only be called once per server instance.
//
// Example usage:
//
//	srv := server.New(root)
//	srv.AddAdapter(httpadapter.New(httpConfig, httpMetrics))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type DittoServer struct {
	// root is the document root shared by all adapters
	root *docroot.Root

	// metricsServer exposes /metrics while serving (nil if disabled)
	metricsServer *metrics.Server

	// stopTimeout bounds the shutdown of all adapters
	stopTimeout time.Duration

	// adapters contains all registered protocol adapters
	adapters []adapter.Adapter

	// mu protects the adapters slice and the settings above
	mu sync.RWMutex

	// served is set by the first Serve() call
	served atomic.Bool
}

// New creates a new DittoServer serving root.
//
// Returns a configured but not yet started DittoServer. Call AddAdapter() to
// register protocols, then Serve() to start the server.
//
// Panics if root is nil (indicates programmer error).
func New(root *docroot.Root) *DittoServer {
	if root == nil {
		panic("document root cannot be nil")
	}

	return &DittoServer{
		root:        root,
		stopTimeout: DefaultStopTimeout,
		adapters:    make([]adapter.Adapter, 0, 2),
	}
}

// SetMetricsServer registers the metrics endpoint started alongside the
// adapters. A failing metrics server is logged and never stops the adapters.
func (s *DittoServer) SetMetricsServer(m *metrics.Server) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricsServer = m
}

// SetStopTimeout overrides DefaultStopTimeout.
func (s *DittoServer) SetStopTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimeout = d
}

// AddAdapter registers a new protocol adapter with the server.
//
// This method injects the document root into the adapter and adds it to the
// list of adapters that will be started when Serve() is called.
//
// Parameters:
//   - a: The protocol adapter to register (must not be nil)
//
// Returns:
//   - error if the adapter conflicts with an existing adapter (same protocol
//     or same port)
//
// Panics if:
//   - adapter is nil (programmer error)
//   - Serve() has already been called (server is running)
func (s *DittoServer) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served.Load() {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()

	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		// Port 0 binds an ephemeral port and cannot conflict
		if port != 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter",
				port, existing.Protocol())
		}
	}

	a.SetDocRoot(s.root)
	s.adapters = append(s.adapters, a)

	logger.Info("Registered %s adapter on port %d", protocol, port)

	return nil
}

// Serve starts all registered adapters and blocks until the context is
// cancelled or an adapter fails.
//
// Shutdown behavior:
// When the context is cancelled or an adapter fails:
//   - All adapters receive Stop() calls in reverse registration order
//   - The Stop() calls share one deadline (SetStopTimeout)
//   - Serve() waits for all adapters to complete before returning
//
// Returns:
//   - context.Canceled (or the context's error) after a signalled shutdown
//   - error if an adapter failed or returned before shutdown was requested
//
// Panics if Serve() is called more than once on the same DittoServer instance.
func (s *DittoServer) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		panic("Serve() has already been called on this server instance")
	}

	s.mu.RLock()
	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	metricsServer := s.metricsServer
	stopTimeout := s.stopTimeout
	s.mu.RUnlock()

	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting DittoServer with %d adapter(s), document root %s", len(adapters), s.root.Path())

	// Adapters and the metrics server observe this context; it is cancelled
	// on any exit path so nothing outlives Serve.
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so failing adapters never block
	errChan := make(chan adapterError, len(adapters))

	var wg conc.WaitGroup

	if metricsServer != nil {
		wg.Go(func() {
			if err := metricsServer.Start(serveCtx); err != nil {
				logger.Error("Metrics server: %v", err)
			}
		})
	}

	startTime := time.Now()
	for _, a := range adapters {
		wg.Go(func() {
			protocol := a.Protocol()
			logger.Info("Starting %s adapter on port %d", protocol, a.Port())

			err := a.Serve(serveCtx)
			switch {
			case serveCtx.Err() != nil:
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("%s adapter stopped with error: %v", protocol, err)
				} else {
					logger.Debug("%s adapter stopped gracefully", protocol)
				}
			case err != nil:
				logger.Error("%s adapter failed: %v", protocol, err)
				errChan <- adapterError{protocol: protocol, err: err}
			default:
				errChan <- adapterError{protocol: protocol, err: errors.New("stopped unexpectedly")}
			}
		})
	}

	logger.Debug("All adapters launched in %v", time.Since(startTime))

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()

	case adapterErr := <-errChan:
		logger.Error("Adapter %s failed: %v - initiating shutdown of all adapters",
			adapterErr.protocol, adapterErr.err)
		shutdownErr = fmt.Errorf("%s adapter error: %w", adapterErr.protocol, adapterErr.err)
	}

	cancel()
	s.stopAllAdapters(adapters, stopTimeout)

	logger.Debug("Waiting for all adapters to complete shutdown")
	wg.Wait()

	logger.Info("DittoServer stopped (live mappings: %d)", s.root.LiveMappings())

	return shutdownErr
}

// adapterError pairs an adapter protocol name with its error for better error reporting.
type adapterError struct {
	protocol string
	err      error
}

// stopAllAdapters stops all adapters in reverse registration order. Errors
// are logged and the remaining adapters are still stopped.
func (s *DittoServer) stopAllAdapters(adapters []adapter.Adapter, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	for i := len(adapters) - 1; i >= 0; i-- {
		adp := adapters[i]
		protocol := adp.Protocol()

		logger.Debug("Stopping %s adapter (port %d)", protocol, adp.Port())

		if err := adp.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", protocol, err)
		}
	}
}

// Adapters returns a snapshot of currently registered adapters.
//
// The returned slice is a copy and safe to iterate over without holding locks.
func (s *DittoServer) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// DocRoot returns the document root shared by all adapters.
func (s *DittoServer) DocRoot() *docroot.Root {
	return s.root
}
