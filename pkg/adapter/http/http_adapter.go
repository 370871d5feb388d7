package http

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/internal/ratelimiter"
	"github.com/marmos91/dittohttp/internal/reactor"
	"github.com/marmos91/dittohttp/internal/workerpool"
	"github.com/marmos91/dittohttp/pkg/docroot"
	"github.com/marmos91/dittohttp/pkg/metrics"
)

// Saturation policies applied when the task queue rejects a ready connection.
const (
	// SaturationDrop drops the submission and re-arms the socket for
	// reading; the client's own retry or timeout resolves it.
	SaturationDrop = "drop"

	// SaturationClose closes the connection immediately.
	SaturationClose = "close"
)

// HTTPAdapter implements the adapter.Adapter interface for HTTP/1.x.
//
// Architecture:
// One reactor goroutine owns the poller and the listening socket. It accepts
// connections, drains readable sockets into their request buffers and
// flushes prepared responses. Complete reads are handed to a fixed worker
// pool that parses, resolves the file and assembles the response header.
// Every connection socket is registered edge-triggered and one-shot, so a
// connection is touched by exactly one goroutine between two re-arms.
//
//	accept -> register(readable) -> [reactor] read -> [worker] parse/resolve/build
//	       -> rearm(writable) -> [reactor] writev -> rearm(readable) | close
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Poller woken, reactor leaves its loop
//  3. Worker pool stopped (running requests finish)
//  4. Every live connection closed, mappings released
//  5. Listener and poller closed
//
// Thread safety:
// All exported methods are safe for concurrent use. Shutdown is idempotent.
type HTTPAdapter struct {
	config  HTTPConfig
	root    *docroot.Root
	metrics metrics.HTTPMetrics

	// mu guards poller against a concurrent Stop during startup.
	mu      sync.Mutex
	poller  *reactor.Poller
	pool    *workerpool.Pool
	table   *ConnectionTable
	limiter *ratelimiter.AcceptLimiter

	listenFd  int
	boundPort atomic.Int32

	serving      atomic.Bool
	ready        chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	stopped      chan struct{}
}

// HTTPConfig holds configuration parameters for the HTTP adapter.
//
// Default values (applied by New if zero):
//   - ListenAddress: 0.0.0.0
//   - MaxFD: 65536
//   - MaxConnections: MaxFD
//   - Workers: 8
//   - QueueSize: 10000
//   - MaxEvents: 10000
//   - ReadBufferSize: 2048
//   - WriteBufferSize: 1024
//   - SaturationPolicy: drop
//   - ShutdownTimeout: 30s
type HTTPConfig struct {
	// Enabled controls whether the HTTP adapter is started.
	Enabled bool `mapstructure:"enabled"`

	// ListenAddress is the local IP address to bind.
	ListenAddress string `mapstructure:"listen_address" validate:"omitempty,ip"`

	// Port is the TCP port to listen on. 0 binds an ephemeral port; the
	// configuration layer defaults it to 8080.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxFD is the connection table capacity. Accepted descriptors at or
	// above it are rejected.
	MaxFD int `mapstructure:"max_fd" validate:"min=0"`

	// MaxConnections limits concurrently open connections. Connections
	// accepted beyond it are closed immediately. Must not exceed MaxFD.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// Workers is the number of goroutines parsing requests.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// QueueSize bounds the number of ready connections waiting for a worker.
	QueueSize int `mapstructure:"queue_size" validate:"min=0"`

	// MaxEvents bounds the readiness events handled per poller wakeup.
	MaxEvents int `mapstructure:"max_events" validate:"min=0"`

	// ReadBufferSize is the per-connection request buffer. A request (line,
	// headers and body) larger than this is rejected with 400.
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"omitempty,min=128"`

	// WriteBufferSize is the per-connection response header buffer.
	WriteBufferSize int `mapstructure:"write_buffer_size" validate:"omitempty,min=256"`

	// AcceptRate limits accepted connections per second. 0 disables.
	AcceptRate uint `mapstructure:"accept_rate"`

	// AcceptBurst is the accept burst size. 0 means AcceptRate.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// SaturationPolicy is "drop" or "close".
	SaturationPolicy string `mapstructure:"saturation_policy" validate:"omitempty,oneof=drop close"`

	// ShutdownTimeout bounds Stop when the caller's context has no deadline.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the period of the metrics log line. 0 disables.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *HTTPConfig) applyDefaults() {
	// Enabled is defaulted in pkg/config so an explicit false survives.

	if c.ListenAddress == "" {
		c.ListenAddress = "0.0.0.0"
	}
	if c.MaxFD <= 0 {
		c.MaxFD = 65536
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = c.MaxFD
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = 10000
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 2048
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 1024
	}
	if c.SaturationPolicy == "" {
		c.SaturationPolicy = SaturationDrop
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// validate checks the configuration after defaults were applied.
func (c *HTTPConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections > c.MaxFD {
		return fmt.Errorf("invalid MaxConnections %d: exceeds MaxFD %d", c.MaxConnections, c.MaxFD)
	}
	if c.SaturationPolicy != SaturationDrop && c.SaturationPolicy != SaturationClose {
		return fmt.Errorf("invalid SaturationPolicy %q: must be %q or %q",
			c.SaturationPolicy, SaturationDrop, SaturationClose)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be >= 0", c.ShutdownTimeout)
	}
	if c.MetricsLogInterval < 0 {
		return fmt.Errorf("invalid MetricsLogInterval %v: must be >= 0", c.MetricsLogInterval)
	}
	return nil
}

// New creates an HTTPAdapter in the stopped state. Call SetDocRoot, then
// Serve.
//
// Parameters:
//   - config: Server configuration. Zero values are replaced with defaults.
//   - httpMetrics: Optional metrics collector (nil for no metrics)
//
// Panics if config validation fails (programmer error; pkg/config validates
// user input beforehand).
func New(config HTTPConfig, httpMetrics metrics.HTTPMetrics) *HTTPAdapter {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid HTTP config: %v", err))
	}

	if httpMetrics == nil {
		httpMetrics = metrics.NewNoopHTTPMetrics()
	}

	return &HTTPAdapter{
		config:   config,
		metrics:  httpMetrics,
		limiter:  ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		listenFd: -1,
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// SetDocRoot injects the document root.
func (s *HTTPAdapter) SetDocRoot(root *docroot.Root) {
	s.root = root
	logger.Debug("HTTP document root: %s", root.Path())
}

// setup allocates the poller, connection table and worker pool.
func (s *HTTPAdapter) setup() error {
	if s.root == nil {
		return errors.New("HTTP adapter: document root not set")
	}

	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err == nil && lim.Cur < uint64(s.config.MaxFD) {
		logger.Warn("HTTP max_fd=%d exceeds RLIMIT_NOFILE=%d: accepts will fail before the table fills",
			s.config.MaxFD, lim.Cur)
	}

	table, err := NewConnectionTable(s.config.MaxFD, s.config.MaxConnections, func() *HTTPConnection {
		return newHTTPConnection(s)
	})
	if err != nil {
		return err
	}

	poller, err := reactor.New(s.config.MaxEvents)
	if err != nil {
		return fmt.Errorf("HTTP adapter: %w", err)
	}

	pool, err := workerpool.New(s.config.Workers, s.config.QueueSize,
		workerpool.WithPanicHandler(func(task workerpool.Task, r any) {
			c, ok := task.(*HTTPConnection)
			if !ok {
				logger.Error("HTTP worker panic: %v", r)
				return
			}
			logger.Error("HTTP [%s] panic while processing request from %s: %v", c.id, c.peer, r)
			s.closeConn(c)
		}))
	if err != nil {
		_ = poller.Close()
		return fmt.Errorf("HTTP adapter: %w", err)
	}

	s.mu.Lock()
	s.poller = poller
	s.mu.Unlock()
	s.table = table
	s.pool = pool
	return nil
}

// Serve binds the listening socket and runs the reactor until the context
// is cancelled or Stop is called.
//
// Returns:
//   - nil on graceful shutdown
//   - error if setup or binding fails, or the poller fails irrecoverably
//
// Thread safety:
// Serve should only be called once per HTTPAdapter instance.
func (s *HTTPAdapter) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("HTTP adapter: Serve called twice")
	}
	defer close(s.stopped)

	if s.isShuttingDown() {
		return nil
	}

	if err := s.setup(); err != nil {
		return err
	}

	lfd, port, err := listenSocket(s.config.ListenAddress, s.config.Port)
	if err != nil {
		s.teardown()
		return fmt.Errorf("failed to create HTTP listener on %s:%d: %w",
			s.config.ListenAddress, s.config.Port, err)
	}
	s.listenFd = lfd
	s.boundPort.Store(int32(port))

	if err := s.poller.Register(lfd, reactor.Readable, false); err != nil {
		s.teardown()
		return fmt.Errorf("HTTP adapter: %w", err)
	}

	logger.Info("HTTP server listening on %s:%d", s.config.ListenAddress, port)
	logger.Debug("HTTP config: workers=%d queue_size=%d max_connections=%d max_fd=%d saturation_policy=%s",
		s.config.Workers, s.config.QueueSize, s.config.MaxConnections, s.config.MaxFD, s.config.SaturationPolicy)
	close(s.ready)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("HTTP shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
	}()

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics()
	}

	err = s.eventLoop()
	s.teardown()
	return err
}

// eventLoop is the reactor. It returns nil once shutdown was requested.
func (s *HTTPAdapter) eventLoop() error {
	events := make([]reactor.Event, 0, s.config.MaxEvents)

	for !s.isShuttingDown() {
		var err error
		events, err = s.poller.Wait(events, -1)
		if err != nil {
			if s.isShuttingDown() {
				return nil
			}
			return fmt.Errorf("HTTP reactor: %w", err)
		}

		for _, ev := range events {
			if ev.Fd == s.listenFd {
				s.acceptAll()
				continue
			}
			s.handleEvent(ev)
		}
		s.metrics.SetQueueDepth(s.pool.Len())
	}
	return nil
}

// acceptAll drains the listen backlog. The listener is edge-triggered, so
// stopping early would leave connections unnoticed until the next arrival.
func (s *HTTPAdapter) acceptAll() {
	for {
		fd, peer, err := acceptConn(s.listenFd)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
			case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE):
				logger.Warn("HTTP accept: %v", err)
			default:
				logger.Debug("Error accepting HTTP connection: %v", err)
			}
			return
		}

		if !s.limiter.Admit() {
			s.reject(fd, peer, metrics.RejectRateLimit)
			continue
		}

		c, err := s.table.Acquire(fd)
		if err != nil {
			reason := metrics.RejectCapacity
			if errors.Is(err, ErrFdOutOfRange) {
				reason = metrics.RejectFdRange
			}
			s.reject(fd, peer, reason)
			continue
		}

		c.Init(fd, peer)
		c.owner.Store(int32(OwnerIdle))
		if err := s.poller.Register(fd, reactor.Readable, true); err != nil {
			logger.Warn("HTTP [%s] register %s: %v", c.id, peer, err)
			s.closeConn(c)
			continue
		}

		active := s.table.Count()
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)
		logger.Debug("HTTP [%s] connection accepted from %s (active: %d)", c.id, peer, active)
	}
}

func (s *HTTPAdapter) reject(fd int, peer, reason string) {
	_ = unix.Close(fd)
	s.metrics.RecordConnectionRejected(reason)
	logger.Debug("HTTP connection from %s rejected: %s", peer, reason)
}

// handleEvent dispatches one readiness event for a connection socket.
func (s *HTTPAdapter) handleEvent(ev reactor.Event) {
	c := s.table.Get(ev.Fd)
	if c == nil {
		logger.Debug("HTTP event for unknown fd %d", ev.Fd)
		return
	}
	if !c.transfer(OwnerIdle, OwnerReactor) {
		logger.Error("HTTP [%s] event while owned by %s", c.id, c.Owner())
		return
	}

	switch {
	case ev.Hangup:
		s.closeConn(c)
	case ev.Readable:
		if !c.Read() {
			s.closeConn(c)
			return
		}
		s.submit(c)
	case ev.Writable:
		if !c.Write() {
			s.closeConn(c)
		}
	default:
		if err := c.rearm(reactor.Readable); err != nil {
			s.closeConn(c)
		}
	}
}

// submit hands a drained connection to the worker pool.
func (s *HTTPAdapter) submit(c *HTTPConnection) {
	c.transfer(OwnerReactor, OwnerWorker)

	err := s.pool.Submit(c)
	if err == nil {
		return
	}

	c.transfer(OwnerWorker, OwnerReactor)
	s.metrics.RecordSubmissionDropped()
	logger.Debug("HTTP [%s] submission dropped: %v", c.id, err)

	if s.config.SaturationPolicy == SaturationClose || !errors.Is(err, workerpool.ErrQueueFull) {
		s.closeConn(c)
		return
	}
	if err := c.rearm(reactor.Readable); err != nil {
		s.closeConn(c)
	}
}

// closeConn releases everything a connection holds: its mapping, its
// poller registration, its table slot and its descriptor. Only the current
// owner may call it; calling it on an already closed connection is a no-op.
func (s *HTTPAdapter) closeConn(c *HTTPConnection) {
	c.Unmap()

	fd := c.fd
	if fd < 0 {
		return
	}
	// After Release the slot may be re-initialised for a new socket.
	id, peer := c.id, c.peer

	if err := s.poller.Deregister(fd); err != nil {
		logger.Debug("HTTP [%s] deregister: %v", id, err)
	}

	c.Reset()
	c.fd = -1
	c.owner.Store(int32(OwnerIdle))

	// The slot is freed before the descriptor so the number cannot be reused
	// by accept while the slot still looks busy.
	if !s.table.Release(c) {
		return
	}
	if err := unix.Close(fd); err != nil {
		logger.Debug("HTTP [%s] close: %v", id, err)
	}

	active := s.table.Count()
	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveConnections(active)
	logger.Debug("HTTP [%s] connection from %s closed (active: %d)", id, peer, active)
}

// teardown runs on the reactor goroutine after the loop has exited.
func (s *HTTPAdapter) teardown() {
	if s.pool != nil {
		for _, task := range s.pool.Stop() {
			if c, ok := task.(*HTTPConnection); ok {
				s.closeConn(c)
			}
		}
	}

	if s.table != nil {
		closed := 0
		s.table.Range(func(c *HTTPConnection) bool {
			s.closeConn(c)
			closed++
			return true
		})
		if closed > 0 {
			logger.Info("HTTP shutdown: closed %d connection(s)", closed)
		}
	}

	if s.listenFd >= 0 {
		_ = unix.Close(s.listenFd)
		s.listenFd = -1
	}

	s.mu.Lock()
	if s.poller != nil {
		if err := s.poller.Close(); err != nil {
			logger.Debug("HTTP poller close: %v", err)
		}
	}
	s.mu.Unlock()

	s.metrics.SetActiveConnections(0)
	s.metrics.SetQueueDepth(0)
	if s.root != nil {
		s.metrics.SetLiveMappings(s.root.LiveMappings())
	}
}

func (s *HTTPAdapter) isShuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// initiateShutdown signals the reactor to leave its loop. Safe to call
// multiple times from any goroutine.
func (s *HTTPAdapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("HTTP shutdown initiated")
		close(s.shutdown)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.poller != nil {
			if err := s.poller.Wake(); err != nil && !errors.Is(err, reactor.ErrClosed) {
				logger.Debug("HTTP poller wake: %v", err)
			}
		}
	})
}

// Stop initiates graceful shutdown and waits for the reactor to release
// all resources, bounded by ctx or, when ctx has no deadline, by
// ShutdownTimeout.
//
// Returns:
//   - nil on successful shutdown
//   - error if the wait was cut short
//
// Thread safety:
// Safe to call concurrently and repeatedly.
func (s *HTTPAdapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if !s.serving.Load() {
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	select {
	case <-s.stopped:
		logger.Info("HTTP graceful shutdown complete")
		return nil
	case <-ctx.Done():
		logger.Warn("HTTP shutdown did not complete: %v (active: %d)", ctx.Err(), s.GetActiveConnections())
		return ctx.Err()
	}
}

// logMetrics periodically logs adapter state until shutdown.
func (s *HTTPAdapter) logMetrics() {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			stats := s.pool.Stats()
			mappings := s.root.LiveMappings()
			s.metrics.SetQueueDepth(stats.Queued)
			s.metrics.SetLiveMappings(mappings)
			logger.Info("HTTP metrics: active_connections=%d queue_depth=%d processed=%d dropped=%d live_mappings=%d",
				s.table.Count(), stats.Queued, stats.Processed, stats.Rejected, mappings)
		}
	}
}

// Ready is closed once the listener is bound and the reactor is about to
// start.
func (s *HTTPAdapter) Ready() <-chan struct{} {
	return s.ready
}

// GetActiveConnections returns the number of occupied connection slots.
func (s *HTTPAdapter) GetActiveConnections() int32 {
	if s.table == nil {
		return 0
	}
	return s.table.Count()
}

// Protocol returns "HTTP".
func (s *HTTPAdapter) Protocol() string {
	return "HTTP"
}

// Port returns the bound port once listening, the configured port before.
func (s *HTTPAdapter) Port() int {
	if p := s.boundPort.Load(); p > 0 {
		return int(p)
	}
	return s.config.Port
}
