package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/dittohttp/internal/logger"
	httpadapter "github.com/marmos91/dittohttp/pkg/adapter/http"
	"github.com/marmos91/dittohttp/pkg/config"
	promMetrics "github.com/marmos91/dittohttp/pkg/metrics/prometheus"
	"github.com/marmos91/dittohttp/pkg/server"
)

// TestContext provides a complete testing environment with:
// - A document root in a temporary directory
// - A running DittoServer with the HTTP adapter on a loopback port
// - A private Prometheus registry collecting the adapter metrics
type TestContext struct {
	T        testing.TB
	Config   *TestConfig
	Server   *server.DittoServer
	Adapter  *httpadapter.HTTPAdapter
	Registry *prometheus.Registry
	DocRoot  string
	Port     int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	serveErr error
}

// NewTestContext creates a new test environment with the specified
// configuration. files are written into the document root before the
// server starts, so the root may contain whatever the test needs.
func NewTestContext(t testing.TB, cfg *TestConfig, files map[string]string) *TestContext {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TestContext{
		T:        t,
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		DocRoot:  t.TempDir(),
		ctx:      ctx,
		cancel:   cancel,
	}

	for name, body := range files {
		tc.WriteFile(name, body, 0644)
	}

	tc.startServer()

	return tc
}

// startServer builds the server through the same factories the binary uses
func (tc *TestContext) startServer() {
	tc.T.Helper()

	// Always use ERROR level to keep test output clean
	logger.SetLevel("ERROR")

	cfg := config.GetDefaultConfig()
	cfg.DocRoot.Path = tc.DocRoot
	cfg.Adapters.HTTP.ListenAddress = "127.0.0.1"
	cfg.Adapters.HTTP.Port = 0
	cfg.Adapters.HTTP.MaxFD = 4096
	cfg.Adapters.HTTP.MaxConnections = 4096
	cfg.Adapters.HTTP.MetricsLogInterval = 0
	tc.Config.apply(&cfg.Adapters.HTTP)

	if err := config.Validate(cfg); err != nil {
		tc.T.Fatalf("Invalid test configuration %s: %v", tc.Config, err)
	}

	root, err := config.CreateDocRoot(tc.ctx, &cfg.DocRoot)
	if err != nil {
		tc.T.Fatalf("Failed to create document root: %v", err)
	}

	adapters, err := config.CreateAdapters(cfg, promMetrics.NewHTTPMetricsWith(tc.Registry))
	if err != nil {
		tc.T.Fatalf("Failed to create adapters: %v", err)
	}

	tc.Server = server.New(root)
	tc.Server.SetStopTimeout(10 * time.Second)
	for _, a := range adapters {
		if err := tc.Server.AddAdapter(a); err != nil {
			tc.T.Fatalf("Failed to add %s adapter: %v", a.Protocol(), err)
		}
		if h, ok := a.(*httpadapter.HTTPAdapter); ok {
			tc.Adapter = h
		}
	}
	if tc.Adapter == nil {
		tc.T.Fatal("No HTTP adapter created")
	}

	tc.wg.Add(1)
	go func() {
		defer tc.wg.Done()
		tc.serveErr = tc.Server.Serve(tc.ctx)
	}()

	tc.waitForServer()
}

// waitForServer waits for the HTTP adapter to accept connections
func (tc *TestContext) waitForServer() {
	tc.T.Helper()

	select {
	case <-tc.Adapter.Ready():
	case <-time.After(10 * time.Second):
		tc.T.Fatal("Timeout waiting for server to start")
	}

	tc.Port = tc.Adapter.Port()
}

// Cleanup stops the server and waits for it to release every connection
func (tc *TestContext) Cleanup() {
	tc.T.Helper()

	if tc.cancel != nil {
		tc.cancel()
	}

	tc.wg.Wait()

	if tc.serveErr != nil && tc.serveErr != context.Canceled {
		tc.T.Errorf("Server error: %v", tc.serveErr)
	}
	if n := tc.Adapter.GetActiveConnections(); n != 0 {
		tc.T.Errorf("%d connections still active after shutdown", n)
	}
	if n := tc.Server.DocRoot().LiveMappings(); n != 0 {
		tc.T.Errorf("%d file mappings still live after shutdown", n)
	}
}

// WriteFile creates a file inside the document root, creating parent
// directories as needed.
func (tc *TestContext) WriteFile(name, body string, mode os.FileMode) string {
	tc.T.Helper()

	path := filepath.Join(tc.DocRoot, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		tc.T.Fatalf("Failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		tc.T.Fatalf("Failed to write %s: %v", name, err)
	}
	// WriteFile honours the umask; the permission check needs the exact mode
	if err := os.Chmod(path, mode); err != nil {
		tc.T.Fatalf("Failed to chmod %s: %v", name, err)
	}
	return path
}

// Addr returns the host:port the adapter listens on
func (tc *TestContext) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(tc.Port))
}

// URL returns the absolute URL of a path on the server
func (tc *TestContext) URL(path string) string {
	return fmt.Sprintf("http://%s%s", tc.Addr(), path)
}
