package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/marmos91/dittohttp/pkg/adapter/http"
	"github.com/marmos91/dittohttp/pkg/docroot"
)

type fakeAdapter struct {
	protocol string
	port     int
	serveErr error

	root    *docroot.Root
	stops   atomic.Int32
	stopped chan struct{}
}

func newFakeAdapter(protocol string, port int) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, stopped: make(chan struct{})}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-ctx.Done():
	case <-f.stopped:
	}
	return nil
}

func (f *fakeAdapter) SetDocRoot(root *docroot.Root) { f.root = root }

func (f *fakeAdapter) Stop(context.Context) error {
	if f.stops.Add(1) == 1 {
		close(f.stopped)
	}
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func newRoot(t *testing.T) *docroot.Root {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello\n"), 0o644))
	root, err := docroot.New(docroot.Config{Path: dir})
	require.NoError(t, err)
	return root
}

func TestNewPanicsWithoutRoot(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
}

func TestAddAdapterInjectsDocRoot(t *testing.T) {
	root := newRoot(t)
	srv := New(root)

	a := newFakeAdapter("HTTP", 8080)
	require.NoError(t, srv.AddAdapter(a))

	assert.Same(t, root, a.root)
	assert.Len(t, srv.Adapters(), 1)
	assert.Same(t, root, srv.DocRoot())
}

func TestAddAdapterRejectsConflicts(t *testing.T) {
	srv := New(newRoot(t))
	require.NoError(t, srv.AddAdapter(newFakeAdapter("HTTP", 8080)))

	assert.Error(t, srv.AddAdapter(newFakeAdapter("HTTP", 8081)), "duplicate protocol")
	assert.Error(t, srv.AddAdapter(newFakeAdapter("OTHER", 8080)), "duplicate port")
	assert.NoError(t, srv.AddAdapter(newFakeAdapter("EPHEMERAL", 0)))
	assert.Panics(t, func() { _ = srv.AddAdapter(nil) })
}

func TestServeWithoutAdapters(t *testing.T) {
	srv := New(newRoot(t))
	assert.Error(t, srv.Serve(context.Background()))
}

func TestServeStopsAdaptersOnCancel(t *testing.T) {
	srv := New(newRoot(t))
	first := newFakeAdapter("A", 1)
	second := newFakeAdapter("B", 2)
	require.NoError(t, srv.AddAdapter(first))
	require.NoError(t, srv.AddAdapter(second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, int32(1), first.stops.Load())
	assert.Equal(t, int32(1), second.stops.Load())

	assert.Panics(t, func() { _ = srv.Serve(context.Background()) })
	assert.Panics(t, func() { _ = srv.AddAdapter(newFakeAdapter("C", 3)) })
}

func TestServeReturnsAdapterFailure(t *testing.T) {
	srv := New(newRoot(t))
	healthy := newFakeAdapter("A", 1)
	broken := newFakeAdapter("B", 2)
	broken.serveErr = errors.New("bind: address already in use")
	require.NoError(t, srv.AddAdapter(healthy))
	require.NoError(t, srv.AddAdapter(broken))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B adapter error")
	assert.Equal(t, int32(1), healthy.stops.Load(), "healthy adapter is stopped too")
}

func TestServeHTTPAdapter(t *testing.T) {
	srv := New(newRoot(t))
	srv.SetStopTimeout(5 * time.Second)

	a := httpadapter.New(httpadapter.HTTPConfig{
		ListenAddress: "127.0.0.1",
		MaxFD:         4096,
		MaxEvents:     64,
		QueueSize:     64,
		Workers:       2,
	}, nil)
	require.NoError(t, srv.AddAdapter(a))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-a.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("HTTP adapter did not start")
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/", net.JoinHostPort("127.0.0.1", fmt.Sprint(a.Port()))))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello\n", string(body))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, int32(0), a.GetActiveConnections())
}
