package e2e

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// runOnAllConfigs is a helper that runs a test on all configurations
func runOnAllConfigs(t *testing.T, files map[string]string, testFunc func(t *testing.T, tc *TestContext)) {
	t.Helper()

	for _, config := range AllConfigurations() {
		t.Run(config.Name, func(t *testing.T) {
			tc := NewTestContext(t, config, files)
			defer tc.Cleanup()

			testFunc(t, tc)
		})
	}
}

// newClient returns an HTTP client that keeps at most one idle connection
// per host, so sequential requests share a single keep-alive connection.
func newClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 1,
			DisableCompression:  true,
		},
	}
}

// get fetches a URL and returns the response with its body fully read
func get(t testing.TB, client *http.Client, url string) (*http.Response, []byte) {
	t.Helper()

	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body of %s: %v", url, err)
	}
	return resp, body
}

// rawConn is a client connection for requests net/http would normalize
// (dot segments, malformed lines).
type rawConn struct {
	t    testing.TB
	conn net.Conn
	r    *bufio.Reader
}

func dialRaw(t testing.TB, tc *TestContext) *rawConn {
	t.Helper()

	conn, err := net.DialTimeout("tcp", tc.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", tc.Addr(), err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	return &rawConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// roundTrip writes a raw request and reads one response
func (c *rawConn) roundTrip(request string) (*http.Response, []byte) {
	c.t.Helper()

	if _, err := io.WriteString(c.conn, request); err != nil {
		c.t.Fatalf("Failed to write request: %v", err)
	}

	resp, err := http.ReadResponse(c.r, nil)
	if err != nil {
		c.t.Fatalf("Failed to read response: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("Failed to read response body: %v", err)
	}
	return resp, body
}

// closedByPeer reports whether the server closed the connection
func (c *rawConn) closedByPeer() bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.r.ReadByte()
	if err == nil {
		return false
	}
	var ne net.Error
	return !errors.As(err, &ne) || !ne.Timeout()
}

// counterValue sums every sample of a counter family whose labels include
// all of want.
func counterValue(t testing.TB, tc *TestContext, name string, want map[string]string) float64 {
	t.Helper()

	families, err := tc.Registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, want) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

// waitForCounter polls until the counter reaches at least want. Request
// metrics are recorded by the worker after the response is queued, so a
// client may observe the response first.
func waitForCounter(t testing.TB, tc *TestContext, name string, labels map[string]string, want float64) float64 {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		got := counterValue(t, tc, name, labels)
		if got >= want || time.Now().After(deadline) {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}
