package prometheus

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittohttp/pkg/metrics"
)

func TestHTTPMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetricsWith(reg)

	m.RecordRequest("GET", 200, 2*time.Millisecond)
	m.RecordRequest("GET", 200, time.Millisecond)
	m.RecordRequest("GET", 404, time.Millisecond)
	m.RecordBytesSent(1024)
	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordConnectionRejected(metrics.RejectCapacity)
	m.RecordSubmissionDropped()
	m.SetActiveConnections(1)
	m.SetQueueDepth(3)
	m.SetLiveMappings(2)

	impl, ok := m.(*httpMetrics)
	require.True(t, ok)

	assert.Equal(t, float64(2), testutil.ToFloat64(impl.requestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.requestsTotal.WithLabelValues("GET", "404")))
	assert.Equal(t, float64(1024), testutil.ToFloat64(impl.bytesSent))
	assert.Equal(t, float64(2), testutil.ToFloat64(impl.connectionsAccepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.connectionsClosed))
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.connectionsRejected.WithLabelValues("capacity")))
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.submissionsDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(impl.activeConnections))
	assert.Equal(t, float64(3), testutil.ToFloat64(impl.queueDepth))
	assert.Equal(t, float64(2), testutil.ToFloat64(impl.liveMappings))

	count, err := testutil.GatherAndCount(reg, "dittohttp_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHTTPMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetricsWith(reg)
	m.RecordConnectionAccepted()

	expected := `
# HELP dittohttp_connections_accepted_total Total number of connections accepted
# TYPE dittohttp_connections_accepted_total counter
dittohttp_connections_accepted_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "dittohttp_connections_accepted_total"))
}

func TestNewHTTPMetricsWithoutRegistryIsNoop(t *testing.T) {
	if metrics.IsEnabled() {
		t.Skip("global registry initialized by another test")
	}

	m := NewHTTPMetrics()
	_, isProm := m.(*httpMetrics)
	assert.False(t, isProm)

	// No-op calls must not panic.
	m.RecordRequest("GET", 200, time.Millisecond)
	m.RecordConnectionRejected(metrics.RejectRateLimit)
}
