package metrics

import (
	"time"
)

// Connection rejection reasons reported by RecordConnectionRejected.
const (
	RejectCapacity  = "capacity"
	RejectRateLimit = "rate_limit"
	RejectFdRange   = "fd_range"
)

// HTTPMetrics provides observability for the HTTP adapter.
//
// Implementations must be safe for concurrent use: request outcomes are
// recorded from worker goroutines while connection counters are updated from
// the reactor goroutine.
//
// Example usage:
//
//	// With metrics enabled
//	m := prometheus.NewHTTPMetrics()
//	adapter := http.New(config, root, m)
//
//	// Without metrics (no-op)
//	adapter := http.New(config, root, nil)
type HTTPMetrics interface {
	// RecordRequest records a request that produced a response.
	//
	// Parameters:
	//   - method: request method ("GET", ...), or "UNKNOWN" when the request
	//     line could not be parsed
	//   - status: HTTP status code sent
	//   - duration: time from completed read to response assembled
	RecordRequest(method string, status int, duration time.Duration)

	// RecordBytesSent records response bytes flushed to a client.
	RecordBytesSent(bytes int64)

	// SetActiveConnections updates the number of occupied connection slots.
	SetActiveConnections(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionRejected increments the counter of connections closed
	// at accept time. reason is one of the Reject* constants.
	RecordConnectionRejected(reason string)

	// RecordSubmissionDropped counts ready connections that could not be
	// queued because the task queue was full.
	RecordSubmissionDropped()

	// SetQueueDepth updates the number of connections waiting for a worker.
	SetQueueDepth(depth int)

	// SetLiveMappings updates the number of file mappings currently held.
	SetLiveMappings(count int64)
}

// NewNoopHTTPMetrics returns an HTTPMetrics that records nothing.
func NewNoopHTTPMetrics() HTTPMetrics {
	return noopHTTPMetrics{}
}

type noopHTTPMetrics struct{}

func (noopHTTPMetrics) RecordRequest(string, int, time.Duration) {}
func (noopHTTPMetrics) RecordBytesSent(int64)                    {}
func (noopHTTPMetrics) SetActiveConnections(int32)               {}
func (noopHTTPMetrics) RecordConnectionAccepted()                {}
func (noopHTTPMetrics) RecordConnectionClosed()                  {}
func (noopHTTPMetrics) RecordConnectionRejected(string)          {}
func (noopHTTPMetrics) RecordSubmissionDropped()                 {}
func (noopHTTPMetrics) SetQueueDepth(int)                        {}
func (noopHTTPMetrics) SetLiveMappings(int64)                    {}
