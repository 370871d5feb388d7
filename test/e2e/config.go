package e2e

import (
	"fmt"

	httpadapter "github.com/marmos91/dittohttp/pkg/adapter/http"
)

// TestConfig describes one adapter tuning the suite runs against.
type TestConfig struct {
	Name string

	Workers          int
	QueueSize        int
	ReadBufferSize   int
	WriteBufferSize  int
	SaturationPolicy string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s (workers=%d queue=%d rbuf=%d wbuf=%d policy=%s)",
		tc.Name, tc.Workers, tc.QueueSize, tc.ReadBufferSize, tc.WriteBufferSize, tc.SaturationPolicy)
}

// apply copies the tuning onto an adapter configuration. Zero fields keep
// the adapter defaults.
func (tc *TestConfig) apply(cfg *httpadapter.HTTPConfig) {
	if tc.Workers > 0 {
		cfg.Workers = tc.Workers
	}
	if tc.QueueSize > 0 {
		cfg.QueueSize = tc.QueueSize
	}
	if tc.ReadBufferSize > 0 {
		cfg.ReadBufferSize = tc.ReadBufferSize
	}
	if tc.WriteBufferSize > 0 {
		cfg.WriteBufferSize = tc.WriteBufferSize
	}
	if tc.SaturationPolicy != "" {
		cfg.SaturationPolicy = tc.SaturationPolicy
	}
}

// AllConfigurations returns the adapter tunings every e2e test runs on.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{
			Name: "default",
		},
		{
			Name:      "single-worker",
			Workers:   1,
			QueueSize: 1024,
		},
		{
			Name:             "small-buffers",
			Workers:          4,
			ReadBufferSize:   512,
			WriteBufferSize:  256,
			SaturationPolicy: httpadapter.SaturationClose,
		},
	}
}
