package config

import (
	"strings"
	"time"

	httpadapter "github.com/marmos91/dittohttp/pkg/adapter/http"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Source-specific defaults are handled by the source factories
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDocRootDefaults(&cfg.DocRoot)
	applyAdaptersDefaults(&cfg.Adapters)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyDocRootDefaults sets document root defaults.
func applyDocRootDefaults(cfg *DocRootConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/www/html"
	}
	if cfg.DefaultDocument == "" {
		cfg.DefaultDocument = "index.html"
	}
	if cfg.MaxPathLen == 0 {
		cfg.MaxPathLen = 200
	}
	if cfg.Source == "" {
		cfg.Source = "local"
	}

	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
	// Only consulted when source is s3; present so generated files show it
	if _, ok := cfg.S3["max_retries"]; !ok {
		cfg.S3["max_retries"] = 10
	}
}

// applyAdaptersDefaults sets adapter defaults.
func applyAdaptersDefaults(cfg *AdaptersConfig) {
	// Enable the HTTP adapter unless it was explicitly configured. A zero
	// port means no explicit configuration was provided; users disable the
	// adapter with enabled: false alongside a port.
	if !cfg.HTTP.Enabled && cfg.HTTP.Port == 0 {
		cfg.HTTP.Enabled = true
	}

	applyHTTPDefaults(&cfg.HTTP)
}

// applyHTTPDefaults sets HTTP adapter defaults.
//
// The adapter applies the same defaults itself; setting them here makes them
// visible in generated config files and in validation.
func applyHTTPDefaults(cfg *httpadapter.HTTPConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MaxFD == 0 {
		cfg.MaxFD = 65536
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = cfg.MaxFD
	}
	if cfg.Workers == 0 {
		cfg.Workers = 8
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 10000
	}
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 2048
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = 1024
	}

	// AcceptRate defaults to 0 (unlimited)

	if cfg.SaturationPolicy == "" {
		cfg.SaturationPolicy = httpadapter.SaturationDrop
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		DocRoot: DocRootConfig{
			S3: map[string]any{
				"region":     "us-east-1",
				"bucket":     "",
				"key_prefix": "",
			},
		},
		Adapters: AdaptersConfig{
			HTTP: httpadapter.HTTPConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
