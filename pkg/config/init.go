package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `# DittoHTTP Configuration File
#
# Values can be overridden with environment variables using the DITTOHTTP_
# prefix, e.g. DITTOHTTP_ADAPTERS_HTTP_PORT=8081.
# The listening port given on the command line takes precedence over both.

`

// InitConfig writes a sample configuration file to the default location.
//
// Parameters:
//   - force: Overwrite an existing file
//
// Returns the path of the written file.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a sample configuration file to path, creating
// parent directories as needed. An existing file is only replaced when
// force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// entry is one commented key of a generated mapping.
type entry struct {
	key     string
	comment string
	value   *yaml.Node
}

func mapping(entries ...entry) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.key}
		if e.comment != "" {
			k.HeadComment = "# " + e.comment
		}
		n.Content = append(n.Content, k, e.value)
	}
	return n
}

func str(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func integer[T ~int | ~uint](v T) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(v)}
}

func boolean(v bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
}

func duration(d time.Duration) *yaml.Node {
	return str(d.String())
}

// options renders a source option map with sorted keys.
func options(m map[string]any) (*yaml.Node, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		v := &yaml.Node{}
		if err := v.Encode(m[k]); err != nil {
			return nil, fmt.Errorf("docroot.s3.%s: %w", k, err)
		}
		n.Content = append(n.Content, str(k), v)
	}
	return n, nil
}

// generateYAMLWithComments renders cfg as YAML with an explanatory comment
// above every key.
func generateYAMLWithComments(cfg *Config) (string, error) {
	s3, err := options(cfg.DocRoot.S3)
	if err != nil {
		return "", err
	}

	h := cfg.Adapters.HTTP
	root := mapping(
		entry{"logging", "Logging configuration", mapping(
			entry{"level", "Minimum level: DEBUG, INFO, WARN, ERROR", str(cfg.Logging.Level)},
			entry{"format", "Output format: text, json", str(cfg.Logging.Format)},
			entry{"output", "Destination: stdout, stderr, or a file path", str(cfg.Logging.Output)},
		)},
		entry{"server", "Server-wide settings", mapping(
			entry{"shutdown_timeout", "Maximum time to wait for graceful shutdown", duration(cfg.Server.ShutdownTimeout)},
			entry{"metrics", "Prometheus endpoint (/metrics, /healthz)", mapping(
				entry{"enabled", "", boolean(cfg.Server.Metrics.Enabled)},
				entry{"port", "", integer(cfg.Server.Metrics.Port)},
			)},
		)},
		entry{"docroot", "Document root served to clients", mapping(
			entry{"path", "Local directory; must exist unless seeded from s3", str(cfg.DocRoot.Path)},
			entry{"default_document", "File served for requests of /", str(cfg.DocRoot.DefaultDocument)},
			entry{"max_path_len", "Longest path + URL accepted; longer requests get 404", integer(cfg.DocRoot.MaxPathLen)},
			entry{"source", "Where the contents come from: local, s3 (downloaded once at startup)", str(cfg.DocRoot.Source)},
			entry{"s3", "Only used when source is s3", s3},
		)},
		entry{"adapters", "Protocol adapters", mapping(
			entry{"http", "HTTP/1.x static file server", mapping(
				entry{"enabled", "", boolean(h.Enabled)},
				entry{"listen_address", "Local IP address to bind", str(h.ListenAddress)},
				entry{"port", "TCP port; the command line port overrides it", integer(h.Port)},
				entry{"max_fd", "Connection table size; descriptors at or above it are refused", integer(h.MaxFD)},
				entry{"max_connections", "Concurrent connections; extra accepts are closed immediately", integer(h.MaxConnections)},
				entry{"workers", "Request processing goroutines", integer(h.Workers)},
				entry{"queue_size", "Ready connections waiting for a worker", integer(h.QueueSize)},
				entry{"max_events", "Readiness events handled per wakeup", integer(h.MaxEvents)},
				entry{"read_buffer_size", "Per-connection request buffer; larger requests get 400", integer(h.ReadBufferSize)},
				entry{"write_buffer_size", "Per-connection response header buffer", integer(h.WriteBufferSize)},
				entry{"accept_rate", "Accepted connections per second (0 = unlimited)", integer(h.AcceptRate)},
				entry{"accept_burst", "Accept burst size (0 = accept_rate)", integer(h.AcceptBurst)},
				entry{"saturation_policy", "When the queue is full: drop (re-arm and wait) or close", str(h.SaturationPolicy)},
				entry{"shutdown_timeout", "Maximum time to wait for the adapter to stop", duration(h.ShutdownTimeout)},
				entry{"metrics_log_interval", "Period of the adapter metrics log line", duration(h.MetricsLogInterval)},
			)},
		)},
	)

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}

	return buf.String(), nil
}
