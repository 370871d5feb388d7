package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: "info"

docroot:
  path: "/srv/www"

adapters:
  http:
    enabled: true
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.DocRoot.Path != "/srv/www" {
		t.Errorf("Expected docroot path '/srv/www', got %q", cfg.DocRoot.Path)
	}
	if cfg.DocRoot.DefaultDocument != "index.html" {
		t.Errorf("Expected default document 'index.html', got %q", cfg.DocRoot.DefaultDocument)
	}
	if cfg.Adapters.HTTP.Port != 8080 {
		t.Errorf("Expected default HTTP port 8080, got %d", cfg.Adapters.HTTP.Port)
	}
	if cfg.Adapters.HTTP.MaxConnections != cfg.Adapters.HTTP.MaxFD {
		t.Errorf("Expected max_connections to default to max_fd, got %d", cfg.Adapters.HTTP.MaxConnections)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A non-existent explicit path keeps the user's own config out of the test
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.DocRoot.Source != "local" {
		t.Errorf("Expected default source 'local', got %q", cfg.DocRoot.Source)
	}
	if !cfg.Adapters.HTTP.Enabled {
		t.Error("Expected HTTP adapter to be enabled by default")
	}
}

func TestLoad_UnreadableConfigFile(t *testing.T) {
	// Only a missing file falls back to defaults
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.Mkdir(configPath, 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error when config path is a directory, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid.yaml", `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[logging]
level = "WARN"
format = "json"

[docroot]
path = "/srv/www"

[adapters.http]
enabled = true
port = 9000
workers = 2
saturation_policy = "close"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Adapters.HTTP.Port != 9000 {
		t.Errorf("Expected port 9000, got %d", cfg.Adapters.HTTP.Port)
	}
	if cfg.Adapters.HTTP.Workers != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Adapters.HTTP.Workers)
	}
	if cfg.Adapters.HTTP.SaturationPolicy != "close" {
		t.Errorf("Expected saturation policy 'close', got %q", cfg.Adapters.HTTP.SaturationPolicy)
	}
}

func TestLoad_Durations(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  shutdown_timeout: 5s
adapters:
  http:
    metrics_log_interval: 1m30s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown_timeout 5s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.HTTP.MetricsLogInterval != 90*time.Second {
		t.Errorf("Expected metrics_log_interval 1m30s, got %v", cfg.Adapters.HTTP.MetricsLogInterval)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
logging:
  level: INFO
`)
	t.Setenv("DITTOHTTP_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
adapters:
  http:
    port: 8080
    max_fd: 100
    max_connections: 200
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for max_connections > max_fd")
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if got := GetConfigDir(); got != filepath.Join(tmpDir, "dittohttp") {
		t.Errorf("Expected config dir under XDG_CONFIG_HOME, got %q", got)
	}
	if got := GetDefaultConfigPath(); got != filepath.Join(tmpDir, "dittohttp", "config.yaml") {
		t.Errorf("Unexpected default config path %q", got)
	}
	if ConfigExists() {
		t.Error("Expected no config file in a fresh directory")
	}
}
