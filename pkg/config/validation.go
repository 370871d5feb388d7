package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	httpadapter "github.com/marmos91/dittohttp/pkg/adapter/http"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// The document root directory itself is checked when it is opened
// (CreateDocRoot): with source s3 it may not exist until seeding.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.HTTP.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if err := validateHTTP(&cfg.Adapters.HTTP); err != nil {
		return err
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == cfg.Adapters.HTTP.Port {
		return fmt.Errorf("server.metrics.port: %d is already used by adapters.http.port", cfg.Server.Metrics.Port)
	}

	if cfg.DocRoot.Source == "s3" {
		if bucket, _ := cfg.DocRoot.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("docroot.s3.bucket: required when docroot.source is s3")
		}
	}

	return nil
}

func validateHTTP(cfg *httpadapter.HTTPConfig) error {
	if cfg.MaxConnections > cfg.MaxFD {
		return fmt.Errorf("adapters.http.max_connections: %d exceeds max_fd %d", cfg.MaxConnections, cfg.MaxFD)
	}
	if cfg.AcceptBurst > 0 && cfg.AcceptRate == 0 {
		return fmt.Errorf("adapters.http.accept_burst: requires accept_rate")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		// Return the first validation error with context
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
