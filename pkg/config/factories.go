package config

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/docroot"
)

// S3SourceConfig holds the options of docroot.s3.
type S3SourceConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// CreateDocRoot prepares and opens the document root.
//
// Supported sources:
//   - "local": the directory is served as is
//   - "s3": the directory is created if needed and populated from
//     docroot.s3.bucket/key_prefix before it is opened
//
// Parameters:
//   - ctx: Context for seeding operations
//   - cfg: Document root configuration
//
// Returns:
//   - *docroot.Root: Document root ready to be injected into adapters
//   - error: Configuration, seeding or filesystem error
func CreateDocRoot(ctx context.Context, cfg *DocRootConfig) (*docroot.Root, error) {
	switch cfg.Source {
	case "", "local":
	case "s3":
		if err := seedFromS3(ctx, cfg.Path, cfg.S3); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown document root source: %q", cfg.Source)
	}

	root, err := docroot.New(docroot.Config{
		Path:            cfg.Path,
		DefaultDocument: cfg.DefaultDocument,
		MaxPathLen:      cfg.MaxPathLen,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Document root: %s (default document %s, source %s)",
		root.Path(), root.DefaultDocument(), cfg.Source)
	return root, nil
}

// decodeS3Options decodes and checks the docroot.s3 option map.
func decodeS3Options(options map[string]any) (S3SourceConfig, error) {
	var s3Cfg S3SourceConfig
	if err := mapstructure.Decode(options, &s3Cfg); err != nil {
		return s3Cfg, fmt.Errorf("failed to decode S3 source config: %w", err)
	}

	if s3Cfg.Bucket == "" {
		return s3Cfg, fmt.Errorf("S3 source: bucket is required")
	}
	if s3Cfg.Region == "" {
		return s3Cfg, fmt.Errorf("S3 source: region is required")
	}
	if s3Cfg.MaxRetries == 0 {
		s3Cfg.MaxRetries = 10
	}
	return s3Cfg, nil
}

// seedFromS3 downloads the configured prefix into dir.
func seedFromS3(ctx context.Context, dir string, options map[string]any) error {
	s3Cfg, err := decodeS3Options(options)
	if err != nil {
		return err
	}

	client, err := newS3Client(ctx, s3Cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create document root: %w", err)
	}

	if _, err := docroot.Seed(ctx, docroot.SeedConfig{
		Client:    client,
		Bucket:    s3Cfg.Bucket,
		KeyPrefix: s3Cfg.KeyPrefix,
	}, dir); err != nil {
		return fmt.Errorf("failed to seed document root: %w", err)
	}

	return nil
}

// newS3Client builds an S3 client from the source options.
func newS3Client(ctx context.Context, s3Cfg S3SourceConfig) (*s3.Client, error) {
	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(s3Cfg.Region),
	}

	// Set credentials if provided, otherwise use default credential chain
	if s3Cfg.AccessKeyID != "" && s3Cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			s3Cfg.AccessKeyID,
			s3Cfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	// Retry transient failures (502, 503, timeouts) more than the SDK default
	maxRetries := s3Cfg.MaxRetries
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if s3Cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s3Cfg.Endpoint)
			o.UsePathStyle = true
		}
		if s3Cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	logger.Debug("S3 source: bucket=%s, region=%s, prefix=%s, endpoint=%s",
		s3Cfg.Bucket, s3Cfg.Region, s3Cfg.KeyPrefix, s3Cfg.Endpoint)

	return client, nil
}
