package docroot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/dittohttp/internal/logger"
)

// ObjectStore is the subset of the S3 API used to seed a document root.
// *s3.Client satisfies it.
type ObjectStore interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// SeedConfig selects the objects copied into the document root.
type SeedConfig struct {
	Client    ObjectStore
	Bucket    string
	KeyPrefix string
}

// SeedStats summarizes a Seed run.
type SeedStats struct {
	Files   int
	Bytes   int64
	Skipped int
}

// Seed downloads every object under cfg.KeyPrefix into dir, keeping the key
// hierarchy below the prefix. Files are written world-readable so they pass
// the serving permission check. Keys that would land outside dir are
// skipped.
//
// Seeding happens once at startup. Existing files with the same name are
// replaced atomically.
func Seed(ctx context.Context, cfg SeedConfig, dir string) (SeedStats, error) {
	var stats SeedStats

	if cfg.Client == nil {
		return stats, fmt.Errorf("seed: client is required")
	}
	if cfg.Bucket == "" {
		return stats, fmt.Errorf("seed: bucket is required")
	}

	paginator := s3.NewListObjectsV2Paginator(cfg.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(cfg.Bucket),
		Prefix: aws.String(keyPrefix(cfg.KeyPrefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return stats, fmt.Errorf("seed: list s3://%s/%s: %w", cfg.Bucket, cfg.KeyPrefix, err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)

			rel, ok := seedPath(key, cfg.KeyPrefix)
			if !ok {
				logger.Debug("seed: skipping key %q", key)
				stats.Skipped++
				continue
			}

			n, err := downloadObject(ctx, cfg, key, filepath.Join(dir, rel))
			if err != nil {
				return stats, err
			}
			stats.Files++
			stats.Bytes += n
		}
	}

	logger.Info("Seeded document root %s from s3://%s/%s: files=%d bytes=%d skipped=%d",
		dir, cfg.Bucket, cfg.KeyPrefix, stats.Files, stats.Bytes, stats.Skipped)
	return stats, nil
}

// keyPrefix makes a non-empty prefix end at a path boundary, so "www"
// selects "www/a.html" but not "wwwx/a.html".
func keyPrefix(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// seedPath turns an object key into a path relative to the document root.
// Keys outside the prefix, directory markers and keys escaping the root are
// rejected.
func seedPath(key, prefix string) (string, bool) {
	rel, ok := strings.CutPrefix(key, keyPrefix(prefix))
	if !ok {
		return "", false
	}
	rel = strings.TrimLeft(rel, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", false
	}

	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false
	}
	return filepath.FromSlash(clean), true
}

func downloadObject(ctx context.Context, cfg SeedConfig, key, dest string) (int64, error) {
	out, err := cfg.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("seed: get s3://%s/%s: %w", cfg.Bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".seed-*")
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, out.Body)
	if err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("seed: download %s: %w", key, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return 0, fmt.Errorf("seed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}

	logger.Debug("seed: %s -> %s (%d bytes)", key, dest, n)
	return n, nil
}
