//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/marmos91/dittohttp/pkg/adapter/http"
	"github.com/marmos91/dittohttp/pkg/config"
	"github.com/marmos91/dittohttp/pkg/server"
)

func localstackEndpoint() string {
	if endpoint := os.Getenv("LOCALSTACK_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return "http://localhost:4566"
}

// setupTestS3 creates a bucket on Localstack (or another S3-compatible
// endpoint), uploads objects into it, and removes everything on cleanup.
func setupTestS3(t *testing.T, bucketName string, objects map[string]string) {
	t.Helper()
	ctx := context.Background()

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	require.NoError(t, err, "load AWS config")

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(localstackEndpoint())
		o.UsePathStyle = true
	})

	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	require.NoError(t, err, "create test bucket")

	for key, body := range objects {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucketName),
			Key:    aws.String(key),
			Body:   strings.NewReader(body),
		})
		require.NoError(t, err, "put %s", key)
	}

	t.Cleanup(func() {
		for key := range objects {
			_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucketName),
				Key:    aws.String(key),
			})
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	})
}

// TestS3SeededDocRoot_Integration seeds a document root from Localstack and
// serves it over the HTTP adapter.
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3SeededDocRoot_Integration(t *testing.T) {
	bucketName := fmt.Sprintf("dittohttp-test-%d", time.Now().UnixNano())
	setupTestS3(t, bucketName, map[string]string{
		"site/index.html":     "<html>from s3</html>",
		"site/css/style.css":  "body { color: black; }",
		"elsewhere/skip.html": "not seeded",
	})

	dir := filepath.Join(t.TempDir(), "www")
	docCfg := &config.DocRootConfig{
		Path:            dir,
		DefaultDocument: "index.html",
		MaxPathLen:      4096,
		Source:          "s3",
		S3: map[string]any{
			"region":            "us-east-1",
			"bucket":            bucketName,
			"key_prefix":        "site/",
			"endpoint":          localstackEndpoint(),
			"access_key_id":     "test",
			"secret_access_key": "test",
			"max_retries":       3,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root, err := config.CreateDocRoot(ctx, docCfg)
	require.NoError(t, err, "seed document root")

	_, err = os.Stat(filepath.Join(dir, "skip.html"))
	assert.True(t, os.IsNotExist(err), "object outside the prefix must not be seeded")

	a := httpadapter.New(httpadapter.HTTPConfig{ListenAddress: "127.0.0.1", MaxFD: 4096}, nil)
	srv := server.New(root)
	require.NoError(t, srv.AddAdapter(a))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-a.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("HTTP adapter did not start")
	}

	base := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(a.Port()))
	client := &http.Client{Timeout: 5 * time.Second}

	for path, want := range map[string]string{
		"/":              "<html>from s3</html>",
		"/css/style.css": "body { color: black; }",
	} {
		resp, err := client.Get(base + path)
		require.NoError(t, err, "GET %s", path)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		assert.Equal(t, http.StatusOK, resp.StatusCode, "GET %s", path)
		assert.Equal(t, want, string(body), "GET %s", path)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
