//go:build integration

package testutils

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// MinioEnv is a running Minio server holding one bucket.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string
}

// Close terminates the Minio container.
func (e *MinioEnv) Close(ctx context.Context) error {
	return e.Container.Terminate(ctx)
}

// OpenBucket opens the bucket for verification.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts Minio, creates bucket with the bundled mc
// client and exports credentials for s3blob into the test's environment.
func StartMinioContainer(t *testing.T, ctx context.Context, bucket string) *MinioEnv {
	t.Helper()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio: %v", err)
	}

	mb := fmt.Sprintf("mc alias set local http://127.0.0.1:9000 %s %s && mc mb local/%s",
		minioUser, minioPassword, bucket)
	if code, _, err := c.Exec(ctx, []string{"sh", "-c", mb}); err != nil || code != 0 {
		c.Terminate(ctx)
		t.Fatalf("create bucket %s: exit %d: %v", bucket, code, err)
	}

	endpoint, err := c.PortEndpoint(ctx, "9000/tcp", "http")
	if err != nil {
		c.Terminate(ctx)
		t.Fatalf("minio endpoint: %v", err)
	}

	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &MinioEnv{
		Container: c,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucket, endpoint),
	}
}
