//go:build integration

package testutils

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
)

const (
	minioImage     = "minio/minio:latest"
	minioAccessKey = "minioadmin"
	minioSecretKey = "minioadmin"
)

// Minio is an S3 compatible bucket running in a container.
type Minio struct {
	Container testcontainers.Container
	Bucket    string
	BucketURL string
	Endpoint  string
}

// OpenBucket opens the bucket through the registered s3blob driver.
func (m *Minio) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, m.BucketURL)
}

// StartMinio starts a minio container holding an empty bucket. The
// container is terminated when the test ends; AWS credentials for it are
// set in the test environment.
func StartMinio(ctx context.Context, t *testing.T, bucket string) *Minio {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        minioImage,
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioAccessKey,
				"MINIO_ROOT_PASSWORD": minioSecretKey,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate minio container: %v", err)
		}
	})

	// The server image ships the mc client.
	for _, cmd := range [][]string{
		{"mc", "alias", "set", "local", "http://127.0.0.1:9000", minioAccessKey, minioSecretKey},
		{"mc", "mb", "--ignore-existing", "local/" + bucket},
	} {
		code, out, err := container.Exec(ctx, cmd)
		if err != nil {
			t.Fatalf("exec %v: %v", cmd, err)
		}
		if code != 0 {
			msg, _ := io.ReadAll(out)
			t.Fatalf("exec %v: exit code %d: %s", cmd, code, msg)
		}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	t.Setenv("AWS_ACCESS_KEY_ID", minioAccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioSecretKey)

	return &Minio{
		Container: container,
		Bucket:    bucket,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1", bucket, endpoint),
		Endpoint:  endpoint,
	}
}
