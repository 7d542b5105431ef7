package objectstore_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupMinIO spins up a MinIO container and returns an S3Store bound to a fresh bucket.
func setupMinIO(t *testing.T) *objectstore.S3Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	s, err := objectstore.NewS3Store(ctx, config.S3Config{
		Bucket:          "clipforge-test",
		Region:          "us-east-1",
		Endpoint:        "http://" + host + ":" + port.Port(),
		ForcePathStyle:  true,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	})
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(ctx))
	require.NoError(t, s.EnsureBucket(ctx))
	require.NoError(t, s.Ping(ctx))
	return s
}

func TestS3Store_PresignedRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupMinIO(t)
	ctx := context.Background()
	key := objectstore.GenerateKey("clip.mp4", "videos")

	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	putURL, err := s.PresignPut(ctx, key, "video/mp4", time.Minute)
	require.NoError(t, err)

	body := []byte("not really a video")
	req, err := http.NewRequest(http.MethodPut, putURL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "video/mp4")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ok, err = s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	md, err := s.Metadata(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), md.Size)
	assert.Equal(t, "video/mp4", md.ContentType)

	getURL, err := s.PresignGet(ctx, key, time.Minute)
	require.NoError(t, err)
	resp, err = http.Get(getURL)
	require.NoError(t, err)
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestS3Store_UploadAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupMinIO(t)
	ctx := context.Background()
	key := "transcoded/1-abc-job_720p.mp4"

	loc, err := s.Upload(ctx, key, strings.NewReader("output"), 6, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "s3://clipforge-test/"+key, loc)

	gotKey, err := s.KeyFromLocator(loc)
	require.NoError(t, err)
	assert.Equal(t, key, gotKey)

	require.NoError(t, s.Delete(ctx, key))
	ok, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error.
	assert.NoError(t, s.Delete(ctx, key))

	_, err = s.Metadata(ctx, key)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}
