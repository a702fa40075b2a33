package s3_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chirino/vaulthalla/internal/plugin/storage/s3"
	"github.com/chirino/vaulthalla/internal/testutil/tests3"
)

// TestBackend_PutGetRemove exercises the S3 backend against a disposable
// LocalStack container rather than mocking the AWS SDK client directly.
func TestBackend_PutGetRemove(t *testing.T) {
	bucket := tests3.StartS3(t)

	backend, err := s3.New(s3.Config{
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Region:    os.Getenv("AWS_REGION"),
		Endpoint:  os.Getenv("AWS_ENDPOINT_URL"),
		Bucket:    bucket,
		VaultID:   uuid.New(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, backend.Put(ctx, "notes/readme.txt", []byte("hello vault")))

	data, err := backend.Get(ctx, "notes/readme.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello vault"), data)

	keys, err := backend.List(ctx)
	require.NoError(t, err)
	require.Contains(t, keys, "notes/readme.txt")

	require.NoError(t, backend.Remove(ctx, "notes/readme.txt"))

	_, err = backend.Get(ctx, "notes/readme.txt")
	require.Error(t, err)
}
