//go:build integration

package results

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/shyim/perfaudit/internal/catalog"
)

func TestS3Store(t *testing.T) {
	ctx := context.Background()

	ctr, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername("perfaudit"),
		minio.WithPassword("perfaudit-secret"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := NewS3Store(ctx, S3Options{
		Endpoint:  "http://" + endpoint,
		AccessKey: ctr.Username,
		SecretKey: ctr.Password,
		Bucket:    "audits",
		Prefix:    "raw",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	keys := []Key{
		{Site: 1, Device: catalog.Mobile, URLHash: "aa", Run: 1},
		{Site: 1, Device: catalog.Desktop, URLHash: "aa", Run: 1, Debug: true},
		{Site: 10, Device: catalog.Mobile, URLHash: "bb", Run: 1},
	}
	for _, k := range keys {
		require.NoError(t, store.Put(ctx, k, []byte(k.Name())))
	}

	listed, err := store.List(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, keys[:1], listed)

	data, err := store.Get(ctx, keys[2])
	require.NoError(t, err)
	assert.Equal(t, keys[2].Name(), string(data))

	require.NoError(t, store.Delete(ctx, keys[2]))
	_, err = store.Get(ctx, keys[2])
	assert.ErrorIs(t, err, ErrNotFound)
}
