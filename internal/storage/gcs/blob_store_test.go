package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "quarantine"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket is required")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "quarantine"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
	_, err = store.GetObject(context.Background(), " ")
	require.ErrorContains(t, err, "path is required")
	require.ErrorContains(t, store.DeleteObject(context.Background(), ""), "path is required")
	require.NoError(t, store.Close())
}
