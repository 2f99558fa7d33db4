package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectStore_PutGet_RoundTrips(t *testing.T) {
	client := NewMockS3Client()
	client.Buckets["artifacts"] = true
	store := NewObjectStore(client, "artifacts")

	key := RawKey(1, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), "deadbeef")
	assert.Equal(t, "raw/1/1970/01/01/deadbeef.bin", key)

	uri, err := store.Put(context.Background(), key, []byte("hello"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/raw/1/1970/01/01/deadbeef.bin", uri)

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestObjectStore_Exists_FalseWhenMissing(t *testing.T) {
	client := NewMockS3Client()
	store := NewObjectStore(client, "artifacts")

	ok, err := store.Exists(context.Background(), "parsed/1/1.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectStore_Exists_TrueAfterPut(t *testing.T) {
	client := NewMockS3Client()
	store := NewObjectStore(client, "artifacts")

	key := ParsedKey(1, 1)
	_, err := store.Put(context.Background(), key, []byte(`{}`), "application/json")
	require.NoError(t, err)

	ok, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDiffKey_Format(t *testing.T) {
	assert.Equal(t, "diffs/9/3.json", DiffKey(9, 3))
}
