package gormkv

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealtodo/pkg/kv"
)

// Requires a reachable postgres; set SURREALTODO_TEST_POSTGRES_DSN to run.
func TestStore(t *testing.T) {
	dsn := os.Getenv("SURREALTODO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SURREALTODO_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(dsn)
	require.NoError(t, err)
	defer s.Close()

	key := "test/" + t.Name()
	_ = s.Delete(ctx, key)

	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Put(ctx, key, []byte("v1")))
	require.NoError(t, s.Put(ctx, key, []byte("v2")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestBlobTableName(t *testing.T) {
	assert.Equal(t, "surrealtodo_blobs", Blob{}.TableName())
}
