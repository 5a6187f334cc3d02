package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealtodo/pkg/kv"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "todo.db")

	s, err := Open(path)
	require.NoError(t, err)

	_, err = s.Get(ctx, kv.KeyQueue)
	require.ErrorIs(t, err, kv.ErrNotFound)

	require.NoError(t, s.Put(ctx, kv.KeyQueue, []byte("v1")))
	require.NoError(t, s.Put(ctx, kv.KeyQueue, []byte("v2")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, kv.KeyQueue)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	require.NoError(t, s.Delete(ctx, kv.KeyQueue))
	_, err = s.Get(ctx, kv.KeyQueue)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
