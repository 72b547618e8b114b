// Package storagetest holds the behaviour every storage.Backend must share.
package storagetest

import (
	"context"
	"testing"

	"github.com/italolelis/movie_request_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises backend against the storage.Backend contract. The backend must start empty.
func Run(t *testing.T, backend storage.Backend) {
	t.Helper()

	ctx := context.Background()

	t.Run("load empty", func(t *testing.T) {
		_, err := backend.Load(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("drop empty", func(t *testing.T) {
		assert.NoError(t, backend.Drop(ctx))
	})

	t.Run("save replaces whole document", func(t *testing.T) {
		require.NoError(t, backend.Save(ctx, []byte(`{"version":0,"all_requests":[{"ref_count":2}]}`)))
		require.NoError(t, backend.Save(ctx, []byte(`{"version":0}`)))

		got, err := backend.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, `{"version":0}`, string(got))
	})

	t.Run("drop removes document", func(t *testing.T) {
		require.NoError(t, backend.Save(ctx, []byte(`{}`)))
		require.NoError(t, backend.Drop(ctx))

		_, err := backend.Load(ctx)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
