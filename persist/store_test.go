package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test the Common Store Functionality
func testStoreImplementation(t *testing.T, store Store) {
	blob := []byte("sealed-key-blob")
	path := "key/de/userkey"
	tmpPath := "key/de/userkey.tmp"

	// Health and type
	require.NoError(t, store.Ping())
	assert.NotEmpty(t, store.GetType())

	// Nothing stored yet
	exists, err := store.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Read(path)
	require.ErrorIs(t, err, ErrNotFound)

	// Write and read back
	require.NoError(t, store.WriteAtomically(path, tmpPath, blob))

	exists, err = store.Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, blob, got)

	// Overwrite through the same atomic path
	updated := []byte("resealed-key-blob")
	require.NoError(t, store.WriteAtomically(path, tmpPath, updated))

	got, err = store.Read(path)
	require.NoError(t, err)
	assert.Equal(t, updated, got)

	// Delete and verify it is gone
	require.NoError(t, store.Delete(path))

	exists, err = store.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.ErrorIs(t, store.Delete(path), ErrNotFound)

	require.NoError(t, store.Close())
}

func TestNewStoreFactory(t *testing.T) {
	t.Run("filesystem", func(t *testing.T) {
		store, err := NewStore(StoreConfig{
			Type:   StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": t.TempDir()},
		})
		require.NoError(t, err)
		assert.Equal(t, string(StoreTypeFileSystem), store.GetType())
		require.NoError(t, store.Close())
	})

	t.Run("filesystem without base_path", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: StoreTypeFileSystem})
		require.Error(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := NewStore(StoreConfig{Type: StoreType("redis")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store type")
	})
}
