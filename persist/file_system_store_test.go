package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	// Run the generic store tests
	testStoreImplementation(t, store)
}

func TestFileSystemStoreRequiresBasePath(t *testing.T) {
	_, err := NewFileSystemStore("")
	require.Error(t, err)
}

func TestFileSystemStoreBlobPermissions(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileSystemStore(base)
	require.NoError(t, err)

	require.NoError(t, store.WriteAtomically("userkey", "userkey.tmp", []byte("blob")))

	info, err := os.Stat(filepath.Join(base, "userkey"))
	require.NoError(t, err)
	assert.Equal(t, FilePermissions, info.Mode().Perm())
}

func TestFileSystemStoreLeavesNoTempFile(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileSystemStore(base)
	require.NoError(t, err)

	require.NoError(t, store.WriteAtomically("userkey", "userkey.tmp", []byte("blob")))

	_, err = os.Stat(filepath.Join(base, "userkey.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSystemStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read("../outside")
	require.Error(t, err)

	// Nested elements that only escape after cleaning must be caught too.
	_, err = store.Read("a/../../outside")
	require.Error(t, err)

	err = store.WriteAtomically("../outside", "../outside.tmp", []byte("blob"))
	require.Error(t, err)

	err = store.WriteAtomically("userkey", "a/../../outside.tmp", []byte("blob"))
	require.Error(t, err)
}

func TestFileSystemStoreCreatesNestedDirs(t *testing.T) {
	base := t.TempDir()
	store, err := NewFileSystemStore(base)
	require.NoError(t, err)

	require.NoError(t, store.WriteAtomically("user/10/de/key", "user/10/de/key.tmp", []byte("blob")))

	got, err := store.Read("user/10/de/key")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	info, err := os.Stat(filepath.Join(base, "user", "10", "de"))
	require.NoError(t, err)
	assert.Equal(t, DirPermissions, info.Mode().Perm())
}
