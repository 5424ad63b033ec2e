package vold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosp-pb/system-vold/persist"
)

func newStorageManager(t *testing.T) *KeyManager {
	t.Helper()
	store, err := persist.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	m, err := NewKeyManager(newFakeKernel(), store, nil, Options{ProbeMountpoint: "/data"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestStoreAndRetrieveKey(t *testing.T) {
	m := newStorageManager(t)
	auth := KeyAuthentication{Secret: "passphrase"}
	key := testKey(t, 64)
	want := append([]byte(nil), key.Bytes()...)

	require.NoError(t, m.StoreKey("keys/de", "keys/de.tmp", auth, key))

	got, err := m.RetrieveKey("keys/de", auth)
	require.NoError(t, err)
	defer got.Destroy()
	assert.Equal(t, want, got.Bytes())
}

func TestRetrieveKeyWrongSecret(t *testing.T) {
	m := newStorageManager(t)
	key := testKey(t, 64)

	require.NoError(t, m.StoreKey("keys/de", "keys/de.tmp", KeyAuthentication{Secret: "right"}, key))

	_, err := m.RetrieveKey("keys/de", KeyAuthentication{Secret: "wrong"})
	require.Error(t, err)
}

func TestRetrieveKeyRejectsWeakMaterial(t *testing.T) {
	store, err := persist.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewKeyManager(newFakeKernel(), store, nil, Options{})
	require.NoError(t, err)
	defer m.Close()

	// An all-zero blob unseals (empty secret) to visibly weak key material
	require.NoError(t, store.WriteAtomically("keys/de", "keys/de.tmp", make([]byte, 64)))

	_, err = m.RetrieveKey("keys/de", KeyAuthentication{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weak")
}

func TestRetrieveKeyMissing(t *testing.T) {
	m := newStorageManager(t)

	_, err := m.RetrieveKey("keys/nope", KeyAuthentication{})
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestSealedBlobDiffersFromRawKey(t *testing.T) {
	store, err := persist.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	m, err := NewKeyManager(newFakeKernel(), store, nil, Options{})
	require.NoError(t, err)
	defer m.Close()

	key := testKey(t, 64)
	raw := append([]byte(nil), key.Bytes()...)
	require.NoError(t, m.StoreKey("keys/de", "keys/de.tmp", KeyAuthentication{Secret: "s"}, key))

	blob, err := store.Read("keys/de")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), string(raw))
}

func TestRetrieveOrGenerateKeyGeneratesOnce(t *testing.T) {
	m := newStorageManager(t)
	auth := KeyAuthentication{Secret: "s"}
	gen := KeyGeneration{KeySize: 64, AllowGen: true}

	first, err := m.RetrieveOrGenerateKey("keys/de", "keys/de.tmp", auth, gen)
	require.NoError(t, err)
	defer first.Destroy()
	want := append([]byte(nil), first.Bytes()...)

	// Second call retrieves the stored key even when generation is forbidden
	second, err := m.RetrieveOrGenerateKey("keys/de", "keys/de.tmp", auth, NeverGen())
	require.NoError(t, err)
	defer second.Destroy()
	assert.Equal(t, want, second.Bytes())
}

func TestRetrieveOrGenerateKeyMissingWithGenForbidden(t *testing.T) {
	store, err := persist.NewFileSystemStore(filepath.Join(t.TempDir(), "keys"))
	require.NoError(t, err)
	m, err := NewKeyManager(newFakeKernel(), store, nil, Options{})
	require.NoError(t, err)
	defer m.Close()

	_, err = m.RetrieveOrGenerateKey("de", "de.tmp", KeyAuthentication{}, NeverGen())
	require.ErrorIs(t, err, ErrKeyNotFound)

	// Nothing may have been written
	exists, err := store.Exists("de")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDestroyKey(t *testing.T) {
	m := newStorageManager(t)
	key := testKey(t, 64)

	require.NoError(t, m.StoreKey("keys/de", "keys/de.tmp", KeyAuthentication{}, key))
	require.NoError(t, m.DestroyKey("keys/de"))

	_, err := m.RetrieveKey("keys/de", KeyAuthentication{})
	require.ErrorIs(t, err, ErrKeyNotFound)

	err = m.DestroyKey("keys/de")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestStoreKeyLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	store, err := persist.NewFileSystemStore(dir)
	require.NoError(t, err)
	m, err := NewKeyManager(newFakeKernel(), store, nil, Options{})
	require.NoError(t, err)
	defer m.Close()

	key := testKey(t, 64)
	require.NoError(t, m.StoreKey("de", "de.tmp", KeyAuthentication{}, key))

	_, err = os.Stat(filepath.Join(dir, "de.tmp"))
	assert.True(t, os.IsNotExist(err))
}
