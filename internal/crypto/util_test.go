package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosp-pb/system-vold/internal/misc"
)

func TestSealOpenRoundTrip(t *testing.T) {
	blob := make([]byte, 64)
	_, err := rand.Read(blob)
	require.NoError(t, err)

	sealed, err := SealWithSecret(blob, "correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, blob, sealed)
	assert.Greater(t, len(sealed), len(blob))

	opened, err := OpenWithSecret(sealed, "correct horse battery staple")
	require.NoError(t, err)
	assert.Equal(t, blob, opened)
}

func TestOpenWithWrongSecretFails(t *testing.T) {
	sealed, err := SealWithSecret([]byte("key material"), "right")
	require.NoError(t, err)

	_, err = OpenWithSecret(sealed, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authentication failed")
}

func TestEmptySecretPassthrough(t *testing.T) {
	blob := []byte{1, 2, 3, 4}

	sealed, err := SealWithSecret(blob, "")
	require.NoError(t, err)
	assert.Equal(t, blob, sealed)

	opened, err := OpenWithSecret(sealed, "")
	require.NoError(t, err)
	assert.Equal(t, blob, opened)
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	_, err := OpenWithSecret(make([]byte, 10), "secret")
	require.Error(t, err)
}

func TestSealedBlobsDiffer(t *testing.T) {
	// Fresh salt and nonce every call
	a, err := SealWithSecret([]byte("same input"), "secret")
	require.NoError(t, err)
	b, err := SealWithSecret([]byte("same input"), "secret")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, misc.SaltSize)

	k1, err := DeriveKey([]byte("secret"), salt)
	require.NoError(t, err)
	defer k1.Destroy()

	k2, err := DeriveKey([]byte("secret"), salt)
	require.NoError(t, err)
	defer k2.Destroy()

	assert.Equal(t, k1.Bytes(), k2.Bytes())
	assert.Len(t, k1.Bytes(), int(misc.ArgonKeyLen))
}

func TestDeriveKeyRejectsBadSalt(t *testing.T) {
	_, err := DeriveKey([]byte("secret"), []byte("short"))
	require.Error(t, err)
}

func TestIsWeakKey(t *testing.T) {
	assert.True(t, IsWeakKey(nil))
	assert.True(t, IsWeakKey(make([]byte, 16)))
	assert.True(t, IsWeakKey(make([]byte, 64)))               // all zeros
	assert.True(t, IsWeakKey(bytes.Repeat([]byte{0xAA}, 64))) // all same

	patterned := make([]byte, 64)
	for i := range patterned {
		patterned[i] = byte(i % 4)
	}
	assert.True(t, IsWeakKey(patterned))

	random := make([]byte, 64)
	_, err := rand.Read(random)
	require.NoError(t, err)
	assert.False(t, IsWeakKey(random))
}
