package vold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyBuffer(t *testing.T) {
	buf, err := NewKeyBuffer(64)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.Equal(t, 64, buf.Len())
	assert.Equal(t, make([]byte, 64), buf.Bytes())

	_, err = NewKeyBuffer(0)
	require.Error(t, err)
	_, err = NewKeyBuffer(-1)
	require.Error(t, err)
}

func TestNewKeyBufferFromBytes(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	buf, err := NewKeyBufferFromBytes(src)
	require.NoError(t, err)
	defer buf.Destroy()

	assert.Equal(t, []byte{1, 2, 3, 4}, buf.Bytes())
	// The source slice is wiped by the move
	assert.Equal(t, make([]byte, 4), src)

	_, err = NewKeyBufferFromBytes(nil)
	require.Error(t, err)
}

func TestKeyBufferDestroyIsIdempotent(t *testing.T) {
	buf, err := NewKeyBuffer(16)
	require.NoError(t, err)

	buf.Destroy()
	buf.Destroy()

	var nilBuf *KeyBuffer
	nilBuf.Destroy()
}
