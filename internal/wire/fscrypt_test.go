package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAddKeyArgLayout(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 32)
	ref := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dst := make([]byte, AddKeyArgSize+len(raw))

	err := EncodeAddKeyArg(dst, KeySpecifier{Type: SpecTypeDescriptor, Ref: ref}, raw, false)
	require.NoError(t, err)

	assert.Equal(t, SpecTypeDescriptor, binary.LittleEndian.Uint32(dst[0:4]))
	assert.Equal(t, ref, dst[8:16])
	assert.Equal(t, uint32(len(raw)), binary.LittleEndian.Uint32(dst[40:44]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(dst[76:80]))
	assert.Equal(t, raw, dst[AddKeyArgSize:])
}

func TestEncodeAddKeyArgHwWrappedFlag(t *testing.T) {
	raw := bytes.Repeat([]byte{0xCD}, MaxKeySize)
	dst := make([]byte, AddKeyArgSize+len(raw))

	err := EncodeAddKeyArg(dst, KeySpecifier{Type: SpecTypeIdentifier}, raw, true)
	require.NoError(t, err)

	assert.Equal(t, AddKeyFlagHWWrapped, binary.LittleEndian.Uint32(dst[76:80]))
}

func TestEncodeAddKeyArgValidation(t *testing.T) {
	raw := bytes.Repeat([]byte{1}, 32)

	// wrong dst length
	err := EncodeAddKeyArg(make([]byte, AddKeyArgSize), KeySpecifier{Type: SpecTypeDescriptor}, raw, false)
	require.Error(t, err)

	// oversized raw key
	big := make([]byte, MaxKeySize+1)
	err = EncodeAddKeyArg(make([]byte, AddKeyArgSize+len(big)), KeySpecifier{Type: SpecTypeIdentifier}, big, false)
	require.Error(t, err)

	// empty raw key
	err = EncodeAddKeyArg(make([]byte, AddKeyArgSize), KeySpecifier{Type: SpecTypeIdentifier}, nil, false)
	require.Error(t, err)

	// descriptor ref of wrong size
	err = EncodeAddKeyArg(make([]byte, AddKeyArgSize+32),
		KeySpecifier{Type: SpecTypeDescriptor, Ref: []byte{1, 2, 3}}, raw, false)
	require.Error(t, err)

	// unknown specifier type
	err = EncodeAddKeyArg(make([]byte, AddKeyArgSize+32), KeySpecifier{Type: 9}, raw, false)
	require.Error(t, err)
}

func TestDecodeAddKeyIdentifier(t *testing.T) {
	raw := bytes.Repeat([]byte{2}, 32)
	dst := make([]byte, AddKeyArgSize+len(raw))
	require.NoError(t, EncodeAddKeyArg(dst, KeySpecifier{Type: SpecTypeIdentifier}, raw, false))

	// simulate the kernel writing the identifier back into the specifier union
	assigned := bytes.Repeat([]byte{0xEE}, KeyIdentifierSize)
	copy(dst[8:8+KeyIdentifierSize], assigned)

	id, err := DecodeAddKeyIdentifier(dst)
	require.NoError(t, err)
	assert.Equal(t, assigned, id)

	// a descriptor-typed arg carries no identifier
	descArg := make([]byte, AddKeyArgSize+len(raw))
	require.NoError(t, EncodeAddKeyArg(descArg,
		KeySpecifier{Type: SpecTypeDescriptor, Ref: make([]byte, KeyDescriptorSize)}, raw, false))
	_, err = DecodeAddKeyIdentifier(descArg)
	require.Error(t, err)
}

func TestRemoveKeyArgRoundTrip(t *testing.T) {
	ref := bytes.Repeat([]byte{9}, KeyIdentifierSize)
	dst := make([]byte, RemoveKeyArgSize)
	require.NoError(t, EncodeRemoveKeyArg(dst, KeySpecifier{Type: SpecTypeIdentifier, Ref: ref}))

	assert.Equal(t, SpecTypeIdentifier, binary.LittleEndian.Uint32(dst[0:4]))
	assert.Equal(t, ref, dst[8:8+KeyIdentifierSize])

	// kernel writes removal status flags back at offset 40
	binary.LittleEndian.PutUint32(dst[40:44], RemovalFlagFilesBusy|RemovalFlagOtherUsers)
	flags, err := DecodeRemovalStatusFlags(dst)
	require.NoError(t, err)
	assert.Equal(t, RemovalFlagFilesBusy|RemovalFlagOtherUsers, flags)

	_, err = DecodeRemovalStatusFlags(dst[:10])
	require.Error(t, err)
}

func TestGetKeyStatusArgRoundTrip(t *testing.T) {
	ref := bytes.Repeat([]byte{4}, KeyIdentifierSize)
	dst := make([]byte, GetKeyStatusArgSize)
	require.NoError(t, EncodeGetKeyStatusArg(dst, KeySpecifier{Type: SpecTypeIdentifier, Ref: ref}))

	// kernel writes the status at offset 64
	binary.LittleEndian.PutUint32(dst[64:68], KeyStatusIncompletelyRemoved)
	status, err := DecodeKeyStatus(dst)
	require.NoError(t, err)
	assert.Equal(t, KeyStatusIncompletelyRemoved, status)

	_, err = DecodeKeyStatus(dst[:64])
	require.Error(t, err)
}

func TestEncodeLegacyKey(t *testing.T) {
	raw := bytes.Repeat([]byte{0x5A}, MaxKeySize)
	dst := make([]byte, LegacyKeySize)
	require.NoError(t, EncodeLegacyKey(dst, raw))

	// mode field stays zero, raw at offset 4, size trailer at offset 68
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(dst[0:4]))
	assert.Equal(t, raw, dst[4:4+MaxKeySize])
	assert.Equal(t, uint32(MaxKeySize), binary.LittleEndian.Uint32(dst[68:72]))

	require.Error(t, EncodeLegacyKey(dst, raw[:32]))
	require.Error(t, EncodeLegacyKey(make([]byte, 10), raw))
}
