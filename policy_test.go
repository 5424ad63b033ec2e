package vold

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosp-pb/system-vold/internal/wire"
)

func TestGenerateKeyRef(t *testing.T) {
	key := testKey(t, 64)

	ref, err := GenerateKeyRef(key, false)
	require.NoError(t, err)
	assert.Len(t, ref, wire.KeyDescriptorSize)

	// Deterministic for the same key material
	again, err := GenerateKeyRef(key, false)
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	other := testKey(t, 64)
	other.Bytes()[0] ^= 0xff
	otherRef, err := GenerateKeyRef(other, false)
	require.NoError(t, err)
	assert.NotEqual(t, ref, otherRef)
}

func TestGenerateKeyRefHwWrappedSizeCheck(t *testing.T) {
	short := testKey(t, 32)
	_, err := GenerateKeyRef(short, true)
	require.Error(t, err)

	full := testKey(t, 64)
	ref, err := GenerateKeyRef(full, true)
	require.NoError(t, err)
	assert.Len(t, ref, wire.KeyDescriptorSize)
}

func TestGenerateKeyRefNilKey(t *testing.T) {
	_, err := GenerateKeyRef(nil, false)
	require.Error(t, err)
}

func TestKeyRefString(t *testing.T) {
	assert.Equal(t, "0102030405060708", KeyRefString([]byte{1, 2, 3, 4, 5, 6, 7, 8}))
}

func TestBuildKeySpecifier(t *testing.T) {
	tests := []struct {
		name     string
		version  int
		refLen   int
		wantType uint32
		wantErr  bool
	}{
		{"v1 descriptor", PolicyVersion1, wire.KeyDescriptorSize, wire.SpecTypeDescriptor, false},
		{"v1 ref too short", PolicyVersion1, 4, 0, true},
		{"v1 ref is identifier-sized", PolicyVersion1, wire.KeyIdentifierSize, 0, true},
		{"v2 identifier", PolicyVersion2, wire.KeyIdentifierSize, wire.SpecTypeIdentifier, false},
		{"v2 ref is descriptor-sized", PolicyVersion2, wire.KeyDescriptorSize, 0, true},
		{"v2 empty ref", PolicyVersion2, 0, 0, true},
		{"unknown version", 3, wire.KeyDescriptorSize, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy := EncryptionPolicy{
				Options:   EncryptionOptions{Version: tc.version},
				KeyRawRef: make([]byte, tc.refLen),
			}
			spec, err := BuildKeySpecifier(policy)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, spec.Type)
			assert.Equal(t, policy.KeyRawRef, spec.Ref)
		})
	}
}

func TestNeverGen(t *testing.T) {
	gen := NeverGen()
	assert.False(t, gen.AllowGen)
}

func TestKeyStateString(t *testing.T) {
	assert.Equal(t, "absent", KeyStateAbsent.String())
	assert.Equal(t, "present", KeyStatePresent.String())
	assert.Equal(t, "incompletely removed", KeyStateIncompletelyRemoved.String())
	assert.Equal(t, "unknown", KeyStateUnknown.String())
}
