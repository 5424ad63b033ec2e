package vold

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/aosp-pb/system-vold/internal/wire"
)

// Policy versions understood by the kernel.
const (
	// PolicyVersion1 policies name their key by an 8-byte caller-derived
	// descriptor.
	PolicyVersion1 = 1

	// PolicyVersion2 policies name their key by a 16-byte identifier the
	// kernel assigns at install time.
	PolicyVersion2 = 2
)

// MaxKeySize is the largest raw key the kernel accepts. Hardware-wrapped
// keys are always exactly this long.
const MaxKeySize = wire.MaxKeySize

// EncryptionOptions selects how a key is presented to the kernel.
type EncryptionOptions struct {
	// Version is the policy version, PolicyVersion1 or PolicyVersion2.
	Version int

	// UseHwWrappedKey marks the key as hardware-wrapped: the raw bytes are
	// opaque to the kernel's crypto layer and only the first half carries
	// stable entropy.
	UseHwWrappedKey bool
}

// EncryptionPolicy names an installed key: the options it was installed with
// plus its raw reference (v1 descriptor or v2 identifier).
type EncryptionPolicy struct {
	Options   EncryptionOptions
	KeyRawRef []byte
}

// KeyGeneration controls how missing keys are created.
type KeyGeneration struct {
	// KeySize is the raw key size in bytes.
	KeySize int

	// AllowGen permits generating a fresh key when none is stored.
	AllowGen bool

	// UseHwWrappedKey requests a hardware-wrapped key, which requires
	// KeySize == MaxKeySize and a configured wrapped-key generator.
	UseHwWrappedKey bool
}

// NeverGen returns a KeyGeneration that forbids creating new keys, for
// callers that only ever retrieve existing ones.
func NeverGen() KeyGeneration {
	return KeyGeneration{AllowGen: false}
}

// KeyState describes the kernel's view of an installed key.
type KeyState int

const (
	KeyStateUnknown KeyState = iota
	KeyStateAbsent
	KeyStatePresent
	KeyStateIncompletelyRemoved
)

func (s KeyState) String() string {
	switch s {
	case KeyStateAbsent:
		return "absent"
	case KeyStatePresent:
		return "present"
	case KeyStateIncompletelyRemoved:
		return "incompletely removed"
	default:
		return "unknown"
	}
}

// GenerateKeyRef derives the stable reference for a key: the first 8 bytes of
// a double SHA-512 over the key material. For hardware-wrapped keys only the
// first half of the buffer is hashed, since the wrapping metadata in the
// second half is not stable across reboots.
func GenerateKeyRef(key *KeyBuffer, hwWrapped bool) ([]byte, error) {
	if key == nil || key.Len() == 0 {
		return nil, fmt.Errorf("key is required")
	}

	data := key.Bytes()
	if hwWrapped {
		if key.Len() != MaxKeySize {
			return nil, fmt.Errorf("hw-wrapped key is %d bytes, want %d", key.Len(), MaxKeySize)
		}
		data = data[:len(data)/2]
	}

	first := sha512.Sum512(data)
	second := sha512.Sum512(first[:])

	ref := make([]byte, wire.KeyDescriptorSize)
	copy(ref, second[:wire.KeyDescriptorSize])
	return ref, nil
}

// KeyRefString renders a key reference for logs and display.
func KeyRefString(ref []byte) string {
	return hex.EncodeToString(ref)
}

// BuildKeySpecifier converts a policy into the specifier the key-management
// ioctls take. Pure validation and conversion, no kernel interaction.
func BuildKeySpecifier(policy EncryptionPolicy) (wire.KeySpecifier, error) {
	switch policy.Options.Version {
	case PolicyVersion1:
		if len(policy.KeyRawRef) != wire.KeyDescriptorSize {
			return wire.KeySpecifier{}, fmt.Errorf(
				"policy v1 key reference is %d bytes, want %d", len(policy.KeyRawRef), wire.KeyDescriptorSize)
		}
		return wire.KeySpecifier{Type: wire.SpecTypeDescriptor, Ref: policy.KeyRawRef}, nil

	case PolicyVersion2:
		if len(policy.KeyRawRef) != wire.KeyIdentifierSize {
			return wire.KeySpecifier{}, fmt.Errorf(
				"policy v2 key reference is %d bytes, want %d", len(policy.KeyRawRef), wire.KeyIdentifierSize)
		}
		return wire.KeySpecifier{Type: wire.SpecTypeIdentifier, Ref: policy.KeyRawRef}, nil

	default:
		return wire.KeySpecifier{}, fmt.Errorf("unknown policy version %d", policy.Options.Version)
	}
}
