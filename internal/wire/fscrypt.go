// Package wire converts between the domain key types and the fixed-layout
// structures the kernel key-management ioctls consume. All layouts match
// <linux/fscrypt.h>; every encode/decode validates buffer lengths before
// copying, and the raw layouts never leave this package.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Sizes and values from <linux/fscrypt.h>.
const (
	// KeyDescriptorSize is the length of a v1 policy key descriptor.
	KeyDescriptorSize = 8

	// KeyIdentifierSize is the length of a kernel-assigned v2 key identifier.
	KeyIdentifierSize = 16

	// MaxKeySize is the maximum raw key size accepted by the kernel
	// (FSCRYPT_MAX_KEY_SIZE). Hardware-wrapped keys are always this long:
	// 32 bytes of stable entropy plus wrapping metadata.
	MaxKeySize = 64

	// Key specifier types (fscrypt_key_specifier.type).
	SpecTypeDescriptor uint32 = 1
	SpecTypeIdentifier uint32 = 2

	// Key status values (fscrypt_get_key_status_arg.status).
	KeyStatusAbsent              uint32 = 1
	KeyStatusPresent             uint32 = 2
	KeyStatusIncompletelyRemoved uint32 = 3

	// Removal status flags (fscrypt_remove_key_arg.removal_status_flags).
	RemovalFlagFilesBusy  uint32 = 0x1
	RemovalFlagOtherUsers uint32 = 0x2

	// AddKeyFlagHWWrapped marks the raw bytes of an add-key request as a
	// hardware-wrapped key (__FSCRYPT_ADD_KEY_FLAG_HW_WRAPPED).
	AddKeyFlagHWWrapped uint32 = 0x1
)

// Struct sizes, in bytes.
const (
	// keySpecifierSize is sizeof(struct fscrypt_key_specifier):
	// u32 type, u32 reserved, 32-byte payload union.
	keySpecifierSize = 40

	// AddKeyArgSize is the header size of struct fscrypt_add_key_arg; the
	// raw key bytes follow it. Layout: key_spec(40), raw_size(4),
	// key_id(4), reserved(28), flags(4).
	AddKeyArgSize = 80

	// RemoveKeyArgSize is sizeof(struct fscrypt_remove_key_arg):
	// key_spec(40), removal_status_flags(4), reserved(20).
	RemoveKeyArgSize = 64

	// GetKeyStatusArgSize is sizeof(struct fscrypt_get_key_status_arg):
	// key_spec(40), reserved(24), status(4), status_flags(4),
	// user_count(4), out_reserved(52).
	GetKeyStatusArgSize = 128

	// LegacyKeySize is sizeof(struct fscrypt_key) used by the session
	// keyring path: u32 mode, raw[64], u32 size.
	LegacyKeySize = 72
)

// Field offsets within the structs above.
const (
	specPayloadOffset    = 8
	addKeyRawSizeOffset  = 40
	addKeyFlagsOffset    = 76
	removeKeyFlagsOffset = 40
	statusOffset         = 64
	statusFlagsOffset    = 68
	legacyRawOffset      = 4
	legacyRawSizeOffset  = 68
)

// KeySpecifier names a key to the kernel: an 8-byte caller-chosen descriptor
// for v1 policies, or a 16-byte kernel-assigned identifier for v2. For a v2
// add-key request Ref may be empty; the kernel fills the identifier in.
type KeySpecifier struct {
	Type uint32
	Ref  []byte
}

func specRefSize(specType uint32) (int, error) {
	switch specType {
	case SpecTypeDescriptor:
		return KeyDescriptorSize, nil
	case SpecTypeIdentifier:
		return KeyIdentifierSize, nil
	default:
		return 0, fmt.Errorf("unknown key specifier type %d", specType)
	}
}

func encodeKeySpecifier(dst []byte, spec KeySpecifier) error {
	if len(dst) < keySpecifierSize {
		return fmt.Errorf("key specifier needs %d bytes, have %d", keySpecifierSize, len(dst))
	}
	want, err := specRefSize(spec.Type)
	if err != nil {
		return err
	}
	if len(spec.Ref) != 0 && len(spec.Ref) != want {
		return fmt.Errorf("key specifier reference is %d bytes, want %d", len(spec.Ref), want)
	}
	binary.LittleEndian.PutUint32(dst[0:4], spec.Type)
	copy(dst[specPayloadOffset:specPayloadOffset+want], spec.Ref)
	return nil
}

// EncodeAddKeyArg writes a struct fscrypt_add_key_arg followed by the raw key
// bytes into dst. dst must be exactly AddKeyArgSize+len(raw) bytes and, since
// it carries key material, should live in a zero-on-release buffer.
func EncodeAddKeyArg(dst []byte, spec KeySpecifier, raw []byte, hwWrapped bool) error {
	if len(dst) != AddKeyArgSize+len(raw) {
		return fmt.Errorf("add-key arg needs %d bytes, have %d", AddKeyArgSize+len(raw), len(dst))
	}
	if len(raw) == 0 || len(raw) > MaxKeySize {
		return fmt.Errorf("raw key is %d bytes, want 1..%d", len(raw), MaxKeySize)
	}
	if err := encodeKeySpecifier(dst[:keySpecifierSize], spec); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(dst[addKeyRawSizeOffset:addKeyRawSizeOffset+4], uint32(len(raw)))
	if hwWrapped {
		binary.LittleEndian.PutUint32(dst[addKeyFlagsOffset:addKeyFlagsOffset+4], AddKeyFlagHWWrapped)
	}
	copy(dst[AddKeyArgSize:], raw)
	return nil
}

// DecodeAddKeyIdentifier extracts the kernel-assigned identifier written back
// into an add-key arg whose specifier type is SpecTypeIdentifier.
func DecodeAddKeyIdentifier(arg []byte) ([]byte, error) {
	if len(arg) < AddKeyArgSize {
		return nil, fmt.Errorf("add-key arg is %d bytes, want at least %d", len(arg), AddKeyArgSize)
	}
	if t := binary.LittleEndian.Uint32(arg[0:4]); t != SpecTypeIdentifier {
		return nil, fmt.Errorf("add-key arg specifier type %d carries no identifier", t)
	}
	id := make([]byte, KeyIdentifierSize)
	copy(id, arg[specPayloadOffset:specPayloadOffset+KeyIdentifierSize])
	return id, nil
}

// EncodeRemoveKeyArg writes a struct fscrypt_remove_key_arg into dst, which
// must be exactly RemoveKeyArgSize bytes.
func EncodeRemoveKeyArg(dst []byte, spec KeySpecifier) error {
	if len(dst) != RemoveKeyArgSize {
		return fmt.Errorf("remove-key arg needs %d bytes, have %d", RemoveKeyArgSize, len(dst))
	}
	return encodeKeySpecifier(dst[:keySpecifierSize], spec)
}

// DecodeRemovalStatusFlags reads the removal_status_flags the kernel wrote
// back into a remove-key arg.
func DecodeRemovalStatusFlags(arg []byte) (uint32, error) {
	if len(arg) != RemoveKeyArgSize {
		return 0, fmt.Errorf("remove-key arg is %d bytes, want %d", len(arg), RemoveKeyArgSize)
	}
	return binary.LittleEndian.Uint32(arg[removeKeyFlagsOffset : removeKeyFlagsOffset+4]), nil
}

// EncodeGetKeyStatusArg writes a struct fscrypt_get_key_status_arg into dst,
// which must be exactly GetKeyStatusArgSize bytes.
func EncodeGetKeyStatusArg(dst []byte, spec KeySpecifier) error {
	if len(dst) != GetKeyStatusArgSize {
		return fmt.Errorf("get-key-status arg needs %d bytes, have %d", GetKeyStatusArgSize, len(dst))
	}
	return encodeKeySpecifier(dst[:keySpecifierSize], spec)
}

// DecodeKeyStatus reads the status field the kernel wrote back into a
// get-key-status arg.
func DecodeKeyStatus(arg []byte) (uint32, error) {
	if len(arg) != GetKeyStatusArgSize {
		return 0, fmt.Errorf("get-key-status arg is %d bytes, want %d", len(arg), GetKeyStatusArgSize)
	}
	return binary.LittleEndian.Uint32(arg[statusOffset : statusOffset+4]), nil
}

// EncodeLegacyKey writes a struct fscrypt_key for the session keyring path
// into dst, which must be exactly LegacyKeySize bytes. The mode field is left
// zero; the kernel ignores it. The raw key must be exactly MaxKeySize bytes,
// matching the fixed raw array in the struct. dst carries key material and
// should live in a zero-on-release buffer.
func EncodeLegacyKey(dst []byte, raw []byte) error {
	if len(dst) != LegacyKeySize {
		return fmt.Errorf("legacy key needs %d bytes, have %d", LegacyKeySize, len(dst))
	}
	if len(raw) != MaxKeySize {
		return fmt.Errorf("legacy raw key is %d bytes, want %d", len(raw), MaxKeySize)
	}
	copy(dst[legacyRawOffset:legacyRawOffset+MaxKeySize], raw)
	binary.LittleEndian.PutUint32(dst[legacyRawSizeOffset:legacyRawSizeOffset+4], uint32(len(raw)))
	return nil
}
