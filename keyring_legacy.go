package vold

import (
	"fmt"
	"strings"

	"github.com/aosp-pb/system-vold/internal/debug"
	"github.com/aosp-pb/system-vold/internal/wire"
)

// fscryptKeyringName is the session sub-keyring holding legacy fscrypt keys.
const fscryptKeyringName = "fscrypt"

// legacyNamePrefixes are the key-description prefixes older kernels look a
// key up under. Each filesystem searches its own prefix, so the same key is
// inserted once per prefix.
var legacyNamePrefixes = []string{"ext4", "f2fs", "fscrypt"}

func legacyKeyDescription(prefix string, ref []byte) string {
	return prefix + ":" + KeyRefString(ref)
}

// installKeyLegacy inserts the key into the session keyring under every
// prefix. The first failing prefix aborts the install; earlier insertions
// are left in place.
func (m *KeyManager) installKeyLegacy(key *KeyBuffer, ref []byte) error {
	if key.Len() != MaxKeySize {
		return fmt.Errorf("legacy key is %d bytes, want %d", key.Len(), MaxKeySize)
	}

	ringID, err := m.kern.FindKeyring(fscryptKeyringName)
	if err != nil {
		return err
	}

	// The payload embeds the raw key, so it lives in a zero-on-release buffer.
	payload, err := NewKeyBuffer(wire.LegacyKeySize)
	if err != nil {
		return err
	}
	defer payload.Destroy()

	if err = wire.EncodeLegacyKey(payload.Bytes(), key.Bytes()); err != nil {
		return err
	}

	for _, prefix := range legacyNamePrefixes {
		description := legacyKeyDescription(prefix, ref)
		keyID, err := m.kern.AddLogonKey(description, payload.Bytes(), ringID)
		if err != nil {
			return fmt.Errorf("failed to insert key into session keyring as %s: %w", description, err)
		}
		debug.Print("added key %d (%s) to session keyring %d\n", keyID, description, ringID)
	}
	return nil
}

// evictKeyLegacy removes the key from the session keyring under every
// prefix. All prefixes are attempted even when some fail; the failures are
// collected into one error.
func (m *KeyManager) evictKeyLegacy(ref []byte) error {
	ringID, err := m.kern.FindKeyring(fscryptKeyringName)
	if err != nil {
		return err
	}

	var failed []string
	for _, prefix := range legacyNamePrefixes {
		description := legacyKeyDescription(prefix, ref)

		keyID, err := m.kern.SearchLogonKey(ringID, description)
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", description, err))
			continue
		}

		// Unlink instead of revoke: revoked keys linger in a dead state
		// until garbage collection and count against the keyring quota.
		if err = m.kern.UnlinkKey(keyID, ringID); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", description, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("failed to evict key %s from session keyring: %s",
			KeyRefString(ref), strings.Join(failed, "; "))
	}
	return nil
}
