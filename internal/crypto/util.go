package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/aosp-pb/system-vold/internal/misc"
)

// SealWithSecret encrypts a key blob under a caller-supplied secret using
// argon2id + ChaCha20-Poly1305. Output layout: salt + nonce + ciphertext.
// An empty secret returns the blob unchanged, so unauthenticated key files
// round-trip through the same code path.
func SealWithSecret(data []byte, secret string) ([]byte, error) {
	if secret == "" {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key, err := DeriveKey([]byte(secret), salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, data, nil)

	// Combine: salt + nonce + ciphertext
	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)
	return result, nil
}

// OpenWithSecret reverses SealWithSecret. An empty secret returns the blob
// unchanged.
func OpenWithSecret(blob []byte, secret string) ([]byte, error) {
	if secret == "" {
		out := make([]byte, len(blob))
		copy(out, blob)
		return out, nil
	}

	if len(blob) < misc.SaltSize+chacha20poly1305.NonceSize {
		return nil, errors.New("sealed blob too short")
	}

	salt := blob[:misc.SaltSize]
	nonce := blob[misc.SaltSize : misc.SaltSize+chacha20poly1305.NonceSize]
	ciphertext := blob[misc.SaltSize+chacha20poly1305.NonceSize:]

	key, err := DeriveKey([]byte(secret), salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return plaintext, nil
}

// DeriveKey stretches a secret into a cipher key with argon2id. The result
// lives in locked memory; callers must Destroy it.
func DeriveKey(secret, salt []byte) (*memguard.LockedBuffer, error) {
	if len(salt) != misc.SaltSize {
		return nil, fmt.Errorf("salt is %d bytes, want %d", len(salt), misc.SaltSize)
	}

	derivedKey := argon2.IDKey(
		secret,
		salt,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	// Protect the derived key immediately, then wipe the unprotected copy
	protectedKey := memguard.NewBufferFromBytes(derivedKey)
	memguard.WipeBytes(derivedKey)

	return protectedKey, nil
}

// IsWeakKey flags key material that is too short or visibly low-entropy.
func IsWeakKey(key []byte) bool {
	if len(key) < 32 {
		return true
	}

	// Check for all same byte (covers all zeros)
	firstByte := key[0]
	allSame := true
	for _, b := range key[1:] {
		if b != firstByte {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Basic entropy check - count unique bytes
	uniqueBytes := make(map[byte]bool)
	for _, b := range key {
		uniqueBytes[b] = true
	}

	// Should have reasonable variety (at least 16 different byte values)
	return len(uniqueBytes) < 16
}
