package vold

import (
	"errors"
	"fmt"
	"time"

	"github.com/aosp-pb/system-vold/internal/crypto"
	"github.com/aosp-pb/system-vold/metrics"
	"github.com/aosp-pb/system-vold/persist"
)

// KeyAuthentication protects stored key blobs. A non-empty Secret seals the
// blob with a key stretched from it; an empty Secret stores the blob as-is.
type KeyAuthentication struct {
	Secret string
}

// ErrKeyNotFound is returned when no key blob is stored at the requested
// path and generation is not allowed.
var ErrKeyNotFound = errors.New("stored key not found")

// RetrieveKey loads the key blob at path, unseals it with auth, and returns
// the raw key in locked memory.
func (m *KeyManager) RetrieveKey(path string, auth KeyAuthentication) (*KeyBuffer, error) {
	start := time.Now()
	key, err := m.retrieveKey(path, auth)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.RecordOperation(metrics.OpRetrieve, m.storeBackend(), status, time.Since(start).Seconds())

	return key, err
}

func (m *KeyManager) retrieveKey(path string, auth KeyAuthentication) (*KeyBuffer, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no key store configured")
	}

	blob, err := m.store.Read(path)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", path, ErrKeyNotFound)
		}
		return nil, fmt.Errorf("failed to read key blob: %w", err)
	}

	raw, err := crypto.OpenWithSecret(blob, auth.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal key blob %s: %w", path, err)
	}

	// A weak blob here means corruption or a sealed blob read without its
	// secret; installing it would silently weaken the filesystem key.
	if crypto.IsWeakKey(raw) {
		return nil, fmt.Errorf("key blob %s holds weak key material", path)
	}

	return NewKeyBufferFromBytes(raw)
}

// StoreKey seals the key with auth and writes it at path through tmpPath, so
// a crash never leaves a torn blob where a key is expected.
func (m *KeyManager) StoreKey(path, tmpPath string, auth KeyAuthentication, key *KeyBuffer) error {
	if m.store == nil {
		return fmt.Errorf("no key store configured")
	}
	if key == nil || key.Len() == 0 {
		return fmt.Errorf("key is required")
	}

	sealed, err := crypto.SealWithSecret(key.Bytes(), auth.Secret)
	if err != nil {
		return fmt.Errorf("failed to seal key blob: %w", err)
	}

	if err = m.store.WriteAtomically(path, tmpPath, sealed); err != nil {
		return fmt.Errorf("failed to write key blob %s: %w", path, err)
	}
	return nil
}

// RetrieveOrGenerateKey returns the key stored at path, or, when none exists
// and the generation policy allows it, generates a fresh key and stores it
// before returning. A missing key with AllowGen false is an error and leaves
// the store untouched.
func (m *KeyManager) RetrieveOrGenerateKey(path, tmpPath string, auth KeyAuthentication, gen KeyGeneration) (*KeyBuffer, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no key store configured")
	}

	exists, err := m.store.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("failed to check for key blob %s: %w", path, err)
	}
	if exists {
		return m.RetrieveKey(path, auth)
	}

	if !gen.AllowGen {
		return nil, fmt.Errorf("%s: %w", path, ErrKeyNotFound)
	}

	key, err := m.GenerateStorageKey(gen)
	if err != nil {
		return nil, err
	}

	if err = m.StoreKey(path, tmpPath, auth, key); err != nil {
		key.Destroy()
		return nil, err
	}
	return key, nil
}

// DestroyKey removes the stored key blob at path.
func (m *KeyManager) DestroyKey(path string) error {
	requestID := m.newRequestID()

	if m.store == nil {
		return fmt.Errorf("no key store configured")
	}

	err := m.store.Delete(path)
	if err != nil && errors.Is(err, persist.ErrNotFound) {
		err = fmt.Errorf("%s: %w", path, ErrKeyNotFound)
	}

	action := "KEY_DESTROY_COMPLETED"
	if err != nil {
		action = "KEY_DESTROY_FAILED"
	}
	m.logAudit(requestID, action, err, map[string]interface{}{
		"path": path,
	})

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.OperationsTotal.WithLabelValues(metrics.OpDestroy, m.storeBackend(), status).Inc()

	return err
}

func (m *KeyManager) storeBackend() string {
	if m.store == nil {
		return "none"
	}
	return m.store.GetType()
}
