// Package vold manages filesystem encryption keys: generating raw key
// material in locked memory, installing it into the kernel through the
// per-filesystem fscrypt ioctls or the legacy session keyring, evicting it
// again, and persisting sealed key blobs through a pluggable store.
package vold

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"syscall"
	"time"

	"github.com/aosp-pb/system-vold/audit"
	"github.com/aosp-pb/system-vold/internal/crypto"
	"github.com/aosp-pb/system-vold/internal/debug"
	"github.com/aosp-pb/system-vold/internal/mem"
	"github.com/aosp-pb/system-vold/internal/wire"
	"github.com/aosp-pb/system-vold/metrics"
	"github.com/aosp-pb/system-vold/persist"
)

// WrappedKeyGenerator produces hardware-wrapped key material of the given
// size, typically by asking a keymaster HAL. The returned bytes are moved
// into a KeyBuffer by the caller.
type WrappedKeyGenerator func(size int) ([]byte, error)

// KeyManager is the entry point for key lifecycle operations. One mutex
// serializes every kernel key-state mutation, including each iteration of
// the detached busy-file cleanup task.
type KeyManager struct {
	kern  Kernel
	store persist.Store
	audit audit.Logger
	opts  Options

	mu                 sync.Mutex
	probeOnce          sync.Once
	fsKeyringSupported bool

	rand     io.Reader
	hwKeyGen WrappedKeyGenerator
	sleep    func(time.Duration)
}

// NewKeyManager wires a KeyManager from its collaborators. store may be nil
// when only kernel operations are needed; auditLogger nil disables auditing.
func NewKeyManager(kern Kernel, store persist.Store, auditLogger audit.Logger, opts Options) (*KeyManager, error) {
	if kern == nil {
		return nil, fmt.Errorf("kernel is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if opts.ProbeMountpoint == "" {
		opts.ProbeMountpoint = DefaultProbeMountpoint
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	if opts.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock memory: %w", err)
		}
		if level != mem.ProtectionFull {
			log.Printf("WARNING: full memory locking unavailable, continuing with partial protection\n")
		}
	}

	return &KeyManager{
		kern:  kern,
		store: store,
		audit: auditLogger,
		opts:  opts,
		rand:  rand.Reader,
		sleep: time.Sleep,
	}, nil
}

// SetWrappedKeyGenerator installs the hardware-wrapped key source. Without
// one, generating a hw-wrapped key fails.
func (m *KeyManager) SetWrappedKeyGenerator(gen WrappedKeyGenerator) {
	m.hwKeyGen = gen
}

// Close releases the audit logger, the store, and the memory lock.
func (m *KeyManager) Close() error {
	var errs []error
	if err := m.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	if m.opts.EnableMemoryLock {
		if err := mem.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unlock memory: %w", err))
		}
	}
	return errors.Join(errs...)
}

// GenerateStorageKey creates fresh key material per the generation policy.
func (m *KeyManager) GenerateStorageKey(gen KeyGeneration) (*KeyBuffer, error) {
	requestID := m.newRequestID()
	m.logAudit(requestID, "KEY_GENERATE_INITIATED", nil, map[string]interface{}{
		"key_size":   gen.KeySize,
		"hw_wrapped": gen.UseHwWrappedKey,
	})

	key, err := m.generateStorageKey(gen)
	if err != nil {
		m.logAudit(requestID, "KEY_GENERATE_FAILED", err, nil)
		return nil, err
	}

	metrics.KeysGeneratedTotal.Inc()
	m.logAudit(requestID, "KEY_GENERATE_COMPLETED", nil, map[string]interface{}{
		"key_size": key.Len(),
	})
	return key, nil
}

func (m *KeyManager) generateStorageKey(gen KeyGeneration) (*KeyBuffer, error) {
	if !gen.AllowGen {
		return nil, fmt.Errorf("key generation is not allowed by policy")
	}
	if gen.KeySize <= 0 {
		return nil, fmt.Errorf("key size must be positive, got %d", gen.KeySize)
	}

	if gen.UseHwWrappedKey {
		if gen.KeySize != MaxKeySize {
			return nil, fmt.Errorf("hw-wrapped key size must be %d, got %d", MaxKeySize, gen.KeySize)
		}
		if m.hwKeyGen == nil {
			return nil, fmt.Errorf("no hw-wrapped key generator configured")
		}
		raw, err := m.hwKeyGen(gen.KeySize)
		if err != nil {
			return nil, fmt.Errorf("failed to generate hw-wrapped key: %w", err)
		}
		if len(raw) != gen.KeySize {
			return nil, fmt.Errorf("hw-wrapped key generator returned %d bytes, want %d", len(raw), gen.KeySize)
		}
		if crypto.IsWeakKey(raw) {
			return nil, fmt.Errorf("hw-wrapped key generator returned weak key material")
		}
		return NewKeyBufferFromBytes(raw)
	}

	key, err := NewKeyBuffer(gen.KeySize)
	if err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(m.rand, key.Bytes()); err != nil {
		key.Destroy()
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return key, nil
}

// IsFsKeyringSupported reports whether the kernel supports the fscrypt
// key-management ioctls. The probe issues the add-key ioctl with a NULL
// argument on the reference mount: ENOTTY means the ioctl does not exist,
// any other outcome (EFAULT on a supporting kernel) means it does. The
// result is determined once per process.
func (m *KeyManager) IsFsKeyringSupported() bool {
	m.probeOnce.Do(func() {
		err := m.kern.ProbeAddKey(m.opts.ProbeMountpoint)

		var errno syscall.Errno
		if errors.As(err, &errno) && errno == syscall.ENOTTY {
			m.fsKeyringSupported = false
		} else {
			m.fsKeyringSupported = true
		}
		debug.Print("fs keyring supported: %t (probe on %s: %v)\n",
			m.fsKeyringSupported, m.opts.ProbeMountpoint, err)
	})
	return m.fsKeyringSupported
}

// InstallKey makes the key available to the filesystem at mountpoint and
// returns the policy naming it. v1 policies derive the key reference from the
// key material; v2 policies get their identifier assigned by the kernel. When
// the kernel lacks the fscrypt ioctls, v1 keys fall back to the session
// keyring.
func (m *KeyManager) InstallKey(mountpoint string, key *KeyBuffer, options EncryptionOptions) (EncryptionPolicy, error) {
	start := time.Now()
	requestID := m.newRequestID()
	m.logAudit(requestID, "KEY_INSTALL_INITIATED", nil, map[string]interface{}{
		"mountpoint":     mountpoint,
		"policy_version": options.Version,
		"hw_wrapped":     options.UseHwWrappedKey,
	})

	policy, backend, err := m.installKey(mountpoint, key, options)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		m.logAudit(requestID, "KEY_INSTALL_FAILED", err, map[string]interface{}{
			"mountpoint":  mountpoint,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	} else {
		m.logAudit(requestID, "KEY_INSTALL_COMPLETED", nil, map[string]interface{}{
			"mountpoint":  mountpoint,
			"key_ref":     KeyRefString(policy.KeyRawRef),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	metrics.RecordOperation(metrics.OpInstall, backend, status, time.Since(start).Seconds())

	return policy, err
}

func (m *KeyManager) installKey(mountpoint string, key *KeyBuffer, options EncryptionOptions) (EncryptionPolicy, string, error) {
	if mountpoint == "" {
		return EncryptionPolicy{}, metrics.BackendFsKeyring, fmt.Errorf("mountpoint is required")
	}
	if key == nil || key.Len() == 0 {
		return EncryptionPolicy{}, metrics.BackendFsKeyring, fmt.Errorf("key is required")
	}
	if options.UseHwWrappedKey && key.Len() != MaxKeySize {
		return EncryptionPolicy{}, metrics.BackendFsKeyring,
			fmt.Errorf("hw-wrapped key is %d bytes, want %d", key.Len(), MaxKeySize)
	}

	policy := EncryptionPolicy{Options: options}
	var spec wire.KeySpecifier

	switch options.Version {
	case PolicyVersion1:
		ref, err := GenerateKeyRef(key, options.UseHwWrappedKey)
		if err != nil {
			return EncryptionPolicy{}, metrics.BackendFsKeyring, err
		}
		policy.KeyRawRef = ref

		if !m.IsFsKeyringSupported() {
			m.mu.Lock()
			err = m.installKeyLegacy(key, ref)
			m.mu.Unlock()
			if err != nil {
				return EncryptionPolicy{}, metrics.BackendSessionKeyring, err
			}
			return policy, metrics.BackendSessionKeyring, nil
		}
		spec = wire.KeySpecifier{Type: wire.SpecTypeDescriptor, Ref: ref}

	case PolicyVersion2:
		// The kernel assigns the identifier; the specifier goes in empty.
		spec = wire.KeySpecifier{Type: wire.SpecTypeIdentifier}

	default:
		return EncryptionPolicy{}, metrics.BackendFsKeyring,
			fmt.Errorf("unknown policy version %d", options.Version)
	}

	// The arg embeds the raw key, so it lives in a zero-on-release buffer.
	arg, err := NewKeyBuffer(wire.AddKeyArgSize + key.Len())
	if err != nil {
		return EncryptionPolicy{}, metrics.BackendFsKeyring, err
	}
	defer arg.Destroy()

	if err = wire.EncodeAddKeyArg(arg.Bytes(), spec, key.Bytes(), options.UseHwWrappedKey); err != nil {
		return EncryptionPolicy{}, metrics.BackendFsKeyring, err
	}

	m.mu.Lock()
	err = m.kern.AddKey(mountpoint, arg.Bytes())
	m.mu.Unlock()
	if err != nil {
		return EncryptionPolicy{}, metrics.BackendFsKeyring,
			fmt.Errorf("failed to add key to %s: %w", mountpoint, err)
	}

	if options.Version == PolicyVersion2 {
		id, err := wire.DecodeAddKeyIdentifier(arg.Bytes())
		if err != nil {
			return EncryptionPolicy{}, metrics.BackendFsKeyring,
				fmt.Errorf("failed to read back key identifier: %w", err)
		}
		policy.KeyRawRef = id
	}

	return policy, metrics.BackendFsKeyring, nil
}

// EvictKey removes the key named by policy from the kernel. A removal that
// leaves the key incompletely removed because files are still open does not
// fail the call; a detached task keeps retrying in the background.
func (m *KeyManager) EvictKey(mountpoint string, policy EncryptionPolicy) error {
	start := time.Now()
	requestID := m.newRequestID()
	m.logAudit(requestID, "KEY_EVICT_INITIATED", nil, map[string]interface{}{
		"mountpoint": mountpoint,
		"key_ref":    KeyRefString(policy.KeyRawRef),
	})

	backend, err := m.evictKey(mountpoint, policy)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
		m.logAudit(requestID, "KEY_EVICT_FAILED", err, map[string]interface{}{
			"mountpoint": mountpoint,
			"key_ref":    KeyRefString(policy.KeyRawRef),
		})
	} else {
		m.logAudit(requestID, "KEY_EVICT_COMPLETED", nil, map[string]interface{}{
			"mountpoint":  mountpoint,
			"key_ref":     KeyRefString(policy.KeyRawRef),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	metrics.RecordOperation(metrics.OpEvict, backend, status, time.Since(start).Seconds())

	return err
}

func (m *KeyManager) evictKey(mountpoint string, policy EncryptionPolicy) (string, error) {
	// Validate the policy before touching the kernel, so a malformed
	// reference fails cleanly with zero key-state changes.
	spec, err := BuildKeySpecifier(policy)
	if err != nil {
		return metrics.BackendFsKeyring, err
	}
	if mountpoint == "" {
		return metrics.BackendFsKeyring, fmt.Errorf("mountpoint is required")
	}

	if policy.Options.Version == PolicyVersion1 && !m.IsFsKeyringSupported() {
		m.mu.Lock()
		err = m.evictKeyLegacy(policy.KeyRawRef)
		m.mu.Unlock()
		if err != nil {
			return metrics.BackendSessionKeyring, err
		}
		return metrics.BackendSessionKeyring, nil
	}

	arg := make([]byte, wire.RemoveKeyArgSize)
	if err = wire.EncodeRemoveKeyArg(arg, spec); err != nil {
		return metrics.BackendFsKeyring, err
	}

	m.mu.Lock()
	err = m.kern.RemoveKey(mountpoint, arg)
	m.mu.Unlock()
	if err != nil {
		return metrics.BackendFsKeyring, fmt.Errorf("failed to remove key from %s: %w", mountpoint, err)
	}

	flags, err := wire.DecodeRemovalStatusFlags(arg)
	if err != nil {
		return metrics.BackendFsKeyring, err
	}

	if flags&wire.RemovalFlagOtherUsers != 0 {
		log.Printf("ERROR: other users still have key %s added on %s\n",
			KeyRefString(policy.KeyRawRef), mountpoint)
	}
	if flags&wire.RemovalFlagFilesBusy != 0 {
		log.Printf("WARNING: files still open with key %s on %s, starting cleanup task\n",
			KeyRefString(policy.KeyRawRef), mountpoint)
		go m.waitForBusyFiles(mountpoint, spec)
	}

	return metrics.BackendFsKeyring, nil
}

// KeyStatus queries the kernel for the state of the key named by policy.
func (m *KeyManager) KeyStatus(mountpoint string, policy EncryptionPolicy) (KeyState, error) {
	spec, err := BuildKeySpecifier(policy)
	if err != nil {
		return KeyStateUnknown, err
	}
	if mountpoint == "" {
		return KeyStateUnknown, fmt.Errorf("mountpoint is required")
	}

	arg := make([]byte, wire.GetKeyStatusArgSize)
	if err = wire.EncodeGetKeyStatusArg(arg, spec); err != nil {
		return KeyStateUnknown, err
	}

	m.mu.Lock()
	err = m.kern.GetKeyStatus(mountpoint, arg)
	m.mu.Unlock()
	if err != nil {
		return KeyStateUnknown, fmt.Errorf("failed to get key status on %s: %w", mountpoint, err)
	}

	status, err := wire.DecodeKeyStatus(arg)
	if err != nil {
		return KeyStateUnknown, err
	}

	switch status {
	case wire.KeyStatusAbsent:
		return KeyStateAbsent, nil
	case wire.KeyStatusPresent:
		return KeyStatePresent, nil
	case wire.KeyStatusIncompletelyRemoved:
		return KeyStateIncompletelyRemoved, nil
	default:
		return KeyStateUnknown, fmt.Errorf("kernel reported unknown key status %d", status)
	}
}

func (m *KeyManager) logAudit(requestID, action string, err error, metadata map[string]interface{}) {
	if m.audit == nil {
		return
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	// Add standard fields
	metadata["request_id"] = requestID
	if m.opts.UserID != "" {
		metadata["user_id"] = m.opts.UserID
	}

	success := err == nil
	if err != nil {
		metadata["failure_reason"] = err.Error()
	}

	if auditErr := m.audit.Log(action, success, metadata); auditErr != nil {
		log.Printf("ERROR: audit logging failed for action %s: %v\n", action, auditErr)
	}
}

func (m *KeyManager) newRequestID() string {
	return fmt.Sprintf("k_%d", time.Now().UnixNano())
}
