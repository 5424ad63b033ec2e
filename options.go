package vold

import (
	"fmt"
	"strings"
)

// DefaultProbeMountpoint is the reference mount the capability probe uses
// when the caller does not override it.
const DefaultProbeMountpoint = "/data"

// Options represents configuration parameters for KeyManager initialization.
//
// Only operational settings live here; key material and authentication
// secrets are passed per call and never appear in configuration. Fields
// tagged json:"-" are excluded from serialization so they cannot leak through
// configuration dumps or logs.
type Options struct {
	// ProbeMountpoint is the mount the one-time fs-keyring capability probe
	// runs against. The probe only inspects the errno of a NULL-argument
	// ioctl and never changes key state, so any mounted directory works.
	// Defaults to DefaultProbeMountpoint.
	ProbeMountpoint string `json:"probe_mountpoint,omitempty"`

	// EnableMemoryLock controls memory locking to prevent key material
	// paging to disk. Best effort: on systems where locking is denied the
	// manager continues with partial protection.
	EnableMemoryLock bool `json:"enable_memory_lock"`

	// UserID attributes operations in the audit trail.
	UserID string `json:"-"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	if o.ProbeMountpoint != "" && strings.ContainsAny(o.ProbeMountpoint, "\x00") {
		return fmt.Errorf("probe mountpoint contains invalid characters")
	}
	return nil
}
