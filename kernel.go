package vold

// Kernel abstracts the key-management syscall surface: the per-filesystem
// fscrypt ioctls and the legacy session-keyring keyctl calls. The arg slices
// carry the encoded structures from internal/wire; for add-key, remove-key,
// and get-status the kernel writes result fields back into the same buffer.
// Tests substitute a fake; kernel_linux.go provides the real thing.
type Kernel interface {
	// AddKey issues FS_IOC_ADD_ENCRYPTION_KEY on the mountpoint.
	AddKey(mountpoint string, arg []byte) error

	// RemoveKey issues FS_IOC_REMOVE_ENCRYPTION_KEY on the mountpoint.
	RemoveKey(mountpoint string, arg []byte) error

	// GetKeyStatus issues FS_IOC_GET_ENCRYPTION_KEY_STATUS on the mountpoint.
	GetKeyStatus(mountpoint string, arg []byte) error

	// ProbeAddKey issues the add-key ioctl with a NULL argument, purely to
	// observe the errno. It never changes key state.
	ProbeAddKey(mountpoint string) error

	// FindKeyring searches the session keyring for a keyring-type key with
	// the given description and returns its serial.
	FindKeyring(description string) (int, error)

	// AddLogonKey inserts a logon-type key with the given description and
	// payload into the keyring and returns its serial.
	AddLogonKey(description string, payload []byte, ringID int) (int, error)

	// SearchLogonKey finds a logon-type key by description in the keyring
	// and returns its serial.
	SearchLogonKey(ringID int, description string) (int, error)

	// UnlinkKey removes the key with the given serial from the keyring.
	UnlinkKey(keyID, ringID int) error
}
