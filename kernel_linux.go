//go:build linux

package vold

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// linuxKernel implements Kernel with real syscalls.
type linuxKernel struct{}

// NewKernel returns the real syscall-backed Kernel.
func NewKernel() Kernel {
	return linuxKernel{}
}

// fscryptIoctl opens the mountpoint's root directory and issues one of the
// key-management ioctls on it. A nil arg passes a NULL pointer, which the
// capability probe relies on. The raw errno is returned unwrapped so callers
// can inspect it.
func fscryptIoctl(mountpoint string, req uint, arg []byte) error {
	fd, err := unix.Open(mountpoint, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", mountpoint, err)
	}
	defer unix.Close(fd)

	var p unsafe.Pointer
	if len(arg) > 0 {
		p = unsafe.Pointer(&arg[0])
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(p))
	if errno != 0 {
		return errno
	}
	return nil
}

func (linuxKernel) AddKey(mountpoint string, arg []byte) error {
	return fscryptIoctl(mountpoint, unix.FS_IOC_ADD_ENCRYPTION_KEY, arg)
}

func (linuxKernel) RemoveKey(mountpoint string, arg []byte) error {
	return fscryptIoctl(mountpoint, unix.FS_IOC_REMOVE_ENCRYPTION_KEY, arg)
}

func (linuxKernel) GetKeyStatus(mountpoint string, arg []byte) error {
	return fscryptIoctl(mountpoint, unix.FS_IOC_GET_ENCRYPTION_KEY_STATUS, arg)
}

func (linuxKernel) ProbeAddKey(mountpoint string) error {
	return fscryptIoctl(mountpoint, unix.FS_IOC_ADD_ENCRYPTION_KEY, nil)
}

func (linuxKernel) FindKeyring(description string) (int, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_SESSION_KEYRING, "keyring", description, 0)
	if err != nil {
		return 0, fmt.Errorf("keyring %q not found in session keyring: %w", description, err)
	}
	return id, nil
}

func (linuxKernel) AddLogonKey(description string, payload []byte, ringID int) (int, error) {
	id, err := unix.AddKey("logon", description, payload, ringID)
	if err != nil {
		return 0, fmt.Errorf("add_key %q failed: %w", description, err)
	}
	return id, nil
}

func (linuxKernel) SearchLogonKey(ringID int, description string) (int, error) {
	id, err := unix.KeyctlSearch(ringID, "logon", description, 0)
	if err != nil {
		return 0, fmt.Errorf("logon key %q not found: %w", description, err)
	}
	return id, nil
}

func (linuxKernel) UnlinkKey(keyID, ringID int) error {
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, keyID, ringID, 0, 0); err != nil {
		return fmt.Errorf("unlink key %d failed: %w", keyID, err)
	}
	return nil
}
