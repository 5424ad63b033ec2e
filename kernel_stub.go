//go:build !linux

package vold

import "fmt"

// stubKernel stands in on platforms without fscrypt or keyctl. Everything
// the package builds and tests on any OS; only the real syscalls are
// Linux-only.
type stubKernel struct{}

// NewKernel returns a Kernel whose operations all fail: fscrypt key
// management only exists on Linux.
func NewKernel() Kernel {
	return stubKernel{}
}

func errUnsupported() error {
	return fmt.Errorf("fscrypt key management is only supported on linux")
}

func (stubKernel) AddKey(string, []byte) error          { return errUnsupported() }
func (stubKernel) RemoveKey(string, []byte) error       { return errUnsupported() }
func (stubKernel) GetKeyStatus(string, []byte) error    { return errUnsupported() }
func (stubKernel) ProbeAddKey(string) error             { return errUnsupported() }
func (stubKernel) FindKeyring(string) (int, error)      { return 0, errUnsupported() }
func (stubKernel) AddLogonKey(string, []byte, int) (int, error) {
	return 0, errUnsupported()
}
func (stubKernel) SearchLogonKey(int, string) (int, error) { return 0, errUnsupported() }
func (stubKernel) UnlinkKey(int, int) error                { return errUnsupported() }
