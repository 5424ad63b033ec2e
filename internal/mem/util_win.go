//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// On Windows, VirtualLock has limitations; rely on memory clearing only
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	// Nothing to unlock
	return nil
}
