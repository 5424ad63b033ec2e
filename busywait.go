package vold

import (
	"log"
	"time"

	"github.com/aosp-pb/system-vold/internal/debug"
	"github.com/aosp-pb/system-vold/internal/wire"
	"github.com/aosp-pb/system-vold/metrics"
)

const (
	busyFileWaitInitialMs = 3200
	busyFileWaitMaxMs     = 51200
)

// waitForBusyFiles is the detached cleanup task spawned when a key removal
// reports open files still using the key. It sleeps with a doubling backoff
// and retries the removal each round. The keyring mutex is taken only inside
// pollAndRemove, never across a sleep, so installs and evicts proceed while
// the task waits.
//
// The task ends when the key is no longer incompletely removed, when an
// ioctl fails, or when the backoff schedule is exhausted. There is no
// external cancellation.
func (m *KeyManager) waitForBusyFiles(mountpoint string, spec wire.KeySpecifier) {
	refHex := KeyRefString(spec.Ref)

	for waitMs := int64(busyFileWaitInitialMs); waitMs <= busyFileWaitMaxMs; waitMs *= 2 {
		m.sleep(time.Duration(waitMs) * time.Millisecond)
		metrics.BusyFileRetriesTotal.Inc()

		done, outcome := m.pollAndRemove(mountpoint, spec, refHex)
		if done {
			metrics.BusyFileTasksTotal.WithLabelValues(outcome).Inc()
			return
		}
	}

	log.Printf("ERROR: files still open with key %s on %s after all retries, giving up\n",
		refHex, mountpoint)
	metrics.BusyFileTasksTotal.WithLabelValues(metrics.OutcomeExhausted).Inc()
}

// pollAndRemove runs one retry iteration under the keyring mutex: re-check
// the key's status, and if it is still incompletely removed, try the removal
// again. Returns done=true when the task should stop, with the outcome label
// for metrics.
func (m *KeyManager) pollAndRemove(mountpoint string, spec wire.KeySpecifier, refHex string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	statusArg := make([]byte, wire.GetKeyStatusArgSize)
	if err := wire.EncodeGetKeyStatusArg(statusArg, spec); err != nil {
		log.Printf("ERROR: cleanup task for key %s: %v\n", refHex, err)
		return true, metrics.OutcomeAborted
	}
	if err := m.kern.GetKeyStatus(mountpoint, statusArg); err != nil {
		log.Printf("ERROR: cleanup task for key %s: status query failed: %v\n", refHex, err)
		return true, metrics.OutcomeAborted
	}

	status, err := wire.DecodeKeyStatus(statusArg)
	if err != nil {
		log.Printf("ERROR: cleanup task for key %s: %v\n", refHex, err)
		return true, metrics.OutcomeAborted
	}
	if status != wire.KeyStatusIncompletelyRemoved {
		// Some other caller finished the removal, or the key came back.
		// Either way there is nothing left for this task to do.
		debug.Print("key %s on %s no longer incompletely removed, cleanup done\n", refHex, mountpoint)
		return true, metrics.OutcomeResolved
	}

	removeArg := make([]byte, wire.RemoveKeyArgSize)
	if err = wire.EncodeRemoveKeyArg(removeArg, spec); err != nil {
		log.Printf("ERROR: cleanup task for key %s: %v\n", refHex, err)
		return true, metrics.OutcomeAborted
	}
	if err = m.kern.RemoveKey(mountpoint, removeArg); err != nil {
		log.Printf("ERROR: cleanup task for key %s: removal failed: %v\n", refHex, err)
		return true, metrics.OutcomeAborted
	}

	flags, err := wire.DecodeRemovalStatusFlags(removeArg)
	if err != nil {
		log.Printf("ERROR: cleanup task for key %s: %v\n", refHex, err)
		return true, metrics.OutcomeAborted
	}

	if flags&wire.RemovalFlagOtherUsers != 0 {
		log.Printf("ERROR: other users still have key %s added on %s\n", refHex, mountpoint)
	}
	if flags&wire.RemovalFlagFilesBusy == 0 {
		log.Printf("key %s removed from %s after retry\n", refHex, mountpoint)
		return true, metrics.OutcomeResolved
	}

	log.Printf("WARNING: files still open with key %s on %s, will retry\n", refHex, mountpoint)
	return false, ""
}
