package vold

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aosp-pb/system-vold/internal/wire"
)

func busySpec() wire.KeySpecifier {
	return wire.KeySpecifier{
		Type: wire.SpecTypeDescriptor,
		Ref:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}
}

// newBusyWaitManager wires a manager whose sleep calls are recorded instead
// of actually sleeping, so the full backoff schedule runs instantly.
func newBusyWaitManager(t *testing.T, kern Kernel) (*KeyManager, *[]time.Duration) {
	t.Helper()
	m := newTestManager(t, kern)
	slept := &[]time.Duration{}
	m.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	return m, slept
}

func TestWaitForBusyFilesExhaustsBackoffSchedule(t *testing.T) {
	kern := newFakeKernel()
	kern.statuses = []uint32{wire.KeyStatusIncompletelyRemoved}
	kern.removalFlags = []uint32{wire.RemovalFlagFilesBusy}
	m, slept := newBusyWaitManager(t, kern)

	m.waitForBusyFiles("/data", busySpec())

	require.Equal(t, []time.Duration{
		3200 * time.Millisecond,
		6400 * time.Millisecond,
		12800 * time.Millisecond,
		25600 * time.Millisecond,
		51200 * time.Millisecond,
	}, *slept)
	assert.Equal(t, 5, kern.removeCalls)
	assert.Equal(t, 5, kern.statusCalls)
}

func TestWaitForBusyFilesResolvesWhenFilesClose(t *testing.T) {
	kern := newFakeKernel()
	kern.statuses = []uint32{wire.KeyStatusIncompletelyRemoved}
	kern.removalFlags = []uint32{wire.RemovalFlagFilesBusy, 0}
	m, slept := newBusyWaitManager(t, kern)

	m.waitForBusyFiles("/data", busySpec())

	assert.Len(t, *slept, 2)
	assert.Equal(t, 2, kern.removeCalls)
}

func TestWaitForBusyFilesStopsWhenRemovalFinishedElsewhere(t *testing.T) {
	kern := newFakeKernel()
	kern.statuses = []uint32{wire.KeyStatusAbsent}
	m, slept := newBusyWaitManager(t, kern)

	m.waitForBusyFiles("/data", busySpec())

	assert.Len(t, *slept, 1)
	assert.Equal(t, 1, kern.statusCalls)
	assert.Equal(t, 0, kern.removeCalls)
}

func TestWaitForBusyFilesAbortsOnStatusError(t *testing.T) {
	kern := newFakeKernel()
	kern.statusErr = syscall.EIO
	m, slept := newBusyWaitManager(t, kern)

	m.waitForBusyFiles("/data", busySpec())

	assert.Len(t, *slept, 1)
	assert.Equal(t, 0, kern.removeCalls)
}

func TestWaitForBusyFilesAbortsOnRemovalError(t *testing.T) {
	kern := newFakeKernel()
	kern.statuses = []uint32{wire.KeyStatusIncompletelyRemoved}
	kern.removeErr = syscall.EIO
	m, slept := newBusyWaitManager(t, kern)

	m.waitForBusyFiles("/data", busySpec())

	assert.Len(t, *slept, 1)
	assert.Equal(t, 1, kern.removeCalls)
}

func TestWaitForBusyFilesOtherUsersKeepsRetrying(t *testing.T) {
	kern := newFakeKernel()
	kern.statuses = []uint32{wire.KeyStatusIncompletelyRemoved}
	kern.removalFlags = []uint32{
		wire.RemovalFlagFilesBusy | wire.RemovalFlagOtherUsers,
		0,
	}
	m, slept := newBusyWaitManager(t, kern)

	m.waitForBusyFiles("/data", busySpec())

	// OTHER_USERS alone never stops the task while files remain busy
	assert.Len(t, *slept, 2)
	assert.Equal(t, 2, kern.removeCalls)
}
