package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) *FileLogger {
	t.Helper()
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{
			"file_path": filepath.Join(t.TempDir(), "audit.log"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestFileLoggerLogAndQuery(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log("KEY_INSTALL_COMPLETED", true, map[string]interface{}{
		"key_ref":    "ab12cd34ef56ab78",
		"mountpoint": "/data",
	}))
	require.NoError(t, logger.Log("KEY_EVICT_FAILED", false, map[string]interface{}{
		"key_ref":        "ab12cd34ef56ab78",
		"failure_reason": "ioctl failed",
	}))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalCount)
	assert.Len(t, result.Events, 2)

	// Newest first
	assert.Equal(t, "KEY_EVICT_FAILED", result.Events[0].Action)
}

func TestFileLoggerPromotesWellKnownMetadata(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log("KEY_INSTALL_COMPLETED", true, map[string]interface{}{
		"key_ref":    "deadbeef00112233",
		"mountpoint": "/data",
		"request_id": "req-1",
	}))

	result, err := logger.Query(QueryOptions{KeyRef: "deadbeef00112233"})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "/data", result.Events[0].Mountpoint)
	assert.Equal(t, "req-1", result.Events[0].RequestID)
}

func TestFileLoggerFilters(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log("KEY_INSTALL_COMPLETED", true, nil))
	require.NoError(t, logger.Log("KEY_INSTALL_COMPLETED", false, nil))
	require.NoError(t, logger.Log("KEY_EVICT_FAILED", true, nil))

	failed := false
	result, err := logger.Query(QueryOptions{Action: "KEY_INSTALL_COMPLETED", Success: &failed})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.False(t, result.Events[0].Success)
}

func TestFileLoggerQueryTimeRange(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log("KEY_INSTALL_COMPLETED", true, nil))

	future := time.Now().UTC().Add(time.Hour)
	result, err := logger.Query(QueryOptions{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
}

func TestFileLoggerRequiresFilePath(t *testing.T) {
	_, err := NewFileLogger(&Config{Enabled: true, Type: FileAuditType})
	require.Error(t, err)
}

func TestNewLoggerDisabledIsNoOp(t *testing.T) {
	logger, err := NewLogger(&Config{Enabled: false})
	require.NoError(t, err)
	_, ok := logger.(*NoOpLogger)
	assert.True(t, ok)

	logger, err = NewLogger(nil)
	require.NoError(t, err)
	_, ok = logger.(*NoOpLogger)
	assert.True(t, ok)
}
