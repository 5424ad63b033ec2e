package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordOperation(t *testing.T) {
	before := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpInstall, BackendFsKeyring, StatusSuccess))

	RecordOperation(OpInstall, BackendFsKeyring, StatusSuccess, 0.005)

	after := testutil.ToFloat64(OperationsTotal.WithLabelValues(OpInstall, BackendFsKeyring, StatusSuccess))
	assert.Equal(t, before+1, after)
}

func TestBusyFileCounters(t *testing.T) {
	retriesBefore := testutil.ToFloat64(BusyFileRetriesTotal)
	tasksBefore := testutil.ToFloat64(BusyFileTasksTotal.WithLabelValues(OutcomeResolved))

	BusyFileRetriesTotal.Inc()
	BusyFileTasksTotal.WithLabelValues(OutcomeResolved).Inc()

	assert.Equal(t, retriesBefore+1, testutil.ToFloat64(BusyFileRetriesTotal))
	assert.Equal(t, tasksBefore+1, testutil.ToFloat64(BusyFileTasksTotal.WithLabelValues(OutcomeResolved)))
}
