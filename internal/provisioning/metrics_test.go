package provisioning

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStepMetric(t *testing.T) {
	stepDuration.Reset()

	recordStepMetric(StepCreateNetwork, nil, 0.2)
	recordStepMetric(StepCreateNetwork, errors.New("quota"), 0.1)
	recordStepMetric(StepCreateNIC, nil, 0.3)

	assert.Equal(t, 3, testutil.CollectAndCount(stepDuration))
}

func TestRecordWorkflowMetric(t *testing.T) {
	workflowsTotal.Reset()

	recordWorkflowMetric(nil)
	recordWorkflowMetric(nil)
	recordWorkflowMetric(errors.New("boom"))

	ok, err := workflowsTotal.GetMetricWithLabelValues("success")
	require.NoError(t, err)
	assert.Equal(t, float64(2), testutil.ToFloat64(ok))

	failed, err := workflowsTotal.GetMetricWithLabelValues("error")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(failed))
}

func TestRecordRollbackMetric(t *testing.T) {
	rollbacksTotal.Reset()
	teardownFailures.Reset()

	recordRollbackMetric(nil, nil)
	recordRollbackMetric(errors.New("incomplete"), []RollbackFailure{
		{Resource: ResourceNIC, Name: "spoke-vm-1-nic"},
		{Resource: ResourceNetwork, Name: "spoke-vnet-1", Skipped: true},
		{Resource: ResourceNIC, Name: "spoke-vm-1-nic"},
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(rollbacksTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(rollbacksTotal.WithLabelValues("error")))
	assert.Equal(t, float64(2), testutil.ToFloat64(teardownFailures.WithLabelValues(ResourceNIC)))
	assert.Equal(t, float64(1), testutil.ToFloat64(teardownFailures.WithLabelValues(ResourceNetwork)))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "success", resultLabel(nil))
	assert.Equal(t, "error", resultLabel(errors.New("x")))
}
