package provisioning_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/events"
	"github.com/imamik/hubspoke/internal/platform/memory"
	"github.com/imamik/hubspoke/internal/provisioning"
)

// panickyCompute panics when asked to delete an instance.
type panickyCompute struct {
	*memory.Cloud
}

func (panickyCompute) DeleteInstance(context.Context, string) error {
	panic("kaboom")
}

// blockingCompute holds DeleteInstance until release is closed or the
// context ends.
type blockingCompute struct {
	*memory.Cloud
	entered chan struct{}
	release chan struct{}
}

func (b blockingCompute) DeleteInstance(ctx context.Context, name string) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return b.Cloud.DeleteInstance(ctx, name)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRunner(f *fixture, p provisioning.Providers) *provisioning.Runner {
	engine := provisioning.NewRollbackEngine(p, f.store, f.cfg.Timeouts, logr.Discard(), nil)
	return provisioning.NewRunner(engine, f.store, f.publisher, logr.Discard())
}

var instanceSteps = []string{
	provisioning.StepValidateConfig, provisioning.StepCreateNetwork, provisioning.StepCreateSubnets,
	provisioning.StepCreateNIC, provisioning.StepDeployInstance,
}

func TestRunner_SchedulePersistsRollingBackFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := newRequest(t, f.cfg, 1, "acme")
	provisionUpTo(t, f.cloud, req, true)
	rec := failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady)

	runner := newRunner(f, f.cloud.Providers())
	task, err := runner.Schedule(req, rec)
	require.NoError(t, err)

	assert.Equal(t, deployment.StatusRollingBack, rec.Status)
	require.NoError(t, task.Wait())
	assert.Equal(t, deployment.StatusRollingBack, rec.Status, "caller's record is not touched by the task")

	final := task.Record()
	require.NotNil(t, final)
	assert.Equal(t, deployment.StatusRolledBack, final.Status)
	assert.Equal(t, []deployment.Status{deployment.StatusRollingBack, deployment.StatusRolledBack}, f.store.statuses(1))
	assert.Equal(t, []events.Type{events.TypeRolledBack}, f.publisher.types())
}

func TestRunner_RecoversPanic(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := newRequest(t, f.cfg, 1, "acme")
	provisionUpTo(t, f.cloud, req, true)
	rec := failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady)

	p := f.cloud.Providers()
	p.Compute = panickyCompute{f.cloud}
	runner := newRunner(f, p)

	task, err := runner.Schedule(req, rec)
	require.NoError(t, err)

	err = task.Wait()
	var rerr *provisioning.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, err.Error(), "rollback crashed: kaboom")

	final := f.store.latest(1)
	require.NotNil(t, final)
	assert.Equal(t, deployment.StatusRollbackFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "injected failure")
	assert.Contains(t, final.ErrorMessage, "rollback crashed: kaboom")
	assert.Equal(t, []events.Type{events.TypeRollbackFailed}, f.publisher.types())
}

func TestRunner_OneTaskPerSpoke(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := newRequest(t, f.cfg, 1, "acme")
	provisionUpTo(t, f.cloud, req, true)

	blocker := blockingCompute{Cloud: f.cloud, entered: make(chan struct{}, 1), release: make(chan struct{})}
	p := f.cloud.Providers()
	p.Compute = blocker
	runner := newRunner(f, p)

	task, err := runner.Schedule(req, failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady))
	require.NoError(t, err)
	<-blocker.entered
	assert.True(t, runner.Active(1))

	_, err = runner.Schedule(req, failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady))
	assert.ErrorIs(t, err, provisioning.ErrRollbackActive)

	err = runner.RunSync(context.Background(), req, failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady))
	assert.ErrorIs(t, err, provisioning.ErrRollbackActive)

	close(blocker.release)
	require.NoError(t, task.Wait())
	assert.False(t, runner.Active(1))

	// A finished task no longer blocks a new rollback.
	err = runner.RunSync(context.Background(), req, failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady))
	assert.NoError(t, err)
}

func TestRunner_RunSyncReturnsRollbackError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := newRequest(t, f.cfg, 1, "acme")
	provisionUpTo(t, f.cloud, req, true)
	f.cloud.Fail(memory.OpDeleteInstance, errors.New("locked"))

	rec := failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady)
	err := newRunner(f, f.cloud.Providers()).RunSync(context.Background(), req, rec)

	var rerr *provisioning.RollbackError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, deployment.StatusRollbackFailed, rec.Status, "sync path updates the caller's record")
}

func TestRunner_WaitWithoutTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	runner := newRunner(f, f.cloud.Providers())

	assert.NoError(t, runner.Wait(42))
	_, ok := runner.Task(42)
	assert.False(t, ok)
}

func TestRunner_ScheduleAbandonedRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := newRequest(t, f.cfg, 1, "acme")
	rec := req.NewRecord()
	require.NoError(t, rec.StartStep(provisioning.StepCreateNetwork, ""))

	runner := newRunner(f, f.cloud.Providers())
	task, err := runner.Schedule(req, rec)
	require.NoError(t, err)
	require.NoError(t, task.Wait())
	assert.Equal(t, deployment.StatusRolledBack, task.Record().Status)
}

func TestRunner_Shutdown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	req := newRequest(t, f.cfg, 1, "acme")
	provisionUpTo(t, f.cloud, req, true)

	blocker := blockingCompute{Cloud: f.cloud, entered: make(chan struct{}, 1), release: make(chan struct{})}
	p := f.cloud.Providers()
	p.Compute = blocker
	runner := newRunner(f, p)

	task, err := runner.Schedule(req, failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady))
	require.NoError(t, err)
	<-blocker.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, runner.Shutdown(ctx), context.DeadlineExceeded)

	// Cancellation reaches the blocked provider call and the task ends.
	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not observe cancellation")
	}
	assert.Error(t, task.Err())

	_, err = runner.Schedule(req, failedRecord(t, req, instanceSteps, provisioning.StepWaitInstanceReady))
	assert.ErrorIs(t, err, provisioning.ErrRunnerClosed)
}

func TestRunner_ShutdownIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	runner := newRunner(f, f.cloud.Providers())
	assert.NoError(t, runner.Shutdown(context.Background()))
}
