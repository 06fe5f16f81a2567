package provisioning

import (
	"context"
	"strconv"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/hubspoke/internal/deployment"
)

// Executor runs workflow steps against a deployment record. Every step
// state change goes through it and is persisted right away.
type Executor struct {
	store    RecordSaver
	log      logr.Logger
	observer Observer
}

// NewExecutor creates an executor persisting through store.
func NewExecutor(store RecordSaver, log logr.Logger, observer Observer) *Executor {
	if observer == nil {
		observer = NewLogObserver(log)
	}
	return &Executor{store: store, log: log, observer: observer}
}

// Execute runs fn as the named step of rec. A failing fn marks the step and
// the record failed and its error is returned unchanged.
func (e *Executor) Execute(ctx context.Context, rec *deployment.Record, step StepDef, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, e, rec, step, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run is Execute for operations that produce a value.
func Run[T any](ctx context.Context, e *Executor, rec *deployment.Record, step StepDef, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	obs := e.observer.WithFields(map[string]string{"spoke": strconv.Itoa(rec.SpokeID), "client": rec.ClientName})

	if err := rec.StartStep(step.Name, step.Description); err != nil {
		return zero, err
	}
	e.persist(ctx, rec)
	logStepStart(obs, step.Name)

	start := time.Now()
	result, err := fn(ctx)
	elapsed := time.Since(start)
	recordStepMetric(step.Name, err, elapsed.Seconds())

	if err != nil {
		if ferr := rec.FailStep(step.Name, err.Error()); ferr != nil {
			e.log.Error(ferr, "failed to record step failure", "spoke", rec.SpokeID, "step", step.Name)
		}
		e.persist(ctx, rec)
		logStepFailed(obs, step.Name, err)
		return zero, err
	}

	if cerr := rec.CompleteStep(step.Name); cerr != nil {
		return zero, cerr
	}
	e.persist(ctx, rec)
	logStepComplete(obs, step.Name, elapsed)
	obs.Progress(step.Name, len(rec.CompletedSteps()), len(Steps))
	return result, nil
}

// persist saves rec. Failures are logged and counted but never abort the
// workflow; the in-memory record stays authoritative for this process.
func (e *Executor) persist(ctx context.Context, rec *deployment.Record) {
	persistRecord(ctx, e.store, e.log, rec)
}

func persistRecord(ctx context.Context, store RecordSaver, log logr.Logger, rec *deployment.Record) {
	if err := store.Save(ctx, rec); err != nil {
		storageErrors.Inc()
		log.Error(&StorageError{SpokeID: rec.SpokeID, Err: err}, "deployment state not persisted")
	}
}
