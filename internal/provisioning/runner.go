package provisioning

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/go-logr/logr"

	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/events"
	"github.com/imamik/hubspoke/internal/spoke"
)

// ErrRunnerClosed is returned by Schedule after Shutdown.
var ErrRunnerClosed = errors.New("rollback runner is shut down")

// Task is the handle of one rollback.
type Task struct {
	SpokeID int

	done   chan struct{}
	err    error
	record *deployment.Record
}

func newTask(spokeID int) *Task {
	return &Task{SpokeID: spokeID, done: make(chan struct{})}
}

// Done is closed when the rollback has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the rollback has finished and returns its outcome.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Err returns the outcome, or nil while the rollback is still running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Record returns a copy of the final record, or nil while running.
func (t *Task) Record() *deployment.Record {
	select {
	case <-t.done:
		return t.record.Clone()
	default:
		return nil
	}
}

func (t *Task) active() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Runner executes rollbacks off the request path. At most one rollback runs
// per spoke id.
type Runner struct {
	engine *RollbackEngine
	store  RecordSaver
	events events.Publisher
	log    logr.Logger

	mu     sync.Mutex
	tasks  map[int]*Task
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner around engine.
func NewRunner(engine *RollbackEngine, store RecordSaver, publisher events.Publisher, log logr.Logger) *Runner {
	if publisher == nil {
		publisher = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		engine: engine,
		store:  store,
		events: publisher,
		log:    log.WithName("rollback"),
		tasks:  make(map[int]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule moves rec to rolling_back, persists it and starts the rollback in
// the background. The rollback works on its own copy; rec is not touched
// after Schedule returns.
func (r *Runner) Schedule(req spoke.Request, rec *deployment.Record) (*Task, error) {
	task, err := r.register(rec.SpokeID)
	if err != nil {
		return nil, err
	}
	if err := rec.MarkRollingBack(); err != nil {
		r.release(task)
		return nil, err
	}
	persistRecord(r.ctx, r.store, r.log, rec)

	work := rec.Clone()
	go func() {
		defer r.wg.Done()
		r.execute(r.ctx, task, req, work)
	}()
	r.log.Info("rollback scheduled", "spoke", rec.SpokeID)
	return task, nil
}

// RunSync runs a rollback on the caller's goroutine and updates rec in
// place. It is used by explicit deletes, where the caller waits for the result.
func (r *Runner) RunSync(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	task, err := r.register(rec.SpokeID)
	if err != nil {
		return err
	}
	defer r.wg.Done()
	r.execute(ctx, task, req, rec)
	return task.err
}

func (r *Runner) register(spokeID int) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}
	if t, ok := r.tasks[spokeID]; ok && t.active() {
		return nil, fmt.Errorf("spoke %d: %w", spokeID, ErrRollbackActive)
	}
	task := newTask(spokeID)
	r.tasks[spokeID] = task
	r.wg.Add(1)
	return task, nil
}

// release drops a task that never ran.
func (r *Runner) release(task *Task) {
	r.mu.Lock()
	if r.tasks[task.SpokeID] == task {
		delete(r.tasks, task.SpokeID)
	}
	r.mu.Unlock()
	close(task.done)
	r.wg.Done()
}

func (r *Runner) execute(ctx context.Context, task *Task, req spoke.Request, rec *deployment.Record) {
	defer close(task.done)
	defer func() {
		if p := recover(); p != nil {
			msg := fmt.Sprintf("rollback crashed: %v", p)
			r.log.Error(errors.New(msg), "rollback task panicked", "spoke", rec.SpokeID, "stack", string(debug.Stack()))
			rec.ForceRollbackFailed(msg)
			persistRecord(ctx, r.store, r.log, rec)
			task.err = &RollbackError{SpokeID: rec.SpokeID, Err: errors.New(msg)}
			recordRollbackMetric(task.err, nil)
		}
		task.record = rec.Clone()
		r.publish(ctx, rec)
	}()

	task.err = r.engine.Rollback(ctx, req, rec)
	if task.err != nil {
		r.log.Info("rollback finished with errors", "spoke", rec.SpokeID, "error", task.err.Error())
		return
	}
	r.log.Info("rollback finished", "spoke", rec.SpokeID)
}

func (r *Runner) publish(ctx context.Context, rec *deployment.Record) {
	var typ events.Type
	switch rec.Status {
	case deployment.StatusRolledBack:
		typ = events.TypeRolledBack
	case deployment.StatusRollbackFailed:
		typ = events.TypeRollbackFailed
	default:
		return
	}
	if err := r.events.Publish(context.WithoutCancel(ctx), events.FromRecord(typ, rec)); err != nil {
		r.log.Error(err, "failed to publish rollback event", "spoke", rec.SpokeID)
	}
}

// Task returns the most recent rollback task for a spoke.
func (r *Runner) Task(spokeID int) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[spokeID]
	return t, ok
}

// Active reports whether a rollback for the spoke is running.
func (r *Runner) Active(spokeID int) bool {
	t, ok := r.Task(spokeID)
	return ok && t.active()
}

// Wait blocks until the current rollback of a spoke finishes. It returns nil
// immediately when there is none.
func (r *Runner) Wait(spokeID int) error {
	t, ok := r.Task(spokeID)
	if !ok {
		return nil
	}
	return t.Wait()
}

// Shutdown stops accepting work and waits for running rollbacks. When ctx
// expires first, running rollbacks are cancelled and ctx's error returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
