package provisioning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/hubspoke/internal/spoke"
)

var (
	// ErrNotFound is wrapped by adapters when a resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInUse is wrapped by adapters when a resource cannot be removed yet
	// because something still holds it (an attached interface, a reservation).
	ErrInUse = errors.New("resource in use")

	// ErrRollbackActive is returned when a rollback for the spoke is already running.
	ErrRollbackActive = errors.New("rollback already in progress")
)

// IsNotFound reports whether err signals a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInUse reports whether err signals a resource that is still held.
func IsInUse(err error) bool { return errors.Is(err, ErrInUse) }

// ValidationError reports malformed request input.
type ValidationError = spoke.ValidationError

// ConfigurationError reports a misconfiguration detected before any remote call.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ProvisioningError reports a failed remote call for one resource.
type ProvisioningError struct {
	Resource string
	Op       string
	Name     string
	Err      error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("failed to %s %s %s: %v", e.Op, e.Resource, e.Name, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// PreconditionError reports a fact a later step depends on that is missing.
type PreconditionError struct {
	Condition string
}

func (e *PreconditionError) Error() string {
	return "precondition not met: " + e.Condition
}

// TimeoutError reports a bounded wait that ran out of budget. Fatal
// timeouts fail the workflow; non-fatal ones are only logged.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
	Fatal     bool
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not finish within %v", e.Operation, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// StorageError reports a failed persistence write. It never aborts a workflow.
type StorageError struct {
	SpokeID int
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to persist deployment %d: %v", e.SpokeID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RollbackFailure is one teardown that failed or was skipped.
type RollbackFailure struct {
	Resource string
	Name     string
	Skipped  bool
	Err      error
}

func (f RollbackFailure) Error() string {
	if f.Skipped {
		return fmt.Sprintf("%s %s skipped: %v", f.Resource, f.Name, f.Err)
	}
	return fmt.Sprintf("%s %s: %v", f.Resource, f.Name, f.Err)
}

func (f RollbackFailure) Unwrap() error { return f.Err }

// RollbackError lists every resource that needs manual attention after a
// rollback.
type RollbackError struct {
	SpokeID  int
	Failures []RollbackFailure
	Err      error
}

func (e *RollbackError) Error() string {
	if len(e.Failures) == 0 && e.Err != nil {
		return fmt.Sprintf("rollback of spoke %d failed: %v", e.SpokeID, e.Err)
	}
	return fmt.Sprintf("rollback of spoke %d incomplete: %s", e.SpokeID, strings.Join(e.Messages(), "; "))
}

func (e *RollbackError) Unwrap() error { return e.Err }

// Messages returns one line per failure.
func (e *RollbackError) Messages() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Error()
	}
	return out
}

// WorkflowError is returned by CreateSpoke when the forward workflow failed.
type WorkflowError struct {
	SpokeID        int
	Step           string
	RollbackQueued bool
	// ScheduleErr is set when a rollback was due but could not be started,
	// e.g. because the runner was shutting down.
	ScheduleErr error
	Err         error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("spoke %d failed at %s: %v", e.SpokeID, e.Step, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// schedulesRollback reports whether a failure should trigger compensation.
// Validation and configuration problems are detected before any remote call.
func schedulesRollback(err error) bool {
	var verr *ValidationError
	var cerr *ConfigurationError
	return !errors.As(err, &verr) && !errors.As(err, &cerr)
}
