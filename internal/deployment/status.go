package deployment

import "fmt"

// Status is the lifecycle state of a deployment record.
type Status string

const (
	StatusPending        Status = "pending"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusRollingBack    Status = "rolling_back"
	StatusRolledBack     Status = "rolled_back"
	StatusRollbackFailed Status = "rollback_failed"
)

// AllStatuses lists every record status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusRollingBack,
	StatusRolledBack,
	StatusRollbackFailed,
}

// transitions lists the statuses reachable from each status. Rolled back and
// rollback_failed records may be rolled back again through an explicit delete.
// An in_progress record whose workflow died with its process can only leave
// that state through a rollback.
var transitions = map[Status][]Status{
	StatusPending:        {StatusInProgress, StatusFailed, StatusRollingBack},
	StatusInProgress:     {StatusCompleted, StatusFailed, StatusRollingBack},
	StatusCompleted:      {StatusRollingBack},
	StatusFailed:         {StatusRollingBack},
	StatusRollingBack:    {StatusRolledBack, StatusRollbackFailed},
	StatusRolledBack:     {StatusRollingBack},
	StatusRollbackFailed: {StatusRollingBack},
}

// ParseStatus converts s to a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown deployment status %q", s)
	}
	return status, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a record may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether a workflow or rollback is currently running.
func (s Status) IsActive() bool {
	return s == StatusInProgress || s == StatusRollingBack
}

// StepStatus is the state of a single workflow step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// rank orders step statuses so that a step can never move backwards.
func (s StepStatus) rank() int {
	switch s {
	case StepPending:
		return 0
	case StepInProgress:
		return 1
	case StepCompleted, StepFailed:
		return 2
	default:
		return -1
	}
}
