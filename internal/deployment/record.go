// Package deployment models the persisted state of one spoke deployment:
// the ordered step history, the resources the steps produced, and the
// record-level lifecycle status.
//
// Records are mutated only through the transition methods in this package,
// which enforce that steps never regress and that record statuses follow the
// lifecycle graph (see [Status.CanTransition]).
package deployment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidTransition is returned when a status change would regress.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStepNotFound is returned when a step transition names an unknown step.
	ErrStepNotFound = errors.New("step not found")
)

// now is replaced in tests that need deterministic timestamps.
var now = func() time.Time { return time.Now().UTC() }

// Step is one named unit of the provisioning workflow.
type Step struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns how long the step ran, or zero if it has not finished.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}

// Record is the aggregate state of one spoke deployment, keyed by SpokeID.
type Record struct {
	SpokeID    int    `json:"spoke_id"`
	ClientName string `json:"client_name"`
	Status     Status `json:"status"`

	CIDR          string            `json:"cidr,omitempty"`
	Subnets       map[string]string `json:"subnets,omitempty"`
	InstanceSize  string            `json:"instance_size,omitempty"`
	AdminUsername string            `json:"admin_username,omitempty"`

	NetworkName     string `json:"network_name,omitempty"`
	NetworkID       string `json:"network_id,omitempty"`
	InstanceName    string `json:"instance_name,omitempty"`
	InstanceID      string `json:"instance_id,omitempty"`
	PrivateIP       string `json:"private_ip,omitempty"`
	NICName         string `json:"nic_name,omitempty"`
	DiskName        string `json:"disk_name,omitempty"`
	BackendPoolName string `json:"backend_pool_name,omitempty"`
	RoutingRuleName string `json:"routing_rule_name,omitempty"`

	Steps []*Step `json:"steps"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	FailedStep   string `json:"failed_step,omitempty"`
}

// New returns a pending record for the given spoke.
func New(spokeID int, clientName string) *Record {
	ts := now()
	return &Record{
		SpokeID:    spokeID,
		ClientName: clientName,
		Status:     StatusPending,
		Steps:      []*Step{},
		CreatedAt:  ts,
		UpdatedAt:  ts,
	}
}

// Step returns the named step, or nil if it has not been recorded.
func (r *Record) Step(name string) *Step {
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StartStep marks the named step in progress, appending it if absent, and
// moves a pending record to in_progress.
func (r *Record) StartStep(name, description string) error {
	step := r.Step(name)
	if step == nil {
		step = &Step{Name: name, Description: description, Status: StepPending}
		r.Steps = append(r.Steps, step)
	}
	if err := step.advance(StepInProgress); err != nil {
		return err
	}
	if step.Description == "" {
		step.Description = description
	}

	ts := now()
	step.StartedAt = &ts
	if r.Status == StatusPending {
		r.Status = StatusInProgress
	}
	r.UpdatedAt = ts
	return nil
}

// CompleteStep marks the named step completed.
func (r *Record) CompleteStep(name string) error {
	step := r.Step(name)
	if step == nil {
		return fmt.Errorf("%w: %s", ErrStepNotFound, name)
	}
	if err := step.advance(StepCompleted); err != nil {
		return err
	}

	ts := now()
	step.CompletedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// FailStep marks the named step failed and the record failed at that step.
func (r *Record) FailStep(name, message string) error {
	step := r.Step(name)
	if step == nil {
		return fmt.Errorf("%w: %s", ErrStepNotFound, name)
	}
	if r.Status != StatusFailed && !r.Status.CanTransition(StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFailed)
	}
	if err := step.advance(StepFailed); err != nil {
		return err
	}
	if message == "" {
		message = "unknown error"
	}
	r.Status = StatusFailed

	ts := now()
	step.CompletedAt = &ts
	step.Error = message
	r.FailedStep = name
	r.ErrorMessage = message
	r.CompletedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// MarkCompleted finalizes a record whose steps have all completed.
func (r *Record) MarkCompleted() error {
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: no steps recorded", ErrInvalidTransition)
	}
	for _, s := range r.Steps {
		if s.Status != StepCompleted {
			return fmt.Errorf("%w: step %s is %s", ErrInvalidTransition, s.Name, s.Status)
		}
	}
	if err := r.setStatus(StatusCompleted); err != nil {
		return err
	}
	ts := now()
	r.CompletedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// MarkRollingBack moves the record into rollback.
func (r *Record) MarkRollingBack() error {
	if err := r.setStatus(StatusRollingBack); err != nil {
		return err
	}
	r.UpdatedAt = now()
	return nil
}

// MarkRolledBack records a clean rollback.
func (r *Record) MarkRolledBack() error {
	if err := r.setStatus(StatusRolledBack); err != nil {
		return err
	}
	r.UpdatedAt = now()
	return nil
}

// MarkRollbackFailed records a rollback that left resources behind. The
// message is appended to any existing error so the original failure stays visible.
func (r *Record) MarkRollbackFailed(message string) error {
	if err := r.setStatus(StatusRollbackFailed); err != nil {
		return err
	}
	r.AppendError(message)
	return nil
}

// ForceRollbackFailed sets rollback_failed regardless of the current status.
// It is reserved for recovering from a crashed rollback task.
func (r *Record) ForceRollbackFailed(message string) {
	r.Status = StatusRollbackFailed
	r.AppendError(message)
}

// AppendError adds message to ErrorMessage.
func (r *Record) AppendError(message string) {
	if message != "" {
		if r.ErrorMessage == "" {
			r.ErrorMessage = message
		} else {
			r.ErrorMessage = r.ErrorMessage + "; " + message
		}
	}
	r.UpdatedAt = now()
}

func (r *Record) setStatus(next Status) error {
	if r.Status == next {
		return nil
	}
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Progress returns the share of recorded steps that completed, as a
// truncated percentage. A record without steps reports 0.
func (r *Record) Progress() int {
	if len(r.Steps) == 0 {
		return 0
	}
	return len(r.CompletedSteps()) * 100 / len(r.Steps)
}

// CompletedSteps returns the names of completed steps in execution order.
func (r *Record) CompletedSteps() []string {
	var names []string
	for _, s := range r.Steps {
		if s.Status == StepCompleted {
			names = append(names, s.Name)
		}
	}
	return names
}

// IsStepCompleted reports whether the named step completed.
func (r *Record) IsStepCompleted(name string) bool {
	s := r.Step(name)
	return s != nil && s.Status == StepCompleted
}

// IsStepStarted reports whether the named step was ever started.
func (r *Record) IsStepStarted(name string) bool {
	s := r.Step(name)
	return s != nil && s.Status != StepPending
}

// CurrentStep returns the step in progress, or the last recorded step.
func (r *Record) CurrentStep() *Step {
	for _, s := range r.Steps {
		if s.Status == StepInProgress {
			return s
		}
	}
	if len(r.Steps) == 0 {
		return nil
	}
	return r.Steps[len(r.Steps)-1]
}

// Duration returns the time from creation to completion, or until now.
func (r *Record) Duration() time.Duration {
	end := now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.CreatedAt)
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Subnets != nil {
		c.Subnets = make(map[string]string, len(r.Subnets))
		for k, v := range r.Subnets {
			c.Subnets[k] = v
		}
	}
	c.CompletedAt = cloneTime(r.CompletedAt)
	c.Steps = make([]*Step, len(r.Steps))
	for i, s := range r.Steps {
		step := *s
		step.StartedAt = cloneTime(s.StartedAt)
		step.CompletedAt = cloneTime(s.CompletedAt)
		c.Steps[i] = &step
	}
	return &c
}

func (r *Record) String() string {
	return fmt.Sprintf("spoke %d (%s) %s %d%%", r.SpokeID, r.ClientName, r.Status, r.Progress())
}

// Summary is the list view of a record.
type Summary struct {
	SpokeID      int       `json:"spoke_id"`
	ClientName   string    `json:"client_name"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress_percentage"`
	CurrentStep  string    `json:"current_step,omitempty"`
	NetworkName  string    `json:"network_name,omitempty"`
	InstanceName string    `json:"instance_name,omitempty"`
	PrivateIP    string    `json:"private_ip,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary returns the list view of the record.
func (r *Record) Summary() Summary {
	s := Summary{
		SpokeID:      r.SpokeID,
		ClientName:   r.ClientName,
		Status:       r.Status,
		Progress:     r.Progress(),
		NetworkName:  r.NetworkName,
		InstanceName: r.InstanceName,
		PrivateIP:    r.PrivateIP,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if step := r.CurrentStep(); step != nil {
		s.CurrentStep = step.Name
	}
	return s
}

// ErrorLines splits ErrorMessage into its individual entries.
func (r *Record) ErrorLines() []string {
	if r.ErrorMessage == "" {
		return nil
	}
	return strings.Split(r.ErrorMessage, "; ")
}

func (s *Step) advance(next StepStatus) error {
	if next.rank() <= s.Status.rank() && !(s.Status == next && next == StepInProgress) {
		return fmt.Errorf("%w: step %s %s -> %s", ErrInvalidTransition, s.Name, s.Status, next)
	}
	if next.rank() == 2 && s.Status != StepInProgress {
		return fmt.Errorf("%w: step %s must be in progress before it is %s", ErrInvalidTransition, s.Name, next)
	}
	s.Status = next
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
