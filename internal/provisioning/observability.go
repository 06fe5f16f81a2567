package provisioning

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

// Observer receives structured progress events from the workflow and the
// rollback engine.
type Observer interface {
	// Event emits a structured event
	Event(event Event)

	// Progress reports completed/total steps for a spoke
	Progress(step string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured provisioning event.
type Event struct {
	Type      EventType         // Type of event
	Step      string            // Workflow step or rollback stage
	Message   string            // Human-readable message
	Resource  string            // Resource name if applicable
	Timestamp time.Time         // When the event occurred
	Fields    map[string]string // Additional contextual fields
}

// EventType represents the type of provisioning event.
type EventType string

const (
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"

	EventResourceCreating EventType = "resource.creating"
	EventResourceCreated  EventType = "resource.created"
	EventResourceExists   EventType = "resource.exists"
	EventResourceDeleting EventType = "resource.deleting"
	EventResourceDeleted  EventType = "resource.deleted"
	EventResourceSkipped  EventType = "resource.skipped"
	EventResourceFailed   EventType = "resource.failed"

	EventRollbackStarted   EventType = "rollback.started"
	EventRollbackCompleted EventType = "rollback.completed"
	EventRollbackFailed    EventType = "rollback.failed"

	EventWarning  EventType = "warning"
	EventProgress EventType = "progress"
)

// LogObserver implements Observer on top of a logr.Logger.
type LogObserver struct {
	log    logr.Logger
	fields map[string]string
}

// NewLogObserver creates an observer that writes events to log.
func NewLogObserver(log logr.Logger) *LogObserver {
	return &LogObserver{log: log, fields: map[string]string{}}
}

// Event implements Observer.
func (o *LogObserver) Event(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	kv := []any{"event", string(event.Type)}
	if event.Step != "" {
		kv = append(kv, "step", event.Step)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	kv = append(kv, mergedFields(o.fields, event.Fields)...)

	switch event.Type {
	case EventStepFailed, EventResourceFailed, EventRollbackFailed:
		o.log.Error(nil, event.Message, kv...)
	case EventProgress, EventResourceExists:
		o.log.V(1).Info(event.Message, kv...)
	default:
		o.log.Info(event.Message, kv...)
	}
}

// Progress implements Observer.
func (o *LogObserver) Progress(step string, current, total int) {
	percentage := 0
	if total > 0 {
		percentage = current * 100 / total
	}
	o.Event(Event{
		Type:    EventProgress,
		Step:    step,
		Message: fmt.Sprintf("%d/%d steps (%d%%)", current, total, percentage),
	})
}

// WithFields implements Observer.
func (o *LogObserver) WithFields(fields map[string]string) Observer {
	merged := make(map[string]string, len(o.fields)+len(fields))
	for k, v := range o.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &LogObserver{log: o.log, fields: merged}
}

// mergedFields flattens context and event fields into sorted key/value
// pairs. Event fields win over context fields.
func mergedFields(context, event map[string]string) []any {
	all := make(map[string]string, len(context)+len(event))
	for k, v := range context {
		all[k] = v
	}
	for k, v := range event {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, all[k])
	}
	return kv
}

// Helper functions for common events

func logStepStart(o Observer, step string) {
	o.Event(Event{Type: EventStepStarted, Step: step, Message: "starting"})
}

func logStepComplete(o Observer, step string, d time.Duration) {
	o.Event(Event{
		Type:    EventStepCompleted,
		Step:    step,
		Message: fmt.Sprintf("completed in %v", d.Round(time.Millisecond)),
	})
}

func logStepFailed(o Observer, step string, err error) {
	o.Event(Event{Type: EventStepFailed, Step: step, Message: fmt.Sprintf("failed: %v", err)})
}

func logResourceCreated(o Observer, step, kind, name string, created bool) {
	typ, msg := EventResourceCreated, kind+" created"
	if !created {
		typ, msg = EventResourceExists, kind+" already exists"
	}
	o.Event(Event{Type: typ, Step: step, Resource: name, Message: msg, Fields: map[string]string{"type": kind}})
}

func logResourceDeleting(o Observer, kind, name string) {
	o.Event(Event{
		Type:     EventResourceDeleting,
		Step:     "rollback",
		Resource: name,
		Message:  "deleting " + kind,
		Fields:   map[string]string{"type": kind},
	})
}

func logResourceDeleted(o Observer, kind, name string) {
	o.Event(Event{
		Type:     EventResourceDeleted,
		Step:     "rollback",
		Resource: name,
		Message:  kind + " deleted",
		Fields:   map[string]string{"type": kind},
	})
}

func logResourceFailed(o Observer, f RollbackFailure) {
	typ := EventResourceFailed
	if f.Skipped {
		typ = EventResourceSkipped
	}
	o.Event(Event{
		Type:     typ,
		Step:     "rollback",
		Resource: f.Name,
		Message:  f.Error(),
		Fields:   map[string]string{"type": f.Resource},
	})
}

func logWarning(o Observer, step, msg string) {
	o.Event(Event{Type: EventWarning, Step: step, Message: msg})
}
