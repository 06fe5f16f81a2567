// Package events publishes spoke lifecycle events.
//
// Event types:
//   - spoke.completed       create workflow finished
//   - spoke.failed          create workflow failed at a step
//   - spoke.rolled_back     compensating rollback removed every resource
//   - spoke.rollback_failed rollback left resources behind
//   - spoke.deleted         record removed after a successful delete
//
// Publishing is best-effort: callers log publish errors and carry on.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/imamik/hubspoke/internal/deployment"
)

// Type is the kind of lifecycle event. It doubles as the AMQP routing key.
type Type string

const (
	TypeSpokeCompleted Type = "spoke.completed"
	TypeSpokeFailed    Type = "spoke.failed"
	TypeRolledBack     Type = "spoke.rolled_back"
	TypeRollbackFailed Type = "spoke.rollback_failed"
	TypeSpokeDeleted   Type = "spoke.deleted"
)

// Event is one lifecycle notification.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	SpokeID    int               `json:"spoke_id"`
	ClientName string            `json:"client_name"`
	Status     deployment.Status `json:"status"`
	FailedStep string            `json:"failed_step,omitempty"`
	Error      string            `json:"error,omitempty"`
	Progress   int               `json:"progress_percentage"`
	Timestamp  time.Time         `json:"timestamp"`
}

// FromRecord builds an event describing rec.
func FromRecord(typ Type, rec *deployment.Record) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       typ,
		SpokeID:    rec.SpokeID,
		ClientName: rec.ClientName,
		Status:     rec.Status,
		FailedStep: rec.FailedStep,
		Error:      rec.ErrorMessage,
		Progress:   rec.Progress(),
		Timestamp:  time.Now().UTC(),
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
