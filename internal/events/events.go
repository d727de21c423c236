package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type identifiers for workflow lifecycle notifications.
const (
	// EventTaskQueued signals that one or more tasks became dispatchable
	// (created, unblocked, retried or requeued).
	EventTaskQueued = "task.queued"

	// EventTaskFinalized signals that a task reached a settled status
	// (done, failed, blocked_user or cancelled).
	EventTaskFinalized = "task.finalized"

	// EventRunStateChanged signals a run status transition
	// (paused, resumed, cancelled, completed or failed).
	EventRunStateChanged = "run.state_changed"
)

// Event describes a single workflow lifecycle occurrence. It carries the
// identifiers needed to react to the occurrence without direct dependencies
// on the emitting package.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Event* constants
	Type string `json:"type"`

	// RunID identifies the workflow run the event belongs to
	RunID uuid.UUID `json:"run_id"`

	// Payload contains event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates an Event of the given type for the given run. The payload
// is serialized to JSON; a nil payload produces an empty JSON object.
func NewEvent(eventType string, runID uuid.UUID, payload interface{}) (*Event, error) {
	payloadBytes := json.RawMessage("{}")
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = b
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		RunID:     runID,
		Payload:   payloadBytes,
		CreatedAt: time.Now(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *Event) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *Event) error
}
