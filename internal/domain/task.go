package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a workflow task.
type TaskStatus string

// Possible workflow task status values
const (
	TaskStatusQueued      TaskStatus = "queued"
	TaskStatusRunning     TaskStatus = "running"
	TaskStatusBlockedUser TaskStatus = "blocked_user"
	TaskStatusFailed      TaskStatus = "failed"
	TaskStatusDone        TaskStatus = "done"
	TaskStatusCancelled   TaskStatus = "cancelled"
)

// TaskType identifies a pipeline stage and selects the handler that
// executes tasks of this type.
type TaskType string

// Task types, one per pipeline stage
const (
	TaskTypeIntake     TaskType = "intake"
	TaskTypeResearch   TaskType = "research"
	TaskTypeKBBuild    TaskType = "kb_build"
	TaskTypeSitemap    TaskType = "sitemap"
	TaskTypeContent    TaskType = "content"
	TaskTypeImageGen   TaskType = "image_gen"
	TaskTypeImageStore TaskType = "image_store"
	TaskTypePublish    TaskType = "publish"
)

// Common validation errors for WorkflowTask
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyTaskRunID    = errors.New("task run ID cannot be empty")
	ErrEmptyTaskType     = errors.New("task type cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// WorkflowTask represents an atomic, independently schedulable unit of work
// within a workflow run. Tasks are mutated only by the dispatcher and by the
// explicit unblock/retry/complete/fail operations.
type WorkflowTask struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	Type  TaskType  `json:"type"`
	// TargetEntity labels the artifact this task produces, e.g. a page slug
	// or an image slot name.
	TargetEntity string `json:"target_entity"`
	// Input is the handler-interpreted payload; its shape is owned by the
	// task type's handler, never by the dispatcher.
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output,omitempty"`
	Status TaskStatus      `json:"status"`
	// DependsOn lists task IDs that must all reach done before this task
	// becomes eligible for dispatch.
	DependsOn []uuid.UUID `json:"depends_on,omitempty"`
	// Attempts counts executions, including the first; it never exceeds
	// the configured retry budget plus one.
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowTask creates a new queued WorkflowTask belonging to the given
// run. It generates a new UUID for the task ID and normalizes a nil input
// to an empty JSON object. Returns an error if validation fails.
func NewWorkflowTask(
	runID uuid.UUID,
	taskType TaskType,
	targetEntity string,
	input json.RawMessage,
	dependsOn []uuid.UUID,
	priority int,
) (*WorkflowTask, error) {
	if input == nil {
		input = json.RawMessage(`{}`)
	}

	task := &WorkflowTask{
		ID:           uuid.New(),
		RunID:        runID,
		Type:         taskType,
		TargetEntity: targetEntity,
		Input:        input,
		Status:       TaskStatusQueued,
		DependsOn:    dependsOn,
		Attempts:     0,
		Priority:     priority,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the WorkflowTask has valid data.
// Returns an error if any field fails validation.
func (t *WorkflowTask) Validate() error {
	if t.ID == uuid.Nil {
		return ErrEmptyTaskID
	}

	if t.RunID == uuid.Nil {
		return ErrEmptyTaskRunID
	}

	if t.Type == "" {
		return ErrEmptyTaskType
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// UpdateStatus updates the task's status and touches the UpdatedAt
// timestamp. Returns an error if the new status is invalid.
func (t *WorkflowTask) UpdateStatus(status TaskStatus) error {
	if !isValidTaskStatus(status) {
		return ErrInvalidTaskStatus
	}

	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// IsTerminal reports whether the task status is one automatic dispatch will
// never move it out of. A failed task can still be requeued, but only by an
// explicit retry.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusBlockedUser,
		TaskStatusFailed, TaskStatusDone, TaskStatusCancelled:
		return true
	default:
		return false
	}
}
