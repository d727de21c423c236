package task

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
)

// Handler executes tasks of a single type. Implementations receive the task
// with its input payload and return the produced output together with any
// follow-on tasks to insert.
//
// A handler reports "waiting on the user" by returning an error that wraps
// ErrNeedsUserInput; any partial result it returns alongside is persisted.
// Errors wrapped with Permanent fail the task without further retries, also
// keeping a partial result (failed work stays inspectable); all other errors
// consume one attempt from the task's retry budget.
type Handler interface {
	Execute(ctx context.Context, task *domain.WorkflowTask) (*HandlerResult, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *domain.WorkflowTask) (*HandlerResult, error)

// Execute calls f(ctx, task).
func (f HandlerFunc) Execute(ctx context.Context, task *domain.WorkflowTask) (*HandlerResult, error) {
	return f(ctx, task)
}

// HandlerResult is the outcome of a successful (or partially successful)
// handler execution.
type HandlerResult struct {
	// Output is the task's result payload, persisted on the task row.
	Output json.RawMessage

	// NextTasks are follow-on tasks to insert atomically with the task's
	// completion. They are ignored when the run was cancelled meanwhile.
	NextTasks []TaskSpec
}

// TaskSpec describes a task to create, either directly through the engine's
// CreateTask or as a follow-on inside a HandlerResult.
type TaskSpec struct {
	Type         domain.TaskType `json:"type"`
	TargetEntity string          `json:"target_entity"`
	Input        json.RawMessage `json:"input,omitempty"`

	// DependsOn references already persisted tasks of the same run.
	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	// DependsOnNew references earlier specs of the same batch by index,
	// letting a handler chain follow-ons that do not have IDs yet. Only
	// backward references are allowed so a batch can never form a cycle.
	DependsOnNew []int `json:"depends_on_new,omitempty"`

	Priority int `json:"priority"`
}
