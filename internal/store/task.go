package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
)

// TaskFilter narrows ListByRun results. Nil fields match everything.
type TaskFilter struct {
	Type   *domain.TaskType
	Status *domain.TaskStatus
}

// TaskStore defines the interface for workflow task persistence. The
// dispatcher depends only on this contract, never on a specific storage
// engine.
type TaskStore interface {
	// Create saves a new workflow task to the store.
	// It handles domain validation internally.
	Create(ctx context.Context, task *domain.WorkflowTask) error

	// GetByID retrieves a workflow task by its unique ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error)

	// Update saves changes to an existing task (status, attempts, input,
	// output, last error). Returns ErrTaskNotFound if the task does not exist.
	Update(ctx context.Context, task *domain.WorkflowTask) error

	// FindEligible retrieves up to limit queued tasks that belong to running
	// runs and whose dependencies have all reached done, ordered by priority
	// descending then creation time ascending.
	FindEligible(ctx context.Context, limit int) ([]*domain.WorkflowTask, error)

	// Claim atomically transitions a task from queued to running and
	// increments its attempt counter. Exactly one concurrent caller succeeds;
	// the rest observe ErrTaskNotClaimable. The claim is conditional on the
	// current status so a task another dispatch cycle already claimed, or one
	// that was cancelled meanwhile, is never claimed twice.
	Claim(ctx context.Context, id uuid.UUID) error

	// ListByRun retrieves all tasks of a run matching the filter, ordered by
	// creation time ascending. Returns an empty slice if none match.
	ListByRun(ctx context.Context, runID uuid.UUID, filter TaskFilter) ([]*domain.WorkflowTask, error)

	// FindStale retrieves running tasks whose last update is older than the
	// given threshold. Used by the recovery sweep to reclaim tasks whose
	// process died mid-execution.
	FindStale(ctx context.Context, olderThan time.Duration) ([]*domain.WorkflowTask, error)

	// CancelPending transitions all queued and blocked_user tasks of a run to
	// cancelled, returning the number of tasks affected. Running tasks are
	// left to finish.
	CancelPending(ctx context.Context, runID uuid.UUID) (int64, error)

	// WithTx returns a new TaskStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) TaskStore
}
