package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
)

// RunStore defines the interface for workflow run persistence.
type RunStore interface {
	// Create saves a new workflow run to the store.
	// It handles domain validation internally.
	// Returns validation errors from the domain WorkflowRun if data is invalid.
	Create(ctx context.Context, run *domain.WorkflowRun) error

	// GetByID retrieves a workflow run by its unique ID.
	// Returns ErrRunNotFound if the run does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error)

	// Update saves changes to an existing run (status, stage pointer,
	// pause reason). Returns ErrRunNotFound if the run does not exist.
	// Returns validation errors if the run data is invalid.
	Update(ctx context.Context, run *domain.WorkflowRun) error

	// ListByOwner retrieves the runs belonging to a user, newest first.
	// Returns an empty slice if the user has no runs.
	ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.WorkflowRun, error)

	// WithTx returns a new RunStore instance that uses the provided transaction.
	// This allows for multiple operations to be executed within a single transaction.
	// The transaction should be created and managed by the caller (typically a service).
	WithTx(tx *sql.Tx) RunStore
}
