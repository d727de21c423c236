package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
)

// PageStore defines the interface for published page persistence.
type PageStore interface {
	// Create saves a new published page to the store.
	// It handles domain validation internally.
	// Returns ErrDuplicate if a page with the same run and slug exists.
	Create(ctx context.Context, page *domain.Page) error

	// GetByID retrieves a page by its unique ID.
	// Returns ErrPageNotFound if the page does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Page, error)

	// ListByRun retrieves all pages published for a run, ordered by creation
	// time ascending. Returns an empty slice if none exist.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Page, error)

	// WithTx returns a new PageStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) PageStore
}
