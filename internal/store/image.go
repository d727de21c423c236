package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
)

// ImageStore defines the interface for generated image artifact persistence.
type ImageStore interface {
	// Create saves a new image artifact to the store.
	// It handles domain validation internally.
	Create(ctx context.Context, image *domain.Image) error

	// GetByID retrieves an image artifact by its unique ID.
	// Returns ErrImageNotFound if the image does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Image, error)

	// ListByRun retrieves all image artifacts produced for a run, ordered by
	// creation time ascending. Returns an empty slice if none exist.
	ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Image, error)

	// WithTx returns a new ImageStore instance that uses the provided transaction.
	WithTx(tx *sql.Tx) ImageStore
}
