package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
)

const imageColumns = `id, run_id, task_id, target_entity, prompt, mime_type,
	data, created_at`

// PostgresImageStore implements the store.ImageStore interface
// using a PostgreSQL database as the storage backend. Image bytes are
// stored inline; serving and CDN distribution are outside this service.
type PostgresImageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresImageStore creates a new PostgreSQL implementation of the ImageStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresImageStore(db store.DBTX, logger *slog.Logger) *PostgresImageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresImageStore{
		db:     db,
		logger: logger.With(slog.String("component", "image_store")),
	}
}

// Ensure PostgresImageStore implements store.ImageStore interface
var _ store.ImageStore = (*PostgresImageStore)(nil)

// WithTx implements store.ImageStore.WithTx
func (s *PostgresImageStore) WithTx(tx *sql.Tx) store.ImageStore {
	return &PostgresImageStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.ImageStore.Create
func (s *PostgresImageStore) Create(ctx context.Context, image *domain.Image) error {
	if err := image.Validate(); err != nil {
		s.logger.Warn("image validation failed during create",
			slog.String("error", err.Error()),
			slog.String("image_id", image.ID.String()))
		return err
	}

	query := `
		INSERT INTO images
			(id, run_id, task_id, target_entity, prompt, mime_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		image.ID,
		image.RunID,
		image.TaskID,
		image.TargetEntity,
		image.Prompt,
		image.MimeType,
		image.Data,
		image.CreatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create image",
			slog.String("error", err.Error()),
			slog.String("image_id", image.ID.String()),
			slog.String("run_id", image.RunID.String()))
		return MapError(err)
	}

	s.logger.Debug("image stored",
		slog.String("image_id", image.ID.String()),
		slog.String("run_id", image.RunID.String()),
		slog.String("target_entity", image.TargetEntity),
		slog.Int("bytes", len(image.Data)))
	return nil
}

// GetByID implements store.ImageStore.GetByID
// Returns store.ErrImageNotFound if the image does not exist.
func (s *PostgresImageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`

	image, err := scanImage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrImageNotFound
		}
		s.logger.Error("failed to get image by ID",
			slog.String("error", err.Error()),
			slog.String("image_id", id.String()))
		return nil, MapError(err)
	}
	return image, nil
}

// ListByRun implements store.ImageStore.ListByRun
func (s *PostgresImageStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Image, error) {
	query := `
		SELECT ` + imageColumns + `
		FROM images
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		s.logger.Error("failed to list images by run",
			slog.String("error", err.Error()),
			slog.String("run_id", runID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	images := []*domain.Image{}
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, MapError(err)
		}
		images = append(images, image)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return images, nil
}

// scanImage reads one image row in imageColumns order.
func scanImage(row rowScanner) (*domain.Image, error) {
	var image domain.Image
	err := row.Scan(
		&image.ID,
		&image.RunID,
		&image.TaskID,
		&image.TargetEntity,
		&image.Prompt,
		&image.MimeType,
		&image.Data,
		&image.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &image, nil
}
