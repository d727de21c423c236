package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
)

const pageColumns = `id, run_id, slug, title, content, image_ids,
	published_at, created_at`

// PostgresPageStore implements the store.PageStore interface
// using a PostgreSQL database as the storage backend.
type PostgresPageStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresPageStore creates a new PostgreSQL implementation of the PageStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresPageStore(db store.DBTX, logger *slog.Logger) *PostgresPageStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresPageStore{
		db:     db,
		logger: logger.With(slog.String("component", "page_store")),
	}
}

// Ensure PostgresPageStore implements store.PageStore interface
var _ store.PageStore = (*PostgresPageStore)(nil)

// WithTx implements store.PageStore.WithTx
func (s *PostgresPageStore) WithTx(tx *sql.Tx) store.PageStore {
	return &PostgresPageStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.PageStore.Create
// Returns store.ErrDuplicate if a page with the same run and slug exists.
func (s *PostgresPageStore) Create(ctx context.Context, page *domain.Page) error {
	if err := page.Validate(); err != nil {
		s.logger.Warn("page validation failed during create",
			slog.String("error", err.Error()),
			slog.String("page_id", page.ID.String()))
		return err
	}

	imageIDs, err := json.Marshal(page.ImageIDs)
	if err != nil {
		return fmt.Errorf("failed to encode page image references: %w", err)
	}

	query := `
		INSERT INTO pages
			(id, run_id, slug, title, content, image_ids, published_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		page.ID,
		page.RunID,
		page.Slug,
		page.Title,
		[]byte(page.Content),
		imageIDs,
		page.PublishedAt,
		page.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			s.logger.Debug("duplicate slug during page creation",
				slog.String("run_id", page.RunID.String()),
				slog.String("slug", page.Slug))
			return fmt.Errorf("%w: page %q for run %s",
				store.ErrDuplicate, page.Slug, page.RunID)
		}

		s.logger.Error("failed to create page",
			slog.String("error", err.Error()),
			slog.String("page_id", page.ID.String()))
		return MapError(err)
	}

	s.logger.Info("page published",
		slog.String("page_id", page.ID.String()),
		slog.String("run_id", page.RunID.String()),
		slog.String("slug", page.Slug))
	return nil
}

// GetByID implements store.PageStore.GetByID
// Returns store.ErrPageNotFound if the page does not exist.
func (s *PostgresPageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Page, error) {
	query := `SELECT ` + pageColumns + ` FROM pages WHERE id = $1`

	page, err := scanPage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrPageNotFound
		}
		s.logger.Error("failed to get page by ID",
			slog.String("error", err.Error()),
			slog.String("page_id", id.String()))
		return nil, MapError(err)
	}
	return page, nil
}

// ListByRun implements store.PageStore.ListByRun
func (s *PostgresPageStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Page, error) {
	query := `
		SELECT ` + pageColumns + `
		FROM pages
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		s.logger.Error("failed to list pages by run",
			slog.String("error", err.Error()),
			slog.String("run_id", runID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	pages := []*domain.Page{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, MapError(err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return pages, nil
}

// scanPage reads one page row in pageColumns order.
func scanPage(row rowScanner) (*domain.Page, error) {
	var (
		page     domain.Page
		content  []byte
		imageIDs []byte
	)

	err := row.Scan(
		&page.ID,
		&page.RunID,
		&page.Slug,
		&page.Title,
		&content,
		&imageIDs,
		&page.PublishedAt,
		&page.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	page.Content = json.RawMessage(content)
	if len(imageIDs) > 0 {
		if err := json.Unmarshal(imageIDs, &page.ImageIDs); err != nil {
			return nil, fmt.Errorf("failed to decode page image references: %w", err)
		}
	}
	if len(page.ImageIDs) == 0 {
		page.ImageIDs = nil
	}
	return &page, nil
}
