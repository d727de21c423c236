package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
)

const runColumns = `id, owner_id, type, current_stage, status, proposal_id,
	pause_reason, created_at, updated_at`

// PostgresRunStore implements the store.RunStore interface
// using a PostgreSQL database as the storage backend.
type PostgresRunStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresRunStore creates a new PostgreSQL implementation of the RunStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresRunStore(db store.DBTX, logger *slog.Logger) *PostgresRunStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRunStore{
		db:     db,
		logger: logger.With(slog.String("component", "run_store")),
	}
}

// Ensure PostgresRunStore implements store.RunStore interface
var _ store.RunStore = (*PostgresRunStore)(nil)

// WithTx implements store.RunStore.WithTx
// It returns a new RunStore instance that uses the provided transaction.
func (s *PostgresRunStore) WithTx(tx *sql.Tx) store.RunStore {
	return &PostgresRunStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.RunStore.Create
// It saves a new workflow run to the database, handling domain validation.
// Returns store.ErrInvalidEntity if the owner does not exist (foreign key violation).
func (s *PostgresRunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	if err := run.Validate(); err != nil {
		s.logger.Warn("run validation failed during create",
			slog.String("error", err.Error()),
			slog.String("run_id", run.ID.String()))
		return err
	}

	query := `
		INSERT INTO workflow_runs
			(id, owner_id, type, current_stage, status, proposal_id,
			 pause_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		run.ID,
		run.OwnerID,
		run.Type,
		run.CurrentStage,
		run.Status,
		run.ProposalID,
		run.PauseReason,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		if IsForeignKeyViolation(err) {
			s.logger.Warn("foreign key violation during run creation",
				slog.String("error", err.Error()),
				slog.String("run_id", run.ID.String()),
				slog.String("owner_id", run.OwnerID.String()))
			return fmt.Errorf("%w: owner with ID %s not found",
				store.ErrInvalidEntity, run.OwnerID)
		}

		s.logger.Error("failed to create run",
			slog.String("error", err.Error()),
			slog.String("run_id", run.ID.String()))
		return MapError(err)
	}

	s.logger.Info("workflow run created",
		slog.String("run_id", run.ID.String()),
		slog.String("owner_id", run.OwnerID.String()),
		slog.String("type", string(run.Type)))
	return nil
}

// GetByID implements store.RunStore.GetByID
// Returns store.ErrRunNotFound if the run does not exist.
func (s *PostgresRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE id = $1`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRunNotFound
		}
		s.logger.Error("failed to get run by ID",
			slog.String("error", err.Error()),
			slog.String("run_id", id.String()))
		return nil, MapError(err)
	}
	return run, nil
}

// Update implements store.RunStore.Update
// It saves status, stage pointer and pause reason changes.
// Returns store.ErrRunNotFound if the run does not exist.
func (s *PostgresRunStore) Update(ctx context.Context, run *domain.WorkflowRun) error {
	if err := run.Validate(); err != nil {
		s.logger.Warn("run validation failed during update",
			slog.String("error", err.Error()),
			slog.String("run_id", run.ID.String()))
		return err
	}

	query := `
		UPDATE workflow_runs
		SET current_stage = $1, status = $2, pause_reason = $3, updated_at = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		run.CurrentStage,
		run.Status,
		run.PauseReason,
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		s.logger.Error("failed to update run",
			slog.String("error", err.Error()),
			slog.String("run_id", run.ID.String()))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrRunNotFound
	}
	return nil
}

// ListByOwner implements store.RunStore.ListByOwner
func (s *PostgresRunStore) ListByOwner(
	ctx context.Context,
	ownerID uuid.UUID,
	limit, offset int,
) ([]*domain.WorkflowRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		s.logger.Error("failed to list runs by owner",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	runs := []*domain.WorkflowRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, MapError(err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return runs, nil
}

// scanRun reads one run row in runColumns order.
func scanRun(row rowScanner) (*domain.WorkflowRun, error) {
	var (
		run         domain.WorkflowRun
		proposalID  uuid.NullUUID
		pauseReason sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.OwnerID,
		&run.Type,
		&run.CurrentStage,
		&run.Status,
		&proposalID,
		&pauseReason,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if proposalID.Valid {
		id := proposalID.UUID
		run.ProposalID = &id
	}
	if pauseReason.Valid {
		run.PauseReason = pauseReason.String
	}
	return &run, nil
}
