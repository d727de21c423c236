package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
)

// taskColumns is the canonical select list shared by every task query so
// scanTask always sees the same column order.
const taskColumns = `id, run_id, type, target_entity, input, output, status,
	depends_on, attempts, last_error, priority, created_at, updated_at`

// PostgresTaskStore implements the store.TaskStore interface
// using a PostgreSQL database as the storage backend.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of the TaskStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// WithTx implements store.TaskStore.WithTx
// It returns a new TaskStore instance that uses the provided transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// Create implements store.TaskStore.Create
// It saves a new workflow task to the database, handling domain validation.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.WorkflowTask) error {
	if err := task.Validate(); err != nil {
		s.logger.Warn("task validation failed during create",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	dependsOn, err := encodeDependsOn(task.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to encode task dependencies: %w", err)
	}

	query := `
		INSERT INTO workflow_tasks
			(id, run_id, type, target_entity, input, output, status,
			 depends_on, attempts, last_error, priority, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.RunID,
		task.Type,
		task.TargetEntity,
		[]byte(task.Input),
		nullableJSON(task.Output),
		task.Status,
		dependsOn,
		task.Attempts,
		task.LastError,
		task.Priority,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()),
			slog.String("run_id", task.RunID.String()))
		return MapError(err)
	}

	s.logger.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("run_id", task.RunID.String()),
		slog.String("type", string(task.Type)))
	return nil
}

// GetByID implements store.TaskStore.GetByID
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrTaskNotFound
		}
		s.logger.Error("failed to get task by ID",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return nil, MapError(err)
	}
	return task, nil
}

// Update implements store.TaskStore.Update
// It saves status, attempts, payloads and error message changes.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) Update(ctx context.Context, task *domain.WorkflowTask) error {
	if err := task.Validate(); err != nil {
		s.logger.Warn("task validation failed during update",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return err
	}

	query := `
		UPDATE workflow_tasks
		SET input = $1, output = $2, status = $3, attempts = $4,
		    last_error = $5, priority = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		[]byte(task.Input),
		nullableJSON(task.Output),
		task.Status,
		task.Attempts,
		task.LastError,
		task.Priority,
		task.UpdatedAt,
		task.ID,
	)
	if err != nil {
		s.logger.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID.String()))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

// Claim implements store.TaskStore.Claim
// The update is conditional on the queued status so exactly one of any
// number of concurrent dispatch cycles wins the task; the attempt counter
// is incremented in the same statement.
func (s *PostgresTaskStore) Claim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE workflow_tasks
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.TaskStatusRunning,
		time.Now().UTC(),
		id,
		domain.TaskStatusQueued,
	)
	if err != nil {
		s.logger.Error("failed to claim task",
			slog.String("error", err.Error()),
			slog.String("task_id", id.String()))
		return MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish a lost claim race from a missing task.
		var exists bool
		err := s.db.QueryRowContext(
			ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_tasks WHERE id = $1)`,
			id,
		).Scan(&exists)
		if err != nil {
			return MapError(err)
		}
		if !exists {
			return store.ErrTaskNotFound
		}
		return store.ErrTaskNotClaimable
	}
	return nil
}

// FindEligible implements store.TaskStore.FindEligible
// The dependency gate lives in the query: a task qualifies only when every
// ID in its depends_on list resolves to a done task. Tasks of paused,
// cancelled or otherwise non-running runs are excluded here, which is what
// makes pause and cancel suppress new dispatch.
func (s *PostgresTaskStore) FindEligible(ctx context.Context, limit int) ([]*domain.WorkflowTask, error) {
	query := `
		SELECT ` + qualifyColumns("t", taskColumns) + `
		FROM workflow_tasks t
		JOIN workflow_runs r ON r.id = t.run_id
		WHERE t.status = $1
		  AND r.status = $2
		  AND NOT EXISTS (
			SELECT 1
			FROM jsonb_array_elements_text(t.depends_on) AS dep(dep_id)
			LEFT JOIN workflow_tasks d ON d.id = dep.dep_id::uuid
			WHERE d.id IS NULL OR d.status <> $3
		  )
		ORDER BY t.priority DESC, t.created_at ASC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(
		ctx,
		query,
		domain.TaskStatusQueued,
		domain.RunStatusRunning,
		domain.TaskStatusDone,
		limit,
	)
	if err != nil {
		s.logger.Error("failed to query eligible tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// ListByRun implements store.TaskStore.ListByRun
func (s *PostgresTaskStore) ListByRun(
	ctx context.Context,
	runID uuid.UUID,
	filter store.TaskFilter,
) ([]*domain.WorkflowTask, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE run_id = $1`
	args := []any{runID}

	if filter.Type != nil {
		args = append(args, *filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("failed to list tasks by run",
			slog.String("error", err.Error()),
			slog.String("run_id", runID.String()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// FindStale implements store.TaskStore.FindStale
func (s *PostgresTaskStore) FindStale(
	ctx context.Context,
	olderThan time.Duration,
) ([]*domain.WorkflowTask, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query := `
		SELECT ` + taskColumns + `
		FROM workflow_tasks
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, domain.TaskStatusRunning, cutoff)
	if err != nil {
		s.logger.Error("failed to query stale tasks",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	return collectTasks(rows)
}

// CancelPending implements store.TaskStore.CancelPending
func (s *PostgresTaskStore) CancelPending(ctx context.Context, runID uuid.UUID) (int64, error) {
	query := `
		UPDATE workflow_tasks
		SET status = $1, updated_at = $2
		WHERE run_id = $3 AND status IN ($4, $5)
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		domain.TaskStatusCancelled,
		time.Now().UTC(),
		runID,
		domain.TaskStatusQueued,
		domain.TaskStatusBlockedUser,
	)
	if err != nil {
		s.logger.Error("failed to cancel pending tasks",
			slog.String("error", err.Error()),
			slog.String("run_id", runID.String()))
		return 0, MapError(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.WorkflowTask, error) {
	var (
		task      domain.WorkflowTask
		input     []byte
		output    []byte
		dependsOn []byte
		lastError sql.NullString
	)

	err := row.Scan(
		&task.ID,
		&task.RunID,
		&task.Type,
		&task.TargetEntity,
		&input,
		&output,
		&task.Status,
		&dependsOn,
		&task.Attempts,
		&lastError,
		&task.Priority,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Input = json.RawMessage(input)
	if len(output) > 0 {
		task.Output = json.RawMessage(output)
	}
	if lastError.Valid {
		task.LastError = lastError.String
	}

	task.DependsOn, err = decodeDependsOn(dependsOn)
	if err != nil {
		return nil, fmt.Errorf("failed to decode task dependencies: %w", err)
	}
	return &task, nil
}

// collectTasks drains rows into a slice, surfacing the iteration error.
func collectTasks(rows *sql.Rows) ([]*domain.WorkflowTask, error) {
	tasks := []*domain.WorkflowTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return tasks, nil
}

// encodeDependsOn serializes the dependency list as a JSONB array. A nil
// list becomes an empty array so the eligibility query never sees NULL.
func encodeDependsOn(ids []uuid.UUID) ([]byte, error) {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return json.Marshal(ids)
}

// decodeDependsOn restores the dependency list from its JSONB form.
func decodeDependsOn(data []byte) ([]uuid.UUID, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

// nullableJSON maps an absent payload to SQL NULL instead of an empty blob.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// qualifyColumns prefixes every column in list with the given table alias.
func qualifyColumns(alias, list string) string {
	out := ""
	for i, col := range splitColumns(list) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(list string) []string {
	var cols []string
	current := ""
	for _, r := range list {
		switch r {
		case ',':
			cols = append(cols, current)
			current = ""
		case ' ', '\n', '\t':
			// skip whitespace between columns
		default:
			current += string(r)
		}
	}
	if current != "" {
		cols = append(cols, current)
	}
	return cols
}
