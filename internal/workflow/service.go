package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/events"
	"github.com/pageforge/pageforge-api/internal/platform/logger"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
)

// Config holds tunables for the workflow service.
type Config struct {
	// StaleThreshold is how long a task may sit in running without an
	// update before health reporting counts it as stale. It should match
	// the dispatcher's stale sweep threshold so reporting and recovery
	// agree on what stuck means.
	StaleThreshold time.Duration

	// ListLimit is the default page size for run listings when the caller
	// does not supply one.
	ListLimit int

	// MaxListLimit caps the page size a caller may request.
	MaxListLimit int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		StaleThreshold: 10 * time.Minute,
		ListLimit:      20,
		MaxListLimit:   100,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = def.StaleThreshold
	}
	if c.ListLimit <= 0 {
		c.ListLimit = def.ListLimit
	}
	if c.MaxListLimit <= 0 {
		c.MaxListLimit = def.MaxListLimit
	}
	return c
}

// TaskEngine is the slice of the task dispatcher the workflow service
// drives: ad-hoc task creation, unblock and retry, and dispatch wakeups.
// The dispatcher satisfies it directly.
type TaskEngine interface {
	CreateTask(ctx context.Context, runID uuid.UUID, spec task.TaskSpec) (*domain.WorkflowTask, error)
	UnblockTask(ctx context.Context, taskID uuid.UUID, input json.RawMessage) (*domain.WorkflowTask, error)
	RetryTask(ctx context.Context, taskID uuid.UUID) (*domain.WorkflowTask, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID, output json.RawMessage) (*domain.WorkflowTask, error)
	FailTask(ctx context.Context, taskID uuid.UUID, reason string) (*domain.WorkflowTask, error)
	Kick()
}

var _ TaskEngine = (*task.Dispatcher)(nil)

// CreateRunParams carries the caller-supplied fields for starting a run.
type CreateRunParams struct {
	// Type selects the fixed stage pipeline the run executes.
	Type domain.WorkflowType

	// TargetEntity labels what the run builds, e.g. the site or business
	// name. It becomes the target of the seeded intake task.
	TargetEntity string

	// Input is the intake payload handed to the first task.
	Input json.RawMessage

	// ProposalID optionally links the run to an external proposal entity.
	ProposalID *uuid.UUID
}

// RunDetail bundles a run with its progress counters and current health
// classification for status reporting.
type RunDetail struct {
	Run      *domain.WorkflowRun `json:"run"`
	Progress Progress            `json:"progress"`
	Health   RunHealth           `json:"health"`
}

// Service coordinates workflow runs: it starts them, applies the pause,
// resume and cancel transitions, evaluates automatic completion and
// failure after each task settles, and scopes every operation to the
// owning user.
type Service struct {
	db      *sql.DB
	runs    store.RunStore
	tasks   store.TaskStore
	engine  TaskEngine
	emitter events.EventEmitter
	config  Config
	logger  *slog.Logger

	// evalMu serializes run evaluation and the pause, resume and cancel
	// transitions. All of them load, decide and write back run state; an
	// evaluation racing a transition could otherwise restore the status
	// it loaded before the transition landed.
	evalMu sync.Mutex
}

// NewService creates a workflow Service. The emitter may be nil when no
// component consumes run lifecycle events. Returns an error if any other
// dependency is missing.
func NewService(
	db *sql.DB,
	runStore store.RunStore,
	taskStore store.TaskStore,
	engine TaskEngine,
	emitter events.EventEmitter,
	config Config,
	log *slog.Logger,
) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db cannot be nil", domain.ErrValidation)
	}
	if runStore == nil {
		return nil, fmt.Errorf("%w: runStore cannot be nil", domain.ErrValidation)
	}
	if taskStore == nil {
		return nil, fmt.Errorf("%w: taskStore cannot be nil", domain.ErrValidation)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: engine cannot be nil", domain.ErrValidation)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		db:      db,
		runs:    runStore,
		tasks:   taskStore,
		engine:  engine,
		emitter: emitter,
		config:  config.withDefaults(),
		logger:  log.With(slog.String("component", "workflow_service")),
	}, nil
}

// CreateRun starts a new workflow run for the owner and seeds it with the
// first task of the run type's stage order. Run and task are created in
// one transaction so a run never exists without its root task.
func (s *Service) CreateRun(
	ctx context.Context,
	ownerID uuid.UUID,
	params CreateRunParams,
) (*domain.WorkflowRun, error) {
	log := logger.FromContext(ctx)

	run, err := domain.NewWorkflowRun(ownerID, params.Type)
	if err != nil {
		return nil, NewServiceError("create_run", "invalid run parameters", err)
	}
	run.ProposalID = params.ProposalID

	seed, err := domain.NewWorkflowTask(
		run.ID,
		run.Type.StageOrder()[0],
		params.TargetEntity,
		params.Input,
		nil,
		0,
	)
	if err != nil {
		return nil, NewServiceError("create_run", "invalid intake task", err)
	}

	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.runs.WithTx(tx).Create(ctx, run); err != nil {
			return NewServiceError("create_run", "failed to save run", err)
		}
		if err := s.tasks.WithTx(tx).Create(ctx, seed); err != nil {
			return NewServiceError("create_run", "failed to seed intake task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("workflow run started",
		slog.String("run_id", run.ID.String()),
		slog.String("type", string(run.Type)),
		slog.String("owner_id", ownerID.String()))

	s.emitRunState(ctx, run)
	s.emitTaskQueued(ctx, run.ID, []uuid.UUID{seed.ID})
	s.engine.Kick()
	return run, nil
}

// GetRun returns the run with its progress counters and health
// classification. Returns ErrNotOwned when the run belongs to another user.
func (s *Service) GetRun(
	ctx context.Context,
	ownerID, runID uuid.UUID,
) (*RunDetail, error) {
	run, err := s.runForOwner(ctx, "get_run", ownerID, runID)
	if err != nil {
		return nil, err
	}

	tasks, err := s.tasks.ListByRun(ctx, runID, store.TaskFilter{})
	if err != nil {
		return nil, NewServiceError("get_run", "failed to list run tasks", err)
	}

	return &RunDetail{
		Run:      run,
		Progress: taskProgress(tasks),
		Health:   EvaluateHealth(tasks, s.config.StaleThreshold, time.Now().UTC()),
	}, nil
}

// ListRuns returns the owner's runs, newest first. A non-positive limit
// falls back to the configured default page size.
func (s *Service) ListRuns(
	ctx context.Context,
	ownerID uuid.UUID,
	limit, offset int,
) ([]*domain.WorkflowRun, error) {
	if limit <= 0 {
		limit = s.config.ListLimit
	}
	if limit > s.config.MaxListLimit {
		limit = s.config.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := s.runs.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, NewServiceError("list_runs", "failed to list runs", err)
	}
	return runs, nil
}

// PauseRun transitions a running run to paused. Tasks already running are
// left to finish and persist their results; only new dispatch is
// suppressed, because the engine's task selection skips paused runs.
func (s *Service) PauseRun(
	ctx context.Context,
	ownerID, runID uuid.UUID,
	reason string,
) (*domain.WorkflowRun, error) {
	log := logger.FromContext(ctx)

	run, err := s.transitionRun(ctx, "pause_run", ownerID, runID, func(run *domain.WorkflowRun) error {
		if err := run.Pause(reason); err != nil {
			return NewServiceError("pause_run", "cannot pause run", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("workflow run paused",
		slog.String("run_id", run.ID.String()),
		slog.String("reason", reason))
	s.emitRunState(ctx, run)
	return run, nil
}

// ResumeRun transitions a paused run back to running, re-evaluates it and
// wakes the dispatcher. Work that finished while the run was paused may
// complete the run immediately; otherwise pending tasks become
// dispatchable again.
func (s *Service) ResumeRun(
	ctx context.Context,
	ownerID, runID uuid.UUID,
) (*domain.WorkflowRun, error) {
	log := logger.FromContext(ctx)

	run, err := s.transitionRun(ctx, "resume_run", ownerID, runID, func(run *domain.WorkflowRun) error {
		if err := run.Resume(); err != nil {
			return NewServiceError("resume_run", "cannot resume run", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info("workflow run resumed", slog.String("run_id", run.ID.String()))
	s.emitRunState(ctx, run)

	evaluated, err := s.evaluateRun(ctx, runID)
	if err != nil {
		log.Warn("run evaluation after resume failed",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()))
		evaluated = run
	}

	s.engine.Kick()
	return evaluated, nil
}

// CancelRun terminates a run from any non-terminal status. Queued and
// blocked tasks are cancelled in the same transaction; running tasks are
// left to finish, but the engine discards their follow-on work once it
// sees the cancelled run.
func (s *Service) CancelRun(
	ctx context.Context,
	ownerID, runID uuid.UUID,
) (*domain.WorkflowRun, error) {
	log := logger.FromContext(ctx)

	run, cancelled, err := s.cancelLocked(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}

	log.Info("workflow run cancelled",
		slog.String("run_id", run.ID.String()),
		slog.Int64("cancelled_tasks", cancelled))
	s.emitRunState(ctx, run)
	return run, nil
}

func (s *Service) cancelLocked(
	ctx context.Context,
	ownerID, runID uuid.UUID,
) (*domain.WorkflowRun, int64, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	run, err := s.runForOwner(ctx, "cancel_run", ownerID, runID)
	if err != nil {
		return nil, 0, err
	}
	if err := run.Cancel(); err != nil {
		return nil, 0, NewServiceError("cancel_run", "cannot cancel run", err)
	}

	var cancelled int64
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.runs.WithTx(tx).Update(ctx, run); err != nil {
			return NewServiceError("cancel_run", "failed to save run", err)
		}
		n, err := s.tasks.WithTx(tx).CancelPending(ctx, runID)
		if err != nil {
			return NewServiceError("cancel_run", "failed to cancel pending tasks", err)
		}
		cancelled = n
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return run, cancelled, nil
}

// transitionRun applies fn to the owner's run and persists the result
// while holding evalMu. Run transitions and evaluation both read, decide
// and write back run state, so they must not interleave.
func (s *Service) transitionRun(
	ctx context.Context,
	operation string,
	ownerID, runID uuid.UUID,
	fn func(*domain.WorkflowRun) error,
) (*domain.WorkflowRun, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	run, err := s.runForOwner(ctx, operation, ownerID, runID)
	if err != nil {
		return nil, err
	}
	if err := fn(run); err != nil {
		return nil, err
	}
	if err := s.runs.Update(ctx, run); err != nil {
		return nil, NewServiceError(operation, "failed to save run", err)
	}
	return run, nil
}

// GetTask returns a single task after verifying the caller owns its run.
func (s *Service) GetTask(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
) (*domain.WorkflowTask, error) {
	return s.taskForOwner(ctx, "get_task", ownerID, taskID)
}

// ListTasks returns the run's tasks matching the filter, oldest first.
func (s *Service) ListTasks(
	ctx context.Context,
	ownerID, runID uuid.UUID,
	filter store.TaskFilter,
) ([]*domain.WorkflowTask, error) {
	if _, err := s.runForOwner(ctx, "list_tasks", ownerID, runID); err != nil {
		return nil, err
	}

	tasks, err := s.tasks.ListByRun(ctx, runID, filter)
	if err != nil {
		return nil, NewServiceError("list_tasks", "failed to list run tasks", err)
	}
	return tasks, nil
}

// CreateTask adds an ad-hoc task to the owner's run. Validation of the
// task type and its dependencies happens in the engine.
func (s *Service) CreateTask(
	ctx context.Context,
	ownerID, runID uuid.UUID,
	spec task.TaskSpec,
) (*domain.WorkflowTask, error) {
	if _, err := s.runForOwner(ctx, "create_task", ownerID, runID); err != nil {
		return nil, err
	}

	t, err := s.engine.CreateTask(ctx, runID, spec)
	if err != nil {
		return nil, NewServiceError("create_task", "failed to create task", err)
	}
	return t, nil
}

// UnblockTask supplies the input a blocked task is waiting for and returns
// it to the queue.
func (s *Service) UnblockTask(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
	input json.RawMessage,
) (*domain.WorkflowTask, error) {
	if _, err := s.taskForOwner(ctx, "unblock_task", ownerID, taskID); err != nil {
		return nil, err
	}

	t, err := s.engine.UnblockTask(ctx, taskID, input)
	if err != nil {
		return nil, NewServiceError("unblock_task", "failed to unblock task", err)
	}
	return t, nil
}

// RetryTask requeues a permanently failed task with a fresh attempt budget.
func (s *Service) RetryTask(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
) (*domain.WorkflowTask, error) {
	if _, err := s.taskForOwner(ctx, "retry_task", ownerID, taskID); err != nil {
		return nil, err
	}

	t, err := s.engine.RetryTask(ctx, taskID)
	if err != nil {
		return nil, NewServiceError("retry_task", "failed to retry task", err)
	}
	return t, nil
}

// CompleteTask manually settles a non-terminal task as done, recording the
// given output. No handler runs; the caller takes responsibility for the
// downstream graph.
func (s *Service) CompleteTask(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
	output json.RawMessage,
) (*domain.WorkflowTask, error) {
	if _, err := s.taskForOwner(ctx, "complete_task", ownerID, taskID); err != nil {
		return nil, err
	}

	t, err := s.engine.CompleteTask(ctx, taskID, output)
	if err != nil {
		return nil, NewServiceError("complete_task", "failed to complete task", err)
	}
	return t, nil
}

// FailTask manually settles a non-terminal task as failed with the given
// reason.
func (s *Service) FailTask(
	ctx context.Context,
	ownerID, taskID uuid.UUID,
	reason string,
) (*domain.WorkflowTask, error) {
	if _, err := s.taskForOwner(ctx, "fail_task", ownerID, taskID); err != nil {
		return nil, err
	}

	t, err := s.engine.FailTask(ctx, taskID, reason)
	if err != nil {
		return nil, NewServiceError("fail_task", "failed to fail task", err)
	}
	return t, nil
}

// runForOwner loads a run and verifies it belongs to the caller.
func (s *Service) runForOwner(
	ctx context.Context,
	operation string,
	ownerID, runID uuid.UUID,
) (*domain.WorkflowRun, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, NewServiceError(operation, "run not found", store.ErrRunNotFound)
		}
		return nil, NewServiceError(operation, "failed to retrieve run", err)
	}
	if run.OwnerID != ownerID {
		return nil, NewServiceError(operation, "run belongs to another user", ErrNotOwned)
	}
	return run, nil
}

// taskForOwner loads a task and verifies its run belongs to the caller.
func (s *Service) taskForOwner(
	ctx context.Context,
	operation string,
	ownerID, taskID uuid.UUID,
) (*domain.WorkflowTask, error) {
	t, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		if store.IsNotFoundError(err) {
			return nil, NewServiceError(operation, "task not found", store.ErrTaskNotFound)
		}
		return nil, NewServiceError(operation, "failed to retrieve task", err)
	}

	if _, err := s.runForOwner(ctx, operation, ownerID, t.RunID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) emitRunState(ctx context.Context, run *domain.WorkflowRun) {
	if s.emitter == nil {
		return
	}

	event, err := events.NewEvent(events.EventRunStateChanged, run.ID, map[string]any{
		"status": run.Status,
		"stage":  run.CurrentStage,
	})
	if err != nil {
		s.logger.Warn("failed to build run state event", "error", err)
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Warn("run state event delivery failed", "error", err)
	}
}

func (s *Service) emitTaskQueued(ctx context.Context, runID uuid.UUID, taskIDs []uuid.UUID) {
	if s.emitter == nil || len(taskIDs) == 0 {
		return
	}

	event, err := events.NewEvent(events.EventTaskQueued, runID, map[string]any{
		"task_ids": taskIDs,
	})
	if err != nil {
		s.logger.Warn("failed to build task queued event", "error", err)
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Warn("task queued event delivery failed", "error", err)
	}
}
