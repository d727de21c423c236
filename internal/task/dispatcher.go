package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/events"
	"github.com/pageforge/pageforge-api/internal/platform/logger"
	"github.com/pageforge/pageforge-api/internal/store"
)

// DispatcherConfig holds configuration for the task dispatcher
type DispatcherConfig struct {
	// WorkerCount determines how many claimed tasks execute concurrently
	WorkerCount int

	// PollInterval determines how often the dispatcher looks for eligible
	// tasks when no event woke it earlier
	PollInterval time.Duration

	// MaxTasksPerCycle caps how many tasks a single cycle may claim
	MaxTasksPerCycle int

	// StuckTaskAge defines how long a task can be in running state before
	// the sweep considers it stale and requeues it. It must exceed the
	// longest expected handler runtime.
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stale tasks
	StuckTaskCheckInterval time.Duration

	// MaxAttempts caps total executions of a task, the first included.
	// When a handler error exhausts the budget the task fails permanently.
	MaxAttempts int
}

// DefaultDispatcherConfig returns a DispatcherConfig with reasonable defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		WorkerCount:            4,
		PollInterval:           5 * time.Second,
		MaxTasksPerCycle:       10,
		StuckTaskAge:           10 * time.Minute,
		StuckTaskCheckInterval: time.Minute,
		MaxAttempts:            4,
	}
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	def := DefaultDispatcherConfig()
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.MaxTasksPerCycle <= 0 {
		c.MaxTasksPerCycle = def.MaxTasksPerCycle
	}
	if c.StuckTaskAge <= 0 {
		c.StuckTaskAge = def.StuckTaskAge
	}
	if c.StuckTaskCheckInterval <= 0 {
		c.StuckTaskCheckInterval = def.StuckTaskCheckInterval
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	return c
}

// FinalizedFunc is invoked after a task settles into done, failed or
// blocked_user. The workflow layer uses it to evaluate run completion.
type FinalizedFunc func(ctx context.Context, task *domain.WorkflowTask)

// Dispatcher claims eligible tasks and drives them through their handlers.
// It wakes on a poll interval and on kicks from lifecycle events, so newly
// queued work rarely waits a full interval.
type Dispatcher struct {
	db       *sql.DB
	tasks    store.TaskStore
	runs     store.RunStore
	registry *Registry
	emitter  events.EventEmitter
	config   DispatcherConfig
	logger   *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	kick       chan struct{}

	onFinalized FinalizedFunc
}

// NewDispatcher creates a new Dispatcher. The emitter may be nil when no
// component needs lifecycle events.
func NewDispatcher(
	db *sql.DB,
	taskStore store.TaskStore,
	runStore store.RunStore,
	registry *Registry,
	emitter events.EventEmitter,
	config DispatcherConfig,
	log *slog.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		db:         db,
		tasks:      taskStore,
		runs:       runStore,
		registry:   registry,
		emitter:    emitter,
		config:     config.withDefaults(),
		logger:     log.With("component", "task_dispatcher"),
		ctx:        ctx,
		cancelFunc: cancel,
		kick:       make(chan struct{}, 1),
	}
}

// SetOnFinalized registers a callback invoked after each task settles.
// It must be called before Start.
func (d *Dispatcher) SetOnFinalized(fn FinalizedFunc) {
	d.onFinalized = fn
}

// Start requeues tasks interrupted by a previous crash and begins the poll
// and stale-sweep loops.
func (d *Dispatcher) Start() error {
	if err := d.recoverInterrupted(); err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}

	d.wg.Add(1)
	go d.pollLoop()

	d.wg.Add(1)
	go d.staleMonitor()

	return nil
}

// Stop gracefully shuts down the dispatcher. In-flight handlers observe
// context cancellation; their finalization still completes.
func (d *Dispatcher) Stop() {
	d.cancelFunc()
	d.wg.Wait()
}

// Kick wakes the dispatcher for an immediate cycle. Safe to call from any
// goroutine; redundant kicks coalesce.
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// recoverInterrupted requeues every task left in running state by a previous
// process. Called once on startup, before any new claims.
func (d *Dispatcher) recoverInterrupted() error {
	ctx := logger.WithLogger(d.ctx, d.logger)

	interrupted, err := d.tasks.FindStale(ctx, 0)
	if err != nil {
		return err
	}
	if len(interrupted) == 0 {
		return nil
	}

	d.logger.Info("recovering interrupted tasks", "count", len(interrupted))

	for _, t := range interrupted {
		t.Status = domain.TaskStatusQueued
		// The crashed execution never finished, so it does not consume an
		// attempt; the next claim restores the counter.
		if t.Attempts > 0 {
			t.Attempts--
		}
		t.LastError = "requeued after interrupted execution"
		t.UpdatedAt = time.Now().UTC()
		if err := d.tasks.Update(ctx, t); err != nil {
			d.logger.Error("failed to requeue interrupted task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
		}
	}

	return nil
}

func (d *Dispatcher) pollLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	d.logger.Debug("dispatch loop started", "poll_interval", d.config.PollInterval)

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Debug("dispatch loop stopping")
			return
		case <-ticker.C:
		case <-d.kick:
		}

		ctx := logger.WithLogger(d.ctx, d.logger)
		claimed, err := d.RunCycle(ctx)
		if err != nil {
			d.logger.Error("dispatch cycle failed", "error", err)
			continue
		}
		// A full cycle may have left eligible work behind.
		if claimed == d.config.MaxTasksPerCycle {
			d.Kick()
		}
	}
}

// RunCycle performs a single dispatch cycle: it loads eligible tasks, claims
// them, and executes the claimed ones concurrently up to WorkerCount. It
// returns the number of tasks claimed. Claims lost to a concurrent cycle are
// skipped silently.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	eligible, err := d.tasks.FindEligible(ctx, d.config.MaxTasksPerCycle)
	if err != nil {
		return 0, fmt.Errorf("failed to find eligible tasks: %w", err)
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(d.config.WorkerCount)

	claimed := 0
	for _, t := range eligible {
		if err := d.tasks.Claim(ctx, t.ID); err != nil {
			if errors.Is(err, store.ErrTaskNotClaimable) {
				d.logger.Debug("task no longer claimable", "task_id", t.ID)
			} else {
				d.logger.Error("failed to claim task", "task_id", t.ID, "error", err)
			}
			continue
		}

		// Mirror the claim's status transition and attempt bump.
		t.Status = domain.TaskStatusRunning
		t.Attempts++
		claimed++

		taskToRun := t
		g.Go(func() error {
			d.executeTask(ctx, taskToRun)
			return nil
		})
	}

	// Handlers report their own outcomes; the group never carries errors.
	_ = g.Wait()

	return claimed, nil
}

func (d *Dispatcher) executeTask(ctx context.Context, t *domain.WorkflowTask) {
	log := d.logger.With(
		"task_id", t.ID,
		"task_type", t.Type,
		"run_id", t.RunID,
		"attempt", t.Attempts,
	)
	ctx = logger.WithLogger(ctx, log)

	log.Info("executing task")

	handler, err := d.registry.Resolve(t.Type)
	if err != nil {
		d.finalize(ctx, t, nil, Permanent(err))
		return
	}

	result, execErr := d.runHandler(ctx, handler, t)
	d.finalize(ctx, t, result, execErr)
}

// runHandler executes the handler, converting a panic into an error so one
// broken handler cannot take down the dispatch loop.
func (d *Dispatcher) runHandler(
	ctx context.Context,
	handler Handler,
	t *domain.WorkflowTask,
) (result *HandlerResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return handler.Execute(ctx, t)
}

// finalize records the task's outcome and inserts any follow-on tasks in the
// same transaction.
func (d *Dispatcher) finalize(
	ctx context.Context,
	t *domain.WorkflowTask,
	result *HandlerResult,
	execErr error,
) {
	// Finalization must complete even when the dispatcher is shutting down;
	// otherwise the task stays running until the stale sweep reclaims it.
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	var followOns []TaskSpec
	switch {
	case execErr == nil:
		t.Status = domain.TaskStatusDone
		t.LastError = ""
		if result != nil {
			t.Output = result.Output
			followOns = result.NextTasks
		}

	case errors.Is(execErr, ErrNeedsUserInput):
		t.Status = domain.TaskStatusBlockedUser
		t.LastError = execErr.Error()
		if result != nil && result.Output != nil {
			t.Output = result.Output
		}

	case errors.Is(execErr, context.Canceled):
		// An interrupted execution does not consume an attempt.
		t.Status = domain.TaskStatusQueued
		t.Attempts--
		t.LastError = "requeued after interrupted execution"

	case IsPermanent(execErr):
		t.Status = domain.TaskStatusFailed
		t.LastError = execErr.Error()
		if result != nil && result.Output != nil {
			t.Output = result.Output
		}

	case t.Attempts >= d.config.MaxAttempts:
		t.Status = domain.TaskStatusFailed
		t.LastError = execErr.Error()
		if result != nil && result.Output != nil {
			t.Output = result.Output
		}

	default:
		t.Status = domain.TaskStatusQueued
		t.LastError = execErr.Error()
	}
	t.UpdatedAt = time.Now().UTC()

	if len(followOns) > 0 {
		run, err := d.runs.GetByID(ctx, t.RunID)
		if err != nil {
			log.Warn("could not load run during finalization", "error", err)
		} else if run.Status == domain.RunStatusCancelled {
			// The run was cancelled while the task executed; keep its output
			// but do not extend the graph.
			followOns = nil
		}
	}

	newTasks, err := d.buildFollowOns(t, followOns)
	if err != nil {
		// The task's own work succeeded, so keep it done but surface the
		// handler's bad batch loudly.
		log.Error("handler returned invalid follow-on specs", "error", err)
		t.LastError = fmt.Sprintf("follow-on tasks rejected: %v", err)
		newTasks = nil
	}

	err = store.RunInTransaction(ctx, d.db, func(ctx context.Context, tx *sql.Tx) error {
		ts := d.tasks.WithTx(tx)
		if err := ts.Update(ctx, t); err != nil {
			return err
		}
		for _, nt := range newTasks {
			if err := ts.Create(ctx, nt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to finalize task", "error", err, "status", t.Status)
		return
	}

	switch t.Status {
	case domain.TaskStatusDone:
		log.Info("task completed", "follow_on_count", len(newTasks))
	case domain.TaskStatusBlockedUser:
		log.Info("task blocked waiting for user input")
	case domain.TaskStatusFailed:
		log.Error("task failed permanently",
			"error", t.LastError,
			"attempts", t.Attempts)
	case domain.TaskStatusQueued:
		log.Warn("task requeued",
			"error", t.LastError,
			"attempts", t.Attempts,
			"max_attempts", d.config.MaxAttempts)
	}

	queuedIDs := make([]uuid.UUID, 0, len(newTasks)+1)
	for _, nt := range newTasks {
		queuedIDs = append(queuedIDs, nt.ID)
	}
	if t.Status == domain.TaskStatusQueued {
		queuedIDs = append(queuedIDs, t.ID)
	}
	if len(queuedIDs) > 0 {
		d.emitQueued(ctx, t.RunID, queuedIDs)
		d.Kick()
	}

	if t.Status != domain.TaskStatusQueued {
		d.notifyFinalized(ctx, t)
	}
}

// buildFollowOns resolves a handler's follow-on specs into persistable tasks,
// translating same-batch index references into the generated task IDs.
func (d *Dispatcher) buildFollowOns(
	parent *domain.WorkflowTask,
	specs []TaskSpec,
) ([]*domain.WorkflowTask, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	tasks := make([]*domain.WorkflowTask, len(specs))
	for i, spec := range specs {
		dependsOn := make([]uuid.UUID, 0, len(spec.DependsOn)+len(spec.DependsOnNew))
		dependsOn = append(dependsOn, spec.DependsOn...)
		for _, ref := range spec.DependsOnNew {
			if ref < 0 || ref >= i {
				return nil, &DependencyError{
					Index:  i,
					Reason: fmt.Sprintf("batch reference %d must point to an earlier spec", ref),
				}
			}
			dependsOn = append(dependsOn, tasks[ref].ID)
		}

		nt, err := domain.NewWorkflowTask(
			parent.RunID,
			spec.Type,
			spec.TargetEntity,
			spec.Input,
			dependsOn,
			spec.Priority,
		)
		if err != nil {
			return nil, fmt.Errorf("invalid follow-on spec %d: %w", i, err)
		}
		tasks[i] = nt
	}

	return tasks, nil
}

// SweepStale reclaims running tasks whose last update is older than the
// configured threshold, returning how many were requeued. A stale execution
// counts as a spent attempt, so a task caught on its final attempt fails
// permanently rather than running again. The poll loop runs the sweep
// periodically; exposing it lets admin tooling trigger one on demand.
func (d *Dispatcher) SweepStale(ctx context.Context) (int, error) {
	stale, err := d.tasks.FindStale(ctx, d.config.StuckTaskAge)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale tasks: %w", err)
	}

	reset := 0
	for _, t := range stale {
		if t.Attempts >= d.config.MaxAttempts {
			t.Status = domain.TaskStatusFailed
			t.LastError = "exceeded the stale task threshold with no attempts remaining"
		} else {
			t.Status = domain.TaskStatusQueued
			t.LastError = "requeued after exceeding the stale task threshold"
		}
		t.UpdatedAt = time.Now().UTC()
		if err := d.tasks.Update(ctx, t); err != nil {
			d.logger.Error("failed to reclaim stale task",
				"task_id", t.ID,
				"task_type", t.Type,
				"error", err)
			continue
		}
		if t.Status == domain.TaskStatusFailed {
			d.logger.Error("stale task failed permanently",
				"task_id", t.ID,
				"task_type", t.Type,
				"run_id", t.RunID,
				"attempts", t.Attempts)
			d.notifyFinalized(ctx, t)
			continue
		}
		d.logger.Warn("requeued stale task",
			"task_id", t.ID,
			"task_type", t.Type,
			"run_id", t.RunID)
		reset++
	}

	if reset > 0 {
		d.Kick()
	}
	return reset, nil
}

func (d *Dispatcher) staleMonitor() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			ctx := logger.WithLogger(d.ctx, d.logger)
			if _, err := d.SweepStale(ctx); err != nil {
				d.logger.Error("stale task sweep failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) emitQueued(ctx context.Context, runID uuid.UUID, taskIDs []uuid.UUID) {
	if d.emitter == nil || len(taskIDs) == 0 {
		return
	}

	event, err := events.NewEvent(events.EventTaskQueued, runID, map[string]any{
		"task_ids": taskIDs,
	})
	if err != nil {
		d.logger.Warn("failed to build task queued event", "error", err)
		return
	}
	if err := d.emitter.EmitEvent(ctx, event); err != nil {
		d.logger.Warn("task queued event delivery failed", "error", err)
	}
}

func (d *Dispatcher) notifyFinalized(ctx context.Context, t *domain.WorkflowTask) {
	if d.emitter != nil {
		event, err := events.NewEvent(events.EventTaskFinalized, t.RunID, map[string]any{
			"task_id": t.ID,
			"status":  t.Status,
		})
		if err != nil {
			d.logger.Warn("failed to build task finalized event", "error", err)
		} else if err := d.emitter.EmitEvent(ctx, event); err != nil {
			d.logger.Warn("task finalized event delivery failed", "error", err)
		}
	}

	if d.onFinalized != nil {
		d.onFinalized(ctx, t)
	}
}
