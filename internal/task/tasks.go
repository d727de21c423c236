package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
)

// CreateTask validates and persists a new task for the given run, then wakes
// the dispatcher. The spec's type must have a registered handler and every
// dependency must be an existing task of the same run. Batch references are
// rejected here; they only make sense inside a handler's follow-on batch.
func (d *Dispatcher) CreateTask(
	ctx context.Context,
	runID uuid.UUID,
	spec TaskSpec,
) (*domain.WorkflowTask, error) {
	if _, err := d.registry.Resolve(spec.Type); err != nil {
		return nil, err
	}
	if len(spec.DependsOnNew) > 0 {
		return nil, &DependencyError{
			Index:  -1,
			Reason: "batch references are only valid inside handler results",
		}
	}

	run, err := d.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot add tasks to run in status %q",
			domain.ErrInvalidRunTransition, run.Status)
	}

	for _, depID := range spec.DependsOn {
		dep, err := d.tasks.GetByID(ctx, depID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &DependencyError{TaskID: depID, Index: -1, Reason: "task does not exist"}
			}
			return nil, err
		}
		if dep.RunID != runID {
			return nil, &DependencyError{TaskID: depID, Index: -1, Reason: "task belongs to a different run"}
		}
	}

	t, err := domain.NewWorkflowTask(
		runID,
		spec.Type,
		spec.TargetEntity,
		spec.Input,
		spec.DependsOn,
		spec.Priority,
	)
	if err != nil {
		return nil, err
	}

	if err := d.tasks.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	d.emitQueued(ctx, runID, []uuid.UUID{t.ID})
	d.Kick()
	return t, nil
}

// UnblockTask releases a task parked in blocked_user back to the queue. The
// provided input is shallow-merged over the task's existing input, so the
// user only supplies the missing keys. The attempt counter is preserved.
func (d *Dispatcher) UnblockTask(
	ctx context.Context,
	taskID uuid.UUID,
	input json.RawMessage,
) (*domain.WorkflowTask, error) {
	t, err := d.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskStatusBlockedUser {
		return nil, fmt.Errorf("%w: task %s is %q", ErrTaskNotBlocked, taskID, t.Status)
	}

	merged, err := mergeInput(t.Input, input)
	if err != nil {
		return nil, fmt.Errorf("failed to merge input: %w", err)
	}

	t.Input = merged
	t.Status = domain.TaskStatusQueued
	t.LastError = ""
	t.UpdatedAt = time.Now().UTC()

	if err := d.tasks.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to unblock task: %w", err)
	}

	d.logger.Info("task unblocked", "task_id", t.ID, "run_id", t.RunID)
	d.emitQueued(ctx, t.RunID, []uuid.UUID{t.ID})
	d.Kick()
	return t, nil
}

// RetryTask requeues a permanently failed task with a fresh attempt budget.
// An operator invoking a retry has usually fixed the underlying cause, so
// the counter starts over instead of carrying the exhausted budget.
func (d *Dispatcher) RetryTask(ctx context.Context, taskID uuid.UUID) (*domain.WorkflowTask, error) {
	t, err := d.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != domain.TaskStatusFailed {
		return nil, fmt.Errorf("%w: task %s is %q", ErrTaskNotFailed, taskID, t.Status)
	}

	t.Status = domain.TaskStatusQueued
	t.Attempts = 0
	t.LastError = ""
	t.UpdatedAt = time.Now().UTC()

	if err := d.tasks.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to retry task: %w", err)
	}

	d.logger.Info("task queued for retry", "task_id", t.ID, "run_id", t.RunID)
	d.emitQueued(ctx, t.RunID, []uuid.UUID{t.ID})
	d.Kick()
	return t, nil
}

// CompleteTask manually settles a non-terminal task as done, recording the
// given output if any. No handler runs and no follow-on tasks are created;
// the operator takes responsibility for the downstream graph.
func (d *Dispatcher) CompleteTask(
	ctx context.Context,
	taskID uuid.UUID,
	output json.RawMessage,
) (*domain.WorkflowTask, error) {
	t, err := d.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: task %s is %q", ErrTaskSettled, taskID, t.Status)
	}

	t.Status = domain.TaskStatusDone
	if output != nil {
		t.Output = output
	}
	t.LastError = ""
	t.UpdatedAt = time.Now().UTC()

	if err := d.tasks.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}

	d.logger.Info("task completed manually", "task_id", t.ID, "run_id", t.RunID)
	d.notifyFinalized(ctx, t)
	return t, nil
}

// FailTask manually settles a non-terminal task as failed with the given
// reason.
func (d *Dispatcher) FailTask(
	ctx context.Context,
	taskID uuid.UUID,
	reason string,
) (*domain.WorkflowTask, error) {
	t, err := d.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: task %s is %q", ErrTaskSettled, taskID, t.Status)
	}

	t.Status = domain.TaskStatusFailed
	t.LastError = reason
	t.UpdatedAt = time.Now().UTC()

	if err := d.tasks.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to fail task: %w", err)
	}

	d.logger.Info("task failed manually", "task_id", t.ID, "run_id", t.RunID, "reason", reason)
	d.notifyFinalized(ctx, t)
	return t, nil
}

// mergeInput overlays the keys of overlay onto base, both JSON objects.
// Either side may be empty; nested objects are replaced, not merged.
func mergeInput(base, overlay json.RawMessage) (json.RawMessage, error) {
	if len(overlay) == 0 {
		return base, nil
	}
	if len(base) == 0 {
		return overlay, nil
	}

	var baseMap map[string]any
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, fmt.Errorf("existing input is not a JSON object: %w", err)
	}
	if baseMap == nil {
		baseMap = make(map[string]any)
	}

	var overlayMap map[string]any
	if err := json.Unmarshal(overlay, &overlayMap); err != nil {
		return nil, fmt.Errorf("provided input is not a JSON object: %w", err)
	}

	for k, v := range overlayMap {
		baseMap[k] = v
	}

	return json.Marshal(baseMap)
}
