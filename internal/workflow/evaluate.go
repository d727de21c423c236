package workflow

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/platform/logger"
	"github.com/pageforge/pageforge-api/internal/store"
)

// HandleTaskFinalized is wired into the dispatcher as its finalization
// callback. Every settled task re-evaluates the owning run: the advisory
// stage pointer may advance and the run may complete or fail
// automatically.
func (s *Service) HandleTaskFinalized(ctx context.Context, t *domain.WorkflowTask) {
	if _, err := s.evaluateRun(ctx, t.RunID); err != nil {
		logger.FromContext(ctx).Error("run evaluation failed",
			slog.String("run_id", t.RunID.String()),
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()))
	}
}

// evaluateRun reloads the run and its tasks and applies every automatic
// state change that follows from the current task graph. Only runs in
// running auto-transition; a paused run keeps its accumulated results and
// is re-evaluated on resume.
func (s *Service) evaluateRun(
	ctx context.Context,
	runID uuid.UUID,
) (*domain.WorkflowRun, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	log := logger.FromContext(ctx)

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, NewServiceError("evaluate_run", "failed to retrieve run", err)
	}
	if run.IsTerminal() {
		return run, nil
	}

	tasks, err := s.tasks.ListByRun(ctx, runID, store.TaskFilter{})
	if err != nil {
		return nil, NewServiceError("evaluate_run", "failed to list run tasks", err)
	}

	stageChanged := false
	if stage, ok := furthestStage(run.Type, tasks); ok {
		before := run.CurrentStage
		if err := run.AdvanceStage(stage); err != nil {
			return nil, NewServiceError("evaluate_run", "failed to advance stage", err)
		}
		stageChanged = run.CurrentStage != before
	}

	statusChanged := false
	if run.Status == domain.RunStatusRunning {
		switch {
		case runComplete(run.Type, tasks):
			if err := run.Complete(); err != nil {
				return nil, NewServiceError("evaluate_run", "failed to complete run", err)
			}
			statusChanged = true
		case failureBlocksProgress(tasks):
			if err := run.Fail(); err != nil {
				return nil, NewServiceError("evaluate_run", "failed to fail run", err)
			}
			statusChanged = true
		}
	}

	if !stageChanged && !statusChanged {
		return run, nil
	}

	if err := s.runs.Update(ctx, run); err != nil {
		return nil, NewServiceError("evaluate_run", "failed to save run", err)
	}

	if stageChanged {
		log.Debug("run stage advanced",
			slog.String("run_id", run.ID.String()),
			slog.String("stage", string(run.CurrentStage)))
	}
	if statusChanged {
		log.Info("run auto-transitioned",
			slog.String("run_id", run.ID.String()),
			slog.String("status", string(run.Status)))
		s.emitRunState(ctx, run)
	}
	return run, nil
}

// furthestStage returns the latest stage of the workflow type's order that
// has at least one done task. Tasks of types outside the stage order, such
// as ad-hoc admin tasks, do not move the pointer.
func furthestStage(
	workflowType domain.WorkflowType,
	tasks []*domain.WorkflowTask,
) (domain.TaskType, bool) {
	best := -1
	for _, t := range tasks {
		if t.Status != domain.TaskStatusDone {
			continue
		}
		if idx := workflowType.StageIndex(t.Type); idx > best {
			best = idx
		}
	}
	if best < 0 {
		return "", false
	}
	return workflowType.StageOrder()[best], true
}

// runComplete reports whether the run has finished successfully: at least
// one terminal stage task exists, every terminal stage task is done, and
// no task remains open. Failed or cancelled side branches do not hold a
// run open once its terminal stage fully completed.
func runComplete(workflowType domain.WorkflowType, tasks []*domain.WorkflowTask) bool {
	terminal := workflowType.TerminalStage()
	terminalDone := 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusQueued, domain.TaskStatusRunning, domain.TaskStatusBlockedUser:
			return false
		}
		if t.Type == terminal {
			if t.Status != domain.TaskStatusDone {
				return false
			}
			terminalDone++
		}
	}
	return terminalDone > 0
}

// failureBlocksProgress reports whether a failed task leaves the run with
// no way forward. Tasks downstream of a failed task can never dispatch,
// since their dependency set will never fully reach done. When every open
// task sits in such a blocked subtree, or no open task remains at all,
// nothing can create further work and the run is stuck.
//
// Follow-on tasks are created dynamically by handlers, so any open task
// outside the blocked subtrees may still grow the graph toward the
// terminal stage; such a run keeps running and health reporting carries
// the failure instead.
func failureBlocksProgress(tasks []*domain.WorkflowTask) bool {
	var failed []uuid.UUID
	children := make(map[uuid.UUID][]uuid.UUID)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			children[dep] = append(children[dep], t.ID)
		}
		if t.Status == domain.TaskStatusFailed {
			failed = append(failed, t.ID)
		}
	}
	if len(failed) == 0 {
		return false
	}

	blocked := make(map[uuid.UUID]bool, len(failed))
	queue := make([]uuid.UUID, 0, len(failed))
	for _, id := range failed {
		blocked[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if !blocked[child] {
				blocked[child] = true
				queue = append(queue, child)
			}
		}
	}

	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusQueued, domain.TaskStatusRunning, domain.TaskStatusBlockedUser:
			if !blocked[t.ID] {
				return false
			}
		}
	}
	return true
}
