package workflow

import (
	"time"

	"github.com/pageforge/pageforge-api/internal/domain"
)

// HealthStatus classifies how well a run is progressing.
type HealthStatus string

// Health classifications, from best to worst
const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
)

// RunHealth aggregates the task-level issue counts behind a run's health
// classification. Stale means running past the staleness threshold
// without an update; the dispatcher's sweep requeues such tasks under the
// normal attempt policy, so a stale count here is a lag indicator, not a
// permanent state.
type RunHealth struct {
	Status       HealthStatus `json:"status"`
	StaleTasks   int          `json:"stale_tasks"`
	FailedTasks  int          `json:"failed_tasks"`
	BlockedTasks int          `json:"blocked_tasks"`
}

// Progress counts a run's tasks per status for progress reporting.
type Progress struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Blocked   int `json:"blocked"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// EvaluateHealth classifies a run's health from its tasks. Healthy means
// zero issues. Any blocked task, one or two stale tasks, or a failed task
// that still leaves other branches dispatchable is a warning. Three or
// more stale tasks, or a failed task blocking all remaining work, is
// critical.
func EvaluateHealth(
	tasks []*domain.WorkflowTask,
	staleThreshold time.Duration,
	now time.Time,
) RunHealth {
	h := RunHealth{Status: HealthStatusHealthy}
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusRunning:
			if now.Sub(t.UpdatedAt) > staleThreshold {
				h.StaleTasks++
			}
		case domain.TaskStatusFailed:
			h.FailedTasks++
		case domain.TaskStatusBlockedUser:
			h.BlockedTasks++
		}
	}

	switch {
	case h.StaleTasks >= 3,
		h.FailedTasks > 0 && failureBlocksProgress(tasks):
		h.Status = HealthStatusCritical
	case h.BlockedTasks > 0, h.StaleTasks > 0, h.FailedTasks > 0:
		h.Status = HealthStatusWarning
	}
	return h
}

// taskProgress tallies tasks per status.
func taskProgress(tasks []*domain.WorkflowTask) Progress {
	p := Progress{Total: len(tasks)}
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusQueued:
			p.Queued++
		case domain.TaskStatusRunning:
			p.Running++
		case domain.TaskStatusBlockedUser:
			p.Blocked++
		case domain.TaskStatusDone:
			p.Done++
		case domain.TaskStatusFailed:
			p.Failed++
		case domain.TaskStatusCancelled:
			p.Cancelled++
		}
	}
	return p
}
