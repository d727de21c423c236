package workflow

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/pageforge/pageforge-api/internal/domain"
)

func TestEvaluateHealthClassifications(t *testing.T) {
	t.Parallel()

	threshold := 10 * time.Minute
	now := time.Now().UTC()

	healthTask := func(status domain.TaskStatus, age time.Duration, deps ...uuid.UUID) *domain.WorkflowTask {
		return &domain.WorkflowTask{
			ID:        uuid.New(),
			Status:    status,
			DependsOn: deps,
			UpdatedAt: now.Add(-age),
		}
	}

	t.Run("no issues is healthy", func(t *testing.T) {
		tasks := []*domain.WorkflowTask{
			healthTask(domain.TaskStatusDone, time.Hour),
			healthTask(domain.TaskStatusQueued, 0),
			healthTask(domain.TaskStatusRunning, time.Minute),
		}
		h := EvaluateHealth(tasks, threshold, now)
		assert.Equal(t, HealthStatusHealthy, h.Status)
		assert.Zero(t, h.StaleTasks)
		assert.Zero(t, h.FailedTasks)
		assert.Zero(t, h.BlockedTasks)
	})

	t.Run("blocked task is a warning", func(t *testing.T) {
		tasks := []*domain.WorkflowTask{
			healthTask(domain.TaskStatusBlockedUser, 0),
		}
		h := EvaluateHealth(tasks, threshold, now)
		assert.Equal(t, HealthStatusWarning, h.Status)
		assert.Equal(t, 1, h.BlockedTasks)
	})

	t.Run("one or two stale tasks is a warning", func(t *testing.T) {
		tasks := []*domain.WorkflowTask{
			healthTask(domain.TaskStatusRunning, time.Hour),
		}
		h := EvaluateHealth(tasks, threshold, now)
		assert.Equal(t, HealthStatusWarning, h.Status)
		assert.Equal(t, 1, h.StaleTasks)

		tasks = append(tasks, healthTask(domain.TaskStatusRunning, 2*time.Hour))
		h = EvaluateHealth(tasks, threshold, now)
		assert.Equal(t, HealthStatusWarning, h.Status)
		assert.Equal(t, 2, h.StaleTasks)
	})

	t.Run("three stale tasks is critical", func(t *testing.T) {
		tasks := []*domain.WorkflowTask{
			healthTask(domain.TaskStatusRunning, time.Hour),
			healthTask(domain.TaskStatusRunning, time.Hour),
			healthTask(domain.TaskStatusRunning, time.Hour),
		}
		h := EvaluateHealth(tasks, threshold, now)
		assert.Equal(t, HealthStatusCritical, h.Status)
		assert.Equal(t, 3, h.StaleTasks)
	})

	t.Run("fresh running task is not stale", func(t *testing.T) {
		tasks := []*domain.WorkflowTask{
			healthTask(domain.TaskStatusRunning, threshold-time.Minute),
		}
		h := EvaluateHealth(tasks, threshold, now)
		assert.Equal(t, HealthStatusHealthy, h.Status)
	})

	t.Run("failure blocking all remaining work is critical", func(t *testing.T) {
		failed := healthTask(domain.TaskStatusFailed, 0)
		dependent := healthTask(domain.TaskStatusQueued, 0, failed.ID)
		h := EvaluateHealth([]*domain.WorkflowTask{failed, dependent}, threshold, now)
		assert.Equal(t, HealthStatusCritical, h.Status)
		assert.Equal(t, 1, h.FailedTasks)
	})

	t.Run("failure with open side branch is a warning", func(t *testing.T) {
		failed := healthTask(domain.TaskStatusFailed, 0)
		independent := healthTask(domain.TaskStatusQueued, 0)
		h := EvaluateHealth([]*domain.WorkflowTask{failed, independent}, threshold, now)
		assert.Equal(t, HealthStatusWarning, h.Status)
		assert.Equal(t, 1, h.FailedTasks)
	})

	t.Run("no tasks is healthy", func(t *testing.T) {
		h := EvaluateHealth(nil, threshold, now)
		assert.Equal(t, HealthStatusHealthy, h.Status)
	})
}

func TestTaskProgressCounts(t *testing.T) {
	t.Parallel()

	statuses := []domain.TaskStatus{
		domain.TaskStatusQueued,
		domain.TaskStatusQueued,
		domain.TaskStatusRunning,
		domain.TaskStatusBlockedUser,
		domain.TaskStatusDone,
		domain.TaskStatusDone,
		domain.TaskStatusDone,
		domain.TaskStatusFailed,
		domain.TaskStatusCancelled,
	}
	tasks := make([]*domain.WorkflowTask, len(statuses))
	for i, status := range statuses {
		tasks[i] = &domain.WorkflowTask{ID: uuid.New(), Status: status}
	}

	p := taskProgress(tasks)
	assert.Equal(t, Progress{
		Total:     9,
		Queued:    2,
		Running:   1,
		Blocked:   1,
		Done:      3,
		Failed:    1,
		Cancelled: 1,
	}, p)
}
