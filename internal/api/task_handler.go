package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pageforge/pageforge-api/internal/api/shared"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/task"
	"github.com/pageforge/pageforge-api/internal/workflow"
)

// TaskHandler handles workflow task API requests: inspection of individual
// tasks and the manual interventions (unblock, retry, complete, fail).
type TaskHandler struct {
	service   *workflow.Service
	validator *validator.Validate
}

// NewTaskHandler creates a new TaskHandler with the given dependencies.
func NewTaskHandler(service *workflow.Service) *TaskHandler {
	return &TaskHandler{
		service:   service,
		validator: validator.New(),
	}
}

// CreateTask handles POST /runs/{id}/tasks: an ad-hoc task on the run.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	t, err := h.service.CreateTask(r.Context(), userID, runID, task.TaskSpec{
		Type:         domain.TaskType(req.Type),
		TargetEntity: req.TargetEntity,
		Input:        req.Input,
		DependsOn:    req.DependsOn,
		Priority:     req.Priority,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, NewTaskResponse(t))
}

// GetTask handles GET /tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.service.GetTask(r.Context(), userID, taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(t))
}

// UnblockTask handles POST /tasks/{id}/unblock: supplies the input a
// blocked_user task is waiting for and returns it to the queue.
func (h *TaskHandler) UnblockTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UnblockTaskRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	t, err := h.service.UnblockTask(r.Context(), userID, taskID, req.Input)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(t))
}

// RetryTask handles POST /tasks/{id}/retry: requeues a failed task with a
// fresh attempt budget.
func (h *TaskHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	t, err := h.service.RetryTask(r.Context(), userID, taskID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(t))
}

// CompleteTask handles POST /tasks/{id}/complete: manually settles a
// non-terminal task as done without running its handler.
func (h *TaskHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req CompleteTaskRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
	}

	t, err := h.service.CompleteTask(r.Context(), userID, taskID, req.Output)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(t))
}

// FailTask handles POST /tasks/{id}/fail: manually settles a non-terminal
// task as failed with the given reason.
func (h *TaskHandler) FailTask(w http.ResponseWriter, r *http.Request) {
	userID, taskID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var req FailTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	t, err := h.service.FailTask(r.Context(), userID, taskID, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponse(t))
}
