package api

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/pageforge/pageforge-api/internal/api/shared"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/workflow"
)

// RunHandler handles workflow run API requests. Every operation is scoped
// to the authenticated user by the workflow service.
type RunHandler struct {
	service   *workflow.Service
	validator *validator.Validate
}

// NewRunHandler creates a new RunHandler with the given dependencies.
func NewRunHandler(service *workflow.Service) *RunHandler {
	return &RunHandler{
		service:   service,
		validator: validator.New(),
	}
}

// CreateRun handles POST /runs.
func (h *RunHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		HandleAPIError(w, r, domain.ErrUnauthorized, "")
		return
	}

	var req CreateRunRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	run, err := h.service.CreateRun(r.Context(), userID, workflow.CreateRunParams{
		Type:         domain.WorkflowType(req.Type),
		TargetEntity: req.TargetEntity,
		Input:        req.Input,
		ProposalID:   req.ProposalID,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, NewRunResponse(run))
}

// GetRun handles GET /runs/{id}: the run plus progress counters and health.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.service.GetRun(r.Context(), userID, runID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewRunDetailResponse(detail))
}

// ListRuns handles GET /runs with optional limit and offset query params.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserIDFromContext(r)
	if !ok {
		HandleAPIError(w, r, domain.ErrUnauthorized, "")
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	runs, err := h.service.ListRuns(r.Context(), userID, limit, offset)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, NewRunResponse(run))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}

// PauseRun handles POST /runs/{id}/pause.
func (h *RunHandler) PauseRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	// The pause reason is optional; an empty body is fine.
	var req PauseRunRequest
	if r.ContentLength > 0 {
		if err := shared.DecodeJSON(r, &req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
		if err := h.validator.Struct(req); err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
			return
		}
	}

	run, err := h.service.PauseRun(r.Context(), userID, runID, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewRunResponse(run))
}

// ResumeRun handles POST /runs/{id}/resume.
func (h *RunHandler) ResumeRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.service.ResumeRun(r.Context(), userID, runID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewRunResponse(run))
}

// CancelRun handles POST /runs/{id}/cancel.
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	run, err := h.service.CancelRun(r.Context(), userID, runID)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewRunResponse(run))
}

// ListTasks handles GET /runs/{id}/tasks with optional type and status
// filters.
func (h *RunHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, runID, ok := requireUserAndPathUUID(w, r, "id")
	if !ok {
		return
	}

	var filter store.TaskFilter
	if v := r.URL.Query().Get("type"); v != "" {
		taskType := domain.TaskType(v)
		filter.Type = &taskType
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.TaskStatus(v)
		filter.Status = &status
	}

	tasks, err := h.service.ListTasks(r.Context(), userID, runID, filter)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, NewTaskResponses(tasks))
}

// queryInt parses an integer query parameter, falling back to def when the
// parameter is absent or malformed.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
