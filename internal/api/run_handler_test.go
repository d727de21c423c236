package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/api/shared"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// authedRequest builds a request carrying the authenticated user and,
// when id is non-nil, a chi "id" path parameter.
func authedRequest(t *testing.T, method, path string, body any, userID uuid.UUID, id *uuid.UUID) *http.Request {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	ctx := context.WithValue(req.Context(), shared.UserIDContextKey, userID)
	if id != nil {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id.String())
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func newRunFixture(t *testing.T, ownerID uuid.UUID) *domain.WorkflowRun {
	t.Helper()
	run, err := domain.NewWorkflowRun(ownerID, domain.WorkflowTypeSiteBuild)
	require.NoError(t, err)
	return run
}

func TestRunHandler_CreateRun(t *testing.T) {
	t.Run("creates run with seed task", func(t *testing.T) {
		runs := newMemRunStore()
		tasks := newMemTaskStore()
		svc, mock := newTestWorkflowService(t, runs, tasks)
		handler := NewRunHandler(svc)

		mock.ExpectBegin()
		mock.ExpectCommit()

		userID := uuid.New()
		req := authedRequest(t, http.MethodPost, "/runs", CreateRunRequest{
			Type:         "site_build",
			TargetEntity: "Acme Plumbing",
			Input:        json.RawMessage(`{"business_name":"Acme Plumbing"}`),
		}, userID, nil)
		rr := httptest.NewRecorder()
		handler.CreateRun(rr, req)

		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "site_build", resp.Type)
		assert.Equal(t, string(domain.RunStatusRunning), resp.Status)
		assert.Equal(t, string(domain.TaskTypeIntake), resp.CurrentStage)

		assert.Len(t, runs.runs, 1)
		assert.Len(t, tasks.tasks, 1)
		for _, seed := range tasks.tasks {
			assert.Equal(t, domain.TaskTypeIntake, seed.Type)
			assert.Equal(t, resp.ID, seed.RunID)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown workflow type", func(t *testing.T) {
		svc, _ := newTestWorkflowService(t, newMemRunStore(), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodPost, "/runs", CreateRunRequest{
			Type:         "newsletter",
			TargetEntity: "Acme",
		}, uuid.New(), nil)
		rr := httptest.NewRecorder()
		handler.CreateRun(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects unauthenticated request", func(t *testing.T) {
		svc, _ := newTestWorkflowService(t, newMemRunStore(), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`)))
		rr := httptest.NewRecorder()
		handler.CreateRun(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestRunHandler_GetRun(t *testing.T) {
	ownerID := uuid.New()

	t.Run("returns run with progress and health", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		seed, err := domain.NewWorkflowTask(run.ID, domain.TaskTypeIntake, "Acme", nil, nil, 0)
		require.NoError(t, err)
		seed.Status = domain.TaskStatusDone

		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore(seed))
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodGet, "/runs/"+run.ID.String(), nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.GetRun(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp RunDetailResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, run.ID, resp.Run.ID)
		assert.Equal(t, 1, resp.Progress.Total)
		assert.Equal(t, 1, resp.Progress.Done)
	})

	t.Run("hides other users' runs", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodGet, "/runs/"+run.ID.String(), nil, uuid.New(), &run.ID)
		rr := httptest.NewRecorder()
		handler.GetRun(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown run is 404", func(t *testing.T) {
		svc, _ := newTestWorkflowService(t, newMemRunStore(), newMemTaskStore())
		handler := NewRunHandler(svc)

		missing := uuid.New()
		req := authedRequest(t, http.MethodGet, "/runs/"+missing.String(), nil, ownerID, &missing)
		rr := httptest.NewRecorder()
		handler.GetRun(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("malformed run id is 400", func(t *testing.T) {
		svc, _ := newTestWorkflowService(t, newMemRunStore(), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodGet, "/runs/not-a-uuid", nil, ownerID, nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", "not-a-uuid")
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		rr := httptest.NewRecorder()
		handler.GetRun(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestRunHandler_ListRuns(t *testing.T) {
	ownerID := uuid.New()
	mine := newRunFixture(t, ownerID)
	theirs := newRunFixture(t, uuid.New())

	svc, _ := newTestWorkflowService(t, newMemRunStore(mine, theirs), newMemTaskStore())
	handler := NewRunHandler(svc)

	req := authedRequest(t, http.MethodGet, "/runs", nil, ownerID, nil)
	rr := httptest.NewRecorder()
	handler.ListRuns(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp []RunResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, mine.ID, resp[0].ID)
}

func TestRunHandler_PauseResume(t *testing.T) {
	ownerID := uuid.New()

	t.Run("pause records reason", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodPost, "/runs/"+run.ID.String()+"/pause", PauseRunRequest{
			Reason: "waiting on client assets",
		}, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.PauseRun(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, string(domain.RunStatusPaused), resp.Status)
		assert.Equal(t, "waiting on client assets", resp.PauseReason)
	})

	t.Run("pause accepts empty body", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodPost, "/runs/"+run.ID.String()+"/pause", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.PauseRun(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("pausing a paused run conflicts", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		require.NoError(t, run.Pause("already paused"))

		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodPost, "/runs/"+run.ID.String()+"/pause", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.PauseRun(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("resume clears pause reason", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		require.NoError(t, run.Pause("hold"))
		seed, err := domain.NewWorkflowTask(run.ID, domain.TaskTypeIntake, "Acme", nil, nil, 0)
		require.NoError(t, err)

		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore(seed))
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodPost, "/runs/"+run.ID.String()+"/resume", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.ResumeRun(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, string(domain.RunStatusRunning), resp.Status)
		assert.Empty(t, resp.PauseReason)
	})
}

func TestRunHandler_CancelRun(t *testing.T) {
	ownerID := uuid.New()

	t.Run("cancels run and pending tasks", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		queued, err := domain.NewWorkflowTask(run.ID, domain.TaskTypeIntake, "Acme", nil, nil, 0)
		require.NoError(t, err)
		tasks := newMemTaskStore(queued)

		svc, mock := newTestWorkflowService(t, newMemRunStore(run), tasks)
		handler := NewRunHandler(svc)

		mock.ExpectBegin()
		mock.ExpectCommit()

		req := authedRequest(t, http.MethodPost, "/runs/"+run.ID.String()+"/cancel", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.CancelRun(rr, req)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, string(domain.RunStatusCancelled), resp.Status)
		assert.Equal(t, domain.TaskStatusCancelled, tasks.tasks[queued.ID].Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancelling a completed run conflicts", func(t *testing.T) {
		run := newRunFixture(t, ownerID)
		run.Status = domain.RunStatusCompleted

		svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore())
		handler := NewRunHandler(svc)

		req := authedRequest(t, http.MethodPost, "/runs/"+run.ID.String()+"/cancel", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.CancelRun(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

func TestRunHandler_ListTasks(t *testing.T) {
	ownerID := uuid.New()
	run := newRunFixture(t, ownerID)

	done, err := domain.NewWorkflowTask(run.ID, domain.TaskTypeIntake, "Acme", nil, nil, 0)
	require.NoError(t, err)
	done.Status = domain.TaskStatusDone
	queued, err := domain.NewWorkflowTask(run.ID, domain.TaskTypeResearch, "Acme", nil, nil, 0)
	require.NoError(t, err)

	svc, _ := newTestWorkflowService(t, newMemRunStore(run), newMemTaskStore(done, queued))
	handler := NewRunHandler(svc)

	t.Run("all tasks", func(t *testing.T) {
		req := authedRequest(t, http.MethodGet, "/runs/"+run.ID.String()+"/tasks", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.ListTasks(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp []TaskResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp, 2)
	})

	t.Run("status filter", func(t *testing.T) {
		req := authedRequest(t, http.MethodGet, "/runs/"+run.ID.String()+"/tasks?status=queued", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.ListTasks(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp []TaskResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, queued.ID, resp[0].ID)
	})

	t.Run("type filter", func(t *testing.T) {
		req := authedRequest(t, http.MethodGet, "/runs/"+run.ID.String()+"/tasks?type=intake", nil, ownerID, &run.ID)
		rr := httptest.NewRecorder()
		handler.ListTasks(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)

		var resp []TaskResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, done.ID, resp[0].ID)
	})
}
