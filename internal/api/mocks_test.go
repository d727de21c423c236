package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/service/auth"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
	"github.com/pageforge/pageforge-api/internal/workflow"
	"github.com/stretchr/testify/require"
)

// mockUserStore is an in-memory store.UserStore for handler tests.
type mockUserStore struct {
	users       map[uuid.UUID]*domain.User
	createErr   error
	getEmailErr error
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[uuid.UUID]*domain.User)}
}

func (s *mockUserStore) Create(ctx context.Context, user *domain.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return store.ErrEmailExists
		}
	}
	if user.HashedPassword == "" {
		user.HashedPassword = "hashed:" + user.Password
		user.Password = ""
	}
	s.users[user.ID] = user
	return nil
}

func (s *mockUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func (s *mockUserStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if s.getEmailErr != nil {
		return nil, s.getEmailErr
	}
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (s *mockUserStore) Update(ctx context.Context, user *domain.User) error {
	if _, ok := s.users[user.ID]; !ok {
		return store.ErrUserNotFound
	}
	s.users[user.ID] = user
	return nil
}

func (s *mockUserStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.users[id]; !ok {
		return store.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *mockUserStore) WithTx(tx *sql.Tx) store.UserStore { return s }

// mockJWTService answers with fixed tokens and claims.
type mockJWTService struct {
	token         string
	refreshToken  string
	claims        *auth.Claims
	generateErr   error
	validateErr   error
	refreshClaims *auth.Claims
	refreshErr    error
}

func newMockJWTService(userID uuid.UUID) *mockJWTService {
	now := time.Now().UTC()
	return &mockJWTService{
		token:        "test-access-token",
		refreshToken: "test-refresh-token",
		claims: &auth.Claims{
			UserID:    userID,
			TokenType: "access",
			Subject:   userID.String(),
			IssuedAt:  now,
			ExpiresAt: now.Add(time.Hour),
			ID:        uuid.New().String(),
		},
		refreshClaims: &auth.Claims{
			UserID:    userID,
			TokenType: "refresh",
			Subject:   userID.String(),
			IssuedAt:  now,
			ExpiresAt: now.Add(24 * time.Hour),
			ID:        uuid.New().String(),
		},
	}
}

func (m *mockJWTService) GenerateToken(ctx context.Context, userID uuid.UUID) (string, error) {
	return m.token, m.generateErr
}

func (m *mockJWTService) ValidateToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	if m.validateErr != nil {
		return nil, m.validateErr
	}
	return m.claims, nil
}

func (m *mockJWTService) GenerateRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	return m.refreshToken, m.generateErr
}

func (m *mockJWTService) ValidateRefreshToken(ctx context.Context, tokenString string) (*auth.Claims, error) {
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.refreshClaims, nil
}

// plainVerifier matches against the mockUserStore's "hashed:" scheme.
type plainVerifier struct{}

func (plainVerifier) Compare(hashedPassword, password string) error {
	if hashedPassword == "hashed:"+password {
		return nil
	}
	return auth.ErrInvalidToken
}

// memRunStore and memTaskStore back a real workflow.Service in handler
// tests.
type memRunStore struct {
	runs map[uuid.UUID]*domain.WorkflowRun
}

func newMemRunStore(runs ...*domain.WorkflowRun) *memRunStore {
	s := &memRunStore{runs: make(map[uuid.UUID]*domain.WorkflowRun)}
	for _, r := range runs {
		s.runs[r.ID] = r
	}
	return s
}

func (s *memRunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	s.runs[run.ID] = run
	return nil
}

func (s *memRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return run, nil
}

func (s *memRunStore) Update(ctx context.Context, run *domain.WorkflowRun) error {
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrRunNotFound
	}
	s.runs[run.ID] = run
	return nil
}

func (s *memRunStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.WorkflowRun, error) {
	var out []*domain.WorkflowRun
	for _, run := range s.runs {
		if run.OwnerID == ownerID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memRunStore) WithTx(tx *sql.Tx) store.RunStore { return s }

type memTaskStore struct {
	tasks map[uuid.UUID]*domain.WorkflowTask
}

func newMemTaskStore(tasks ...*domain.WorkflowTask) *memTaskStore {
	s := &memTaskStore{tasks: make(map[uuid.UUID]*domain.WorkflowTask)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memTaskStore) Create(ctx context.Context, t *domain.WorkflowTask) error {
	s.tasks[t.ID] = t
	return nil
}

func (s *memTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (s *memTaskStore) Update(ctx context.Context, t *domain.WorkflowTask) error {
	if _, ok := s.tasks[t.ID]; !ok {
		return store.ErrTaskNotFound
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *memTaskStore) FindEligible(ctx context.Context, limit int) ([]*domain.WorkflowTask, error) {
	return nil, nil
}

func (s *memTaskStore) Claim(ctx context.Context, id uuid.UUID) error { return nil }

func (s *memTaskStore) ListByRun(ctx context.Context, runID uuid.UUID, filter store.TaskFilter) ([]*domain.WorkflowTask, error) {
	var out []*domain.WorkflowTask
	for _, t := range s.tasks {
		if t.RunID != runID {
			continue
		}
		if filter.Type != nil && t.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *memTaskStore) FindStale(ctx context.Context, olderThan time.Duration) ([]*domain.WorkflowTask, error) {
	return nil, nil
}

func (s *memTaskStore) CancelPending(ctx context.Context, runID uuid.UUID) (int64, error) {
	var n int64
	for _, t := range s.tasks {
		if t.RunID != runID {
			continue
		}
		if t.Status == domain.TaskStatusQueued || t.Status == domain.TaskStatusBlockedUser {
			t.Status = domain.TaskStatusCancelled
			n++
		}
	}
	return n, nil
}

func (s *memTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

// stubEngine satisfies workflow.TaskEngine with canned task echoes.
type stubEngine struct{}

func (stubEngine) CreateTask(ctx context.Context, runID uuid.UUID, spec task.TaskSpec) (*domain.WorkflowTask, error) {
	return domain.NewWorkflowTask(runID, spec.Type, spec.TargetEntity, spec.Input, spec.DependsOn, spec.Priority)
}

func (stubEngine) UnblockTask(ctx context.Context, taskID uuid.UUID, input json.RawMessage) (*domain.WorkflowTask, error) {
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusQueued, Input: input}, nil
}

func (stubEngine) RetryTask(ctx context.Context, taskID uuid.UUID) (*domain.WorkflowTask, error) {
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusQueued}, nil
}

func (stubEngine) CompleteTask(ctx context.Context, taskID uuid.UUID, output json.RawMessage) (*domain.WorkflowTask, error) {
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusDone, Output: output}, nil
}

func (stubEngine) FailTask(ctx context.Context, taskID uuid.UUID, reason string) (*domain.WorkflowTask, error) {
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusFailed, LastError: reason}, nil
}

func (stubEngine) Kick() {}

// newTestWorkflowService builds a workflow.Service over the in-memory
// stores. The sqlmock DB only has to honor the transactions CreateRun and
// CancelRun open.
func newTestWorkflowService(
	t *testing.T,
	runs store.RunStore,
	tasks store.TaskStore,
) (*workflow.Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := workflow.NewService(
		db, runs, tasks, stubEngine{}, nil,
		workflow.DefaultConfig(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	require.NoError(t, err)
	return svc, mock
}
