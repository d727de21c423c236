package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
)

// newServiceDB returns a *sql.DB whose transactions always succeed. The
// mock stores ignore the transaction handle, so the expectations only
// need to cover begin/commit/rollback in whatever order tests reach them.
func newServiceDB(t *testing.T) *sql.DB {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 64; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// mockRunStore is an in-memory store.RunStore used by the package tests.
type mockRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.WorkflowRun

	UpdateFn func(ctx context.Context, run *domain.WorkflowRun) error
}

func newMockRunStore() *mockRunStore {
	return &mockRunStore{runs: make(map[uuid.UUID]*domain.WorkflowRun)}
}

func copyRun(r *domain.WorkflowRun) *domain.WorkflowRun {
	c := *r
	if r.ProposalID != nil {
		id := *r.ProposalID
		c.ProposalID = &id
	}
	return &c
}

func (s *mockRunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *mockRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return copyRun(run), nil
}

func (s *mockRunStore) Update(ctx context.Context, run *domain.WorkflowRun) error {
	if s.UpdateFn != nil {
		return s.UpdateFn(ctx, run)
	}
	if err := run.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrRunNotFound
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *mockRunStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.WorkflowRun
	for _, run := range s.runs {
		if run.OwnerID == ownerID {
			out = append(out, copyRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*domain.WorkflowRun{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *mockRunStore) WithTx(tx *sql.Tx) store.RunStore { return s }

func (s *mockRunStore) statusOf(id uuid.UUID) (domain.RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return "", false
	}
	return run.Status, true
}

func (s *mockRunStore) get(id uuid.UUID) *domain.WorkflowRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil
	}
	return copyRun(run)
}

// put inserts a run bypassing validation, letting tests seed arbitrary states.
func (s *mockRunStore) put(run *domain.WorkflowRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = copyRun(run)
}

var _ store.RunStore = (*mockRunStore)(nil)

// mockTaskStore is an in-memory store.TaskStore with the same eligibility
// semantics as the SQL implementation: queued tasks of running runs whose
// dependencies are all done.
type mockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.WorkflowTask
	runs  *mockRunStore
}

func newMockTaskStore(runs *mockRunStore) *mockTaskStore {
	return &mockTaskStore{
		tasks: make(map[uuid.UUID]*domain.WorkflowTask),
		runs:  runs,
	}
}

func copyWorkflowTask(t *domain.WorkflowTask) *domain.WorkflowTask {
	c := *t
	c.DependsOn = append([]uuid.UUID(nil), t.DependsOn...)
	return &c
}

// put inserts a task bypassing validation, letting tests seed arbitrary states.
func (s *mockTaskStore) put(t *domain.WorkflowTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = copyWorkflowTask(t)
}

func (s *mockTaskStore) get(id uuid.UUID) *domain.WorkflowTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	return copyWorkflowTask(t)
}

func (s *mockTaskStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *mockTaskStore) Create(ctx context.Context, t *domain.WorkflowTask) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return store.ErrDuplicate
	}
	s.tasks[t.ID] = copyWorkflowTask(t)
	return nil
}

func (s *mockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyWorkflowTask(t), nil
}

func (s *mockTaskStore) Update(ctx context.Context, t *domain.WorkflowTask) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return store.ErrTaskNotFound
	}
	s.tasks[t.ID] = copyWorkflowTask(t)
	return nil
}

func (s *mockTaskStore) FindEligible(ctx context.Context, limit int) ([]*domain.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []*domain.WorkflowTask
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusQueued {
			continue
		}
		status, ok := s.runs.statusOf(t.RunID)
		if !ok || status != domain.RunStatusRunning {
			continue
		}
		ready := true
		for _, depID := range t.DependsOn {
			dep, ok := s.tasks[depID]
			if !ok || dep.Status != domain.TaskStatusDone {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, copyWorkflowTask(t))
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})

	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (s *mockTaskStore) Claim(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusQueued {
		return store.ErrTaskNotClaimable
	}
	t.Status = domain.TaskStatusRunning
	t.Attempts++
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *mockTaskStore) ListByRun(ctx context.Context, runID uuid.UUID, filter store.TaskFilter) ([]*domain.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*domain.WorkflowTask{}
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
		out = append(out, copyWorkflowTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *mockTaskStore) FindStale(ctx context.Context, olderThan time.Duration) ([]*domain.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var out []*domain.WorkflowTask
	for _, t := range s.tasks {
		if t.Status != domain.TaskStatusRunning {
			continue
		}
		if olderThan == 0 || t.UpdatedAt.Before(cutoff) {
			out = append(out, copyWorkflowTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *mockTaskStore) CancelPending(ctx context.Context, runID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, t := range s.tasks {
		if t.RunID != runID {
			continue
		}
		if t.Status == domain.TaskStatusQueued || t.Status == domain.TaskStatusBlockedUser {
			t.Status = domain.TaskStatusCancelled
			t.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

func (s *mockTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

var _ store.TaskStore = (*mockTaskStore)(nil)

// fakeEngine records the engine calls the service delegates after its
// ownership checks. The Fn fields swap in canned behavior per test.
type fakeEngine struct {
	mu        sync.Mutex
	kicks     int
	creates   []task.TaskSpec
	unblocks  []uuid.UUID
	retries   []uuid.UUID
	completes []uuid.UUID
	fails     []uuid.UUID

	CreateFn   func(ctx context.Context, runID uuid.UUID, spec task.TaskSpec) (*domain.WorkflowTask, error)
	UnblockFn  func(ctx context.Context, taskID uuid.UUID, input json.RawMessage) (*domain.WorkflowTask, error)
	RetryFn    func(ctx context.Context, taskID uuid.UUID) (*domain.WorkflowTask, error)
	CompleteFn func(ctx context.Context, taskID uuid.UUID, output json.RawMessage) (*domain.WorkflowTask, error)
	FailFn     func(ctx context.Context, taskID uuid.UUID, reason string) (*domain.WorkflowTask, error)
}

func (e *fakeEngine) CreateTask(ctx context.Context, runID uuid.UUID, spec task.TaskSpec) (*domain.WorkflowTask, error) {
	e.mu.Lock()
	e.creates = append(e.creates, spec)
	e.mu.Unlock()
	if e.CreateFn != nil {
		return e.CreateFn(ctx, runID, spec)
	}
	return domain.NewWorkflowTask(runID, spec.Type, spec.TargetEntity, spec.Input, spec.DependsOn, spec.Priority)
}

func (e *fakeEngine) UnblockTask(ctx context.Context, taskID uuid.UUID, input json.RawMessage) (*domain.WorkflowTask, error) {
	e.mu.Lock()
	e.unblocks = append(e.unblocks, taskID)
	e.mu.Unlock()
	if e.UnblockFn != nil {
		return e.UnblockFn(ctx, taskID, input)
	}
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusQueued}, nil
}

func (e *fakeEngine) RetryTask(ctx context.Context, taskID uuid.UUID) (*domain.WorkflowTask, error) {
	e.mu.Lock()
	e.retries = append(e.retries, taskID)
	e.mu.Unlock()
	if e.RetryFn != nil {
		return e.RetryFn(ctx, taskID)
	}
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusQueued}, nil
}

func (e *fakeEngine) CompleteTask(ctx context.Context, taskID uuid.UUID, output json.RawMessage) (*domain.WorkflowTask, error) {
	e.mu.Lock()
	e.completes = append(e.completes, taskID)
	e.mu.Unlock()
	if e.CompleteFn != nil {
		return e.CompleteFn(ctx, taskID, output)
	}
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusDone, Output: output}, nil
}

func (e *fakeEngine) FailTask(ctx context.Context, taskID uuid.UUID, reason string) (*domain.WorkflowTask, error) {
	e.mu.Lock()
	e.fails = append(e.fails, taskID)
	e.mu.Unlock()
	if e.FailFn != nil {
		return e.FailFn(ctx, taskID, reason)
	}
	return &domain.WorkflowTask{ID: taskID, Status: domain.TaskStatusFailed, LastError: reason}, nil
}

func (e *fakeEngine) Kick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kicks++
}

func (e *fakeEngine) kickCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kicks
}

func (e *fakeEngine) createCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.creates)
}

var _ TaskEngine = (*fakeEngine)(nil)
