package task

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
)

// mockRunStore is an in-memory store.RunStore used by the package tests.
type mockRunStore struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*domain.WorkflowRun
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

var _ store.RunStore = (*mockRunStore)(nil)

// mockTaskStore is an in-memory store.TaskStore with the same eligibility
// semantics as the SQL implementation: queued tasks of running runs whose
// dependencies are all done. Optional Fn fields inject failures.
type mockTaskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.WorkflowTask
	runs  *mockRunStore

	CreateFn func(ctx context.Context, t *domain.WorkflowTask) error
	UpdateFn func(ctx context.Context, t *domain.WorkflowTask) error
	ClaimFn  func(ctx context.Context, id uuid.UUID) error
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
	if s.CreateFn != nil {
		return s.CreateFn(ctx, t)
	}
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
	if s.UpdateFn != nil {
		return s.UpdateFn(ctx, t)
	}
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
	if s.ClaimFn != nil {
		return s.ClaimFn(ctx, id)
	}
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
