package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/store"
)

// passExecutor runs operations inline without limiting; the handlers under
// test only care that calls are routed through the Executor contract.
type passExecutor struct{}

func (passExecutor) Do(ctx context.Context, op ratelimit.Operation) (any, error) {
	return op(ctx)
}

// fakeModel answers GenerateJSON calls from a queue of canned responses and
// records the prompts it saw.
type fakeModel struct {
	mu        sync.Mutex
	responses []any
	errs      []error
	prompts   []string
}

func (m *fakeModel) enqueue(response any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
	m.errs = append(m.errs, nil)
}

func (m *fakeModel) enqueueErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
}

func (m *fakeModel) GenerateJSON(ctx context.Context, prompt string, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if len(m.responses) == 0 {
		return fmt.Errorf("fakeModel: no response queued for prompt %q", prompt)
	}
	response := m.responses[0]
	err := m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return err
	}
	raw, marshalErr := json.Marshal(response)
	if marshalErr != nil {
		return marshalErr
	}
	return json.Unmarshal(raw, out)
}

// fakeRunStore serves GetByID from a fixed map.
type fakeRunStore struct {
	runs map[uuid.UUID]*domain.WorkflowRun
}

func newFakeRunStore(runs ...*domain.WorkflowRun) *fakeRunStore {
	s := &fakeRunStore{runs: make(map[uuid.UUID]*domain.WorkflowRun)}
	for _, r := range runs {
		s.runs[r.ID] = r
	}
	return s
}

func (s *fakeRunStore) Create(ctx context.Context, run *domain.WorkflowRun) error {
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	return run, nil
}

func (s *fakeRunStore) Update(ctx context.Context, run *domain.WorkflowRun) error {
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrRunNotFound
	}
	s.runs[run.ID] = run
	return nil
}

func (s *fakeRunStore) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*domain.WorkflowRun, error) {
	return []*domain.WorkflowRun{}, nil
}

func (s *fakeRunStore) WithTx(tx *sql.Tx) store.RunStore { return s }

// fakeTaskStore serves GetByID from a fixed map; the handlers under test
// never exercise the dispatch-side operations.
type fakeTaskStore struct {
	tasks map[uuid.UUID]*domain.WorkflowTask
}

func newFakeTaskStore(tasks ...*domain.WorkflowTask) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[uuid.UUID]*domain.WorkflowTask)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *fakeTaskStore) Create(ctx context.Context, t *domain.WorkflowTask) error {
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WorkflowTask, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t, nil
}

func (s *fakeTaskStore) Update(ctx context.Context, t *domain.WorkflowTask) error {
	if _, ok := s.tasks[t.ID]; !ok {
		return store.ErrTaskNotFound
	}
	s.tasks[t.ID] = t
	return nil
}

func (s *fakeTaskStore) FindEligible(ctx context.Context, limit int) ([]*domain.WorkflowTask, error) {
	return nil, nil
}

func (s *fakeTaskStore) Claim(ctx context.Context, id uuid.UUID) error { return nil }

func (s *fakeTaskStore) ListByRun(ctx context.Context, runID uuid.UUID, filter store.TaskFilter) ([]*domain.WorkflowTask, error) {
	return nil, nil
}

func (s *fakeTaskStore) FindStale(ctx context.Context, olderThan time.Duration) ([]*domain.WorkflowTask, error) {
	return nil, nil
}

func (s *fakeTaskStore) CancelPending(ctx context.Context, runID uuid.UUID) (int64, error) {
	return 0, nil
}

func (s *fakeTaskStore) WithTx(tx *sql.Tx) store.TaskStore { return s }

// fakeImageStore records created images.
type fakeImageStore struct {
	images    []*domain.Image
	createErr error
}

func (s *fakeImageStore) Create(ctx context.Context, img *domain.Image) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.images = append(s.images, img)
	return nil
}

func (s *fakeImageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Image, error) {
	for _, img := range s.images {
		if img.ID == id {
			return img, nil
		}
	}
	return nil, store.ErrImageNotFound
}

func (s *fakeImageStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Image, error) {
	var out []*domain.Image
	for _, img := range s.images {
		if img.RunID == runID {
			out = append(out, img)
		}
	}
	return out, nil
}

func (s *fakeImageStore) WithTx(tx *sql.Tx) store.ImageStore { return s }

// fakePageStore records created pages and enforces the (run, slug) unique
// constraint the way the real store does.
type fakePageStore struct {
	pages []*domain.Page
}

func (s *fakePageStore) Create(ctx context.Context, page *domain.Page) error {
	for _, p := range s.pages {
		if p.RunID == page.RunID && p.Slug == page.Slug {
			return fmt.Errorf("page %q: %w", page.Slug, store.ErrDuplicate)
		}
	}
	s.pages = append(s.pages, page)
	return nil
}

func (s *fakePageStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Page, error) {
	for _, p := range s.pages {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, store.ErrPageNotFound
}

func (s *fakePageStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]*domain.Page, error) {
	var out []*domain.Page
	for _, p := range s.pages {
		if p.RunID == runID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePageStore) WithTx(tx *sql.Tx) store.PageStore { return s }
