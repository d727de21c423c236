package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
)

// PublishHandler assembles the final page: the content task's section copy
// plus the image artifacts its storage dependencies produced. Publishing is
// idempotent per (run, slug); a retry that finds the page already persisted
// reports the existing record instead of failing.
type PublishHandler struct {
	tasks store.TaskStore
	pages store.PageStore
}

// NewPublishHandler creates the publish stage handler.
func NewPublishHandler(tasks store.TaskStore, pages store.PageStore) (*PublishHandler, error) {
	if tasks == nil {
		return nil, fmt.Errorf("publish handler: task store cannot be nil")
	}
	if pages == nil {
		return nil, fmt.Errorf("publish handler: page store cannot be nil")
	}
	return &PublishHandler{tasks: tasks, pages: pages}, nil
}

// Execute implements task.Handler.
func (h *PublishHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[PublishInput](t.Input)
	if err != nil {
		return nil, err
	}

	contentTask, err := h.tasks.GetByID(ctx, input.ContentTaskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load content task: %w", err)
	}
	var content ContentOutput
	if err := json.Unmarshal(contentTask.Output, &content); err != nil {
		return nil, task.Permanent(fmt.Errorf("content task %s output is unreadable: %w", contentTask.ID, err))
	}
	if len(content.Sections) == 0 {
		return nil, task.Permanent(fmt.Errorf("content task %s carries no page copy", contentTask.ID))
	}

	imageIDs, err := h.collectImages(ctx, t)
	if err != nil {
		return nil, err
	}

	page, err := domain.NewPage(t.RunID, input.Slug, content.Title, mustEncode(content.Sections), imageIDs)
	if err != nil {
		return nil, task.Permanent(fmt.Errorf("invalid page: %w", err))
	}

	if err := h.pages.Create(ctx, page); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, findErr := h.findExisting(ctx, t.RunID, input.Slug)
			if findErr != nil {
				return nil, findErr
			}
			page = existing
		} else {
			return nil, fmt.Errorf("failed to publish page %q: %w", input.Slug, err)
		}
	}

	output, err := encodeOutput(PublishOutput{PageID: page.ID, Slug: page.Slug})
	if err != nil {
		return nil, err
	}

	return &task.HandlerResult{Output: output}, nil
}

// collectImages reads the storage dependencies' outputs. A dependency that
// is done but carries no readable image reference fails the publish
// permanently; the graph should never have let it settle that way.
func (h *PublishHandler) collectImages(ctx context.Context, t *domain.WorkflowTask) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, depID := range t.DependsOn {
		dep, err := h.tasks.GetByID(ctx, depID)
		if err != nil {
			return nil, fmt.Errorf("failed to load dependency %s: %w", depID, err)
		}
		if dep.Type != domain.TaskTypeImageStore {
			continue
		}
		var stored ImageStoreOutput
		if err := json.Unmarshal(dep.Output, &stored); err != nil {
			return nil, task.Permanent(fmt.Errorf("image store task %s output is unreadable: %w", dep.ID, err))
		}
		if stored.ImageID == uuid.Nil {
			return nil, task.Permanent(fmt.Errorf("image store task %s recorded no image ID", dep.ID))
		}
		ids = append(ids, stored.ImageID)
	}
	return ids, nil
}

func (h *PublishHandler) findExisting(ctx context.Context, runID uuid.UUID, slug string) (*domain.Page, error) {
	pages, err := h.pages.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages for run %s: %w", runID, err)
	}
	for _, p := range pages {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, fmt.Errorf("page %q reported duplicate but was not found", slug)
}

var _ task.Handler = (*PublishHandler)(nil)
