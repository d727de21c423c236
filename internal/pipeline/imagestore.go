package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/imageqa"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
)

// ImageStoreHandler persists the accepted image produced by its generation
// dependency. The bytes travel through the generation task's output record,
// not through this task's input, so the storage step stays retryable without
// re-running the QA loop.
type ImageStoreHandler struct {
	tasks  store.TaskStore
	images store.ImageStore
}

// NewImageStoreHandler creates the image persistence handler.
func NewImageStoreHandler(tasks store.TaskStore, images store.ImageStore) (*ImageStoreHandler, error) {
	if tasks == nil {
		return nil, fmt.Errorf("image store handler: task store cannot be nil")
	}
	if images == nil {
		return nil, fmt.Errorf("image store handler: image store cannot be nil")
	}
	return &ImageStoreHandler{tasks: tasks, images: images}, nil
}

// Execute implements task.Handler.
func (h *ImageStoreHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[ImageStoreInput](t.Input)
	if err != nil {
		return nil, err
	}
	if len(t.DependsOn) == 0 {
		return nil, task.Permanent(fmt.Errorf("image store task %s has no generation dependency", t.ID))
	}

	gen, err := h.tasks.GetByID(ctx, t.DependsOn[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load generation task: %w", err)
	}

	var genOut imageqa.GenOutput
	if err := json.Unmarshal(gen.Output, &genOut); err != nil {
		return nil, task.Permanent(fmt.Errorf("generation task %s output is unreadable: %w", gen.ID, err))
	}
	if !genOut.Approved || len(genOut.ImageData) == 0 {
		return nil, task.Permanent(fmt.Errorf("generation task %s carries no accepted image", gen.ID))
	}

	img, err := domain.NewImage(t.RunID, t.ID, t.TargetEntity, genOut.Prompt, genOut.MimeType, genOut.ImageData)
	if err != nil {
		return nil, task.Permanent(fmt.Errorf("invalid image artifact: %w", err))
	}

	if err := h.images.Create(ctx, img); err != nil {
		return nil, fmt.Errorf("failed to store image for slot %q: %w", input.Slot, err)
	}

	output, err := encodeOutput(ImageStoreOutput{
		ImageID:  img.ID,
		Slot:     input.Slot,
		MimeType: img.MimeType,
	})
	if err != nil {
		return nil, err
	}

	return &task.HandlerResult{Output: output}, nil
}

var _ task.Handler = (*ImageStoreHandler)(nil)
