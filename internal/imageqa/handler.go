package imageqa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/task"
)

// GenInput is the input payload of an image generation task.
type GenInput struct {
	// Prompt describes the image to generate.
	Prompt string `json:"prompt"`
	// Section is the page copy the image accompanies, given to the
	// reviewers as context. Optional.
	Section string `json:"section,omitempty"`
}

// GenOutput is the output payload of an image generation task: the QA
// verdict surface plus the accepted image bytes for the dependent storage
// task. On failure the audit trail is still present so rejected runs stay
// inspectable.
type GenOutput struct {
	Approved bool `json:"approved"`
	// Prompt is the prompt the accepted image was generated from. Empty
	// when no image was accepted.
	Prompt               string                  `json:"prompt,omitempty"`
	MimeType             string                  `json:"mime_type,omitempty"`
	ImageData            []byte                  `json:"image_data,omitempty"`
	UsedTextlessFallback bool                    `json:"used_textless_fallback"`
	Attempts             []domain.ImageQaAttempt `json:"attempts"`
}

// Handler adapts the QA loop to the task engine. The task's target entity
// names the image slot; the input payload carries the prompt and section
// context.
type Handler struct {
	loop *Loop
}

// NewHandler creates the image generation task handler.
func NewHandler(loop *Loop) (*Handler, error) {
	if loop == nil {
		return nil, fmt.Errorf("%w: loop is required", ErrInvalidConfig)
	}
	return &Handler{loop: loop}, nil
}

// Execute runs the QA loop for one image task. Malformed input fails the
// task permanently; a loop that ends without an accepted image fails the
// task permanently as well, with the full attempt trail persisted as
// output.
func (h *Handler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	var input GenInput
	if err := json.Unmarshal(t.Input, &input); err != nil {
		return nil, task.Permanent(fmt.Errorf("invalid image task input: %w", err))
	}
	if input.Prompt == "" {
		return nil, task.Permanent(errors.New("image task input is missing a prompt"))
	}

	review := ReviewContext{
		Slot:    t.TargetEntity,
		Section: input.Section,
	}

	result, err := h.loop.Run(ctx, input.Prompt, review)
	if err != nil {
		return nil, err
	}

	out := GenOutput{
		Approved:             result.Success,
		Attempts:             result.Attempts,
		UsedTextlessFallback: result.UsedTextlessFallback,
	}
	if result.Success {
		out.Prompt = result.Prompt
		out.MimeType = result.Image.MimeType
		out.ImageData = result.Image.Data
	}

	output, err := json.Marshal(out)
	if err != nil {
		return nil, task.Permanent(fmt.Errorf("encode image task output: %w", err))
	}

	if !result.Success {
		return &task.HandlerResult{Output: output}, task.Permanent(
			fmt.Errorf("no acceptable image after %d attempts", len(result.Attempts)))
	}
	return &task.HandlerResult{Output: output}, nil
}

var _ task.Handler = (*Handler)(nil)
