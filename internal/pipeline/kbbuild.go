package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/task"
)

// KBBuildHandler assembles the knowledge base: grounding entries about the
// business the later copywriting stages cite instead of inventing facts.
type KBBuildHandler struct {
	model    TextModel
	executor ratelimit.Executor
}

// NewKBBuildHandler creates the knowledge-base stage handler.
func NewKBBuildHandler(model TextModel, executor ratelimit.Executor) (*KBBuildHandler, error) {
	if model == nil {
		return nil, fmt.Errorf("kb_build handler: model cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("kb_build handler: executor cannot be nil")
	}
	return &KBBuildHandler{model: model, executor: executor}, nil
}

// Execute implements task.Handler.
func (h *KBBuildHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[KBBuildInput](t.Input)
	if err != nil {
		return nil, err
	}

	kb, err := generateJSON[KBBuildOutput](ctx, h.executor, h.model, kbBuildPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("knowledge base generation failed: %w", err)
	}

	output, err := encodeOutput(kb)
	if err != nil {
		return nil, err
	}

	return &task.HandlerResult{
		Output: output,
		NextTasks: []task.TaskSpec{
			{
				Type:         domain.TaskTypeSitemap,
				TargetEntity: input.Profile.Name,
				Input: mustEncode(SitemapInput{
					Profile:  input.Profile,
					Keywords: input.Keywords,
					Entries:  kb.Entries,
				}),
			},
		},
	}, nil
}

func kbBuildPrompt(input *KBBuildInput) string {
	var b strings.Builder
	b.WriteString("Build a knowledge base for this business: short factual entries ")
	b.WriteString("about its services, differentiators, service area and audience, ")
	b.WriteString("grounded only in the profile below. Copywriters will cite these ")
	b.WriteString("entries verbatim, so do not invent specifics like prices or years. ")
	b.WriteString(`Answer as JSON: {"entries": [{"topic", "content"}]}.`)
	b.WriteString("\n\nProfile:\n")
	b.Write(mustEncode(input.Profile))
	if len(input.Keywords) > 0 {
		b.WriteString("\n\nTarget keywords:\n")
		b.WriteString(strings.Join(input.Keywords, ", "))
	}
	return b.String()
}

var _ task.Handler = (*KBBuildHandler)(nil)
