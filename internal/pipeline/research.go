package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
)

// ResearchHandler produces keywords, competitor notes and content topics
// for the profile. The follow-on work depends on the run's workflow type:
// a site build proceeds to the knowledge base, a blog batch fans out one
// content task per researched topic.
type ResearchHandler struct {
	model    TextModel
	executor ratelimit.Executor
	runs     store.RunStore
}

// NewResearchHandler creates the research stage handler.
func NewResearchHandler(
	model TextModel,
	executor ratelimit.Executor,
	runs store.RunStore,
) (*ResearchHandler, error) {
	if model == nil {
		return nil, fmt.Errorf("research handler: model cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("research handler: executor cannot be nil")
	}
	if runs == nil {
		return nil, fmt.Errorf("research handler: run store cannot be nil")
	}
	return &ResearchHandler{model: model, executor: executor, runs: runs}, nil
}

// Execute implements task.Handler.
func (h *ResearchHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[ResearchInput](t.Input)
	if err != nil {
		return nil, err
	}

	run, err := h.runs.GetByID(ctx, t.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run for research task: %w", err)
	}

	research, err := generateJSON[ResearchOutput](ctx, h.executor, h.model, researchPrompt(&input.Profile))
	if err != nil {
		return nil, fmt.Errorf("research generation failed: %w", err)
	}

	output, err := encodeOutput(research)
	if err != nil {
		return nil, err
	}

	var next []task.TaskSpec
	switch run.Type {
	case domain.WorkflowTypeBlogBatch:
		if len(research.Topics) == 0 {
			return nil, task.Permanent(fmt.Errorf("research produced no topics for blog batch"))
		}
		for _, topic := range research.Topics {
			next = append(next, contentSpec(ContentInput{
				Profile: input.Profile,
				Page: PagePlan{
					Slug:    topic.Slug,
					Title:   topic.Title,
					Purpose: topic.Summary,
				},
			}))
		}
	default:
		next = append(next, task.TaskSpec{
			Type:         domain.TaskTypeKBBuild,
			TargetEntity: input.Profile.Name,
			Input: mustEncode(KBBuildInput{
				Profile:  input.Profile,
				Keywords: research.Keywords,
			}),
		})
	}

	return &task.HandlerResult{Output: output, NextTasks: next}, nil
}

func researchPrompt(profile *BusinessProfile) string {
	var b strings.Builder
	b.WriteString("Research the online marketing landscape for this business. ")
	b.WriteString("Propose SEO keywords, likely competitors and 4-8 content topics, ")
	b.WriteString("each topic with a short URL slug. ")
	b.WriteString(`Answer as JSON: {"keywords": [string], "competitors": [string], `)
	b.WriteString(`"topics": [{"title", "slug", "summary"}]}.`)
	b.WriteString("\n\nProfile:\n")
	b.Write(mustEncode(profile))
	return b.String()
}

var _ task.Handler = (*ResearchHandler)(nil)
