package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/task"
)

// SitemapHandler plans the site: which pages to build, their sections and
// their image slots. Every planned page fans out into its own content task.
type SitemapHandler struct {
	model    TextModel
	executor ratelimit.Executor
}

// NewSitemapHandler creates the sitemap stage handler.
func NewSitemapHandler(model TextModel, executor ratelimit.Executor) (*SitemapHandler, error) {
	if model == nil {
		return nil, fmt.Errorf("sitemap handler: model cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("sitemap handler: executor cannot be nil")
	}
	return &SitemapHandler{model: model, executor: executor}, nil
}

// Execute implements task.Handler.
func (h *SitemapHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[SitemapInput](t.Input)
	if err != nil {
		return nil, err
	}

	sitemap, err := generateJSON[SitemapOutput](ctx, h.executor, h.model, sitemapPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("sitemap generation failed: %w", err)
	}
	if len(sitemap.Pages) == 0 {
		return nil, task.Permanent(fmt.Errorf("sitemap generation returned no pages"))
	}
	if err := validate.Struct(sitemap); err != nil {
		return nil, task.Permanent(fmt.Errorf("%w: sitemap plan: %v", ErrInvalidInput, err))
	}

	output, err := encodeOutput(sitemap)
	if err != nil {
		return nil, err
	}

	next := make([]task.TaskSpec, 0, len(sitemap.Pages))
	for _, page := range sitemap.Pages {
		next = append(next, contentSpec(ContentInput{
			Profile: input.Profile,
			Page:    page,
		}))
	}

	return &task.HandlerResult{Output: output, NextTasks: next}, nil
}

func sitemapPrompt(input *SitemapInput) string {
	var b strings.Builder
	b.WriteString("Plan the website for this business: 3-8 pages, each with a URL ")
	b.WriteString("slug, a one-line purpose, the section headings to write, and the ")
	b.WriteString("image slots to fill (slot name plus a detailed generation prompt; ")
	b.WriteString("photographic style, no rendered text in the image). ")
	b.WriteString(`Answer as JSON: {"pages": [{"slug", "title", "purpose", `)
	b.WriteString(`"sections": [string], "images": [{"slot", "prompt"}]}]}.`)
	b.WriteString("\n\nProfile:\n")
	b.Write(mustEncode(input.Profile))
	if len(input.Keywords) > 0 {
		b.WriteString("\n\nTarget keywords:\n")
		b.WriteString(strings.Join(input.Keywords, ", "))
	}
	if len(input.Entries) > 0 {
		b.WriteString("\n\nKnowledge base:\n")
		b.Write(mustEncode(input.Entries))
	}
	return b.String()
}

var _ task.Handler = (*SitemapHandler)(nil)
