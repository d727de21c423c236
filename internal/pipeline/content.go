package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/imageqa"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/task"
)

// ContentHandler writes one page's section copy and fans out the page's
// image work: one generation task per planned slot, a storage task chained
// behind each, and a publish task that waits on every storage task. A page
// planned without images publishes immediately.
type ContentHandler struct {
	model    TextModel
	executor ratelimit.Executor
}

// NewContentHandler creates the content stage handler.
func NewContentHandler(model TextModel, executor ratelimit.Executor) (*ContentHandler, error) {
	if model == nil {
		return nil, fmt.Errorf("content handler: model cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("content handler: executor cannot be nil")
	}
	return &ContentHandler{model: model, executor: executor}, nil
}

// contentSpec builds the follow-on spec for one page's content task. Both
// the sitemap stage and a blog batch's research stage use it to fan out.
func contentSpec(in ContentInput) task.TaskSpec {
	return task.TaskSpec{
		Type:         domain.TaskTypeContent,
		TargetEntity: in.Page.Slug,
		Input:        mustEncode(in),
	}
}

// Execute implements task.Handler.
func (h *ContentHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[ContentInput](t.Input)
	if err != nil {
		return nil, err
	}

	content, err := generateJSON[ContentOutput](ctx, h.executor, h.model, contentPrompt(input))
	if err != nil {
		return nil, fmt.Errorf("content generation failed for %q: %w", input.Page.Slug, err)
	}
	if content.Slug == "" {
		content.Slug = input.Page.Slug
	}
	if content.Title == "" {
		content.Title = input.Page.Title
	}
	if len(content.Sections) == 0 {
		return nil, task.Permanent(fmt.Errorf("content generation returned no sections for %q", input.Page.Slug))
	}

	output, err := encodeOutput(content)
	if err != nil {
		return nil, err
	}

	// Batch layout: [gen0, store0, gen1, store1, ..., publish]. Each store
	// depends on its gen by batch index; publish depends on every store.
	var next []task.TaskSpec
	var storeIndexes []int
	for _, img := range input.Page.Images {
		genIndex := len(next)
		next = append(next, task.TaskSpec{
			Type:         domain.TaskTypeImageGen,
			TargetEntity: input.Page.Slug + "/" + img.Slot,
			Input: mustEncode(imageqa.GenInput{
				Prompt:  img.Prompt,
				Section: sectionContext(content),
			}),
		})
		storeIndexes = append(storeIndexes, len(next))
		next = append(next, task.TaskSpec{
			Type:         domain.TaskTypeImageStore,
			TargetEntity: input.Page.Slug + "/" + img.Slot,
			Input:        mustEncode(ImageStoreInput{Slot: img.Slot}),
			DependsOnNew: []int{genIndex},
		})
	}
	next = append(next, task.TaskSpec{
		Type:         domain.TaskTypePublish,
		TargetEntity: input.Page.Slug,
		Input: mustEncode(PublishInput{
			Slug:          input.Page.Slug,
			ContentTaskID: t.ID,
		}),
		DependsOnNew: storeIndexes,
	})

	return &task.HandlerResult{Output: output, NextTasks: next}, nil
}

func contentPrompt(input *ContentInput) string {
	var b strings.Builder
	b.WriteString("Write the copy for one page of this business's website. ")
	b.WriteString("Ground every claim in the profile; do not invent prices, ")
	b.WriteString("certifications or guarantees. ")
	b.WriteString(`Answer as JSON: {"slug", "title", "sections": [{"heading", "body"}]}.`)
	b.WriteString("\n\nProfile:\n")
	b.Write(mustEncode(input.Profile))
	b.WriteString("\n\nPage plan:\n")
	b.Write(mustEncode(input.Page))
	return b.String()
}

// sectionContext gives image reviewers the surrounding copy without
// shipping the whole page into every prompt.
func sectionContext(content *ContentOutput) string {
	const maxLen = 600
	var b strings.Builder
	for _, s := range content.Sections {
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString(": ")
		}
		b.WriteString(s.Body)
		b.WriteString("\n")
		if b.Len() >= maxLen {
			break
		}
	}
	text := b.String()
	if len(text) > maxLen {
		text = text[:maxLen]
	}
	return strings.TrimSpace(text)
}

var _ task.Handler = (*ContentHandler)(nil)
