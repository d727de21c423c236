package pipeline

import (
	"github.com/google/uuid"
)

// BusinessProfile is the subject every pipeline run builds content for. It
// enters through the intake task and travels, normalized, through every
// later stage's input.
type BusinessProfile struct {
	Name        string   `json:"name"                  validate:"required"`
	Industry    string   `json:"industry,omitempty"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Services    []string `json:"services,omitempty"`
	Audience    string   `json:"audience,omitempty"`
	Tone        string   `json:"tone,omitempty"`
}

// IntakeInput is the root task's payload. A missing profile is not an
// error: the task parks in blocked_user until the user supplies one.
type IntakeInput struct {
	Profile *BusinessProfile `json:"profile,omitempty"`
}

// IntakeOutput carries the normalized profile to the research stage.
type IntakeOutput struct {
	Profile BusinessProfile `json:"profile"`
}

// ResearchInput asks the research stage for keywords, competitors and
// content topics for the profile.
type ResearchInput struct {
	Profile BusinessProfile `json:"profile" validate:"required"`
}

// Topic is one researched content subject.
type Topic struct {
	Title   string `json:"title"   validate:"required"`
	Slug    string `json:"slug"    validate:"required"`
	Summary string `json:"summary,omitempty"`
}

// ResearchOutput is the research stage's result. For a site build it feeds
// the knowledge base; for a blog batch each topic becomes a content task.
type ResearchOutput struct {
	Keywords    []string `json:"keywords"`
	Competitors []string `json:"competitors,omitempty"`
	Topics      []Topic  `json:"topics"`
}

// KBBuildInput asks the knowledge-base stage for grounding entries.
type KBBuildInput struct {
	Profile  BusinessProfile `json:"profile" validate:"required"`
	Keywords []string        `json:"keywords,omitempty"`
}

// KBEntry is one knowledge-base fact block later stages cite.
type KBEntry struct {
	Topic   string `json:"topic"   validate:"required"`
	Content string `json:"content" validate:"required"`
}

// KBBuildOutput is the knowledge-base stage's result.
type KBBuildOutput struct {
	Entries []KBEntry `json:"entries"`
}

// SitemapInput asks the sitemap stage for the page plan.
type SitemapInput struct {
	Profile  BusinessProfile `json:"profile" validate:"required"`
	Keywords []string        `json:"keywords,omitempty"`
	Entries  []KBEntry       `json:"entries,omitempty"`
}

// ImagePlan is one image slot a planned page needs filled.
type ImagePlan struct {
	// Slot labels the placement within the page, e.g. "hero".
	Slot   string `json:"slot"   validate:"required"`
	Prompt string `json:"prompt" validate:"required"`
}

// PagePlan is one planned page: its slug, the sections to write and the
// image slots to fill.
type PagePlan struct {
	Slug     string      `json:"slug"  validate:"required"`
	Title    string      `json:"title" validate:"required"`
	Purpose  string      `json:"purpose,omitempty"`
	Sections []string    `json:"sections,omitempty"`
	Images   []ImagePlan `json:"images,omitempty"`
}

// SitemapOutput is the sitemap stage's result; every page fans out into
// its own content task.
type SitemapOutput struct {
	Pages []PagePlan `json:"pages" validate:"min=1,dive"`
}

// ContentInput asks the content stage to write one page.
type ContentInput struct {
	Profile BusinessProfile `json:"profile" validate:"required"`
	Page    PagePlan        `json:"page"    validate:"required"`
}

// Section is one written page section.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body" validate:"required"`
}

// ContentOutput is the written page copy. The publish task reads it back
// from the content task's record once the page's images are stored.
type ContentOutput struct {
	Slug     string    `json:"slug"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections" validate:"min=1,dive"`
}

// ImageStoreInput is the image persistence task's payload. The accepted
// image itself arrives through the dependency on the generation task.
type ImageStoreInput struct {
	Slot string `json:"slot" validate:"required"`
}

// ImageStoreOutput references the stored artifact.
type ImageStoreOutput struct {
	ImageID  uuid.UUID `json:"image_id"`
	Slot     string    `json:"slot"`
	MimeType string    `json:"mime_type,omitempty"`
}

// PublishInput is the terminal task's payload. ContentTaskID references the
// content task whose output holds the page copy; the stored images arrive
// through the task's dependencies.
type PublishInput struct {
	Slug          string    `json:"slug"            validate:"required"`
	ContentTaskID uuid.UUID `json:"content_task_id" validate:"required"`
}

// PublishOutput references the published page.
type PublishOutput struct {
	PageID uuid.UUID `json:"page_id"`
	Slug   string    `json:"slug"`
}
