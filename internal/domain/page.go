package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Page
var (
	ErrEmptyPageID      = errors.New("page ID cannot be empty")
	ErrEmptyPageRunID   = errors.New("page run ID cannot be empty")
	ErrEmptyPageSlug    = errors.New("page slug cannot be empty")
	ErrEmptyPageContent = errors.New("page content cannot be empty")
)

// Page is a published content page assembled by the publish stage from
// section copy and stored image references.
type Page struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	Slug  string    `json:"slug"`
	Title string    `json:"title"`
	// Content holds the assembled section copy as produced by the content
	// stage; rendering templates are outside this service.
	Content json.RawMessage `json:"content"`
	// ImageIDs references the stored Image artifacts the page embeds.
	ImageIDs    []uuid.UUID `json:"image_ids,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewPage creates a new published Page record. Returns an error if
// validation fails.
func NewPage(
	runID uuid.UUID,
	slug, title string,
	content json.RawMessage,
	imageIDs []uuid.UUID,
) (*Page, error) {
	now := time.Now().UTC()
	page := &Page{
		ID:          uuid.New(),
		RunID:       runID,
		Slug:        slug,
		Title:       title,
		Content:     content,
		ImageIDs:    imageIDs,
		PublishedAt: now,
		CreatedAt:   now,
	}

	if err := page.Validate(); err != nil {
		return nil, err
	}

	return page, nil
}

// Validate checks if the Page has valid data.
func (p *Page) Validate() error {
	if p.ID == uuid.Nil {
		return ErrEmptyPageID
	}

	if p.RunID == uuid.Nil {
		return ErrEmptyPageRunID
	}

	if p.Slug == "" {
		return ErrEmptyPageSlug
	}

	if len(p.Content) == 0 {
		return ErrEmptyPageContent
	}

	return nil
}
