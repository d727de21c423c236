package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common validation errors for Image
var (
	ErrEmptyImageID     = errors.New("image ID cannot be empty")
	ErrEmptyImageRunID  = errors.New("image run ID cannot be empty")
	ErrEmptyImageData   = errors.New("image data cannot be empty")
	ErrEmptyImagePrompt = errors.New("image prompt cannot be empty")
)

// Image is a generated, QA-accepted image artifact persisted for later
// publication. The raw bytes live alongside the metadata; serving and CDN
// distribution are outside this service.
type Image struct {
	ID    uuid.UUID `json:"id"`
	RunID uuid.UUID `json:"run_id"`
	// TaskID references the image_store task that persisted the artifact.
	TaskID uuid.UUID `json:"task_id"`
	// TargetEntity labels the slot the image fills, e.g. "home/hero".
	TargetEntity string `json:"target_entity"`
	// Prompt is the exact prompt the accepted attempt was generated from.
	Prompt    string    `json:"prompt"`
	MimeType  string    `json:"mime_type"`
	Data      []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// NewImage creates a new Image artifact record. Returns an error if
// validation fails.
func NewImage(
	runID, taskID uuid.UUID,
	targetEntity, prompt, mimeType string,
	data []byte,
) (*Image, error) {
	img := &Image{
		ID:           uuid.New(),
		RunID:        runID,
		TaskID:       taskID,
		TargetEntity: targetEntity,
		Prompt:       prompt,
		MimeType:     mimeType,
		Data:         data,
		CreatedAt:    time.Now().UTC(),
	}

	if err := img.Validate(); err != nil {
		return nil, err
	}

	return img, nil
}

// Validate checks if the Image has valid data.
func (i *Image) Validate() error {
	if i.ID == uuid.Nil {
		return ErrEmptyImageID
	}

	if i.RunID == uuid.Nil {
		return ErrEmptyImageRunID
	}

	if i.Prompt == "" {
		return ErrEmptyImagePrompt
	}

	if len(i.Data) == 0 {
		return ErrEmptyImageData
	}

	return nil
}
