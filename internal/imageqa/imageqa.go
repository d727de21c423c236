package imageqa

import (
	"context"
	"errors"

	"github.com/pageforge/pageforge-api/internal/domain"
)

// Common errors returned by the image QA loop.
var (
	// ErrNoImage is returned when the model call succeeded but carried no
	// image payload. The loop treats it like any other generation failure.
	ErrNoImage = errors.New("model returned no image")

	// ErrInvalidConfig is returned when the loop is constructed without one
	// of its required collaborators.
	ErrInvalidConfig = errors.New("invalid image qa configuration")
)

// GeneratedImage is a model-produced image before storage.
type GeneratedImage struct {
	Data     []byte
	MimeType string
}

// ReviewContext carries what the reviewers judge an image against.
type ReviewContext struct {
	// Prompt is the exact prompt the image under review was generated from.
	// The loop fills it in per attempt.
	Prompt string
	// Slot labels the placement the image fills, e.g. "home/hero".
	Slot string
	// Section is the surrounding page copy the image must fit.
	Section string
}

// RewriteRequest asks for an improved prompt after a rejected attempt.
type RewriteRequest struct {
	// Prompt is the prompt that produced the rejected image.
	Prompt string
	// Feedback holds the rejecting reviewers' objections.
	Feedback []string
	// FixPrompt is a reviewer-suggested replacement prompt, when one was
	// offered. May be empty.
	FixPrompt string
	// TextDetected signals that rendered text was the defect; the rewrite
	// must strengthen the no-text instructions.
	TextDetected bool
}

// Generator produces one image from a prompt. Implementations make a single
// model call; retry of transient failures belongs to the rate limiter the
// loop routes calls through.
type Generator interface {
	GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error)
}

// Reviewer judges a generated image against its prompt and page context.
type Reviewer interface {
	ReviewImage(ctx context.Context, image *GeneratedImage, review ReviewContext) (domain.ReviewerVerdict, error)
}

// Rewriter asks a secondary model to produce a better prompt from the
// previous attempt's rejection.
type Rewriter interface {
	RewritePrompt(ctx context.Context, req RewriteRequest) (string, error)
}

// Result is the outcome of one QA loop run.
type Result struct {
	// Success reports whether an image was accepted. False only when
	// neither the main loop nor the standalone fallback produced one.
	Success bool

	// Image is the accepted image, nil on total failure.
	Image *GeneratedImage

	// Prompt is the exact prompt the accepted image was generated from.
	Prompt string

	// Attempts is the ordered audit trail, including attempts whose
	// generation call failed outright.
	Attempts []domain.ImageQaAttempt

	// UsedTextlessFallback is true when the accepted image came from the
	// deterministic typography-free rewrite rather than a reviewed prompt.
	UsedTextlessFallback bool
}
