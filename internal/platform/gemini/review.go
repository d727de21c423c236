package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/imageqa"
	"google.golang.org/genai"
)

// reviewVerdict is the JSON shape the review prompt instructs the model to
// answer with.
type reviewVerdict struct {
	Approved  bool   `json:"approved"`
	Feedback  string `json:"feedback"`
	FixPrompt string `json:"fix_prompt"`
}

// ImageReviewer adapts the client's vision model to the imageqa.Reviewer
// interface. The QA loop needs two independent reviewers; constructing two
// ImageReviewers with different personas over one client gives each its own
// judging emphasis while sharing the underlying connection.
type ImageReviewer struct {
	client *Client

	// persona steers what the reviewer scrutinizes, e.g. "an art director
	// judging composition" vs "a brand reviewer checking fit with the copy".
	persona string
}

// NewImageReviewer creates a reviewer over the client's text model. An
// empty persona yields a neutral reviewer.
func NewImageReviewer(client *Client, persona string) (*ImageReviewer, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", ErrInvalidConfig)
	}
	return &ImageReviewer{client: client, persona: persona}, nil
}

// ReviewImage implements imageqa.Reviewer. The image is attached inline and
// judged against the prompt it was generated from and the surrounding page
// copy; the verdict comes back as structured JSON.
func (r *ImageReviewer) ReviewImage(
	ctx context.Context,
	image *imageqa.GeneratedImage,
	review imageqa.ReviewContext,
) (domain.ReviewerVerdict, error) {
	if image == nil || len(image.Data) == 0 {
		return domain.ReviewerVerdict{}, fmt.Errorf("%w: no image to review", ErrInvalidResponse)
	}

	mimeType := image.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}

	parts := []*genai.Part{
		genai.NewPartFromText(r.reviewInstruction(review)),
		genai.NewPartFromBytes(image.Data, mimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := r.client.genai.Models.GenerateContent(
		ctx,
		r.client.textModel,
		contents,
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return domain.ReviewerVerdict{}, fmt.Errorf("gemini review call failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return domain.ReviewerVerdict{}, err
	}

	var verdict reviewVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &verdict); err != nil {
		return domain.ReviewerVerdict{}, fmt.Errorf(
			"%w: failed to parse review verdict: %v", ErrInvalidResponse, err)
	}

	r.client.logger.DebugContext(ctx, "image reviewed",
		slog.String("slot", review.Slot),
		slog.Bool("approved", verdict.Approved))

	return domain.ReviewerVerdict{
		Approved:  verdict.Approved,
		Feedback:  verdict.Feedback,
		FixPrompt: verdict.FixPrompt,
	}, nil
}

// reviewInstruction builds the judging prompt for one attempt.
func (r *ImageReviewer) reviewInstruction(review imageqa.ReviewContext) string {
	var b strings.Builder
	b.WriteString("You are ")
	if r.persona != "" {
		b.WriteString(r.persona)
	} else {
		b.WriteString("a strict reviewer of marketing imagery")
	}
	b.WriteString(". Judge whether the attached image is acceptable for publication.\n\n")

	b.WriteString("It was generated from this prompt:\n")
	b.WriteString(review.Prompt)
	b.WriteString("\n")

	if review.Slot != "" {
		b.WriteString("\nIt fills the page slot: ")
		b.WriteString(review.Slot)
		b.WriteString("\n")
	}
	if review.Section != "" {
		b.WriteString("\nIt accompanies this page copy:\n")
		b.WriteString(review.Section)
		b.WriteString("\n")
	}

	b.WriteString("\nReject the image if it contains any rendered text, lettering, ")
	b.WriteString("signage, watermarks or logos, if it is distorted or low quality, ")
	b.WriteString("or if it does not fit the prompt and copy. ")
	b.WriteString(`Answer as JSON: {"approved": bool, "feedback": string, `)
	b.WriteString(`"fix_prompt": string}. In feedback, name the defects; if you `)
	b.WriteString("reject, propose an improved generation prompt in fix_prompt.")
	return b.String()
}

var _ imageqa.Reviewer = (*ImageReviewer)(nil)
