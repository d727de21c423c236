package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pageforge/pageforge-api/internal/imageqa"
	"google.golang.org/genai"
)

// GenerateJSON sends the prompt to the text model requesting a JSON
// response and unmarshals it into out. Malformed JSON is an
// ErrInvalidResponse: the model answered, but not in the agreed shape, so
// retrying the identical request is pointless.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, out any) error {
	if prompt == "" {
		return ErrEmptyPrompt
	}

	c.logger.DebugContext(ctx, "generating structured content",
		slog.String("model", c.textModel),
		slog.Int("prompt_length", len(prompt)))

	resp, err := c.genai.Models.GenerateContent(
		ctx,
		c.textModel,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
		},
	)
	if err != nil {
		return fmt.Errorf("gemini text call failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(stripCodeFence(text)), out); err != nil {
		return fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// RewritePrompt implements imageqa.Rewriter. It asks the text model for an
// improved image prompt that addresses the prior rejection's feedback,
// strengthening the no-text instructions when rendered text was the defect.
func (c *Client) RewritePrompt(ctx context.Context, req imageqa.RewriteRequest) (string, error) {
	if req.Prompt == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := c.genai.Models.GenerateContent(
		ctx,
		c.textModel,
		genai.Text(rewriteInstruction(req)),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("gemini rewrite call failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return "", err
	}

	rewritten := strings.TrimSpace(stripCodeFence(text))
	if rewritten == "" {
		return "", fmt.Errorf("%w: empty rewritten prompt", ErrInvalidResponse)
	}

	c.logger.DebugContext(ctx, "prompt rewritten",
		slog.Int("original_length", len(req.Prompt)),
		slog.Int("rewritten_length", len(rewritten)))
	return rewritten, nil
}

// rewriteInstruction builds the rewrite request sent to the text model.
func rewriteInstruction(req imageqa.RewriteRequest) string {
	var b strings.Builder
	b.WriteString("Rewrite the following image generation prompt so the next attempt ")
	b.WriteString("addresses the reviewer feedback. Reply with the rewritten prompt only, ")
	b.WriteString("no commentary.\n\n")

	b.WriteString("Original prompt:\n")
	b.WriteString(req.Prompt)
	b.WriteString("\n")

	if len(req.Feedback) > 0 {
		b.WriteString("\nReviewer feedback:\n")
		for _, fb := range req.Feedback {
			b.WriteString("- ")
			b.WriteString(fb)
			b.WriteString("\n")
		}
	}

	if req.FixPrompt != "" {
		b.WriteString("\nA reviewer suggested this replacement prompt, use it as guidance:\n")
		b.WriteString(req.FixPrompt)
		b.WriteString("\n")
	}

	if req.TextDetected {
		b.WriteString("\nThe rejected image contained rendered text. The rewritten prompt ")
		b.WriteString("must explicitly forbid any text, lettering, words, signage, labels, ")
		b.WriteString("logos or typography in the image.\n")
	}

	return b.String()
}

// stripCodeFence removes a markdown code fence the model sometimes wraps
// around its output despite the response format instructions.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

var _ imageqa.Rewriter = (*Client)(nil)
