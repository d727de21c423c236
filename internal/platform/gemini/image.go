package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pageforge/pageforge-api/internal/imageqa"
	"google.golang.org/genai"
)

// GenerateImage implements imageqa.Generator. It sends the prompt to the
// image model and returns the first inline image of the response.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (*imageqa.GeneratedImage, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	c.logger.DebugContext(ctx, "generating image",
		slog.String("model", c.imageModel),
		slog.Int("prompt_length", len(prompt)))

	resp, err := c.genai.Models.GenerateContent(
		ctx,
		c.imageModel,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini image call failed: %w", err)
	}

	content, err := firstCandidate(resp)
	if err != nil {
		return nil, err
	}

	for _, part := range content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &imageqa.GeneratedImage{
				Data:     part.InlineData.Data,
				MimeType: part.InlineData.MIMEType,
			}, nil
		}
	}
	return nil, ErrNoImageData
}

var _ imageqa.Generator = (*Client)(nil)
