package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pageforge/pageforge-api/internal/config"
	"google.golang.org/genai"
)

// Client wraps the genai SDK with the two models the pipeline uses: a text
// model for structured generation, review and prompt rewriting, and an
// image model for generation.
type Client struct {
	logger     *slog.Logger
	genai      *genai.Client
	textModel  string
	imageModel string
}

// NewClient creates a Gemini client from the LLM configuration.
// Returns ErrInvalidConfig if the API key or either model name is missing.
func NewClient(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.TextModel == "" {
		return nil, fmt.Errorf("%w: text model name cannot be empty", ErrInvalidConfig)
	}
	if cfg.ImageModel == "" {
		return nil, fmt.Errorf("%w: image model name cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create genai client: %v", ErrInvalidConfig, err)
	}

	logger.InfoContext(ctx, "gemini client initialized",
		slog.String("text_model", cfg.TextModel),
		slog.String("image_model", cfg.ImageModel))

	return &Client{
		logger:     logger.With(slog.String("component", "gemini")),
		genai:      client,
		textModel:  cfg.TextModel,
		imageModel: cfg.ImageModel,
	}, nil
}

// firstCandidate validates the common response shape and returns the first
// candidate's content. The caller interprets the parts.
func firstCandidate(resp *genai.GenerateContentResponse) (*genai.Content, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return nil, ErrContentBlocked
	}
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}
	return candidate.Content, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	content, err := firstCandidate(resp)
	if err != nil {
		return "", err
	}

	text := ""
	for _, part := range content.Parts {
		text += part.Text
	}
	if text == "" {
		return "", fmt.Errorf("%w: no text in response", ErrInvalidResponse)
	}
	return text, nil
}
