package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/task"
)

// ErrInvalidInput marks a task input payload the handler cannot interpret.
// The dispatcher fails such tasks permanently; malformed input does not fix
// itself by retrying.
var ErrInvalidInput = errors.New("invalid task input")

// TextModel produces structured JSON from a prompt. The gemini platform
// client satisfies it; tests substitute a canned implementation.
type TextModel interface {
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

// validate checks payload structs at the handler boundary.
var validate = validator.New()

// decodeInput unmarshals and validates a typed task input. Failures come
// back wrapped in task.Permanent so the dispatcher fails the task without
// burning its retry budget.
func decodeInput[T any](raw json.RawMessage) (*T, error) {
	var in T
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, task.Permanent(fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	if err := validate.Struct(&in); err != nil {
		return nil, task.Permanent(fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	return &in, nil
}

// encodeOutput marshals a handler's typed output payload.
func encodeOutput(v any) (json.RawMessage, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, task.Permanent(fmt.Errorf("failed to encode task output: %w", err))
	}
	return out, nil
}

// mustEncode marshals follow-on inputs whose types are fully under the
// package's control; a marshal failure here is a programming error.
func mustEncode(v any) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("pipeline: failed to encode payload: %v", err))
	}
	return out
}

// generateJSON routes one structured model call through the shared rate
// limiter and unmarshals the response into T.
func generateJSON[T any](
	ctx context.Context,
	ex ratelimit.Executor,
	model TextModel,
	prompt string,
) (*T, error) {
	return ratelimit.Execute(ctx, ex, func(ctx context.Context) (*T, error) {
		var out T
		if err := model.GenerateJSON(ctx, prompt, &out); err != nil {
			return nil, err
		}
		return &out, nil
	})
}
