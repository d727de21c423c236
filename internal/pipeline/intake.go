package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/task"
)

// IntakeHandler normalizes the supplied business profile and seeds the
// research stage. A run started without a profile parks its root task in
// blocked_user until the user supplies one through the unblock operation.
type IntakeHandler struct {
	model    TextModel
	executor ratelimit.Executor
}

// NewIntakeHandler creates the intake stage handler.
func NewIntakeHandler(model TextModel, executor ratelimit.Executor) (*IntakeHandler, error) {
	if model == nil {
		return nil, fmt.Errorf("intake handler: model cannot be nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("intake handler: executor cannot be nil")
	}
	return &IntakeHandler{model: model, executor: executor}, nil
}

// Execute implements task.Handler.
func (h *IntakeHandler) Execute(ctx context.Context, t *domain.WorkflowTask) (*task.HandlerResult, error) {
	input, err := decodeInput[IntakeInput](t.Input)
	if err != nil {
		return nil, err
	}

	if input.Profile == nil || strings.TrimSpace(input.Profile.Name) == "" {
		return nil, fmt.Errorf("%w: business profile with a name is required", task.ErrNeedsUserInput)
	}

	normalized, err := generateJSON[IntakeOutput](ctx, h.executor, h.model, intakePrompt(input.Profile))
	if err != nil {
		return nil, fmt.Errorf("intake normalization failed: %w", err)
	}
	if normalized.Profile.Name == "" {
		// Never let the model lose the subject; fall back to the raw name.
		normalized.Profile.Name = input.Profile.Name
	}

	output, err := encodeOutput(normalized)
	if err != nil {
		return nil, err
	}

	return &task.HandlerResult{
		Output: output,
		NextTasks: []task.TaskSpec{
			{
				Type:         domain.TaskTypeResearch,
				TargetEntity: normalized.Profile.Name,
				Input:        mustEncode(ResearchInput{Profile: normalized.Profile}),
			},
		},
	}, nil
}

func intakePrompt(profile *BusinessProfile) string {
	var b strings.Builder
	b.WriteString("Normalize this business profile for marketing content generation. ")
	b.WriteString("Fill in a plausible industry, audience and tone where missing, ")
	b.WriteString("tidy the service names, and keep the business name exactly as given. ")
	b.WriteString(`Answer as JSON: {"profile": {"name", "industry", "description", `)
	b.WriteString(`"location", "services", "audience", "tone"}}.`)
	b.WriteString("\n\nProfile:\n")
	b.Write(mustEncode(profile))
	return b.String()
}

var _ task.Handler = (*IntakeHandler)(nil)
