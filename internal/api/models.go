package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/workflow"
)

// Common request/response structures

// RegisterRequest defines the payload for the user registration endpoint.
type RegisterRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=12,max=72"`
}

// LoginRequest defines the payload for the user login endpoint.
type LoginRequest struct {
	Email    string `json:"email"    validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// AuthResponse defines the successful response for authentication endpoints.
type AuthResponse struct {
	UserID uuid.UUID `json:"user_id"`

	// AccessToken is the JWT token used for API authorization.
	AccessToken string `json:"token"`

	// RefreshToken is the JWT token used to obtain new access tokens.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the ISO 8601 timestamp when the access token expires.
	ExpiresAt string `json:"expires_at,omitempty"`
}

// RefreshTokenRequest defines the payload for the token refresh endpoint.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// RefreshTokenResponse defines the successful response for the token refresh
// endpoint.
type RefreshTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    string `json:"expires_at"`
}

// CreateRunRequest defines the payload for starting a workflow run.
type CreateRunRequest struct {
	// Type selects the pipeline: "site_build" or "blog_batch".
	Type string `json:"type" validate:"required,oneof=site_build blog_batch"`

	// TargetEntity labels what the run builds, e.g. the business name.
	TargetEntity string `json:"target_entity" validate:"required,max=500"`

	// Input is the intake payload handed to the run's first task. May be
	// omitted; the intake task then parks until the user supplies one.
	Input json.RawMessage `json:"input,omitempty"`

	// ProposalID optionally links the run to an external proposal.
	ProposalID *uuid.UUID `json:"proposal_id,omitempty"`
}

// RunResponse is the wire shape of a workflow run.
type RunResponse struct {
	ID           uuid.UUID  `json:"id"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	CurrentStage string     `json:"current_stage"`
	PauseReason  string     `json:"pause_reason,omitempty"`
	ProposalID   *uuid.UUID `json:"proposal_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewRunResponse converts a domain run to its wire shape.
func NewRunResponse(run *domain.WorkflowRun) RunResponse {
	return RunResponse{
		ID:           run.ID,
		Type:         string(run.Type),
		Status:       string(run.Status),
		CurrentStage: string(run.CurrentStage),
		PauseReason:  run.PauseReason,
		ProposalID:   run.ProposalID,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

// RunDetailResponse is a run with its progress counters and health
// classification.
type RunDetailResponse struct {
	Run      RunResponse        `json:"run"`
	Progress workflow.Progress  `json:"progress"`
	Health   workflow.RunHealth `json:"health"`
}

// NewRunDetailResponse converts a workflow RunDetail to its wire shape.
func NewRunDetailResponse(detail *workflow.RunDetail) RunDetailResponse {
	return RunDetailResponse{
		Run:      NewRunResponse(detail.Run),
		Progress: detail.Progress,
		Health:   detail.Health,
	}
}

// PauseRunRequest defines the payload for pausing a run.
type PauseRunRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

// TaskResponse is the wire shape of a workflow task.
type TaskResponse struct {
	ID           uuid.UUID       `json:"id"`
	RunID        uuid.UUID       `json:"run_id"`
	Type         string          `json:"type"`
	TargetEntity string          `json:"target_entity"`
	Status       string          `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	DependsOn    []uuid.UUID     `json:"depends_on,omitempty"`
	Attempts     int             `json:"attempts"`
	LastError    string          `json:"last_error,omitempty"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewTaskResponse converts a domain task to its wire shape.
func NewTaskResponse(t *domain.WorkflowTask) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		RunID:        t.RunID,
		Type:         string(t.Type),
		TargetEntity: t.TargetEntity,
		Status:       string(t.Status),
		Input:        t.Input,
		Output:       t.Output,
		DependsOn:    t.DependsOn,
		Attempts:     t.Attempts,
		LastError:    t.LastError,
		Priority:     t.Priority,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// NewTaskResponses converts a slice of domain tasks.
func NewTaskResponses(tasks []*domain.WorkflowTask) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, NewTaskResponse(t))
	}
	return out
}

// CreateTaskRequest defines the payload for adding an ad-hoc task to a run.
type CreateTaskRequest struct {
	Type         string          `json:"type"          validate:"required"`
	TargetEntity string          `json:"target_entity" validate:"max=500"`
	Input        json.RawMessage `json:"input,omitempty"`
	DependsOn    []uuid.UUID     `json:"depends_on,omitempty"`
	Priority     int             `json:"priority"`
}

// UnblockTaskRequest defines the payload for releasing a blocked task. The
// input is shallow-merged over the task's existing input.
type UnblockTaskRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
}

// CompleteTaskRequest defines the payload for manually completing a task.
type CompleteTaskRequest struct {
	Output json.RawMessage `json:"output,omitempty"`
}

// FailTaskRequest defines the payload for manually failing a task.
type FailTaskRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}
