package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

// Possible workflow run status values
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// WorkflowType identifies which fixed stage pipeline a run executes.
type WorkflowType string

// Supported workflow types
const (
	WorkflowTypeSiteBuild WorkflowType = "site_build"
	WorkflowTypeBlogBatch WorkflowType = "blog_batch"
)

// Common validation errors for WorkflowRun
var (
	ErrEmptyRunID           = errors.New("run ID cannot be empty")
	ErrEmptyRunOwnerID      = errors.New("run owner ID cannot be empty")
	ErrInvalidWorkflowType  = errors.New("invalid workflow type")
	ErrInvalidRunStatus     = errors.New("invalid run status")
	ErrInvalidStage         = errors.New("stage does not belong to the workflow type")
	ErrInvalidRunTransition = errors.New("invalid workflow run transition")
)

// workflowStages holds the fixed, ordered stage list per workflow type.
// Stage order is advisory for progress reporting; execution order is
// governed by task dependencies, not by this list.
var workflowStages = map[WorkflowType][]TaskType{
	WorkflowTypeSiteBuild: {
		TaskTypeIntake,
		TaskTypeResearch,
		TaskTypeKBBuild,
		TaskTypeSitemap,
		TaskTypeContent,
		TaskTypeImageGen,
		TaskTypeImageStore,
		TaskTypePublish,
	},
	WorkflowTypeBlogBatch: {
		TaskTypeIntake,
		TaskTypeResearch,
		TaskTypeContent,
		TaskTypePublish,
	},
}

// StageOrder returns the ordered stage list for the workflow type. The
// returned slice is a copy; callers may not mutate the canonical order.
func (t WorkflowType) StageOrder() []TaskType {
	stages, ok := workflowStages[t]
	if !ok {
		return nil
	}
	out := make([]TaskType, len(stages))
	copy(out, stages)
	return out
}

// StageIndex returns the position of stage within the workflow type's fixed
// order, or -1 when the stage does not belong to this workflow type.
func (t WorkflowType) StageIndex(stage TaskType) int {
	for i, s := range workflowStages[t] {
		if s == stage {
			return i
		}
	}
	return -1
}

// TerminalStage returns the final stage of the workflow type's order.
func (t WorkflowType) TerminalStage() TaskType {
	stages := workflowStages[t]
	if len(stages) == 0 {
		return ""
	}
	return stages[len(stages)-1]
}

// WorkflowRun represents one execution instance of a multi-stage pipeline
// for a single subject, e.g. one business's site build. Runs are never
// deleted, only moved to a terminal status.
type WorkflowRun struct {
	ID      uuid.UUID    `json:"id"`
	OwnerID uuid.UUID    `json:"owner_id"`
	Type    WorkflowType `json:"type"`
	// CurrentStage is an advisory progress pointer: the furthest stage with
	// at least one completed task. It never gates task execution.
	CurrentStage TaskType  `json:"current_stage"`
	Status       RunStatus `json:"status"`
	// ProposalID optionally links the run to an external proposal entity.
	ProposalID  *uuid.UUID `json:"proposal_id,omitempty"`
	PauseReason string     `json:"pause_reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewWorkflowRun creates a new WorkflowRun for the given owner and workflow
// type. It generates a new UUID for the run ID, points the advisory stage at
// the first stage of the type's order, and starts the run in the running
// status. Returns an error if validation fails.
func NewWorkflowRun(ownerID uuid.UUID, workflowType WorkflowType) (*WorkflowRun, error) {
	stages := workflowType.StageOrder()
	if len(stages) == 0 {
		return nil, ErrInvalidWorkflowType
	}

	run := &WorkflowRun{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Type:         workflowType,
		CurrentStage: stages[0],
		Status:       RunStatusRunning,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}

	return run, nil
}

// Validate checks if the WorkflowRun has valid data.
// Returns an error if any field fails validation.
func (r *WorkflowRun) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRunID
	}

	if r.OwnerID == uuid.Nil {
		return ErrEmptyRunOwnerID
	}

	if _, ok := workflowStages[r.Type]; !ok {
		return ErrInvalidWorkflowType
	}

	if !isValidRunStatus(r.Status) {
		return ErrInvalidRunStatus
	}

	if r.Type.StageIndex(r.CurrentStage) < 0 {
		return ErrInvalidStage
	}

	return nil
}

// IsTerminal reports whether the run has reached a state it can never leave.
func (r *WorkflowRun) IsTerminal() bool {
	switch r.Status {
	case RunStatusCancelled, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// Pause transitions the run from running to paused with the given reason.
// Tasks already running are unaffected; only new dispatch is suppressed.
func (r *WorkflowRun) Pause(reason string) error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: cannot pause run in status %q", ErrInvalidRunTransition, r.Status)
	}

	r.Status = RunStatusPaused
	r.PauseReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Resume transitions the run from paused back to running and clears the
// pause reason.
func (r *WorkflowRun) Resume() error {
	if r.Status != RunStatusPaused {
		return fmt.Errorf("%w: cannot resume run in status %q", ErrInvalidRunTransition, r.Status)
	}

	r.Status = RunStatusRunning
	r.PauseReason = ""
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Cancel transitions the run to cancelled from any non-terminal status.
func (r *WorkflowRun) Cancel() error {
	if r.IsTerminal() {
		return fmt.Errorf("%w: cannot cancel run in status %q", ErrInvalidRunTransition, r.Status)
	}

	r.Status = RunStatusCancelled
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete transitions the run from running to completed.
func (r *WorkflowRun) Complete() error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: cannot complete run in status %q", ErrInvalidRunTransition, r.Status)
	}

	r.Status = RunStatusCompleted
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// Fail transitions the run from running to failed.
func (r *WorkflowRun) Fail() error {
	if r.Status != RunStatusRunning {
		return fmt.Errorf("%w: cannot fail run in status %q", ErrInvalidRunTransition, r.Status)
	}

	r.Status = RunStatusFailed
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// AdvanceStage moves the advisory stage pointer forward to stage. Moves to
// an earlier or equal stage are silently ignored so the pointer only ever
// advances through the fixed order. Returns an error when the stage does not
// belong to the run's workflow type.
func (r *WorkflowRun) AdvanceStage(stage TaskType) error {
	next := r.Type.StageIndex(stage)
	if next < 0 {
		return ErrInvalidStage
	}

	if next <= r.Type.StageIndex(r.CurrentStage) {
		return nil
	}

	r.CurrentStage = stage
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// isValidRunStatus checks if the given status is a valid RunStatus.
func isValidRunStatus(status RunStatus) bool {
	switch status {
	case RunStatusRunning, RunStatusPaused, RunStatusCancelled,
		RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}
