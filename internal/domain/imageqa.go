package domain

// ReviewerVerdict is one automated reviewer's judgment of a generated image.
type ReviewerVerdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback"`
	// FixPrompt is the reviewer's suggested replacement prompt, when offered.
	FixPrompt string `json:"fix_prompt,omitempty"`
}

// ImageQaAttempt records one generation attempt inside the image QA loop.
// Attempts are immutable once recorded and accumulate into an ordered audit
// trail on the task output.
type ImageQaAttempt struct {
	// Number is the 1-based attempt index.
	Number int    `json:"number"`
	Prompt string `json:"prompt"`
	// Verdicts holds the independent reviewer judgments for this attempt.
	// The auto-accepted textless attempt carries none.
	Verdicts []ReviewerVerdict `json:"verdicts,omitempty"`
	// TextDetected is set when any reviewer's feedback identifies visible
	// text as the defect.
	TextDetected bool `json:"text_detected"`
	// FixPrompt is the suggested prompt carried into the next attempt.
	FixPrompt string `json:"fix_prompt,omitempty"`
	// UsedTextlessRewrite marks attempts generated from the deterministic
	// typography-free prompt rewrite.
	UsedTextlessRewrite bool `json:"used_textless_rewrite"`
	// Approved is the attempt's final outcome: unanimous reviewer approval,
	// or auto-acceptance on the textless path.
	Approved bool `json:"approved"`
}
