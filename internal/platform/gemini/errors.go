package gemini

import "errors"

// Sentinel errors for Gemini API failures. Callers distinguish permanent
// conditions (blocked content, malformed responses) from transient provider
// failures, which surface as the SDK's own errors and are classified by the
// rate limiter's retry policy.
var (
	// ErrInvalidConfig indicates the client was constructed with missing or
	// invalid configuration.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyPrompt indicates a generation call was made without a prompt.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrContentBlocked indicates the model refused the request on safety
	// grounds. Retrying the same prompt will not help.
	ErrContentBlocked = errors.New("content blocked by safety filters")

	// ErrInvalidResponse indicates the model responded but the payload was
	// unusable: no candidates, empty content or malformed JSON.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrNoImageData indicates an image generation response carried no
	// inline image payload.
	ErrNoImageData = errors.New("response contains no image data")
)
