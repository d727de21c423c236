// Package imageqa implements the quality gate for generated images: a
// bounded retry loop that generates an image, has two independent automated
// reviewers judge it concurrently, rewrites the prompt from their feedback,
// and as a last resort falls back to a deterministic typography-free prompt
// variant. Every attempt is recorded for audit regardless of outcome.
//
// The package also provides the task handler that exposes the loop to the
// workflow engine for image generation tasks.
package imageqa
