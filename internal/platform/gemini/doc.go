// Package gemini wraps Google's genai SDK for the model calls the pipeline
// makes: structured JSON text generation for the content stages, image
// generation, automated image review and prompt rewriting for the QA loop.
//
// Every method issues a single model call. Retry of transient provider
// failures and request pacing belong to internal/ratelimit; callers route
// these methods through a limiter instead of retrying here.
package gemini
