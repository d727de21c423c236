// Package ratelimit provides a bounded-concurrency, rate-spaced, retrying
// executor for asynchronous operations against external services.
//
// A Limiter admits queued operations while fewer than MaxConcurrent are in
// flight and spaces admissions to the configured request rate; transient
// failures (rate-limit signals, network conditions, server-side 5xx) are
// retried with exponential backoff and re-enter the queue at the front.
// Task handlers use it for every model and storage call; the dispatcher
// itself never does.
package ratelimit
