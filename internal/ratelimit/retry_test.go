package ratelimit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "nil error",
			err:       nil,
			retryable: false,
		},
		{
			name:      "http 429",
			err:       errors.New("googleapi: Error 429: Quota exceeded"),
			retryable: true,
		},
		{
			name:      "rate limit phrase",
			err:       errors.New("Rate limit reached for model"),
			retryable: true,
		},
		{
			name:      "too many requests",
			err:       errors.New("Too Many Requests"),
			retryable: true,
		},
		{
			name:      "resource exhausted grpc",
			err:       errors.New("rpc error: code = ResourceExhausted desc = quota"),
			retryable: true,
		},
		{
			name:      "io timeout",
			err:       errors.New("read tcp 10.0.0.2:443: i/o timeout"),
			retryable: true,
		},
		{
			name:      "deadline exceeded text",
			err:       errors.New("context deadline exceeded"),
			retryable: true,
		},
		{
			name:      "connection reset",
			err:       errors.New("read: connection reset by peer"),
			retryable: true,
		},
		{
			name:      "connection refused",
			err:       errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"),
			retryable: true,
		},
		{
			name:      "remote hang up",
			err:       errors.New("http2: server sent GOAWAY and closed the connection; unexpected EOF: remote hung up"),
			retryable: true,
		},
		{
			name:      "http 500",
			err:       errors.New("googleapi: Error 500: Internal Server Error"),
			retryable: true,
		},
		{
			name:      "http 503",
			err:       errors.New("503 Service Unavailable"),
			retryable: true,
		},
		{
			name:      "bad gateway",
			err:       errors.New("502 Bad Gateway"),
			retryable: true,
		},
		{
			name:      "model overloaded",
			err:       errors.New("the model is overloaded, please try again later"),
			retryable: true,
		},
		{
			name:      "wrapped retryable",
			err:       fmt.Errorf("generate image: %w", errors.New("429 too many requests")),
			retryable: true,
		},
		{
			name:      "invalid api key",
			err:       errors.New("API key not valid. Please pass a valid API key."),
			retryable: false,
		},
		{
			name:      "http 400",
			err:       errors.New("googleapi: Error 400: Invalid request payload"),
			retryable: false,
		},
		{
			name:      "safety block",
			err:       errors.New("candidate blocked by safety settings"),
			retryable: false,
		},
		{
			name:      "context canceled is never retried",
			err:       fmt.Errorf("call provider: %w", context.Canceled),
			retryable: false,
		},
		{
			name:      "plain cancellation text",
			err:       errors.New("operation canceled by caller"),
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, ratelimit.IsRetryable(tt.err))
		})
	}
}
