package imageqa

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/platform/logger"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
)

// mockGenerator records every prompt and returns a stub image unless
// GenerateFn overrides the behavior.
type mockGenerator struct {
	mu      sync.Mutex
	prompts []string

	GenerateFn func(ctx context.Context, prompt string) (*GeneratedImage, error)
}

func (m *mockGenerator) GenerateImage(ctx context.Context, prompt string) (*GeneratedImage, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, prompt)
	}
	return &GeneratedImage{Data: []byte("png-bytes"), MimeType: "image/png"}, nil
}

func (m *mockGenerator) promptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *mockGenerator) promptAt(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[i]
}

// mockReviewer approves everything unless ReviewFn overrides it.
type mockReviewer struct {
	mu       sync.Mutex
	contexts []ReviewContext

	ReviewFn func(ctx context.Context, image *GeneratedImage, review ReviewContext) (domain.ReviewerVerdict, error)
}

func (m *mockReviewer) ReviewImage(ctx context.Context, image *GeneratedImage, review ReviewContext) (domain.ReviewerVerdict, error) {
	m.mu.Lock()
	m.contexts = append(m.contexts, review)
	m.mu.Unlock()

	if m.ReviewFn != nil {
		return m.ReviewFn(ctx, image, review)
	}
	return domain.ReviewerVerdict{Approved: true, Feedback: "matches the brief"}, nil
}

func (m *mockReviewer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

func (m *mockReviewer) contextAt(i int) ReviewContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.contexts[i]
}

// mockRewriter echoes the prompt with a marker unless RewriteFn overrides.
type mockRewriter struct {
	mu       sync.Mutex
	requests []RewriteRequest

	RewriteFn func(ctx context.Context, req RewriteRequest) (string, error)
}

func (m *mockRewriter) RewritePrompt(ctx context.Context, req RewriteRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.RewriteFn != nil {
		return m.RewriteFn(ctx, req)
	}
	return req.Prompt + ", refined", nil
}

func (m *mockRewriter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockRewriter) requestAt(i int) RewriteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// loopFixture wires the loop's collaborators with a real limiter so model
// calls flow through the production execution path.
type loopFixture struct {
	generator *mockGenerator
	rewriter  *mockRewriter
	primary   *mockReviewer
	secondary *mockReviewer
	limiter   *ratelimit.Limiter
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()

	f := &loopFixture{
		generator: &mockGenerator{},
		rewriter:  &mockRewriter{},
		primary:   &mockReviewer{},
		secondary: &mockReviewer{},
	}
	f.limiter = ratelimit.NewLimiter(ratelimit.Config{
		MaxConcurrent:     4,
		RequestsPerSecond: 1000,
	})
	t.Cleanup(f.limiter.Stop)
	return f
}

func (f *loopFixture) loop(t *testing.T, cfg Config) *Loop {
	t.Helper()

	loop, err := NewLoop(f.generator, f.rewriter, f.primary, f.secondary, f.limiter, cfg)
	require.NoError(t, err)
	return loop
}

func testContext() context.Context {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return logger.WithLogger(context.Background(), log)
}
