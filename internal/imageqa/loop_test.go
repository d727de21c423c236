package imageqa

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageforge/pageforge-api/internal/domain"
)

func TestNewLoopValidatesCollaborators(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)

	cases := []struct {
		name string
		make func() (*Loop, error)
	}{
		{"nil generator", func() (*Loop, error) {
			return NewLoop(nil, f.rewriter, f.primary, f.secondary, f.limiter, Config{})
		}},
		{"nil rewriter", func() (*Loop, error) {
			return NewLoop(f.generator, nil, f.primary, f.secondary, f.limiter, Config{})
		}},
		{"nil primary reviewer", func() (*Loop, error) {
			return NewLoop(f.generator, f.rewriter, nil, f.secondary, f.limiter, Config{})
		}},
		{"nil secondary reviewer", func() (*Loop, error) {
			return NewLoop(f.generator, f.rewriter, f.primary, nil, f.limiter, Config{})
		}},
		{"nil executor", func() (*Loop, error) {
			return NewLoop(f.generator, f.rewriter, f.primary, f.secondary, nil, Config{})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loop, err := tc.make()
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, loop)
		})
	}
}

func TestLoopApprovesFirstAttempt(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	loop := f.loop(t, Config{})

	res, err := loop.Run(testContext(), "storefront at dusk", ReviewContext{Slot: "home/hero"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.False(t, res.UsedTextlessFallback)
	assert.Equal(t, "storefront at dusk", res.Prompt)
	require.NotNil(t, res.Image)
	assert.Equal(t, "image/png", res.Image.MimeType)

	require.Len(t, res.Attempts, 1)
	attempt := res.Attempts[0]
	assert.Equal(t, 1, attempt.Number)
	assert.True(t, attempt.Approved)
	assert.False(t, attempt.UsedTextlessRewrite)
	assert.Len(t, attempt.Verdicts, 2)

	assert.Equal(t, 0, f.rewriter.callCount())
	assert.Equal(t, 1, f.primary.callCount())
	assert.Equal(t, 1, f.secondary.callCount())

	review := f.primary.contextAt(0)
	assert.Equal(t, "storefront at dusk", review.Prompt)
	assert.Equal(t, "home/hero", review.Slot)
}

func TestLoopSingleRejectionRejectsAttempt(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	f.secondary.ReviewFn = func(_ context.Context, _ *GeneratedImage, _ ReviewContext) (domain.ReviewerVerdict, error) {
		return domain.ReviewerVerdict{Approved: false, Feedback: "colors are muddy"}, nil
	}
	loop := f.loop(t, Config{MaxAttempts: 1})

	res, err := loop.Run(testContext(), "mountain lake", ReviewContext{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Nil(t, res.Image)
	require.Len(t, res.Attempts, 1)

	attempt := res.Attempts[0]
	assert.False(t, attempt.Approved)
	assert.False(t, attempt.TextDetected)
	require.Len(t, attempt.Verdicts, 2)
	assert.True(t, attempt.Verdicts[0].Approved)
	assert.False(t, attempt.Verdicts[1].Approved)
}

func TestLoopReviewerErrorCountsAsRejection(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	f.primary.ReviewFn = func(_ context.Context, _ *GeneratedImage, _ ReviewContext) (domain.ReviewerVerdict, error) {
		return domain.ReviewerVerdict{}, errors.New("vision model unavailable")
	}
	loop := f.loop(t, Config{MaxAttempts: 1})

	res, err := loop.Run(testContext(), "harbor at noon", ReviewContext{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	require.Len(t, res.Attempts, 1)

	verdicts := res.Attempts[0].Verdicts
	require.Len(t, verdicts, 2)
	assert.False(t, verdicts[0].Approved)
	assert.Contains(t, verdicts[0].Feedback, "review failed")
	assert.Contains(t, verdicts[0].Feedback, "vision model unavailable")
	assert.True(t, verdicts[1].Approved)
}

// Both reviewers reject the first attempt over rendered text, the second
// attempt uses the reviewer-informed rewrite and is rejected again, and the
// final attempt switches to the deterministic textless prompt, skipping
// review entirely.
func TestLoopFallsBackToTextlessPromptAfterRejections(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	f.primary.ReviewFn = func(_ context.Context, _ *GeneratedImage, _ ReviewContext) (domain.ReviewerVerdict, error) {
		return domain.ReviewerVerdict{
			Approved:  false,
			Feedback:  "the sign text is gibberish",
			FixPrompt: "storefront with a blank awning",
		}, nil
	}
	f.secondary.ReviewFn = func(_ context.Context, _ *GeneratedImage, _ ReviewContext) (domain.ReviewerVerdict, error) {
		return domain.ReviewerVerdict{Approved: false, Feedback: "rendered words are misspelled"}, nil
	}
	f.rewriter.RewriteFn = func(_ context.Context, _ RewriteRequest) (string, error) {
		return "storefront with a plain awning", nil
	}
	loop := f.loop(t, Config{})

	res, err := loop.Run(testContext(), "storefront with welcome sign", ReviewContext{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.UsedTextlessFallback)
	require.NotNil(t, res.Image)
	require.Len(t, res.Attempts, 3)

	first := res.Attempts[0]
	assert.Equal(t, "storefront with welcome sign", first.Prompt)
	assert.False(t, first.Approved)
	assert.True(t, first.TextDetected)
	assert.Equal(t, "storefront with a blank awning", first.FixPrompt)
	assert.Len(t, first.Verdicts, 2)

	second := res.Attempts[1]
	assert.Equal(t, "storefront with a plain awning", second.Prompt)
	assert.False(t, second.Approved)
	assert.False(t, second.UsedTextlessRewrite)

	third := res.Attempts[2]
	assert.True(t, third.UsedTextlessRewrite)
	assert.True(t, third.Approved)
	assert.Empty(t, third.Verdicts)
	assert.Equal(t, TextlessRewrite("storefront with welcome sign"), third.Prompt)
	assert.Equal(t, third.Prompt, res.Prompt)

	// The rewrite carried the rejection evidence forward.
	require.Equal(t, 1, f.rewriter.callCount())
	req := f.rewriter.requestAt(0)
	assert.Equal(t, "storefront with welcome sign", req.Prompt)
	assert.True(t, req.TextDetected)
	assert.Equal(t, "storefront with a blank awning", req.FixPrompt)
	assert.Contains(t, req.Feedback, "the sign text is gibberish")
	assert.Contains(t, req.Feedback, "rendered words are misspelled")

	// Reviewers saw attempts one and two; the textless attempt skipped them.
	assert.Equal(t, 2, f.primary.callCount())
	assert.Equal(t, 2, f.secondary.callCount())
}

func TestLoopStandaloneFallbackAfterGenerationFailure(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	var calls atomic.Int32
	f.generator.GenerateFn = func(_ context.Context, _ string) (*GeneratedImage, error) {
		if calls.Add(1) <= 3 {
			return nil, errors.New("image backend 500")
		}
		return &GeneratedImage{Data: []byte("fallback"), MimeType: "image/png"}, nil
	}
	loop := f.loop(t, Config{})

	res, err := loop.Run(testContext(), "mountain lake", ReviewContext{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.UsedTextlessFallback)
	require.NotNil(t, res.Image)
	assert.Equal(t, []byte("fallback"), res.Image.Data)

	require.Len(t, res.Attempts, 4)
	for _, attempt := range res.Attempts[:3] {
		assert.False(t, attempt.Approved)
	}
	// No reviewed rejection ever happened, so attempt two reuses the
	// original prompt instead of asking for a rewrite.
	assert.Equal(t, "mountain lake", f.generator.promptAt(0))
	assert.Equal(t, "mountain lake", f.generator.promptAt(1))
	assert.True(t, res.Attempts[2].UsedTextlessRewrite)

	last := res.Attempts[3]
	assert.Equal(t, 4, last.Number)
	assert.True(t, last.UsedTextlessRewrite)
	assert.True(t, last.Approved)

	assert.Equal(t, 0, f.rewriter.callCount())
	assert.Equal(t, 0, f.primary.callCount())
	assert.Equal(t, 0, f.secondary.callCount())
}

func TestLoopNoStandaloneFallbackWhenAnImageWasRejected(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	rejectAll := func(_ context.Context, _ *GeneratedImage, _ ReviewContext) (domain.ReviewerVerdict, error) {
		return domain.ReviewerVerdict{Approved: false, Feedback: "composition is off"}, nil
	}
	f.primary.ReviewFn = rejectAll
	f.secondary.ReviewFn = rejectAll

	var calls atomic.Int32
	f.generator.GenerateFn = func(_ context.Context, _ string) (*GeneratedImage, error) {
		if calls.Add(1) == 1 {
			return &GeneratedImage{Data: []byte("first"), MimeType: "image/png"}, nil
		}
		return nil, errors.New("image backend down")
	}
	loop := f.loop(t, Config{})

	res, err := loop.Run(testContext(), "mountain lake", ReviewContext{})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Nil(t, res.Image)
	assert.False(t, res.UsedTextlessFallback)
	require.Len(t, res.Attempts, 3)

	// An image existed and was rejected, so the generation-failure fallback
	// must not fire.
	assert.Equal(t, int32(3), calls.Load())
}

func TestLoopRewriterFailureReusesPreviousPrompt(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	rejectAll := func(_ context.Context, _ *GeneratedImage, _ ReviewContext) (domain.ReviewerVerdict, error) {
		return domain.ReviewerVerdict{Approved: false, Feedback: "too dark"}, nil
	}
	f.primary.ReviewFn = rejectAll
	f.secondary.ReviewFn = rejectAll
	f.rewriter.RewriteFn = func(_ context.Context, _ RewriteRequest) (string, error) {
		return "", errors.New("rewrite model down")
	}
	loop := f.loop(t, Config{})

	res, err := loop.Run(testContext(), "cliff path", ReviewContext{})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, res.UsedTextlessFallback)
	require.Equal(t, 3, f.generator.promptCount())
	assert.Equal(t, "cliff path", f.generator.promptAt(0))
	assert.Equal(t, "cliff path", f.generator.promptAt(1))
}

func TestLoopReturnsContextError(t *testing.T) {
	t.Parallel()

	f := newLoopFixture(t)
	loop := f.loop(t, Config{})

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	res, err := loop.Run(ctx, "anything", ReviewContext{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}
