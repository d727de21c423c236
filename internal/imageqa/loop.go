package imageqa

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pageforge/pageforge-api/internal/domain"
	"github.com/pageforge/pageforge-api/internal/platform/logger"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
)

// DefaultMaxAttempts is the primary attempt budget of the loop.
const DefaultMaxAttempts = 3

// Config holds the loop's attempt budget.
type Config struct {
	// MaxAttempts bounds the primary loop. The final attempt of a budget
	// larger than one uses the deterministic textless rewrite and skips
	// review. The standalone fallback after a loop that never produced an
	// image is not counted against this budget.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Loop drives the generate-review-rewrite cycle for one image slot. All
// model calls go through a shared Executor so generation and review respect
// the same provider budget. A Loop is stateless across runs and safe for
// concurrent use.
type Loop struct {
	generator Generator
	rewriter  Rewriter
	reviewers []Reviewer
	executor  ratelimit.Executor
	config    Config
}

// NewLoop creates the QA loop. Two independent reviewers are required; an
// attempt is approved only when both of them approve.
func NewLoop(
	generator Generator,
	rewriter Rewriter,
	primary, secondary Reviewer,
	executor ratelimit.Executor,
	cfg Config,
) (*Loop, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: generator is required", ErrInvalidConfig)
	}
	if rewriter == nil {
		return nil, fmt.Errorf("%w: rewriter is required", ErrInvalidConfig)
	}
	if primary == nil || secondary == nil {
		return nil, fmt.Errorf("%w: two reviewers are required", ErrInvalidConfig)
	}
	if executor == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidConfig)
	}

	return &Loop{
		generator: generator,
		rewriter:  rewriter,
		reviewers: []Reviewer{primary, secondary},
		executor:  executor,
		config:    cfg.withDefaults(),
	}, nil
}

// Run executes the QA cycle for one prompt. Attempt 1 generates from the
// prompt as supplied; later attempts first rewrite it from the previous
// rejection's feedback. The final budgeted attempt switches to the
// deterministic textless variant and is auto-accepted unreviewed if an
// image comes back. When the whole loop failed to generate any image at
// all, one standalone textless attempt runs before declaring failure.
//
// A total failure is reported through Result.Success, not an error; Run
// returns an error only when ctx ends, so an interrupted task is requeued
// instead of burning its retry budget on a shutdown.
func (l *Loop) Run(ctx context.Context, prompt string, review ReviewContext) (*Result, error) {
	log := logger.FromContext(ctx)

	result := &Result{}
	currentPrompt := prompt
	var (
		prior        *domain.ImageQaAttempt
		generatedAny bool
	)

	for n := 1; n <= l.config.MaxAttempts; n++ {
		textless := l.config.MaxAttempts > 1 && n == l.config.MaxAttempts

		switch {
		case textless:
			currentPrompt = TextlessRewrite(prompt)
		case n > 1 && prior != nil:
			rewritten, err := l.rewrite(ctx, currentPrompt, prior)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// A broken rewriter never blocks the loop; retrying the
				// previous prompt still has a chance with the reviewers.
				log.Warn("prompt rewrite failed, reusing previous prompt",
					slog.Int("attempt", n),
					slog.String("error", err.Error()))
			} else if rewritten != "" {
				currentPrompt = rewritten
			}
		}

		img, err := l.generate(ctx, currentPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("image generation failed",
				slog.Int("attempt", n),
				slog.String("error", err.Error()))
			result.Attempts = append(result.Attempts, domain.ImageQaAttempt{
				Number:              n,
				Prompt:              currentPrompt,
				UsedTextlessRewrite: textless,
			})
			continue
		}
		generatedAny = true

		if textless {
			// The deterministic rewrite is the trusted last resort: any
			// image it yields is accepted without review.
			result.Attempts = append(result.Attempts, domain.ImageQaAttempt{
				Number:              n,
				Prompt:              currentPrompt,
				UsedTextlessRewrite: true,
				Approved:            true,
			})
			result.Success = true
			result.Image = img
			result.Prompt = currentPrompt
			result.UsedTextlessFallback = true
			return result, nil
		}

		attempt := l.review(ctx, img, currentPrompt, review)
		attempt.Number = n
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Approved {
			result.Success = true
			result.Image = img
			result.Prompt = currentPrompt
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		log.Info("image attempt rejected",
			slog.Int("attempt", n),
			slog.Bool("text_detected", attempt.TextDetected))
		prior = &attempt
	}

	if !generatedAny {
		return l.standaloneFallback(ctx, prompt, result)
	}

	log.Warn("image rejected on every attempt",
		slog.Int("attempts", len(result.Attempts)))
	return result, nil
}

// standaloneFallback issues one last textless generation after a loop that
// never produced an image. Review rejections do not lead here; only pure
// generation failure does.
func (l *Loop) standaloneFallback(
	ctx context.Context,
	prompt string,
	result *Result,
) (*Result, error) {
	log := logger.FromContext(ctx)

	fallbackPrompt := TextlessRewrite(prompt)
	attempt := domain.ImageQaAttempt{
		Number:              len(result.Attempts) + 1,
		Prompt:              fallbackPrompt,
		UsedTextlessRewrite: true,
	}

	img, err := l.generate(ctx, fallbackPrompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Error("standalone textless fallback failed",
			slog.String("error", err.Error()))
		result.Attempts = append(result.Attempts, attempt)
		return result, nil
	}

	attempt.Approved = true
	result.Attempts = append(result.Attempts, attempt)
	result.Success = true
	result.Image = img
	result.Prompt = fallbackPrompt
	result.UsedTextlessFallback = true
	return result, nil
}

func (l *Loop) generate(ctx context.Context, prompt string) (*GeneratedImage, error) {
	img, err := ratelimit.Execute(ctx, l.executor, func(ctx context.Context) (*GeneratedImage, error) {
		return l.generator.GenerateImage(ctx, prompt)
	})
	if err != nil {
		return nil, err
	}
	if img == nil || len(img.Data) == 0 {
		return nil, ErrNoImage
	}
	return img, nil
}

// review fans the image out to both reviewers concurrently and folds their
// verdicts into an attempt record. A reviewer that cannot answer rejects
// with the call error as feedback; silent approval would defeat the gate.
func (l *Loop) review(
	ctx context.Context,
	img *GeneratedImage,
	prompt string,
	review ReviewContext,
) domain.ImageQaAttempt {
	review.Prompt = prompt

	ops := make([]func(context.Context) (domain.ReviewerVerdict, error), len(l.reviewers))
	for i, reviewer := range l.reviewers {
		ops[i] = func(ctx context.Context) (domain.ReviewerVerdict, error) {
			return reviewer.ReviewImage(ctx, img, review)
		}
	}
	settled := ratelimit.ExecuteAllSettled(ctx, l.executor, ops)

	verdicts := make([]domain.ReviewerVerdict, len(settled))
	approved := true
	for i, s := range settled {
		verdict := s.Value
		if s.Err != nil {
			verdict = domain.ReviewerVerdict{
				Approved: false,
				Feedback: fmt.Sprintf("review failed: %v", s.Err),
			}
		}
		verdicts[i] = verdict
		if !verdict.Approved {
			approved = false
		}
	}

	return domain.ImageQaAttempt{
		Prompt:       prompt,
		Verdicts:     verdicts,
		TextDetected: detectTextDefect(verdicts),
		FixPrompt:    suggestedFix(verdicts),
		Approved:     approved,
	}
}

// suggestedFix picks the first replacement prompt offered by a rejecting
// reviewer, in reviewer order.
func suggestedFix(verdicts []domain.ReviewerVerdict) string {
	for _, v := range verdicts {
		if !v.Approved && v.FixPrompt != "" {
			return v.FixPrompt
		}
	}
	return ""
}

// rewrite asks the secondary model for a better prompt, carrying the
// rejecting feedback and the detected-text signal from the prior attempt.
func (l *Loop) rewrite(
	ctx context.Context,
	prompt string,
	prior *domain.ImageQaAttempt,
) (string, error) {
	req := RewriteRequest{
		Prompt:       prompt,
		FixPrompt:    prior.FixPrompt,
		TextDetected: prior.TextDetected,
	}
	for _, v := range prior.Verdicts {
		if !v.Approved && v.Feedback != "" {
			req.Feedback = append(req.Feedback, v.Feedback)
		}
	}

	return ratelimit.Execute(ctx, l.executor, func(ctx context.Context) (string, error) {
		return l.rewriter.RewritePrompt(ctx, req)
	})
}
