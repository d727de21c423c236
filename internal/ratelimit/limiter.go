package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pageforge/pageforge-api/internal/platform/logger"
)

// ErrStopped is returned for operations still pending when the limiter
// shuts down.
var ErrStopped = errors.New("rate limiter stopped")

// Config holds the admission and retry parameters of a Limiter.
// It is immutable for the limiter instance's lifetime.
type Config struct {
	// MaxConcurrent bounds how many operations run at once.
	MaxConcurrent int
	// RequestsPerSecond is the steady-state admission rate. Admissions are
	// spaced at least 1000/RequestsPerSecond milliseconds apart once the
	// initial burst allowance is consumed.
	RequestsPerSecond float64
	// MaxRetries bounds how many times a transient failure is re-executed.
	MaxRetries int
	// BaseDelay is the backoff before the first retry; each subsequent
	// retry doubles it.
	BaseDelay time.Duration
	// MaxDelay caps the backoff regardless of retry count.
	MaxDelay time.Duration
}

// withDefaults replaces out-of-range settings with safe values, mirroring
// how the rest of the platform tolerates partial configuration.
func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

// Operation is one unit of asynchronous work admitted through the limiter.
type Operation func(ctx context.Context) (any, error)

// Executor admits operations under a shared concurrency and rate budget.
// The process-local Limiter is the only implementation today; the interface
// exists so a distributed limiter can replace it for horizontally scaled
// deployments without touching call sites.
type Executor interface {
	Do(ctx context.Context, op Operation) (any, error)
}

type outcome struct {
	value any
	err   error
}

// pending is one enqueued operation together with its delivery channel and
// retry bookkeeping.
type pending struct {
	ctx     context.Context
	op      Operation
	result  chan outcome
	retries int
}

// deliver hands the final outcome to the waiting caller. The result channel
// is buffered and written at most once per final outcome, so delivery never
// blocks even when the caller already gave up.
func (p *pending) deliver(value any, err error) {
	select {
	case p.result <- outcome{value: value, err: err}:
	default:
	}
}

// Limiter is the process-local Executor implementation. A single dispatcher
// goroutine pops pending work, acquires a concurrency slot and a pacing
// token, and runs each operation in its own goroutine. Retried operations
// re-enter at the front of the queue so they are not starved by a deep
// backlog.
type Limiter struct {
	cfg Config

	// pacer spaces admissions; its burst equals MaxConcurrent so a fresh
	// limiter can fill its concurrency budget immediately before settling
	// into steady-state spacing.
	pacer *rate.Limiter
	slots chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*pending
	stopped bool

	lifetime context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ Executor = (*Limiter)(nil)

// NewLimiter creates a Limiter with the given configuration and starts its
// dispatcher goroutine. Callers should Stop it when done.
func NewLimiter(cfg Config) *Limiter {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		cfg:      cfg,
		pacer:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.MaxConcurrent),
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		lifetime: ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	l.cond = sync.NewCond(&l.mu)

	go l.dispatch()
	return l
}

// Do enqueues op and blocks until its eventual result, which may be after
// several retries. Admission is deferred, never rejected: the operation
// waits for a free concurrency slot and a pacing token. The context only
// abandons the caller's wait; an operation already in flight still runs to
// completion.
func (l *Limiter) Do(ctx context.Context, op Operation) (any, error) {
	p := &pending{ctx: ctx, op: op, result: make(chan outcome, 1)}

	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil, ErrStopped
	}
	l.queue = append(l.queue, p)
	l.mu.Unlock()
	l.cond.Signal()

	select {
	case out := <-p.result:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts the limiter down: pending operations fail with ErrStopped,
// in-flight operations finish on their own. Stop blocks until the
// dispatcher goroutine has exited and is safe to call more than once.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.stopped = true
	l.mu.Unlock()

	l.cancel()
	l.cond.Broadcast()
	<-l.done
}

// dispatch is the limiter's single admission loop.
func (l *Limiter) dispatch() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped {
			remaining := l.queue
			l.queue = nil
			l.mu.Unlock()
			for _, p := range remaining {
				p.deliver(nil, ErrStopped)
			}
			return
		}
		p := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		// Drop work whose caller has already gone away.
		if p.ctx.Err() != nil {
			p.deliver(nil, p.ctx.Err())
			continue
		}

		// A concurrency slot first, then a pacing token. Both waits abort
		// on shutdown. Waiting for the token inside the loop is what spaces
		// consecutive admissions.
		select {
		case l.slots <- struct{}{}:
		case <-l.lifetime.Done():
			p.deliver(nil, ErrStopped)
			continue
		}

		if err := l.pacer.Wait(l.lifetime); err != nil {
			<-l.slots
			p.deliver(nil, ErrStopped)
			continue
		}

		go l.run(p)
	}
}

// run executes one admitted operation and decides between delivery and a
// backoff retry.
func (l *Limiter) run(p *pending) {
	defer func() { <-l.slots }()

	value, err := func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("operation panicked: %v", r)
			}
		}()
		return p.op(p.ctx)
	}()
	if err == nil {
		p.deliver(value, nil)
		return
	}

	if !IsRetryable(err) || p.retries >= l.cfg.MaxRetries {
		p.deliver(nil, err)
		return
	}

	delay := l.backoffDelay(p.retries)
	p.retries++

	logger.FromContext(p.ctx).Debug("retrying operation after transient failure",
		"retry", p.retries,
		"max_retries", l.cfg.MaxRetries,
		"delay", delay.String(),
		"error", err.Error())

	time.AfterFunc(delay, func() { l.requeue(p) })
}

// requeue puts a retried operation back at the front of the queue so
// retried work is not starved behind a deep backlog.
func (l *Limiter) requeue(p *pending) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		p.deliver(nil, ErrStopped)
		return
	}
	l.queue = append(l.queue, nil)
	copy(l.queue[1:], l.queue)
	l.queue[0] = p
	l.mu.Unlock()
	l.cond.Signal()
}

// backoffDelay computes min(BaseDelay * 2^retry + jitter, MaxDelay) where
// jitter is uniform in [0, 1s). The pre-jitter component is non-decreasing
// in the retry count.
func (l *Limiter) backoffDelay(retry int) time.Duration {
	backoff := float64(l.cfg.BaseDelay) * math.Pow(2, float64(retry))
	if backoff >= float64(l.cfg.MaxDelay) {
		return l.cfg.MaxDelay
	}

	l.rngMu.Lock()
	jitter := time.Duration(l.rng.Int63n(int64(time.Second)))
	l.rngMu.Unlock()

	delay := time.Duration(backoff) + jitter
	if delay > l.cfg.MaxDelay {
		delay = l.cfg.MaxDelay
	}
	return delay
}
