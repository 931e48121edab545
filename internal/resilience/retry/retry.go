// Package retry wraps a fallible agent attempt with bounded retries,
// backoff, and circuit breaker accounting.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/resilience/breaker"
	"github.com/taskforge/taskforge/internal/resilience/classify"
)

// rateLimitDelay overrides the schedule when the agent backend
// reports a rate limit; backing off faster just burns the budget.
const rateLimitDelay = 60 * time.Second

// jitterPercent spreads retry wake-ups so parallel tasks do not
// hammer a recovering dependency in lockstep.
const jitterPercent = 20

// Schedule names the delay progression between attempts.
type Schedule string

const (
	ScheduleExponential Schedule = "exponential"
	ScheduleLinear      Schedule = "linear"
	ScheduleFibonacci   Schedule = "fibonacci"
)

// Config holds the controller parameters.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Schedule    Schedule
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Schedule:    ScheduleExponential,
	}
}

// OnRetryFunc observes every scheduled retry, for log lines and the
// detailed log.
type OnRetryFunc func(attempt int, delay time.Duration, failure *classify.Failure)

// Controller retries transient failures and reports every outcome to
// the circuit breaker. Non-transient kinds surface immediately.
type Controller struct {
	cfg      Config
	breakers *breaker.Registry
	logger   *logger.Logger
}

// NewController creates a retry controller over the breaker registry.
func NewController(cfg Config, breakers *breaker.Registry, log *logger.Logger) *Controller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Controller{
		cfg:      cfg,
		breakers: breakers,
		logger:   log.WithFields(zap.String("component", "retry")),
	}
}

// Do runs fn up to MaxAttempts times. The breaker for key is consulted
// before every attempt and told about every outcome after. Returns nil
// on success, the last classified failure otherwise.
func (c *Controller) Do(ctx context.Context, key string, fn func(ctx context.Context) error, onRetry OnRetryFunc) *classify.Failure {
	backoff := c.newBackoff()

	for attempt := 1; ; attempt++ {
		if err := c.breakers.Allow(key); err != nil {
			// Short-circuited: the agent was never invoked, so the
			// breaker sees neither success nor failure.
			return classify.Classify(err)
		}

		err := fn(ctx)
		if err == nil {
			c.breakers.RecordSuccess(key)
			return nil
		}

		// A cancelled context is an instruction, not an agent fault:
		// no breaker accounting, no retry. A probe this attempt may
		// have held is released unanswered.
		if errors.Is(ctx.Err(), context.Canceled) {
			c.breakers.ReleaseProbe(key)
			return classify.Classify(err)
		}

		failure := classify.Classify(err)
		c.breakers.RecordFailure(key)

		if !failure.Transient || attempt >= c.cfg.MaxAttempts {
			return failure
		}

		delay, stop := backoff.Next()
		if stop {
			return failure
		}
		if failure.Kind == classify.KindRateLimit {
			delay = rateLimitDelay
		}

		if onRetry != nil {
			onRetry(attempt, delay, failure)
		}
		c.logger.Info("retrying after transient failure",
			zap.String("key", key),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.String("kind", string(failure.Kind)))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return classify.Classify(ctx.Err())
		}
	}
}

// newBackoff builds the delay generator for one Do call: the selected
// schedule capped at MaxDelay with ±jitterPercent% jitter.
func (c *Controller) newBackoff() retry.Backoff {
	var b retry.Backoff
	switch c.cfg.Schedule {
	case ScheduleLinear:
		var n int64
		b = retry.BackoffFunc(func() (time.Duration, bool) {
			n++
			return time.Duration(n) * c.cfg.BaseDelay, false
		})
	case ScheduleFibonacci:
		b = retry.NewFibonacci(c.cfg.BaseDelay)
	default:
		b = retry.NewExponential(c.cfg.BaseDelay)
	}
	if c.cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.cfg.MaxDelay, b)
	}
	return retry.WithJitterPercent(jitterPercent, b)
}
