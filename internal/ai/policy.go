package ai

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/job-radar/internal/utils"
)

// Policy bundles the knobs governing calls to an external provider. The
// request-rate ceiling and the parallelism ceiling are independent: the
// limiter bounds requests per unit time, Parallelism bounds in-flight
// requests.
type Policy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	RequestsPerMinute int
	Parallelism       int
	MaxBatchSize      int
}

// DefaultPolicy returns conservative defaults suitable for free-tier quotas.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		RequestsPerMinute: 60,
		Parallelism:       2,
		MaxBatchSize:      16,
	}
}

// Normalized fills zero or negative knobs with defaults.
func (p Policy) Normalized() Policy {
	defaults := DefaultPolicy()

	if p.MaxRetries < 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.RequestsPerMinute <= 0 {
		p.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if p.Parallelism <= 0 {
		p.Parallelism = defaults.Parallelism
	}
	if p.MaxBatchSize <= 0 {
		p.MaxBatchSize = defaults.MaxBatchSize
	}

	return p
}

// Caller executes provider calls under a shared rate limit with retries.
// One Caller should be shared by every component talking to the same
// provider so the rate budget is global.
type Caller struct {
	policy  Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewCaller builds a Caller from the policy.
func NewCaller(policy Policy, logger *zap.Logger) *Caller {
	policy = policy.Normalized()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Caller{
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(float64(policy.RequestsPerMinute)/60.0), 1),
		logger:  logger,
	}
}

// Policy returns the normalized policy in effect.
func (c *Caller) Policy() Policy { return c.policy }

// Do runs fn under the rate limit, retrying transient failures with
// exponential backoff plus jitter. Permanent and parse errors return
// immediately; a transient error that survives all retries is returned
// as-is so the caller can downgrade it to a per-item failure.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return err
		}

		if attempt >= c.policy.MaxRetries {
			c.logger.Warn("provider call failed after retries",
				zap.String("op", op),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return err
		}

		delay := c.backoff(attempt)
		c.logger.Debug("retrying provider call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := utils.WaitFor(ctx, delay); err != nil {
			return err
		}
	}
}

// backoff doubles the base delay per attempt, caps it at MaxDelay and keeps
// a random half as jitter so concurrent workers do not retry in lockstep.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := c.policy.BaseDelay << attempt
	if delay > c.policy.MaxDelay || delay <= 0 {
		delay = c.policy.MaxDelay
	}

	half := delay / 2
	return half + rand.N(half+1)
}
