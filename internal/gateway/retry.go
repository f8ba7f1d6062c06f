package gateway

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/user/shopline/internal/clock"
)

// RetryPolicy controls how a failed message submission is retried. Waits
// depend on the classified kind of each failure.
type RetryPolicy struct {
	MaxAttempts          int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	ConflictStep         time.Duration
	MaxUnexpectedRetries int

	// OnRetry, when set, is called before each wait.
	OnRetry func(kind Kind, attempt int, delay time.Duration, err error)
}

// DefaultRetryPolicy returns a RetryPolicy with 5 attempts, a 1s base
// delay, a 30s cap, 2s conflict steps and 2 retries for unexpected errors.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:          5,
		BaseDelay:            1 * time.Second,
		MaxDelay:             30 * time.Second,
		ConflictStep:         2 * time.Second,
		MaxUnexpectedRetries: 2,
	}
}

// NextDelay returns the wait before retrying after failure number attempt
// (1-indexed) of the given kind, and false when the failure must not be
// retried. hint is a provider retry-after, zero when absent.
func (p *RetryPolicy) NextDelay(kind Kind, attempt int, hint time.Duration) (time.Duration, bool) {
	switch kind {
	case KindQuotaExhausted:
		return 0, false
	case KindActiveRunConflict:
		return p.BaseDelay + time.Duration(attempt)*p.ConflictStep, true
	case KindRateLimited:
		if hint > 0 {
			return min(hint, p.MaxDelay), true
		}
		return p.exponential(2.0, attempt), true
	case KindServerFault, KindTimeout:
		return p.exponential(1.8, attempt), true
	default:
		if attempt > p.MaxUnexpectedRetries {
			return 0, false
		}
		return p.BaseDelay * time.Duration(attempt), true
	}
}

func (p *RetryPolicy) exponential(factor float64, attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping on c between tries.
// cleanup runs before a retry once two conflicts in a row were seen.
// Non-retryable failures are returned as is; running out of attempts
// returns ErrConversationStuck wrapping the last failure.
func (p *RetryPolicy) Execute(ctx context.Context, c clock.Clock, fn func(context.Context) error, cleanup func(context.Context)) error {
	var lastErr error
	conflicts, unexpected := 0, 0
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}

		kind := Classify(err)
		if kind == KindActiveRunConflict {
			conflicts++
		} else {
			conflicts = 0
		}
		n := attempt
		if kind == KindUnexpected {
			unexpected++
			n = unexpected
		}
		hint, _ := RetryHint(err)
		delay, ok := p.NextDelay(kind, n, hint)
		if !ok {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(kind, attempt, delay, err)
		}
		if conflicts >= 2 && cleanup != nil {
			cleanup(ctx)
		}
		if err := c.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("retry wait: %w (last error: %v)", err, lastErr)
		}
	}
	return fmt.Errorf("%w: %d attempts failed: %w", ErrConversationStuck, p.MaxAttempts, lastErr)
}
