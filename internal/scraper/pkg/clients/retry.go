package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"

	"gomarket_pricewatch/pkg/logger"
)

var errRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy - политика повторов как значение: сколько попыток и с какой задержкой.
type RetryPolicy struct {
	Attempts          int
	Delay             time.Duration
	MaxDelay          time.Duration
	RateLimitWaits    int
	DefaultRetryAfter time.Duration
	Clock             clock.Clock
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:          3,
		Delay:             2 * time.Second,
		MaxDelay:          30 * time.Second,
		RateLimitWaits:    3,
		DefaultRetryAfter: 60 * time.Second,
		Clock:             clock.WallClock,
	}
}

// Run calls fn until it succeeds or fails fatally. Transient errors get exponential
// backoff bounded by Attempts; a RateLimitError waits the server-provided delay and
// starts a fresh attempt budget, up to RateLimitWaits times.
func (p RetryPolicy) Run(ctx context.Context, log logger.Logger, fn func() error) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}

	for waits := 0; ; waits++ {
		// retry.Call оборачивает фатальные ошибки без Unwrap; классифицируем по последней ошибке fn
		var last error
		err := retry.Call(retry.CallArgs{
			Func: func() error {
				last = fn()
				return last
			},
			IsFatalError: func(err error) bool { return !IsRetryable(err) },
			NotifyFunc: func(lastError error, attempt int) {
				if log != nil {
					log.Warn("attempt %d/%d failed: %v", attempt, attempts, lastError)
				}
			},
			Attempts:    attempts,
			Delay:       delay,
			MaxDelay:    p.MaxDelay,
			BackoffFunc: retry.DoubleDelay,
			Clock:       clk,
			Stop:        ctx.Done(),
		})
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("request cancelled: %w", ctxErr)
		}
		if last == nil {
			return err
		}
		if retry.IsAttemptsExceeded(err) {
			return fmt.Errorf("%w after %d attempts: %w", errRetriesExhausted, attempts, last)
		}

		var rateErr *RateLimitError
		if !errors.As(last, &rateErr) || waits >= p.RateLimitWaits {
			return last
		}
		if log != nil {
			log.Warn("rate limited, waiting %s", rateErr.RetryAfter)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		case <-clk.After(rateErr.RetryAfter):
		}
	}
}
