package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/metrics"
)

// Limiter - токен-бакет: емкость = burst, пополнение = rps.
// Токены пересчитываются лениво в момент вызова, фонового таймера нет.
type Limiter struct {
	source  models.Source
	limiter *rate.Limiter
	burst   int
}

func NewLimiter(source models.Source, rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		source:  source,
		limiter: rate.NewLimiter(limit, burst),
		burst:   burst,
	}
}

// Acquire blocks until n tokens are available and debits them. It returns the
// context error if ctx ends first; no tokens are consumed in that case.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if n > l.burst {
		return fmt.Errorf("cannot acquire %d tokens from a bucket of capacity %d", n, l.burst)
	}

	start := time.Now()
	err := l.limiter.WaitN(ctx, n)
	metrics.ObserveLimiterWait(string(l.source), time.Since(start))
	if err != nil {
		return fmt.Errorf("rate limiter wait for %s: %w", l.source, err)
	}
	return nil
}

func (l *Limiter) Wait(ctx context.Context) error {
	return l.Acquire(ctx, 1)
}

// Available reports the current token count, refilled up to now.
func (l *Limiter) Available() float64 {
	return l.limiter.Tokens()
}

func (l *Limiter) Burst() int {
	return l.burst
}
