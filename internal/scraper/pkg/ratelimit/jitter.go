package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/juju/clock"
)

// Range is an inclusive [Min, Max] interval for random delays. A zero range disables the delay.
type Range struct {
	Min time.Duration
	Max time.Duration
}

func (r Range) Draw() time.Duration {
	if r.Max <= 0 {
		return 0
	}
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.N(r.Max-r.Min+1)
}

// Jitter добавляет человекоподобные паузы между запросами, страницами и в начале сессии.
type Jitter struct {
	SessionStart Range
	Request      Range
	Page         Range
	clock        clock.Clock
}

func NewJitter(sessionStart, request, page Range, clk clock.Clock) *Jitter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Jitter{
		SessionStart: sessionStart,
		Request:      request,
		Page:         page,
		clock:        clk,
	}
}

// NoJitter is used by tests and one-off tools.
func NoJitter() *Jitter {
	return &Jitter{clock: clock.WallClock}
}

func (j *Jitter) WaitSessionStart(ctx context.Context) error {
	return j.sleep(ctx, j.SessionStart.Draw())
}

func (j *Jitter) WaitRequest(ctx context.Context) error {
	return j.sleep(ctx, j.Request.Draw())
}

func (j *Jitter) WaitPage(ctx context.Context) error {
	return j.sleep(ctx, j.Page.Draw())
}

func (j *Jitter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-j.clock.After(d):
		return nil
	}
}
