package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeDrawStaysInBounds(t *testing.T) {
	r := Range{Min: 500 * time.Millisecond, Max: 2 * time.Second}
	for i := 0; i < 1000; i++ {
		d := r.Draw()
		assert.GreaterOrEqual(t, d, r.Min)
		assert.LessOrEqual(t, d, r.Max)
	}
	assert.Zero(t, Range{}.Draw())
	assert.Equal(t, time.Second, Range{Min: time.Second, Max: time.Second}.Draw())
}

func TestJitterWaitsOnClock(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	j := NewJitter(Range{Min: 2 * time.Second, Max: 2 * time.Second}, Range{}, Range{}, clk)

	done := make(chan error, 1)
	go func() { done <- j.WaitSessionStart(context.Background()) }()

	require.NoError(t, clk.WaitAdvance(2*time.Second, time.Second, 1))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session start wait did not return after the clock advanced")
	}
}

func TestJitterStopsOnCancel(t *testing.T) {
	clk := testclock.NewClock(time.Now())
	j := NewJitter(Range{}, Range{Min: time.Hour, Max: time.Hour}, Range{}, clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.WaitRequest(ctx), context.Canceled)
}

func TestNoJitterReturnsImmediately(t *testing.T) {
	j := NoJitter()
	require.NoError(t, j.WaitPage(context.Background()))
}
