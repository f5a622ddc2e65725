package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/juju/clock/testclock"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)

type harness struct {
	clk   *testclock.Clock
	s     *Scheduler
	calls chan time.Time
	stop  func()
}

func newHarness(t *testing.T, opts Options, fn func(ctx context.Context) error) *harness {
	t.Helper()
	h := &harness{clk: testclock.NewClock(epoch), calls: make(chan time.Time, 10)}
	opts.Clock = h.clk
	h.s = New(opts)
	if fn == nil {
		fn = func(context.Context) error {
			h.calls <- h.clk.Now()
			return nil
		}
	}
	require.NoError(t, h.s.AddCron("hourly", "0 * * * *", fn))
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Start(ctx) }()
	h.stop = func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	}
	t.Cleanup(h.stop)
}

// settle waits until the loop is parked on its next timer again.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.NoError(t, h.clk.WaitAdvance(0, time.Second, 1))
}

func (h *harness) expectCall(t *testing.T, at time.Time) {
	t.Helper()
	select {
	case got := <-h.calls:
		assert.Equal(t, at, got)
	case <-time.After(time.Second):
		t.Fatalf("expected a run at %s", at)
	}
}

func (h *harness) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case got := <-h.calls:
		t.Fatalf("unexpected run at %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	h := newHarness(t, Options{Location: time.UTC}, nil)
	h.start(t)

	require.NoError(t, h.clk.WaitAdvance(59*time.Minute+30*time.Second, time.Second, 1))
	h.expectCall(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC))

	require.NoError(t, h.clk.WaitAdvance(time.Hour, time.Second, 1))
	h.expectCall(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestScheduler_CoalescesMissedRuns(t *testing.T) {
	h := newHarness(t, Options{Location: time.UTC}, nil)
	h.start(t)

	// проснулись через три часа: три пропуска, один запуск
	require.NoError(t, h.clk.WaitAdvance(3*time.Hour, time.Second, 1))
	h.expectCall(t, epoch.Add(3*time.Hour))
	h.settle(t)
	h.expectNoCall(t)
}

func TestScheduler_SkipsBeyondGrace(t *testing.T) {
	h := newHarness(t, Options{Location: time.UTC, MisfireGrace: 5 * time.Minute}, nil)
	h.start(t)

	require.NoError(t, h.clk.WaitAdvance(3*time.Hour+10*time.Minute, time.Second, 1))
	h.settle(t)
	h.expectNoCall(t)

	// следующее срабатывание по расписанию выполняется как обычно
	require.NoError(t, h.clk.WaitAdvance(49*time.Minute+30*time.Second, time.Second, 1))
	h.expectCall(t, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC))
}

func TestScheduler_NoOverlappingRuns(t *testing.T) {
	var calls atomic.Int32
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	h := newHarness(t, Options{Location: time.UTC}, func(ctx context.Context) error {
		calls.Add(1)
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	h.start(t)

	require.NoError(t, h.clk.WaitAdvance(59*time.Minute+30*time.Second, time.Second, 1))
	<-entered
	require.NoError(t, h.clk.WaitAdvance(time.Hour, time.Second, 1))
	h.settle(t)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	h.s.runs.Wait()
	require.NoError(t, h.clk.WaitAdvance(time.Hour, time.Second, 1))
	h.settle(t)
	h.s.runs.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_RespectsRunLock(t *testing.T) {
	mr := miniredis.RunT(t)
	lock, err := NewRedisLockWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	require.NoError(t, err)
	require.NoError(t, mr.Set(lockKeyPrefix+"hourly", "other-replica"))

	h := newHarness(t, Options{Location: time.UTC, Lock: lock}, nil)
	h.start(t)

	require.NoError(t, h.clk.WaitAdvance(59*time.Minute+30*time.Second, time.Second, 1))
	h.settle(t)
	h.s.runs.Wait()
	h.expectNoCall(t)

	mr.Del(lockKeyPrefix + "hourly")
	require.NoError(t, h.clk.WaitAdvance(time.Hour, time.Second, 1))
	h.expectCall(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	h.settle(t)
	h.s.runs.Wait()
	assert.False(t, mr.Exists(lockKeyPrefix+"hourly"))
}

type brokenLock struct{ attempts atomic.Int32 }

func (b *brokenLock) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	b.attempts.Add(1)
	return nil, false, errors.New("dial tcp: connection refused")
}

func TestScheduler_RunsWithoutUnavailableLock(t *testing.T) {
	lock := &brokenLock{}
	h := newHarness(t, Options{Location: time.UTC, Lock: lock}, nil)
	h.start(t)

	require.NoError(t, h.clk.WaitAdvance(59*time.Minute+30*time.Second, time.Second, 1))
	h.expectCall(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC))
	h.settle(t)
	h.s.runs.Wait()
	assert.Equal(t, int32(1), lock.attempts.Load())
}

func TestScheduler_Registration(t *testing.T) {
	s := New(Options{})
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.AddCron("bad", "every hour", noop))
	require.NoError(t, s.AddCron("a", "0 * * * *", noop))
	assert.Error(t, s.AddCron("a", "30 * * * *", noop))
	assert.Error(t, s.AddInterval("fast", time.Millisecond, noop))
	require.NoError(t, s.AddInterval("b", 5*time.Minute, noop))
	assert.Equal(t, []string{"a", "b"}, s.Names())
}

func TestLatestDue(t *testing.T) {
	schedule, err := cron.ParseStandard("0 * * * *")
	require.NoError(t, err)
	next := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	due, missed := latestDue(schedule, next, next.Add(-time.Second))
	assert.Zero(t, missed)
	assert.True(t, due.IsZero())

	due, missed = latestDue(schedule, next, next.Add(2*time.Hour+time.Minute))
	assert.Equal(t, 3, missed)
	assert.Equal(t, next.Add(2*time.Hour), due)
}

func TestRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	lock := NewRedisLock(mr.Addr())
	t.Cleanup(func() { lock.Close() })
	ctx := context.Background()
	require.NoError(t, lock.Ping(ctx))

	release, ok, err := lock.Acquire(ctx, "scrape_ben_soliman", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = lock.Acquire(ctx, "scrape_ben_soliman", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := lock.Acquire(ctx, "scrape_ben_soliman", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// истекший TTL освобождает ключ; старый владелец не снимает чужую блокировку
	mr.FastForward(2 * time.Minute)
	_, ok, err = lock.Acquire(ctx, "scrape_ben_soliman", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
	assert.True(t, mr.Exists(lockKeyPrefix+"scrape_ben_soliman"))
}

func TestRedisLock_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	lock := NewRedisLock(mr.Addr())
	mr.Close()
	_, ok, err := lock.Acquire(context.Background(), "x", time.Minute)
	assert.False(t, ok)
	assert.Error(t, err)
}
