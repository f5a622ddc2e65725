package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"gomarket_pricewatch/metrics"
	"gomarket_pricewatch/pkg/logger"
)

const DefaultMisfireGrace = 5 * time.Minute

type Options struct {
	Location     *time.Location
	MisfireGrace time.Duration
	Clock        clock.Clock
	// Lock не дает двум репликам выполнять одну запись одновременно; nil - без блокировки.
	Lock    RunLock
	LockTTL time.Duration
	Log     logger.Logger
}

type entry struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
	running  atomic.Bool
}

// Scheduler запускает записи по расписанию, каждую в своем цикле. Пропущенные за время
// простоя срабатывания схлопываются в один запуск, и только если опоздание не больше grace.
// Одновременно выполняется не больше одного запуска каждой записи.
type Scheduler struct {
	opts    Options
	log     logger.Logger
	mu      sync.Mutex
	entries []*entry
	started bool
	runs    sync.WaitGroup
}

func New(opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MisfireGrace <= 0 {
		opts.MisfireGrace = DefaultMisfireGrace
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Hour
	}
	log := opts.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{opts: opts, log: log}
}

// AddCron registers fn under a standard 5-field cron expression evaluated in the scheduler's location.
func (s *Scheduler) AddCron(name, spec string, fn func(ctx context.Context) error) error {
	schedule, err := cron.ParseStandard("CRON_TZ=" + s.opts.Location.String() + " " + spec)
	if err != nil {
		return fmt.Errorf("entry %s: invalid cron %q: %w", name, spec, err)
	}
	return s.add(name, schedule, fn)
}

func (s *Scheduler) AddInterval(name string, every time.Duration, fn func(ctx context.Context) error) error {
	if every < time.Second {
		return fmt.Errorf("entry %s: interval %s is shorter than a second", name, every)
	}
	return s.add(name, cron.Every(every), fn)
}

func (s *Scheduler) add(name string, schedule cron.Schedule, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("entry %s: scheduler already started", name)
	}
	for _, e := range s.entries {
		if e.name == name {
			return fmt.Errorf("entry %s already registered", name)
		}
	}
	s.entries = append(s.entries, &entry{name: name, schedule: schedule, run: fn})
	s.log.Log("registered %s", name)
	return nil
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.name)
	}
	return out
}

// Start blocks until ctx is cancelled, then waits for in-flight runs to return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			s.loop(gctx, e)
			return nil
		})
	}
	err := g.Wait()
	s.runs.Wait()
	s.log.Log("scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	clk := s.opts.Clock
	next := e.schedule.Next(clk.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(next.Sub(clk.Now())):
		}

		now := clk.Now()
		due, missed := latestDue(e.schedule, next, now)
		next = e.schedule.Next(now)
		if missed == 0 {
			continue
		}
		if missed > 1 {
			s.log.Warn("%s: %d runs missed, coalescing into one", e.name, missed)
			metrics.RecordMisfire(e.name, "coalesced")
		}
		if late := now.Sub(due); late > s.opts.MisfireGrace {
			s.log.Warn("%s: run due at %s is %s late, skipping", e.name, due.Format(time.DateTime), late.Round(time.Second))
			metrics.RecordMisfire(e.name, "skipped")
			continue
		}
		s.fire(ctx, e)
	}
}

// latestDue returns the last fire time not after now, starting from next, and how many there were.
func latestDue(schedule cron.Schedule, next, now time.Time) (time.Time, int) {
	var (
		due    time.Time
		missed int
	)
	for t := next; !t.IsZero() && !t.After(now); t = schedule.Next(t) {
		due = t
		missed++
	}
	return due, missed
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	if !e.running.CompareAndSwap(false, true) {
		s.log.Warn("%s: previous run still in progress, skipping", e.name)
		metrics.RecordMisfire(e.name, "overlap")
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer e.running.Store(false)
		s.execute(ctx, e)
	}()
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	if s.opts.Lock != nil {
		release, ok, err := s.opts.Lock.Acquire(ctx, e.name, s.opts.LockTTL)
		switch {
		case err != nil:
			// блокировка недоступна: запускаемся без нее, пересечение с другой репликой отсекает CreateJobIfIdle
			s.log.Warn("%s: run lock unavailable, running without it: %v", e.name, err)
			metrics.RecordLockError(e.name)
		case !ok:
			s.log.Log("%s: running on another instance, skipping", e.name)
			return
		default:
			defer release()
		}
	}

	start := s.opts.Clock.Now()
	s.log.Log("%s: started", e.name)
	if err := e.run(ctx); err != nil {
		s.log.Error("%s: failed after %s: %v", e.name, s.opts.Clock.Now().Sub(start).Round(time.Millisecond), err)
		return
	}
	s.log.Log("%s: completed in %s", e.name, s.opts.Clock.Now().Sub(start).Round(time.Millisecond))
}
