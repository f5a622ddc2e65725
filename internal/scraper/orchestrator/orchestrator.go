package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/metrics"
	"gomarket_pricewatch/pkg/logger"
)

var (
	ErrUnknownSource     = errors.New("unknown source")
	ErrUnknownJobType    = errors.New("unknown job type")
	ErrJobActive         = storage.ErrJobActive
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotCancellable = errors.New("job is not pending or running")
	ErrOffersUnsupported = errors.New("source does not support offers")

	errCancelled = errors.New("job cancelled")
)

// DefaultProgressEvery - как часто промежуточные счетчики пишутся в задачу.
const DefaultProgressEvery = 50

// Orchestrator ведет жизненный цикл задач скрапинга: создание, запуск, отмена, учет.
type Orchestrator struct {
	registry *services.Registry
	store    storage.Store
	clock    clock.Clock
	log      logger.Logger

	ProgressEvery int

	// фоновые запуски из Trigger живут в контексте оркестратора, а не запроса
	baseCtx  context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[int64]context.CancelFunc
}

func New(registry *services.Registry, store storage.Store, clk clock.Clock, log logger.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.WallClock
	}
	if log == nil {
		log = logger.Discard()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		registry:      registry,
		store:         store,
		clock:         clk,
		log:           log,
		ProgressEvery: DefaultProgressEvery,
		baseCtx:       ctx,
		stop:          stop,
		inFlight:      make(map[int64]context.CancelFunc),
	}
}

// Trigger creates a pending job and runs it in the background. It fails with
// ErrJobActive when the source already has a pending or running job.
func (o *Orchestrator) Trigger(ctx context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error) {
	adapter, job, err := o.create(ctx, source, jobType)
	if err != nil {
		return nil, err
	}
	runCtx := o.track(o.baseCtx, job.ID)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.untrack(job.ID)
		o.execute(runCtx, adapter, job)
	}()
	return job, nil
}

// Run creates a job and executes it synchronously, returning the job in its final state.
func (o *Orchestrator) Run(ctx context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error) {
	adapter, job, err := o.create(ctx, source, jobType)
	if err != nil {
		return nil, err
	}
	runCtx := o.track(ctx, job.ID)
	defer o.untrack(job.ID)
	return o.execute(runCtx, adapter, job), nil
}

// Close cancels background runs and waits for them to record their final state.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

func (o *Orchestrator) create(ctx context.Context, source models.Source, jobType models.JobType) (services.SourceAdapter, *models.ScrapeJob, error) {
	if jobType == "" {
		jobType = models.JobTypeFull
	}
	if !jobType.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if !source.Valid() || !o.registry.Has(source) {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	adapter, err := o.registry.Get(source)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnknownSource, err)
	}
	job, err := o.store.CreateJobIfIdle(ctx, source, jobType)
	if err != nil {
		return nil, nil, err
	}
	o.log.Log("created %s job %d for %s", jobType, job.ID, source)
	return adapter, job, nil
}

func (o *Orchestrator) track(parent context.Context, id int64) context.Context {
	ctx, cancel := context.WithCancel(parent)
	o.mu.Lock()
	o.inFlight[id] = cancel
	o.mu.Unlock()
	return ctx
}

func (o *Orchestrator) untrack(id int64) {
	o.mu.Lock()
	cancel, ok := o.inFlight[id]
	delete(o.inFlight, id)
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel moves a pending or running job to cancelled. A running job stops before its next item.
func (o *Orchestrator) Cancel(ctx context.Context, id int64) (*models.ScrapeJob, error) {
	job, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.Active() {
		return nil, fmt.Errorf("%w: job %d is %s", ErrJobNotCancellable, id, job.Status)
	}
	job, err = o.store.TransitionJob(ctx, id, models.JobStatusCancelled, storage.JobUpdate{At: o.clock.Now()})
	switch {
	case errors.Is(err, storage.ErrInvalidTransition):
		return nil, fmt.Errorf("%w: job %d already finished", ErrJobNotCancellable, id)
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrJobNotFound
	case err != nil:
		return nil, err
	}

	o.mu.Lock()
	cancel, ok := o.inFlight[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	o.log.Log("job %d for %s cancelled", id, job.Source)
	return job, nil
}

func (o *Orchestrator) Get(ctx context.Context, id int64) (*models.ScrapeJob, error) {
	job, err := o.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns jobs newest first; a zero limit means DefaultJobListLimit.
func (o *Orchestrator) List(ctx context.Context, f models.JobFilter) ([]*models.ScrapeJob, error) {
	if f.Limit <= 0 {
		f.Limit = models.DefaultJobListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return o.store.ListJobs(ctx, f)
}

// RecoverInterrupted fails pending and running jobs that this process is not executing
// and that started (or were created) at least olderThan ago. A job left active by a crash
// would otherwise block its source forever. Zero olderThan recovers every such job.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := o.clock.Now().Add(-olderThan)
	var stale []*models.ScrapeJob
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning} {
		for offset := 0; ; offset += recoverPage {
			jobs, err := o.store.ListJobs(ctx, models.JobFilter{Status: status, Limit: recoverPage, Offset: offset})
			if err != nil {
				return 0, fmt.Errorf("list %s jobs: %w", status, err)
			}
			for _, job := range jobs {
				if o.tracked(job.ID) {
					continue
				}
				since := job.CreatedAt
				if job.StartedAt != nil {
					since = *job.StartedAt
				}
				if !since.After(cutoff) {
					stale = append(stale, job)
				}
			}
			if len(jobs) < recoverPage {
				break
			}
		}
	}

	recovered := 0
	for _, job := range stale {
		_, err := o.store.TransitionJob(ctx, job.ID, models.JobStatusFailed, storage.JobUpdate{
			At:           o.clock.Now(),
			ErrorDetails: &models.ErrorDetails{Type: "Interrupted", Message: "job was still " + string(job.Status) + " when the scraper restarted"},
		})
		if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("recover job %d: %w", job.ID, err)
		}
		recovered++
		metrics.RecordJob(string(job.Source), string(job.JobType), string(models.JobStatusFailed), 0)
		o.log.Warn("job %d for %s was left %s, marked failed", job.ID, job.Source, job.Status)
	}
	return recovered, nil
}

const recoverPage = 200

func (o *Orchestrator) tracked(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[id]
	return ok
}

func (o *Orchestrator) Stats(ctx context.Context) (*models.JobStats, error) {
	return o.store.JobStats(ctx)
}

// execute переводит задачу в running, выполняет прогон и фиксирует итоговый статус.
func (o *Orchestrator) execute(ctx context.Context, adapter services.SourceAdapter, job *models.ScrapeJob) *models.ScrapeJob {
	log := logger.Logger(o.log)
	if bl, ok := o.log.(*logger.BaseLogger); ok {
		log = bl.WithPrefix(fmt.Sprintf("[job %d %s]", job.ID, job.Source))
	}
	started := o.clock.Now()

	running, err := o.store.TransitionJob(ctx, job.ID, models.JobStatusRunning, storage.JobUpdate{At: started})
	if err != nil {
		log.Warn("job did not start: %v", err)
		if current, getErr := o.store.GetJob(context.WithoutCancel(ctx), job.ID); getErr == nil && current != nil {
			return current
		}
		return job
	}

	r := &run{
		o:       o,
		adapter: adapter,
		job:     running,
		log:     log,
		seen:    make(map[string]struct{}),
	}
	runErr := r.execute(ctx)
	final := o.finish(ctx, r, runErr)

	metrics.RecordJob(string(job.Source), string(job.JobType), string(final.Status), o.clock.Now().Sub(started))
	return final
}

func (o *Orchestrator) finish(ctx context.Context, r *run, runErr error) *models.ScrapeJob {
	// итоговую запись делаем даже после отмены контекста
	writeCtx := context.WithoutCancel(ctx)
	snap := r.counters.Snapshot()
	upd := storage.JobUpdate{
		At:       o.clock.Now(),
		Counters: &storage.JobCounters{Scraped: snap.Scraped, New: snap.New, Updated: snap.Updated, Errors: snap.Errors},
	}

	var to models.JobStatus
	switch {
	case runErr == nil:
		to = models.JobStatusCompleted
		r.log.Log("completed: scraped=%d new=%d updated=%d errors=%d prices=%d",
			snap.Scraped, snap.New, snap.Updated, snap.Errors, snap.Prices)
	case errors.Is(runErr, errCancelled) || o.cancelledInStore(writeCtx, r.job.ID):
		r.log.Log("stopped after cancellation: scraped=%d", snap.Scraped)
		job, err := o.store.GetJob(writeCtx, r.job.ID)
		if err == nil && job != nil && job.Status.Terminal() {
			return job
		}
		to = models.JobStatusCancelled
		upd.ErrorDetails = &models.ErrorDetails{Type: "Cancelled", Message: "job cancelled"}
	case ctx.Err() != nil:
		to = models.JobStatusCancelled
		upd.ErrorDetails = &models.ErrorDetails{Type: "Cancelled", Message: "scraper shutting down"}
		r.log.Warn("interrupted: %v", runErr)
	default:
		to = models.JobStatusFailed
		upd.ErrorDetails = &models.ErrorDetails{Type: clients.Kind(runErr), Message: runErr.Error()}
		r.log.Error("failed: %v", runErr)
	}

	job, err := o.store.TransitionJob(writeCtx, r.job.ID, to, upd)
	if err != nil {
		r.log.Error("failed to record final status %s: %v", to, err)
		if current, getErr := o.store.GetJob(writeCtx, r.job.ID); getErr == nil && current != nil {
			return current
		}
		return r.job
	}
	return job
}

func (o *Orchestrator) cancelledInStore(ctx context.Context, id int64) bool {
	job, err := o.store.GetJob(ctx, id)
	return err == nil && job != nil && job.Status == models.JobStatusCancelled
}

// CleanupPrices удаляет записи истории цен старше retention.
func (o *Orchestrator) CleanupPrices(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := o.clock.Now().Add(-retention)
	n, err := o.store.DeletePricesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup prices before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	o.log.Log("deleted %d price records older than %s", n, cutoff.Format(time.DateOnly))
	return n, nil
}
