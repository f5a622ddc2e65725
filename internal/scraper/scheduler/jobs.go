package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/matching"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/pkg/logger"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	Run(ctx context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error)
	CleanupPrices(ctx context.Context, retention time.Duration) (int64, error)
}

type TokenChecker interface {
	Credential(ctx context.Context, source models.Source) (*models.Credential, error)
	NeedsRefresh(ctx context.Context, source models.Source) (bool, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Linker is the barcode pass of the matching engine.
type Linker interface {
	AutoLinkByBarcode(ctx context.Context, source models.Source) (*matching.LinkStats, error)
}

// Recoverer fails jobs left active by a process that is gone.
type Recoverer interface {
	RecoverInterrupted(ctx context.Context, olderThan time.Duration) (int, error)
}

func ScrapeEntryName(source models.Source) string {
	return "scrape_" + string(source)
}

// ScrapeJob запускает прогон источника. Уже идущая задача (например, ручная) - не ошибка.
func ScrapeJob(runner Runner, source models.Source, jobType models.JobType, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		job, err := runner.Run(ctx, source, jobType)
		if errors.Is(err, storage.ErrJobActive) {
			log.Log("%s already has an active job, skipping", source)
			return nil
		}
		if err != nil {
			return err
		}
		if job.Status == models.JobStatusFailed && job.ErrorDetails != nil {
			return fmt.Errorf("job %d failed: %s: %s", job.ID, job.ErrorDetails.Type, job.ErrorDetails.Message)
		}
		return nil
	}
}

// TokenCheckJob логирует источники, чей токен скоро истечет. Обновление произойдет при следующем прогоне.
func TokenCheckJob(tokens TokenChecker, sources []models.Source, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, source := range sources {
			cred, err := tokens.Credential(ctx, source)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", source, err))
				continue
			}
			if cred == nil || cred.AccessToken == "" {
				continue
			}
			needs, err := tokens.NeedsRefresh(ctx, source)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", source, err))
				continue
			}
			if needs {
				log.Log("token for %s needs refresh, next run will re-authenticate", source)
			}
		}
		return errors.Join(errs...)
	}
}

func CleanupJob(runner Runner, retentionDays int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := runner.CleanupPrices(ctx, time.Duration(retentionDays)*24*time.Hour)
		return err
	}
}

func HealthCheckJob(pingers map[string]Pinger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for name, p := range pingers {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := p.Ping(pingCtx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			cancel()
		}
		return errors.Join(errs...)
	}
}

// AutoLinkJob связывает новые товары по штрихкоду после очередных прогонов.
func AutoLinkJob(linker Linker, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		stats, err := linker.AutoLinkByBarcode(ctx, "")
		if err != nil {
			return err
		}
		if len(stats.Errors) > 0 {
			log.Warn("auto-link finished with %d errors, first: %s", len(stats.Errors), stats.Errors[0])
		}
		return nil
	}
}

// RegisterAutoLink schedules the barcode auto-link pass; an empty spec disables it.
func RegisterAutoLink(s *Scheduler, spec string, linker Linker) error {
	if spec == "" || linker == nil {
		return nil
	}
	return s.AddCron("auto_link", spec, AutoLinkJob(linker, s.log))
}

func RecoverJob(r Recoverer, olderThan time.Duration, log logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := r.RecoverInterrupted(ctx, olderThan)
		if err != nil {
			return err
		}
		if n > 0 {
			log.Warn("marked %d stale jobs as failed", n)
		}
		return nil
	}
}

// RegisterRecovery periodically fails jobs that stayed active longer than olderThan.
func RegisterRecovery(s *Scheduler, every, olderThan time.Duration, r Recoverer) error {
	if every <= 0 || olderThan <= 0 || r == nil {
		return nil
	}
	return s.AddInterval("recover_jobs", every, RecoverJob(r, olderThan, s.log))
}

// RegisterDefaults adds one scrape entry per enabled source plus the maintenance entries.
func RegisterDefaults(s *Scheduler, cfg *config.AppConfig, runner Runner, tokens TokenChecker, pingers map[string]Pinger) error {
	var sources []models.Source
	for _, source := range models.KnownSources() {
		sc, ok := cfg.Source(source)
		if !ok {
			continue
		}
		sources = append(sources, source)
		if !sc.Enabled {
			s.log.Log("%s is disabled, not scheduled", source)
			continue
		}
		if err := s.AddCron(ScrapeEntryName(source), sc.CronExpression, ScrapeJob(runner, source, sc.JobType, s.log)); err != nil {
			return err
		}
	}

	sc := cfg.Scheduler
	if tokens != nil && sc.TokenCheckInterval > 0 {
		if err := s.AddInterval("token_check", sc.TokenCheckInterval, TokenCheckJob(tokens, sources, s.log)); err != nil {
			return err
		}
	}
	if sc.PriceCleanupCron != "" && sc.PriceRetentionDays > 0 {
		if err := s.AddCron("price_cleanup", sc.PriceCleanupCron, CleanupJob(runner, sc.PriceRetentionDays)); err != nil {
			return err
		}
	}
	if len(pingers) > 0 && sc.HealthCheckInterval > 0 {
		if err := s.AddInterval("health_check", sc.HealthCheckInterval, HealthCheckJob(pingers)); err != nil {
			return err
		}
	}
	return nil
}
