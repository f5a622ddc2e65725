package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/matching"
	"gomarket_pricewatch/internal/scraper/adapters"
	"gomarket_pricewatch/internal/scraper/auth"
	"gomarket_pricewatch/internal/scraper/orchestrator"
	"gomarket_pricewatch/internal/scraper/scheduler"
	"gomarket_pricewatch/internal/storage/postgres"
	"gomarket_pricewatch/metrics"
	"gomarket_pricewatch/migrations/infrastructure"
	"gomarket_pricewatch/pkg/dbconnect"
	"gomarket_pricewatch/pkg/dbconnect/migration"
	"gomarket_pricewatch/pkg/logger"
)

const (
	shutdownTimeout = 10 * time.Second
	recoverEvery    = 15 * time.Minute
)

// PricewatchServer собирает все компоненты: БД, адаптеры, оркестратор, сопоставление и планировщик.
type PricewatchServer struct {
	dbconnect.Database
	cfg *config.AppConfig
	log *logger.BaseLogger

	orchestrator *orchestrator.Orchestrator
	engine       *matching.Engine
	tokens       *auth.TokenManager
	store        *postgres.Store
}

func NewPricewatchServer(connector dbconnect.Database, cfg *config.AppConfig, writer io.Writer) *PricewatchServer {
	return &PricewatchServer{Database: connector, cfg: cfg, log: logger.NewLogger(writer, "[PricewatchServer]")}
}

// Init connects to Postgres, applies migrations and builds the component graph.
func (s *PricewatchServer) Init(ctx context.Context) error {
	db, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	if err := migration.Apply(db, infrastructure.All()); err != nil {
		return err
	}
	s.log.Log("migrations applied successfully")

	s.store = postgres.NewStore(db)

	cipher, err := auth.NewCipher(s.cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("credential cipher: %w", err)
	}
	if !cipher.Enabled() {
		s.log.Warn("%s is not set, credentials are stored in plain text", config.EnvEncryptionKey)
	}
	s.tokens = auth.NewTokenManager(s.store, cipher, clock.WallClock, s.cfg.Scraper.TokenBuffer, s.log.WithPrefix("[tokens]"))

	registry := services.NewRegistry(s.log)
	factory := adapters.NewFactory(s.cfg, s.tokens, s.log, clock.WallClock)
	if err := factory.RegisterAll(ctx, registry); err != nil {
		return err
	}

	s.orchestrator = orchestrator.New(registry, s.store, clock.WallClock, s.log.WithPrefix("[orchestrator]"))
	// без Redis процесс единственный, и любая активная задача осталась от упавшего запуска
	staleAfter := time.Duration(0)
	if s.cfg.Scheduler.RedisAddr != "" {
		staleAfter = s.cfg.Scheduler.RunLockTTL
	}
	n, err := s.orchestrator.RecoverInterrupted(ctx, staleAfter)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Warn("marked %d interrupted jobs as failed", n)
	}
	s.engine = matching.New(s.store, s.cfg.Matching.Weights, s.cfg.Matching.Units, clock.WallClock, s.log.WithPrefix("[matching]"))
	return nil
}

func (s *PricewatchServer) Orchestrator() *orchestrator.Orchestrator {
	return s.orchestrator
}

func (s *PricewatchServer) Engine() *matching.Engine {
	return s.engine
}

// Run serves metrics and runs the scheduler until ctx is cancelled.
func (s *PricewatchServer) Run(ctx context.Context) error {
	if s.orchestrator == nil {
		if err := s.Init(ctx); err != nil {
			return err
		}
	}
	defer s.orchestrator.Close()

	sched, closeLock, err := s.scheduler(ctx)
	if err != nil {
		return err
	}
	defer closeLock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Addr: s.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Log("metrics listening on %s", s.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sched.Start(gctx)
	})
	return g.Wait()
}

func (s *PricewatchServer) scheduler(ctx context.Context) (*scheduler.Scheduler, func(), error) {
	sc := s.cfg.Scheduler
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("scheduler timezone: %w", err)
	}

	closeLock := func() {}
	var lock scheduler.RunLock
	if sc.RedisAddr != "" {
		rl := scheduler.NewRedisLock(sc.RedisAddr)
		if err := rl.Ping(ctx); err != nil {
			s.log.Warn("redis %s is unavailable, scheduled runs will start without the lock: %v", sc.RedisAddr, err)
		}
		lock = rl
		closeLock = func() {
			if err := rl.Close(); err != nil {
				s.log.Warn("close redis: %v", err)
			}
		}
	}

	sched := scheduler.New(scheduler.Options{
		Location:     loc,
		MisfireGrace: sc.MisfireGrace,
		Lock:         lock,
		LockTTL:      sc.RunLockTTL,
		Log:          s.log.WithPrefix("[scheduler]"),
	})
	pingers := map[string]scheduler.Pinger{"postgres": s.store}
	if err := scheduler.RegisterDefaults(sched, s.cfg, s.orchestrator, s.tokens, pingers); err != nil {
		closeLock()
		return nil, nil, err
	}
	if err := scheduler.RegisterAutoLink(sched, sc.AutoLinkCron, s.engine); err != nil {
		closeLock()
		return nil, nil, err
	}
	if err := scheduler.RegisterRecovery(sched, recoverEvery, sc.RunLockTTL, s.orchestrator); err != nil {
		closeLock()
		return nil, nil, err
	}
	return sched, closeLock, nil
}

// RunOnce scrapes one source synchronously, then runs the barcode auto-link pass.
func (s *PricewatchServer) RunOnce(ctx context.Context, source models.Source, jobType models.JobType) error {
	if s.orchestrator == nil {
		if err := s.Init(ctx); err != nil {
			return err
		}
	}
	defer s.orchestrator.Close()

	job, err := s.orchestrator.Run(ctx, source, jobType)
	if err != nil {
		return err
	}
	s.log.Log("job %d finished with status %s: scraped=%d new=%d updated=%d errors=%d",
		job.ID, job.Status, job.ProductsScraped, job.ProductsNew, job.ProductsUpdated, job.ErrorsCount)
	if job.Status == models.JobStatusFailed {
		return fmt.Errorf("job %d failed", job.ID)
	}

	stats, err := s.engine.AutoLinkByBarcode(ctx, source)
	if err != nil {
		return err
	}
	s.log.Log("barcode links created: %d, unit links: %d", stats.Created, stats.UnitLinksCreated)
	return nil
}
