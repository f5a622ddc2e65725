package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/juju/clock"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/adapters/bensoliman"
	"gomarket_pricewatch/internal/scraper/adapters/tagerelsaada"
	"gomarket_pricewatch/internal/scraper/adapters/zahcode"
	"gomarket_pricewatch/internal/scraper/auth"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
	"gomarket_pricewatch/internal/scraper/pkg/fingerprint"
	"gomarket_pricewatch/internal/scraper/pkg/ratelimit"
	"gomarket_pricewatch/pkg/logger"
)

// Factory собирает клиентов и адаптеры источников по конфигурации.
type Factory struct {
	cfg    *config.AppConfig
	tokens *auth.TokenManager
	log    *logger.BaseLogger
	clock  clock.Clock
	// Transport подменяется в тестах; nil означает http.DefaultTransport.
	Transport http.RoundTripper
}

func NewFactory(cfg *config.AppConfig, tokens *auth.TokenManager, log *logger.BaseLogger, clk clock.Clock) *Factory {
	if log == nil {
		log = logger.Discard()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Factory{cfg: cfg, tokens: tokens, log: log, clock: clk}
}

// Client builds the transport client of one source from its settings.
func (f *Factory) Client(source models.Source, sc config.SourceConfig) *clients.BaseClient {
	j := f.cfg.Scraper.Jitter
	r := f.cfg.Scraper.Retry
	return clients.NewBaseClient(clients.Config{
		Source:  source,
		BaseURL: sc.BaseURL,
		Timeout: f.cfg.Scraper.RequestTimeout,
		Limiter: ratelimit.NewLimiter(source, sc.RequestsPerSecond, sc.Burst),
		Jitter: ratelimit.NewJitter(
			ratelimit.Range{Min: j.SessionStartMin, Max: j.SessionStartMax},
			ratelimit.Range{Min: j.RequestMin, Max: j.RequestMax},
			ratelimit.Range{Min: j.PageMin, Max: j.PageMax},
			f.clock,
		),
		Fingerprint: fingerprint.New(sc.AppName, sc.AppVersion),
		Retry: clients.RetryPolicy{
			Attempts:          r.Attempts,
			Delay:             r.Delay,
			MaxDelay:          r.MaxDelay,
			RateLimitWaits:    r.RateLimitWaits,
			DefaultRetryAfter: r.DefaultRetryAfter,
			Clock:             f.clock,
		},
		Transport: f.Transport,
		Log:       f.log.WithPrefix(fmt.Sprintf("[%s client]", source)),
	})
}

// Adapter constructs the adapter of one source.
func (f *Factory) Adapter(source models.Source) (services.SourceAdapter, error) {
	sc, ok := f.cfg.Source(source)
	if !ok {
		return nil, fmt.Errorf("source %s is not configured", source)
	}
	client := f.Client(source, sc)
	log := f.log.WithPrefix(fmt.Sprintf("[%s]", source))

	switch source {
	case models.SourceBenSoliman:
		return bensoliman.New(client, f.tokens, log, bensoliman.Options{DomainID: sc.DomainID}), nil
	case models.SourceTagerElsaada:
		return tagerelsaada.New(client, log, 0), nil
	case models.SourceElRabie, models.SourceGomlaShoaib:
		return zahcode.New(client, f.tokens, log, zahcode.Options{Source: source, ProductsMethod: sc.ProductsMethod}), nil
	}
	return nil, fmt.Errorf("no adapter for source %s", source)
}

// RegisterAll регистрирует адаптеры всех сконфигурированных источников, включая выключенные:
// расписание учитывает Enabled, а ручной запуск должен работать для любого источника.
// Учетные данные из конфигурации сохраняются, если их еще нет или пароль для того же логина сменился.
func (f *Factory) RegisterAll(ctx context.Context, reg *services.Registry) error {
	start := time.Now()
	for _, source := range models.KnownSources() {
		sc, ok := f.cfg.Source(source)
		if !ok {
			continue
		}
		if err := f.seedCredential(ctx, source, sc); err != nil {
			return err
		}
		adapter, err := f.Adapter(source)
		if err != nil {
			return err
		}
		if err := reg.Register(adapter); err != nil {
			return err
		}
	}
	f.log.Log("registered %d adapters in %s", len(reg.Sources()), time.Since(start))
	return nil
}

func (f *Factory) seedCredential(ctx context.Context, source models.Source, sc config.SourceConfig) error {
	if sc.Username == "" || f.tokens == nil {
		return nil
	}
	existing, err := f.tokens.Credential(ctx, source)
	if err != nil {
		return fmt.Errorf("read %s credential: %w", source, err)
	}
	action := "seeded"
	if existing != nil && existing.Username != "" {
		// другой логин - учетка, созданная адаптером (саморегистрация); ее не трогаем
		if existing.Username != sc.Username {
			return nil
		}
		if stored, err := f.tokens.Password(ctx, source); err == nil && stored == sc.Password {
			return nil
		}
		action = "updated"
	}
	if err := f.tokens.StoreCredential(ctx, source, sc.Username, sc.Password, ""); err != nil {
		return fmt.Errorf("seed %s credential: %w", source, err)
	}
	f.log.Log("%s credential for %s from config", action, source)
	return nil
}
