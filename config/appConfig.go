package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/matching"
)

// SourceConfig - настройки одного источника, включая расписание (только чтение для ядра).
type SourceConfig struct {
	BaseURL               string         `yaml:"base_url"`
	Enabled               bool           `yaml:"enabled"`
	CronExpression        string         `yaml:"cron"`
	JobType               models.JobType `yaml:"job_type"`
	MaxConcurrentRequests int            `yaml:"max_concurrent_requests"`
	RequestDelayMs        int            `yaml:"request_delay_ms"`
	RequestsPerSecond     float64        `yaml:"requests_per_second"`
	Burst                 int            `yaml:"burst"`
	AppName               string         `yaml:"app_name"`
	AppVersion            string         `yaml:"app_version"`
	ProductsMethod        string         `yaml:"products_method"`
	DomainID              int            `yaml:"domain_id"`
	Username              string         `yaml:"username"`
	Password              string         `yaml:"password"`
}

type JitterConfig struct {
	SessionStartMin time.Duration `yaml:"session_start_min"`
	SessionStartMax time.Duration `yaml:"session_start_max"`
	RequestMin      time.Duration `yaml:"request_min"`
	RequestMax      time.Duration `yaml:"request_max"`
	PageMin         time.Duration `yaml:"page_min"`
	PageMax         time.Duration `yaml:"page_max"`
}

type RetryConfig struct {
	Attempts          int           `yaml:"attempts"`
	Delay             time.Duration `yaml:"delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RateLimitWaits    int           `yaml:"rate_limit_waits"`
	DefaultRetryAfter time.Duration `yaml:"default_retry_after"`
}

type ScraperConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	TokenBuffer    time.Duration `yaml:"token_buffer"`
	Jitter         JitterConfig  `yaml:"jitter"`
	Retry          RetryConfig   `yaml:"retry"`
}

type SchedulerConfig struct {
	Timezone            string        `yaml:"timezone"`
	MisfireGrace        time.Duration `yaml:"misfire_grace"`
	TokenCheckInterval  time.Duration `yaml:"token_check_interval"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	PriceCleanupCron    string        `yaml:"price_cleanup_cron"`
	PriceRetentionDays  int           `yaml:"price_retention_days"`
	AutoLinkCron        string        `yaml:"auto_link_cron"`
	RedisAddr           string        `yaml:"redis_addr"`
	RunLockTTL          time.Duration `yaml:"run_lock_ttl"`
}

type MatchingConfig struct {
	Weights            matching.Weights     `yaml:"weights"`
	Units              matching.UnitWeights `yaml:"units"`
	MinSuggestionScore float64              `yaml:"min_suggestion_score"`
	SuggestionLimit    int                  `yaml:"suggestion_limit"`
}

type AppConfig struct {
	Postgres      PostgresConfig                 `yaml:"postgres"`
	MetricsAddr   string                         `yaml:"metrics_addr"`
	EncryptionKey string                         `yaml:"-"`
	Sources       map[models.Source]SourceConfig `yaml:"sources"`
	Scraper       ScraperConfig                  `yaml:"scraper"`
	Scheduler     SchedulerConfig                `yaml:"scheduler"`
	Matching      MatchingConfig                 `yaml:"matching"`
}

func LoadConfig(filename string) (*AppConfig, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	config := Default()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate проверяет, что все источники известны и их расписание задано.
func (c *AppConfig) Validate() error {
	for source, sc := range c.Sources {
		if !source.Valid() {
			return fmt.Errorf("unknown source %q in config", source)
		}
		if sc.BaseURL == "" {
			return fmt.Errorf("source %s: base_url is required", source)
		}
		if sc.JobType != "" && !sc.JobType.Valid() {
			return fmt.Errorf("source %s: unknown job_type %q", source, sc.JobType)
		}
		if sc.Enabled && sc.CronExpression == "" {
			return fmt.Errorf("source %s: cron is required when enabled", source)
		}
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}
	return nil
}

// Source returns the settings of one source with defaults filled in.
func (c *AppConfig) Source(source models.Source) (SourceConfig, bool) {
	sc, ok := c.Sources[source]
	if !ok {
		return SourceConfig{}, false
	}
	return sc.withDefaults(), true
}

func (sc SourceConfig) withDefaults() SourceConfig {
	if sc.CronExpression == "" {
		sc.CronExpression = "0 * * * *"
	}
	if sc.JobType == "" {
		sc.JobType = models.JobTypeFull
	}
	if sc.MaxConcurrentRequests <= 0 {
		sc.MaxConcurrentRequests = 3
	}
	if sc.RequestDelayMs <= 0 {
		sc.RequestDelayMs = 1000
	}
	if sc.RequestsPerSecond <= 0 {
		sc.RequestsPerSecond = 1000 / float64(sc.RequestDelayMs)
	}
	if sc.Burst <= 0 {
		sc.Burst = sc.MaxConcurrentRequests
	}
	if sc.AppVersion == "" {
		sc.AppVersion = "1.0.0"
	}
	return sc
}

// Default mirrors the production deployment: hourly scrapes staggered by half an hour.
func Default() *AppConfig {
	return &AppConfig{
		Postgres:    *GetConfig(),
		MetricsAddr: ":9090",
		Sources: map[models.Source]SourceConfig{
			models.SourceBenSoliman: {
				BaseURL:        "http://41.65.168.38:8001",
				Enabled:        true,
				CronExpression: "30 * * * *",
				JobType:        models.JobTypeFull,
				AppName:        "BenSoliman",
				DomainID:       2,
			},
			models.SourceTagerElsaada: {
				BaseURL:        "https://app.tagerelsa3ada.com/api",
				Enabled:        true,
				CronExpression: "0 * * * *",
				JobType:        models.JobTypeFull,
				AppName:        "TagerElsaada",
			},
			models.SourceElRabie: {
				BaseURL:        "https://gomletalrabia.zahcode.online/api/",
				Enabled:        false,
				CronExpression: "15 * * * *",
				JobType:        models.JobTypeFull,
				AppName:        "ElRabie",
			},
			models.SourceGomlaShoaib: {
				BaseURL:        "https://gomletshoaib.zahcode.online/api/",
				Enabled:        false,
				CronExpression: "45 * * * *",
				JobType:        models.JobTypeFull,
				AppName:        "GomlaShoaib",
				ProductsMethod: "POST",
			},
		},
		Scraper: ScraperConfig{
			RequestTimeout: 30 * time.Second,
			TokenBuffer:    5 * time.Minute,
			Jitter: JitterConfig{
				SessionStartMin: 2 * time.Second,
				SessionStartMax: 5 * time.Second,
				RequestMin:      500 * time.Millisecond,
				RequestMax:      2 * time.Second,
				PageMin:         time.Second,
				PageMax:         3500 * time.Millisecond,
			},
			Retry: RetryConfig{
				Attempts:          3,
				Delay:             2 * time.Second,
				MaxDelay:          30 * time.Second,
				RateLimitWaits:    3,
				DefaultRetryAfter: 60 * time.Second,
			},
		},
		Scheduler: SchedulerConfig{
			Timezone:            "Africa/Cairo",
			MisfireGrace:        5 * time.Minute,
			TokenCheckInterval:  25 * time.Minute,
			HealthCheckInterval: 5 * time.Minute,
			PriceCleanupCron:    "0 3 * * *",
			PriceRetentionDays:  90,
			AutoLinkCron:        "50 * * * *",
			RunLockTTL:          2 * time.Hour,
		},
		Matching: MatchingConfig{
			Weights:            matching.DefaultWeights(),
			Units:              matching.DefaultUnitWeights(),
			MinSuggestionScore: 0.7,
			SuggestionLimit:    100,
		},
	}
}
