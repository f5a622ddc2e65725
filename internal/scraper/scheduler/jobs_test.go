package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/matching"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/pkg/logger"
)

type fakeRunner struct {
	job       *models.ScrapeJob
	err       error
	retention time.Duration
}

func (f *fakeRunner) Run(_ context.Context, source models.Source, jobType models.JobType) (*models.ScrapeJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeRunner) CleanupPrices(_ context.Context, retention time.Duration) (int64, error) {
	f.retention = retention
	return 0, nil
}

type fakeTokens struct {
	creds   map[models.Source]*models.Credential
	refresh map[models.Source]bool
	checked []models.Source
}

func (f *fakeTokens) Credential(_ context.Context, source models.Source) (*models.Credential, error) {
	return f.creds[source], nil
}

func (f *fakeTokens) NeedsRefresh(_ context.Context, source models.Source) (bool, error) {
	f.checked = append(f.checked, source)
	return f.refresh[source], nil
}

type pingFunc func(ctx context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func TestRegisterDefaults(t *testing.T) {
	cfg := config.Default()
	s := New(Options{})
	pingers := map[string]Pinger{"postgres": pingFunc(func(context.Context) error { return nil })}

	require.NoError(t, RegisterDefaults(s, cfg, &fakeRunner{}, &fakeTokens{}, pingers))
	assert.ElementsMatch(t, []string{
		"scrape_ben_soliman", "scrape_tager_elsaada", "token_check", "price_cleanup", "health_check",
	}, s.Names())
}

func TestRegisterDefaults_InvalidCron(t *testing.T) {
	cfg := config.Default()
	sc := cfg.Sources[models.SourceElRabie]
	sc.Enabled = true
	sc.CronExpression = "sometimes"
	cfg.Sources[models.SourceElRabie] = sc

	err := RegisterDefaults(New(Options{}), cfg, &fakeRunner{}, nil, nil)
	assert.Error(t, err)
}

func TestScrapeJob(t *testing.T) {
	log := logger.Discard()
	ctx := context.Background()

	active := ScrapeJob(&fakeRunner{err: storage.ErrJobActive}, models.SourceBenSoliman, models.JobTypeFull, log)
	assert.NoError(t, active(ctx))

	failed := ScrapeJob(&fakeRunner{job: &models.ScrapeJob{ID: 7, Status: models.JobStatusFailed,
		ErrorDetails: &models.ErrorDetails{Type: "NetworkError", Message: "timeout"}}}, models.SourceBenSoliman, models.JobTypeFull, log)
	err := failed(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NetworkError")

	ok := ScrapeJob(&fakeRunner{job: &models.ScrapeJob{ID: 8, Status: models.JobStatusCompleted}}, models.SourceBenSoliman, models.JobTypeFull, log)
	assert.NoError(t, ok(ctx))
}

func TestTokenCheckJob_OnlySourcesWithTokens(t *testing.T) {
	tokens := &fakeTokens{
		creds: map[models.Source]*models.Credential{
			models.SourceBenSoliman: {Source: models.SourceBenSoliman, AccessToken: "t"},
			models.SourceElRabie:    {Source: models.SourceElRabie},
		},
		refresh: map[models.Source]bool{models.SourceBenSoliman: true},
	}
	job := TokenCheckJob(tokens, models.KnownSources(), logger.Discard())
	require.NoError(t, job(context.Background()))
	assert.Equal(t, []models.Source{models.SourceBenSoliman}, tokens.checked)
}

func TestCleanupJob_Retention(t *testing.T) {
	runner := &fakeRunner{}
	require.NoError(t, CleanupJob(runner, 90)(context.Background()))
	assert.Equal(t, 90*24*time.Hour, runner.retention)
}

func TestHealthCheckJob(t *testing.T) {
	down := errors.New("connection refused")
	job := HealthCheckJob(map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return down }),
	})
	err := job(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "redis")
}

type linkerFunc func(ctx context.Context, source models.Source) (*matching.LinkStats, error)

func (f linkerFunc) AutoLinkByBarcode(ctx context.Context, source models.Source) (*matching.LinkStats, error) {
	return f(ctx, source)
}

func TestAutoLinkJob(t *testing.T) {
	var got []models.Source
	ok := linkerFunc(func(_ context.Context, source models.Source) (*matching.LinkStats, error) {
		got = append(got, source)
		return &matching.LinkStats{Created: 2, Errors: []string{"barcode 1: boom"}}, nil
	})
	require.NoError(t, AutoLinkJob(ok, logger.Discard())(context.Background()))
	assert.Equal(t, []models.Source{""}, got)

	failing := linkerFunc(func(context.Context, models.Source) (*matching.LinkStats, error) {
		return nil, errors.New("db down")
	})
	assert.EqualError(t, AutoLinkJob(failing, logger.Discard())(context.Background()), "db down")
}

func TestRegisterAutoLink(t *testing.T) {
	s := New(Options{})
	require.NoError(t, RegisterAutoLink(s, "", linkerFunc(nil)))
	assert.Empty(t, s.Names())

	require.NoError(t, RegisterAutoLink(s, "50 * * * *", linkerFunc(nil)))
	assert.Equal(t, []string{"auto_link"}, s.Names())
	assert.Error(t, RegisterAutoLink(s, "50 * * * *", linkerFunc(nil)))
}

type recovererFunc func(ctx context.Context, olderThan time.Duration) (int, error)

func (f recovererFunc) RecoverInterrupted(ctx context.Context, olderThan time.Duration) (int, error) {
	return f(ctx, olderThan)
}

func TestRecoverJob(t *testing.T) {
	var got time.Duration
	r := recovererFunc(func(_ context.Context, olderThan time.Duration) (int, error) {
		got = olderThan
		return 2, nil
	})
	require.NoError(t, RecoverJob(r, 2*time.Hour, logger.Discard())(context.Background()))
	assert.Equal(t, 2*time.Hour, got)

	failing := recovererFunc(func(context.Context, time.Duration) (int, error) {
		return 0, errors.New("db down")
	})
	assert.EqualError(t, RecoverJob(failing, time.Hour, logger.Discard())(context.Background()), "db down")
}

func TestRegisterRecovery(t *testing.T) {
	s := New(Options{})
	require.NoError(t, RegisterRecovery(s, 15*time.Minute, 0, recovererFunc(nil)))
	require.NoError(t, RegisterRecovery(s, 0, time.Hour, recovererFunc(nil)))
	assert.Empty(t, s.Names())

	require.NoError(t, RegisterRecovery(s, 15*time.Minute, 2*time.Hour, recovererFunc(nil)))
	assert.Equal(t, []string{"recover_jobs"}, s.Names())
}
