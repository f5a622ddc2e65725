package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/config"
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/auth"
	"gomarket_pricewatch/internal/storage/memory"
	"gomarket_pricewatch/pkg/logger"
)

func TestRegisterAll_RegistersConfiguredSources(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Sources, models.SourceGomlaShoaib)
	sc := cfg.Sources[models.SourceBenSoliman]
	sc.Username = "01000000000"
	sc.Password = "secret"
	cfg.Sources[models.SourceBenSoliman] = sc

	tokens := auth.NewTokenManager(memory.NewStore(), nil, nil, 0, nil)
	f := NewFactory(cfg, tokens, logger.Discard(), nil)
	reg := services.NewRegistry(nil)
	ctx := context.Background()

	require.NoError(t, f.RegisterAll(ctx, reg))
	assert.Equal(t, []models.Source{models.SourceBenSoliman, models.SourceElRabie, models.SourceTagerElsaada}, reg.Sources())

	a, err := reg.Get(models.SourceElRabie)
	require.NoError(t, err)
	assert.Equal(t, models.SourceElRabie, a.Source())

	password, err := tokens.Password(ctx, models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, "secret", password)
}

func TestRegisterAll_KeepsStoredCredential(t *testing.T) {
	cfg := config.Default()
	sc := cfg.Sources[models.SourceBenSoliman]
	sc.Username = "01000000000"
	sc.Password = "from-config"
	cfg.Sources[models.SourceBenSoliman] = sc

	tokens := auth.NewTokenManager(memory.NewStore(), nil, nil, 0, nil)
	ctx := context.Background()
	require.NoError(t, tokens.StoreCredential(ctx, models.SourceBenSoliman, "01111111111", "rotated", ""))

	require.NoError(t, NewFactory(cfg, tokens, nil, nil).RegisterAll(ctx, services.NewRegistry(nil)))
	password, err := tokens.Password(ctx, models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, "rotated", password)
}

func TestRegisterAll_UpdatesRotatedPassword(t *testing.T) {
	cfg := config.Default()
	sc := cfg.Sources[models.SourceBenSoliman]
	sc.Username = "01000000000"
	sc.Password = "new-secret"
	cfg.Sources[models.SourceBenSoliman] = sc

	cipher, err := auth.NewCipher(mustKey(t))
	require.NoError(t, err)
	tokens := auth.NewTokenManager(memory.NewStore(), cipher, nil, 0, nil)
	ctx := context.Background()
	require.NoError(t, tokens.StoreCredential(ctx, models.SourceBenSoliman, "01000000000", "old-secret", "dev-1"))
	require.NoError(t, tokens.StoreTokens(ctx, models.SourceBenSoliman, "tok", "", time.Hour))

	require.NoError(t, NewFactory(cfg, tokens, nil, nil).RegisterAll(ctx, services.NewRegistry(nil)))
	password, err := tokens.Password(ctx, models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, "new-secret", password)

	cred, err := tokens.Credential(ctx, models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", cred.DeviceID)
	assert.NotEqual(t, "new-secret", cred.PasswordEncrypted)

	// повторный запуск с тем же паролем ничего не переписывает
	before := cred.PasswordEncrypted
	require.NoError(t, NewFactory(cfg, tokens, nil, nil).RegisterAll(ctx, services.NewRegistry(nil)))
	cred, err = tokens.Credential(ctx, models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, before, cred.PasswordEncrypted)
}

func mustKey(t *testing.T) string {
	t.Helper()
	key, err := auth.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestAdapter_UnconfiguredSource(t *testing.T) {
	cfg := config.Default()
	delete(cfg.Sources, models.SourceTagerElsaada)
	_, err := NewFactory(cfg, nil, nil, nil).Adapter(models.SourceTagerElsaada)
	assert.Error(t, err)
}

func TestAdapter_TagerElsaadaCapabilities(t *testing.T) {
	a, err := NewFactory(config.Default(), nil, nil, nil).Adapter(models.SourceTagerElsaada)
	require.NoError(t, err)
	_, isCatalog := a.(services.CatalogFetcher)
	_, isBrands := a.(services.BrandFetcher)
	assert.True(t, isCatalog)
	assert.True(t, isBrands)
}
