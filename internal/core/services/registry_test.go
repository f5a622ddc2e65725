package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/internal/core/models"
)

type stubAdapter struct{ source models.Source }

func (s stubAdapter) Source() models.Source { return s.source }

func (s stubAdapter) Authenticate(context.Context) (bool, error) { return true, nil }

func (s stubAdapter) FetchCategories(context.Context) ([]RawRecord, error) { return nil, nil }

func (s stubAdapter) FetchProducts(context.Context, string) ([]RawRecord, error) { return nil, nil }

func (s stubAdapter) ParseCategory(RawRecord) (*models.Category, error) { return nil, nil }

func (s stubAdapter) ParseProduct(RawRecord) (*ParsedProduct, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(stubAdapter{models.SourceTagerElsaada}))
	require.NoError(t, r.Register(stubAdapter{models.SourceBenSoliman}))

	assert.Error(t, r.Register(stubAdapter{models.SourceBenSoliman}), "duplicate")
	assert.Error(t, r.Register(stubAdapter{""}), "empty")
	assert.Error(t, r.Register(stubAdapter{"unknown_app"}), "unknown")
	assert.Error(t, r.Register(nil))

	a, err := r.Get(models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, models.SourceBenSoliman, a.Source())
	_, err = r.Get(models.SourceElRabie)
	assert.Error(t, err)

	assert.True(t, r.Has(models.SourceTagerElsaada))
	assert.False(t, r.Has(models.SourceGomlaShoaib))
	assert.Equal(t, []models.Source{models.SourceBenSoliman, models.SourceTagerElsaada}, r.Sources())
}
