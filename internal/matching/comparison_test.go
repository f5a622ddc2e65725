package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/internal/core/models"
)

func TestComparisonMatrix(t *testing.T) {
	f := newFixture(t)
	primary := f.product(models.SourceBenSoliman, "p", "Tea 100 bags", "111")
	byBarcode := f.product(models.SourceTagerElsaada, "q", "شاي 100 فتلة", "111")
	linked := f.product(models.SourceElRabie, "r", "Tea", "")
	lonely := f.product(models.SourceBenSoliman, "s", "Coffee", "")

	f.unit(primary, "p-1", "piece", 1, 10)
	f.unit(byBarcode, "q-1", "piece", 1, 11)
	f.unit(byBarcode, "q-12", "كرتونة", 12, 108)
	f.unit(linked, "r-1", "piece", 1, 12)

	_, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: primary.ID, ProductBID: linked.ID})
	require.NoError(t, err)

	sources := []models.Source{models.SourceBenSoliman, models.SourceTagerElsaada, models.SourceElRabie}
	m, err := f.engine.ComparisonMatrix(f.ctx, MatrixOptions{Sources: sources})
	require.NoError(t, err)
	assert.Equal(t, models.SourceBenSoliman, m.Primary)
	assert.Equal(t, defaultMatrixLimit, m.Limit)
	require.Len(t, m.Rows, 2)

	row := m.Rows[0]
	assert.Equal(t, primary.ID, row.Primary.ID)
	require.Len(t, row.Offers, 3)
	assert.Equal(t, MatchSelf, row.Offers[0].MatchedBy)
	assert.Equal(t, MatchBarcode, row.Offers[1].MatchedBy)
	assert.Equal(t, byBarcode.ID, row.Offers[1].Product.ID)
	assert.Len(t, row.Offers[1].Units, 2)
	assert.Equal(t, MatchLink, row.Offers[2].MatchedBy)
	assert.Equal(t, linked.ID, row.Offers[2].Product.ID)

	// 108 / 12 = 9 за штуку - дешевле всех
	assert.Equal(t, models.SourceTagerElsaada, row.BestDeal)
	assert.True(t, decimal.NewFromInt(9).Equal(*row.BestPrice))
	assert.True(t, decimal.NewFromInt(9).Equal(*row.Offers[1].Units[1].NormalizedPrice))

	other := m.Rows[1]
	assert.Equal(t, lonely.ID, other.Primary.ID)
	assert.NotNil(t, other.Offers[0])
	assert.Nil(t, other.Offers[1])
	assert.Nil(t, other.Offers[2])
	// нет цен - нет лучшего предложения
	assert.Empty(t, other.BestDeal)
	assert.Nil(t, other.BestPrice)
}

func TestComparisonMatrix_PagingAndPrimary(t *testing.T) {
	f := newFixture(t)
	f.product(models.SourceBenSoliman, "a", "A", "")
	b := f.product(models.SourceBenSoliman, "b", "B", "")
	c := f.product(models.SourceTagerElsaada, "c", "C", "")

	m, err := f.engine.ComparisonMatrix(f.ctx, MatrixOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, m.Rows, 1)
	assert.Equal(t, b.ID, m.Rows[0].Primary.ID)
	assert.Equal(t, models.KnownSources(), m.Sources)

	m, err = f.engine.ComparisonMatrix(f.ctx, MatrixOptions{Primary: models.SourceTagerElsaada})
	require.NoError(t, err)
	require.Len(t, m.Rows, 1)
	assert.Equal(t, c.ID, m.Rows[0].Primary.ID)
	assert.Nil(t, m.Rows[0].Offers[0])
	assert.Equal(t, MatchSelf, m.Rows[0].Offers[1].MatchedBy)
}

func TestComparisonMatrix_UnknownSource(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ComparisonMatrix(f.ctx, MatrixOptions{Sources: []models.Source{"nowhere"}})
	assert.Error(t, err)
}

func TestComparisonMatrix_UnavailableNotBestDeal(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "Sugar", "777")
	b := f.product(models.SourceTagerElsaada, "b", "Sugar", "777")
	f.unit(a, "a-1", "piece", 1, 20)
	ub := f.unit(b, "b-1", "piece", 1, 0)
	_, err := f.store.AppendPriceIfChanged(f.ctx, b.ID, &ub.ID, b.Source,
		models.PriceObservation{Price: decimal.NewFromInt(5), IsAvailable: false}, nil)
	require.NoError(t, err)

	m, err := f.engine.ComparisonMatrix(f.ctx, MatrixOptions{Sources: []models.Source{models.SourceBenSoliman, models.SourceTagerElsaada}})
	require.NoError(t, err)
	require.Len(t, m.Rows, 1)
	assert.Equal(t, models.SourceBenSoliman, m.Rows[0].BestDeal)
	assert.Nil(t, m.Rows[0].Offers[1].BestPrice)
	assert.False(t, m.Rows[0].Offers[1].Units[0].IsAvailable)
}
