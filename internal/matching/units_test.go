package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/pkg/business/service"
)

func newTestUnitMatcher() *UnitMatcher {
	return NewUnitMatcher(DefaultUnitWeights(), service.NewTextService())
}

func offer(id int64, name string, factor int, price int64) UnitOffer {
	o := UnitOffer{Unit: &models.ProductUnit{ID: id, Name: name, Factor: factor, IsActive: true}}
	if price > 0 {
		p := decimal.NewFromInt(price)
		o.Price = &p
	}
	return o
}

func TestUnitMatcher_Canonical(t *testing.T) {
	m := newTestUnitMatcher()
	tests := []struct{ label, want string }{
		{"كرتونة", "case"},
		{"كرتون", "case"},
		{"Carton", "case"},
		{"CASE", "case"},
		{"علبة", "box"},
		{"باكت", "pack"},
		{"عبوة", "pack"},
		{"حبة", "piece"},
		{"قطعة", "piece"},
		{"دستة", "dozen"},
		{"علبة كبيرة", "box"},
		{"Bag", "bag"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.Canonical(tt.label), tt.label)
	}
}

func TestUnitMatcher_CartonVsCarton(t *testing.T) {
	m := newTestUnitMatcher()
	res := m.Score(offer(1, "كرتونة", 12, 240), offer(2, "carton", 12, 252))

	// 0.4 (фактор) + 0.3 (название) + 0.3 * 20/21 (цена за штуку)
	assert.InDelta(t, 0.9857, res.Score, 1e-4)
	assert.False(t, res.FactorWarning)
	assert.Equal(t, 1.0, res.FactorRatio)
	assert.Contains(t, res.Reasons, "same factor: 12")
	assert.Contains(t, res.Reasons, "same unit: case")
	assert.Contains(t, res.Reasons, "per-unit price ratio: 0.95")
	assert.Equal(t, int64(1), res.UnitAID)
	assert.Equal(t, int64(2), res.UnitBID)
}

func TestUnitMatcher_FactorWarning(t *testing.T) {
	m := newTestUnitMatcher()
	res := m.Score(offer(1, "علبة", 6, 60), offer(2, "علبة", 24, 240))

	assert.True(t, res.FactorWarning)
	assert.Equal(t, 0.25, res.FactorRatio)
	for _, r := range res.Reasons {
		assert.NotContains(t, r, "factor:")
	}
	// название и цена за базовую единицу совпадают
	assert.InDelta(t, 0.6, res.Score, 1e-9)
}

func TestUnitMatcher_CloseFactor(t *testing.T) {
	m := newTestUnitMatcher()
	res := m.Score(offer(1, "x", 10, 0), offer(2, "y", 12, 0))

	assert.Contains(t, res.Reasons, "close factor: 10 vs 12")
	assert.InDelta(t, 0.4*10/12, res.Score, 1e-4)
	assert.False(t, res.FactorWarning)
}

func TestUnitMatcher_PriceBelowThresholdIgnored(t *testing.T) {
	m := newTestUnitMatcher()
	res := m.Score(offer(1, "piece", 1, 10), offer(2, "قطعة", 1, 20))

	assert.InDelta(t, 0.7, res.Score, 1e-9)
	for _, r := range res.Reasons {
		assert.NotContains(t, r, "price")
	}
}

func TestUnitMatcher_BarcodeShortCircuit(t *testing.T) {
	m := newTestUnitMatcher()
	a, b := offer(1, "piece", 1, 10), offer(2, "carton", 24, 500)
	a.Unit.Barcode, b.Unit.Barcode = "6220000000017", "6220000000017"

	res := m.Score(a, b)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, []string{"matching unit barcode: 6220000000017"}, res.Reasons)
	assert.True(t, res.FactorWarning)
}

func TestUnitMatcher_Best(t *testing.T) {
	m := newTestUnitMatcher()
	as := []UnitOffer{offer(1, "قطعة", 1, 20), offer(2, "كرتونة", 12, 240)}
	bs := []UnitOffer{offer(3, "piece", 1, 21), offer(4, "carton", 12, 252)}

	best, ok := m.Best(as, bs)
	require.True(t, ok)
	// обе пары набирают одинаково, побеждает первая
	assert.Equal(t, int64(1), best.UnitAID)
	assert.Equal(t, int64(3), best.UnitBID)

	_, ok = m.Best(as, nil)
	assert.False(t, ok)
}

func TestNormalizedPrice(t *testing.T) {
	p, ok := NormalizedPrice(offer(1, "carton", 12, 240))
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(20).Equal(p))

	_, ok = NormalizedPrice(offer(1, "carton", 12, 0))
	assert.False(t, ok)

	zeroFactor := offer(1, "piece", 0, 5)
	p, ok = NormalizedPrice(zeroFactor)
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(5).Equal(p))
}
