package matching

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage/memory"
	"gomarket_pricewatch/pkg/logger"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	clock  *testclock.Clock
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	store := memory.NewStore()
	clk := testclock.NewClock(epoch)
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		clock:  clk,
		engine: New(store, DefaultWeights(), DefaultUnitWeights(), clk, logger.Discard()),
	}
}

func (f *fixture) product(source models.Source, externalID, name, barcode string) *models.Product {
	f.t.Helper()
	p, _, err := f.store.UpsertProduct(f.ctx, &models.Product{
		Source: source, ExternalID: externalID, Name: name, Barcode: barcode, IsActive: true,
	})
	require.NoError(f.t, err)
	return p
}

// unit добавляет упаковку и, если price > 0, одну запись цены.
func (f *fixture) unit(p *models.Product, externalID, name string, factor int, price int64) *models.ProductUnit {
	f.t.Helper()
	u, _, err := f.store.UpsertUnit(f.ctx, &models.ProductUnit{
		ProductID: p.ID, ExternalID: externalID, Name: name, Factor: factor, IsActive: true,
	})
	require.NoError(f.t, err)
	if price > 0 {
		_, err = f.store.AppendPriceIfChanged(f.ctx, p.ID, &u.ID, p.Source,
			models.PriceObservation{Price: decimal.NewFromInt(price), IsAvailable: true}, nil)
		require.NoError(f.t, err)
	}
	return u
}

func (f *fixture) links() []*models.ProductLink {
	f.t.Helper()
	links, err := f.store.ListActiveLinks(f.ctx)
	require.NoError(f.t, err)
	return links
}

func TestAutoLinkByBarcode_CrossSourcePair(t *testing.T) {
	f := newFixture(t)
	x := f.product(models.SourceBenSoliman, "x", "عصير برتقال 1 لتر", "6221234567890")
	y := f.product(models.SourceTagerElsaada, "y", "Orange Juice 1L", "6221234567890 ")

	stats, err := f.engine.AutoLinkByBarcode(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, stats.Processed)
	assert.Empty(t, stats.Errors)

	links := f.links()
	require.Len(t, links, 1)
	assert.Equal(t, models.LinkTypeBarcode, links[0].LinkType)
	assert.Equal(t, 1.0, links[0].ConfidenceScore)
	assert.Equal(t, "matching barcode: 6221234567890", links[0].MatchReason)
	assert.Equal(t, x.ID, links[0].ProductAID)
	assert.Equal(t, y.ID, links[0].ProductBID)

	again, err := f.engine.AutoLinkByBarcode(f.ctx, "")
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, 1, again.Skipped)
	assert.Len(t, f.links(), 1)
}

func TestAutoLinkByBarcode_BypassesHeuristics(t *testing.T) {
	f := newFixture(t)
	// названия не имеют ничего общего, но штрихкод совпадает
	f.product(models.SourceBenSoliman, "a", "Dish Soap", "111")
	f.product(models.SourceElRabie, "b", "Orange Juice", "111")
	f.product(models.SourceGomlaShoaib, "c", "Pepsi", "111")

	stats, err := f.engine.AutoLinkByBarcode(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Created)
	for _, l := range f.links() {
		assert.Equal(t, models.LinkTypeBarcode, l.LinkType)
		assert.Equal(t, 1.0, l.ConfidenceScore)
	}
}

func TestAutoLinkByBarcode_SkipsSameSourceAndExistingLinks(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "222")
	f.product(models.SourceBenSoliman, "b", "B", "222")
	c := f.product(models.SourceTagerElsaada, "c", "C", "222")
	f.product(models.SourceElRabie, "d", "D", "")

	_, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: c.ID})
	require.NoError(t, err)

	stats, err := f.engine.AutoLinkByBarcode(f.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 3, stats.Processed)
	assert.Len(t, f.links(), 2)
}

func TestAutoLinkByBarcode_SourceFilter(t *testing.T) {
	f := newFixture(t)
	f.product(models.SourceElRabie, "a", "A", "333")
	f.product(models.SourceGomlaShoaib, "b", "B", "333")
	f.product(models.SourceBenSoliman, "c", "C", "444")
	f.product(models.SourceTagerElsaada, "d", "D", "444")

	stats, err := f.engine.AutoLinkByBarcode(f.ctx, models.SourceBenSoliman)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, stats.Processed)

	links := f.links()
	require.Len(t, links, 1)
	assert.Equal(t, "matching barcode: 444", links[0].MatchReason)
}

func TestAutoLinkByBarcode_UnitBarcodes(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "Pepsi", "")
	b := f.product(models.SourceTagerElsaada, "b", "بيبسي", "")
	ua := f.unit(a, "a-1", "carton", 24, 0)
	ub := f.unit(b, "b-1", "كرتونة", 24, 0)
	for _, u := range []*models.ProductUnit{ua, ub} {
		u.Barcode = "6220000000024"
		_, _, err := f.store.UpsertUnit(f.ctx, u)
		require.NoError(t, err)
	}

	stats, err := f.engine.AutoLinkByBarcode(f.ctx, "")
	require.NoError(t, err)
	assert.Zero(t, stats.Created)
	assert.Equal(t, 1, stats.UnitLinksCreated)

	links := f.links()
	require.Len(t, links, 1)
	assert.Equal(t, models.LinkTypeUnitBarcode, links[0].LinkType)
	require.NotNil(t, links[0].UnitAID)
	require.NotNil(t, links[0].UnitBID)
	assert.Equal(t, ua.ID, *links[0].UnitAID)
	assert.Equal(t, ub.ID, *links[0].UnitBID)
}

func TestCreateManualLink_Canonical(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "")
	b := f.product(models.SourceTagerElsaada, "b", "B", "")

	link, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: b.ID, ProductBID: a.ID})
	require.NoError(t, err)
	assert.Equal(t, a.ID, link.ProductAID)
	assert.Equal(t, b.ID, link.ProductBID)
	assert.Equal(t, models.LinkTypeManual, link.LinkType)
	assert.Equal(t, 1.0, link.ConfidenceScore)
	assert.Nil(t, link.VerifiedAt)

	_, err = f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: b.ID})
	assert.ErrorIs(t, err, ErrLinkExists)
	assert.Len(t, f.links(), 1)
}

func TestCreateManualLink_UnitPairCanonical(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "")
	b := f.product(models.SourceTagerElsaada, "b", "B", "")
	ua := f.unit(a, "a-1", "piece", 1, 0)
	ub := f.unit(b, "b-1", "piece", 1, 0)

	link, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: b.ID, UnitAID: &ua.ID, UnitBID: &ub.ID})
	require.NoError(t, err)
	assert.Equal(t, ua.ID, *link.UnitAID)

	_, err = f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: b.ID, ProductBID: a.ID, UnitAID: &ub.ID, UnitBID: &ua.ID})
	assert.ErrorIs(t, err, ErrLinkExists)

	// связь на уровне товара - отдельная запись
	_, err = f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: b.ID, ProductBID: a.ID})
	require.NoError(t, err)
	assert.Len(t, f.links(), 2)
}

func TestCreateManualLink_Rejections(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "")
	a2 := f.product(models.SourceBenSoliman, "a2", "A2", "")
	b := f.product(models.SourceTagerElsaada, "b", "B", "")
	ua := f.unit(a, "a-1", "piece", 1, 0)

	tests := []struct {
		name string
		req  ManualLink
		want error
	}{
		{"same product", ManualLink{ProductAID: a.ID, ProductBID: a.ID}, ErrSameProduct},
		{"same source", ManualLink{ProductAID: a.ID, ProductBID: a2.ID}, ErrSameSource},
		{"missing product", ManualLink{ProductAID: a.ID, ProductBID: 9999}, ErrProductNotFound},
		{"unit of other product", ManualLink{ProductAID: a.ID, ProductBID: b.ID, UnitBID: &ua.ID}, ErrUnitNotOwned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.CreateManualLink(f.ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.links())
}

func TestCreateManualLink_WithVerifier(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "")
	b := f.product(models.SourceTagerElsaada, "b", "B", "")

	link, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: b.ID, VerifiedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, "ops", link.VerifiedBy)
	require.NotNil(t, link.VerifiedAt)
	assert.True(t, epoch.Equal(*link.VerifiedAt))
}

func TestVerifyLink(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "Orange Juice", "")
	b := f.product(models.SourceTagerElsaada, "b", "Orange Juice", "")

	sugg, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.7})
	require.NoError(t, err)
	require.Len(t, sugg, 1)

	link, err := f.engine.AcceptSuggestion(f.ctx, sugg[0])
	require.NoError(t, err)
	assert.Equal(t, models.LinkTypeSuggested, link.LinkType)
	assert.Equal(t, 0.99, link.ConfidenceScore)
	assert.Equal(t, a.ID, link.ProductAID)
	assert.Equal(t, b.ID, link.ProductBID)

	f.clock.Advance(time.Hour)
	verified, err := f.engine.VerifyLink(f.ctx, link.ID, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, models.LinkTypeVerified, verified.LinkType)
	assert.Equal(t, "reviewer", verified.VerifiedBy)
	require.NotNil(t, verified.VerifiedAt)
	assert.True(t, epoch.Add(time.Hour).Equal(*verified.VerifiedAt))

	_, err = f.engine.VerifyLink(f.ctx, 9999, "reviewer")
	assert.ErrorIs(t, err, ErrLinkNotFound)
	_, err = f.engine.VerifyLink(f.ctx, link.ID, " ")
	assert.ErrorIs(t, err, ErrVerifierRequired)

	_, err = f.engine.AcceptSuggestion(f.ctx, sugg[0])
	assert.ErrorIs(t, err, ErrLinkExists)
}

func TestDeleteLink(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "")
	b := f.product(models.SourceTagerElsaada, "b", "B", "")
	link, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: b.ID})
	require.NoError(t, err)

	linked, err := f.engine.LinkedProducts(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, a.ID, linked[0].Product.ID)

	require.NoError(t, f.engine.DeleteLink(f.ctx, link.ID))
	assert.ErrorIs(t, f.engine.DeleteLink(f.ctx, link.ID), ErrLinkNotFound)
	_, err = f.engine.GetLink(f.ctx, link.ID)
	assert.ErrorIs(t, err, ErrLinkNotFound)

	linked, err = f.engine.LinkedProducts(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestLinkedProducts_BothDirections(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "A", "")
	b := f.product(models.SourceTagerElsaada, "b", "B", "")
	c := f.product(models.SourceElRabie, "c", "C", "")
	_, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: b.ID})
	require.NoError(t, err)
	_, err = f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: c.ID, ProductBID: b.ID})
	require.NoError(t, err)

	linked, err := f.engine.LinkedProducts(f.ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, linked, 2)
	assert.Equal(t, a.ID, linked[0].Product.ID)
	assert.Equal(t, c.ID, linked[1].Product.ID)
}

func TestSuggest_RankingAndFilters(t *testing.T) {
	f := newFixture(t)
	p1 := f.product(models.SourceBenSoliman, "1", "Juhayna Orange Juice", "")
	p2 := f.product(models.SourceTagerElsaada, "2", "Juhayna Orange Juice 1L", "")
	f.product(models.SourceTagerElsaada, "3", "Dish Soap", "")
	p4 := f.product(models.SourceBenSoliman, "4", "Juhayna Orange Juice 250ml", "")

	sugg, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.7})
	require.NoError(t, err)
	require.Len(t, sugg, 2)
	assert.Equal(t, [2]int64{p1.ID, p2.ID}, [2]int64{sugg[0].ProductA.ID, sugg[0].ProductB.ID})
	assert.Equal(t, [2]int64{p2.ID, p4.ID}, [2]int64{sugg[1].ProductA.ID, sugg[1].ProductB.ID})
	for _, s := range sugg {
		assert.NotEqual(t, s.ProductA.Source, s.ProductB.Source)
		assert.GreaterOrEqual(t, s.Score, 0.7)
		assert.NotEmpty(t, s.Reasons)
		assert.Nil(t, s.BestUnits)
	}

	limited, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.7, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, p1.ID, limited[0].ProductA.ID)

	_, err = f.engine.AcceptSuggestion(f.ctx, limited[0])
	require.NoError(t, err)
	after, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.7})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, p4.ID, after[0].ProductB.ID)
}

func TestSuggest_SourceFilterAndSharedBarcode(t *testing.T) {
	f := newFixture(t)
	f.product(models.SourceBenSoliman, "1", "Pepsi Can", "555")
	f.product(models.SourceTagerElsaada, "2", "Pepsi Can", "555")
	f.product(models.SourceElRabie, "3", "Pepsi Can", "")

	all, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.5})
	require.NoError(t, err)
	// пара 1-2 с общим штрихкодом остается для AutoLinkByBarcode
	assert.Len(t, all, 2)
	for _, s := range all {
		assert.Equal(t, models.SourceElRabie, s.ProductB.Source)
	}

	filtered, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.5, Source: models.SourceBenSoliman})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, models.SourceBenSoliman, filtered[0].ProductA.Source)
}

func TestSuggest_FactorWarning(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "Pepsi Can", "")
	b := f.product(models.SourceTagerElsaada, "b", "Pepsi Cans", "")
	f.unit(a, "a-6", "علبة", 6, 60)
	f.unit(b, "b-24", "علبة", 24, 240)

	sugg, err := f.engine.Suggest(f.ctx, SuggestOptions{MinScore: 0.7})
	require.NoError(t, err)
	require.Len(t, sugg, 1)
	assert.True(t, sugg[0].FactorWarning)
	require.NotNil(t, sugg[0].BestUnits)
	assert.Equal(t, 0.25, sugg[0].BestUnits.FactorRatio)
}

func TestCompareProduct(t *testing.T) {
	f := newFixture(t)
	a := f.product(models.SourceBenSoliman, "a", "Rice", "")
	b := f.product(models.SourceTagerElsaada, "b", "Rice", "")
	f.unit(a, "a-1", "piece", 1, 10)
	f.unit(b, "b-12", "carton", 12, 108)
	_, err := f.engine.CreateManualLink(f.ctx, ManualLink{ProductAID: a.ID, ProductBID: b.ID})
	require.NoError(t, err)

	cmp, err := f.engine.CompareProduct(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, cmp.Offers, 2)
	assert.Equal(t, MatchSelf, cmp.Offers[0].MatchedBy)
	assert.Equal(t, MatchLink, cmp.Offers[1].MatchedBy)
	assert.Equal(t, 2, cmp.SourcesCount)
	assert.True(t, decimal.NewFromInt(9).Equal(*cmp.LowestPrice))
	assert.True(t, decimal.NewFromInt(10).Equal(*cmp.HighestPrice))
	assert.True(t, decimal.NewFromInt(1).Equal(*cmp.Difference))

	_, err = f.engine.CompareProduct(f.ctx, 9999)
	assert.ErrorIs(t, err, ErrProductNotFound)
}
