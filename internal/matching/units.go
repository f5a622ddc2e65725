package matching

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/pkg/business/service"
)

// Синонимы упаковок по-арабски и по-английски, приводятся к каноническому виду.
var unitSynonyms = map[string][]string{
	"case":  {"كرتونة", "كرتون", "كرتونه", "carton", "case", "ctn"},
	"box":   {"علبة", "علبه", "box"},
	"pack":  {"باكت", "عبوة", "عبوه", "pack", "packet"},
	"piece": {"قطعة", "قطعه", "حبة", "حبه", "piece", "pcs", "pc"},
	"dozen": {"دستة", "دسته", "dozen"},
}

// UnitOffer is a unit together with its latest known price, if any.
type UnitOffer struct {
	Unit  *models.ProductUnit
	Price *decimal.Decimal
}

// UnitMatch scores one unit pair. FactorWarning flags pairs whose factor ratio
// is low enough that the packaging is probably not comparable.
type UnitMatch struct {
	UnitAID       int64    `json:"unit_a_id"`
	UnitBID       int64    `json:"unit_b_id"`
	Score         float64  `json:"score"`
	Reasons       []string `json:"reasons"`
	FactorRatio   float64  `json:"factor_ratio"`
	FactorWarning bool     `json:"factor_warning"`
}

type UnitMatcher struct {
	w        UnitWeights
	text     service.ITextService
	synonyms map[string]string
}

func NewUnitMatcher(w UnitWeights, text service.ITextService) *UnitMatcher {
	m := &UnitMatcher{w: w, text: text, synonyms: make(map[string]string)}
	for canonical, names := range unitSynonyms {
		for _, n := range names {
			m.synonyms[text.Normalize(n)] = canonical
		}
	}
	return m
}

// Canonical maps a unit label to its canonical packaging name; unknown labels are returned normalized.
func (m *UnitMatcher) Canonical(label string) string {
	n := m.text.Normalize(label)
	if c, ok := m.synonyms[n]; ok {
		return c
	}
	for _, tok := range strings.Fields(n) {
		if c, ok := m.synonyms[tok]; ok {
			return c
		}
	}
	return n
}

func (m *UnitMatcher) Score(a, b UnitOffer) UnitMatch {
	fa, fb := a.Unit.EffectiveFactor(), b.Unit.EffectiveFactor()
	ratio := float64(min(fa, fb)) / float64(max(fa, fb))
	res := UnitMatch{
		UnitAID:       a.Unit.ID,
		UnitBID:       b.Unit.ID,
		FactorRatio:   math.Round(ratio*10000) / 10000,
		FactorWarning: ratio < m.w.FactorWarningBelow,
	}

	if bc := strings.TrimSpace(a.Unit.Barcode); bc != "" && bc == strings.TrimSpace(b.Unit.Barcode) {
		res.Score = 1
		res.Reasons = []string{"matching unit barcode: " + bc}
		return res
	}

	var score float64
	switch {
	case fa == fb:
		score += m.w.Factor
		res.Reasons = append(res.Reasons, fmt.Sprintf("same factor: %d", fa))
	case ratio > m.w.FactorTolerance:
		score += m.w.Factor * ratio
		res.Reasons = append(res.Reasons, fmt.Sprintf("close factor: %d vs %d", fa, fb))
	}

	ca, cb := m.Canonical(unitLabel(a.Unit)), m.Canonical(unitLabel(b.Unit))
	if ca != "" && ca == cb {
		score += m.w.Name
		res.Reasons = append(res.Reasons, "same unit: "+ca)
	} else if r := SequenceRatio(ca, cb); ca != "" && cb != "" && r > m.w.NameThreshold {
		score += m.w.Name * r
		res.Reasons = append(res.Reasons, fmt.Sprintf("unit name similarity: %.2f", r))
	}

	if r, ok := perBaseRatio(a, b); ok && r > m.w.PriceThreshold {
		score += m.w.Price * r
		res.Reasons = append(res.Reasons, fmt.Sprintf("per-unit price ratio: %.2f", r))
	}

	res.Score = math.Min(1, math.Round(score*10000)/10000)
	return res
}

// Best picks the highest-scoring pair across both unit lists; the earliest pair wins ties.
func (m *UnitMatcher) Best(as, bs []UnitOffer) (UnitMatch, bool) {
	var (
		best  UnitMatch
		found bool
	)
	for _, a := range as {
		for _, b := range bs {
			res := m.Score(a, b)
			if !found || res.Score > best.Score {
				best, found = res, true
			}
		}
	}
	return best, found
}

func unitLabel(u *models.ProductUnit) string {
	if u.Name != "" {
		return u.Name
	}
	return u.NameAr
}

// perBaseRatio сравнивает цену за базовую единицу: дешевле / дороже.
func perBaseRatio(a, b UnitOffer) (float64, bool) {
	pa, ok := NormalizedPrice(a)
	if !ok {
		return 0, false
	}
	pb, ok := NormalizedPrice(b)
	if !ok {
		return 0, false
	}
	lo, hi := decimal.Min(pa, pb), decimal.Max(pa, pb)
	r, _ := lo.Div(hi).Float64()
	return r, true
}

// NormalizedPrice is the price per base unit; it is unknown for missing or non-positive prices.
func NormalizedPrice(o UnitOffer) (decimal.Decimal, bool) {
	if o.Price == nil || !o.Price.IsPositive() {
		return decimal.Decimal{}, false
	}
	factor := 1
	if o.Unit != nil {
		factor = o.Unit.EffectiveFactor()
	}
	return o.Price.Div(decimal.NewFromInt(int64(factor))), true
}
