package matching

import (
	"fmt"
	"math"
	"strings"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/pkg/business/service"
)

// Match is the outcome of scoring one product pair. Reasons lists every
// contributing signal in evaluation order.
type Match struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
	Signals int      `json:"signals"`
	// Exact is set for identical barcodes or identical SKUs.
	Exact bool `json:"exact"`
}

// Features - предварительно нормализованные поля товара; считаются один раз на товар.
type Features struct {
	barcode   string
	sku       string
	brand     string
	name      nameFeatures
	secondary nameFeatures
}

type nameFeatures struct {
	norm   string
	tokens []string
}

func (n nameFeatures) empty() bool {
	return n.norm == ""
}

type Scorer struct {
	w    Weights
	text service.ITextService
}

func NewScorer(w Weights, text service.ITextService) *Scorer {
	if w.HeuristicCap <= 0 || w.HeuristicCap >= 1 {
		w.HeuristicCap = DefaultWeights().HeuristicCap
	}
	return &Scorer{w: w, text: text}
}

func (s *Scorer) Prepare(p *models.Product) *Features {
	f := &Features{
		barcode: strings.TrimSpace(p.Barcode),
		sku:     strings.ToLower(strings.TrimSpace(p.SKU)),
		brand:   s.text.Normalize(p.Brand),
		name:    s.nameFeatures(p.Name),
	}
	// Вторичное название учитываем, только если оно несет новую информацию.
	if secondary := s.nameFeatures(p.NameAr); secondary.norm != f.name.norm {
		f.secondary = secondary
	}
	return f
}

func (s *Scorer) nameFeatures(name string) nameFeatures {
	return nameFeatures{norm: s.text.NormalizeName(name), tokens: s.text.Tokens(name)}
}

// Score compares two products. Use ScoreFeatures when one side is compared many times.
func (s *Scorer) Score(a, b *models.Product) Match {
	return s.ScoreFeatures(s.Prepare(a), s.Prepare(b))
}

func (s *Scorer) ScoreFeatures(a, b *Features) Match {
	if a.barcode != "" && a.barcode == b.barcode {
		return Match{Score: 1, Reasons: []string{"matching barcode: " + a.barcode}, Signals: 1, Exact: true}
	}

	var (
		values  []float64
		reasons []string
		bonus   float64
		signals int
		exact   bool
	)
	add := func(v float64, reason string) {
		values = append(values, v)
		reasons = append(reasons, reason)
	}

	if a.sku != "" && b.sku != "" {
		if a.sku == b.sku {
			exact = true
			add(s.w.SKUExact, "exact SKU: "+a.sku)
		} else if r := SequenceRatio(a.sku, b.sku); r > s.w.SKUNearThreshold {
			add(s.w.SKUNear*r, fmt.Sprintf("similar SKU: %s ~ %s (%.2f)", a.sku, b.sku, r))
		}
	}

	if !a.name.empty() && !b.name.empty() {
		if j := Jaccard(a.name.tokens, b.name.tokens); j > s.w.TokenThreshold {
			add(s.w.TokenJaccard*j, fmt.Sprintf("name tokens overlap: %.2f", j))
		}
		if r := SequenceRatio(a.name.norm, b.name.norm); r > s.w.SequenceThreshold {
			add(s.w.Sequence*r, fmt.Sprintf("name similarity: %.2f", r))
		}
	}

	if !a.secondary.empty() && !b.secondary.empty() {
		if v := s.secondarySimilarity(a.secondary, b.secondary); v > 0 {
			add(s.w.SecondaryName*v, fmt.Sprintf("secondary name similarity: %.2f", v))
		}
	}

	signals = len(values)
	if a.brand != "" && a.brand == b.brand {
		signals++
		bonus += s.w.BrandBonus
		reasons = append(reasons, "same brand: "+a.brand)
		if contains(a.name.norm, b.name.norm) {
			bonus += s.w.ContainmentBonus
			reasons = append(reasons, "name containment")
		}
	}

	if signals == 0 {
		return Match{}
	}
	var mean float64
	if len(values) > 0 {
		for _, v := range values {
			mean += v
		}
		mean /= float64(len(values))
	}
	score := mean + bonus + s.w.SignalBonus*float64(signals)
	return Match{Score: s.bound(score, exact), Reasons: reasons, Signals: signals, Exact: exact}
}

// secondarySimilarity runs the name pipeline and keeps the stronger of the two signals.
func (s *Scorer) secondarySimilarity(a, b nameFeatures) float64 {
	var best float64
	if j := Jaccard(a.tokens, b.tokens); j > s.w.TokenThreshold {
		best = j
	}
	if r := SequenceRatio(a.norm, b.norm); r > s.w.SequenceThreshold && r > best {
		best = r
	}
	return best
}

func (s *Scorer) bound(score float64, exact bool) float64 {
	score = math.Round(score*10000) / 10000
	limit := 1.0
	if !exact {
		limit = s.w.HeuristicCap
	}
	return math.Max(0, math.Min(score, limit))
}

func contains(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
