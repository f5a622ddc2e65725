package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/metrics"
)

type SuggestOptions struct {
	MinScore float64
	Limit    int
	// Source restricts the left side of each candidate pair.
	Source models.Source
}

// Suggestion is a scored candidate pair that has no active link yet.
// ProductA always has the smaller id.
type Suggestion struct {
	ProductA *models.Product `json:"product_a"`
	ProductB *models.Product `json:"product_b"`
	Score    float64         `json:"score"`
	Reasons  []string        `json:"reasons"`
	// BestUnits is the strongest unit pair, absent when either side has no units.
	BestUnits     *UnitMatch `json:"best_units,omitempty"`
	FactorWarning bool       `json:"factor_warning"`
}

type candidate struct {
	p *models.Product
	f *Features
}

// Suggest scores every unlinked cross-source pair that does not already share a
// barcode, keeps those at or above MinScore and returns the best Limit of them.
func (e *Engine) Suggest(ctx context.Context, opts SuggestOptions) ([]*Suggestion, error) {
	products, err := e.store.ListProducts(ctx, storage.ProductFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	linked, err := e.linkedPairs(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]candidate, len(products))
	for i, p := range products {
		candidates[i] = candidate{p: p, f: e.scorer.Prepare(p)}
	}

	var out []*Suggestion
	checked := make(map[[2]int64]struct{})
	for _, left := range candidates {
		if opts.Source != "" && left.p.Source != opts.Source {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, right := range candidates {
			if left.p.Source == right.p.Source {
				continue
			}
			key := pairKey(left.p.ID, right.p.ID)
			if _, ok := checked[key]; ok {
				continue
			}
			checked[key] = struct{}{}
			if _, ok := linked[key]; ok {
				continue
			}
			// Пары с общим штрихкодом связывает AutoLinkByBarcode.
			if left.f.barcode != "" && left.f.barcode == right.f.barcode {
				continue
			}

			m := e.scorer.ScoreFeatures(left.f, right.f)
			if m.Signals == 0 || m.Score < opts.MinScore {
				continue
			}
			a, b := left.p, right.p
			if a.ID > b.ID {
				a, b = b, a
			}
			out = append(out, &Suggestion{ProductA: a, ProductB: b, Score: m.Score, Reasons: m.Reasons})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].ProductA.ID != out[j].ProductA.ID {
			return out[i].ProductA.ID < out[j].ProductA.ID
		}
		return out[i].ProductB.ID < out[j].ProductB.ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}

	for _, s := range out {
		if err := e.attachUnits(ctx, s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) linkedPairs(ctx context.Context) (map[[2]int64]struct{}, error) {
	links, err := e.store.ListActiveLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	out := make(map[[2]int64]struct{}, len(links))
	for _, l := range links {
		out[pairKey(l.ProductAID, l.ProductBID)] = struct{}{}
	}
	return out, nil
}

func (e *Engine) attachUnits(ctx context.Context, s *Suggestion) error {
	as, err := e.unitOffers(ctx, s.ProductA.ID)
	if err != nil {
		return err
	}
	bs, err := e.unitOffers(ctx, s.ProductB.ID)
	if err != nil {
		return err
	}
	if best, ok := e.units.Best(as, bs); ok {
		s.BestUnits = &best
		s.FactorWarning = best.FactorWarning
	}
	return nil
}

// unitOffers loads active units of a product with their latest prices.
func (e *Engine) unitOffers(ctx context.Context, productID int64) ([]UnitOffer, error) {
	units, err := e.store.ListUnits(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list units of %d: %w", productID, err)
	}
	out := make([]UnitOffer, 0, len(units))
	for _, u := range units {
		if !u.IsActive {
			continue
		}
		rec, err := e.store.LatestPrice(ctx, productID, &u.ID)
		if err != nil {
			return nil, fmt.Errorf("latest price of unit %d: %w", u.ID, err)
		}
		offer := UnitOffer{Unit: u}
		if rec != nil {
			price := rec.Price
			offer.Price = &price
		}
		out = append(out, offer)
	}
	return out, nil
}

// AcceptSuggestion persists a suggestion as a "suggested" link awaiting verification.
func (e *Engine) AcceptSuggestion(ctx context.Context, s *Suggestion) (*models.ProductLink, error) {
	if s.ProductA.Source == s.ProductB.Source {
		return nil, ErrSameSource
	}
	stored, created, err := e.store.CreateLink(ctx, &models.ProductLink{
		ProductAID:      s.ProductA.ID,
		ProductBID:      s.ProductB.ID,
		LinkType:        models.LinkTypeSuggested,
		ConfidenceScore: s.Score,
		MatchReason:     strings.Join(s.Reasons, "; "),
		IsActive:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: link %d", ErrLinkExists, stored.ID)
	}
	metrics.RecordLinksCreated(string(models.LinkTypeSuggested), 1)
	return stored, nil
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}
