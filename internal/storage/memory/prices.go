package memory

import (
	"context"
	"sort"
	"time"

	"gomarket_pricewatch/internal/core/models"
)

func sameUnit(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) latestLocked(productID int64, unitID *int64) *models.PriceRecord {
	var latest *models.PriceRecord
	for _, r := range s.prices {
		if r.ProductID != productID || !sameUnit(r.UnitID, unitID) {
			continue
		}
		if latest == nil || !r.RecordedAt.Before(latest.RecordedAt) {
			latest = r
		}
	}
	return latest
}

func (s *Store) LatestPrice(_ context.Context, productID int64, unitID *int64) (*models.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest := s.latestLocked(productID, unitID)
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (s *Store) AppendPriceIfChanged(_ context.Context, productID int64, unitID *int64, source models.Source,
	obs models.PriceObservation, jobID *int64) (*models.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !obs.Differs(s.latestLocked(productID, unitID)) {
		return nil, nil
	}
	rec := &models.PriceRecord{
		ID:            s.id(),
		ProductID:     productID,
		UnitID:        copyID(unitID),
		Source:        source,
		Price:         obs.Price,
		OriginalPrice: obs.OriginalPrice,
		Currency:      models.DefaultCurrency,
		IsAvailable:   obs.IsAvailable,
		RecordedAt:    s.now(),
		ScrapeJobID:   copyID(jobID),
	}
	s.prices = append(s.prices, rec)
	out := *rec
	return &out, nil
}

func (s *Store) PriceHistory(_ context.Context, productID int64, unitID *int64, limit int) ([]*models.PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PriceRecord
	for _, r := range s.prices {
		if r.ProductID == productID && sameUnit(r.UnitID, unitID) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) DeletePricesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.prices[:0]
	var deleted int64
	for _, r := range s.prices {
		if r.RecordedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.prices = kept
	return deleted, nil
}

func copyID(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
