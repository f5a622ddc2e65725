package memory

import (
	"context"
	"sort"
	"time"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

func (s *Store) CreateLink(_ context.Context, l *models.ProductLink) (*models.ProductLink, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.Canonicalize(l.ProductAID, l.ProductBID, l.UnitAID, l.UnitBID)
	if id, ok := s.linkByKey[key]; ok {
		out := *s.links[id]
		return &out, false, nil
	}
	if _, ok := s.products[key.ProductAID]; !ok {
		return nil, false, storage.ErrNotFound
	}
	if _, ok := s.products[key.ProductBID]; !ok {
		return nil, false, storage.ErrNotFound
	}

	now := s.now()
	stored := *l
	stored.ID = s.id()
	stored.ProductAID, stored.ProductBID = key.ProductAID, key.ProductBID
	stored.UnitAID, stored.UnitBID = key.UnitPointers()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.links[stored.ID] = &stored
	s.linkByKey[key] = stored.ID
	out := stored
	return &out, true, nil
}

func (s *Store) GetLink(_ context.Context, id int64) (*models.ProductLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return nil, nil
	}
	out := *l
	return &out, nil
}

func (s *Store) VerifyLink(_ context.Context, id int64, verifiedBy string, at time.Time) (*models.ProductLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	l.VerifiedBy = verifiedBy
	l.VerifiedAt = &at
	if l.LinkType == models.LinkTypeSuggested {
		l.LinkType = models.LinkTypeVerified
	}
	l.UpdatedAt = s.now()
	out := *l
	return &out, nil
}

func (s *Store) DeleteLink(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[id]
	if !ok {
		return false, nil
	}
	delete(s.linkByKey, l.Key())
	delete(s.links, id)
	return true, nil
}

func (s *Store) HasActiveLink(_ context.Context, productA, productB int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if productA > productB {
		productA, productB = productB, productA
	}
	for _, l := range s.links {
		if l.IsActive && l.ProductAID == productA && l.ProductBID == productB {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) LinksForProduct(_ context.Context, productID int64) ([]*models.ProductLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProductLink
	for _, l := range s.links {
		if l.IsActive && (l.ProductAID == productID || l.ProductBID == productID) {
			cp := *l
			out = append(out, &cp)
		}
	}
	sortLinks(out)
	return out, nil
}

func (s *Store) ListActiveLinks(_ context.Context) ([]*models.ProductLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProductLink
	for _, l := range s.links {
		if l.IsActive {
			cp := *l
			out = append(out, &cp)
		}
	}
	sortLinks(out)
	return out, nil
}

func sortLinks(ls []*models.ProductLink) {
	sort.Slice(ls, func(i, j int) bool { return ls[i].ID < ls[j].ID })
}

var _ storage.Store = (*Store)(nil)
