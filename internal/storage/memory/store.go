package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

type naturalKey struct {
	source     models.Source
	externalID string
}

type unitKey struct {
	productID  int64
	externalID string
}

// Store - хранилище в памяти с той же семантикой, что и Postgres. Используется в тестах
// и для пробных прогонов без базы.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	nextID int64

	categories    map[int64]*models.Category
	categoryByKey map[naturalKey]int64
	brands        map[int64]*models.Brand
	brandByKey    map[naturalKey]int64
	products      map[int64]*models.Product
	productByKey  map[naturalKey]int64
	units         map[int64]*models.ProductUnit
	unitByKey     map[unitKey]int64
	prices        []*models.PriceRecord
	jobs          map[int64]*models.ScrapeJob
	credentials   map[models.Source]*models.Credential
	links         map[int64]*models.ProductLink
	linkByKey     map[models.LinkKey]int64
}

func NewStore() *Store {
	return &Store{
		now:           time.Now,
		categories:    make(map[int64]*models.Category),
		categoryByKey: make(map[naturalKey]int64),
		brands:        make(map[int64]*models.Brand),
		brandByKey:    make(map[naturalKey]int64),
		products:      make(map[int64]*models.Product),
		productByKey:  make(map[naturalKey]int64),
		units:         make(map[int64]*models.ProductUnit),
		unitByKey:     make(map[unitKey]int64),
		jobs:          make(map[int64]*models.ScrapeJob),
		credentials:   make(map[models.Source]*models.Credential),
		links:         make(map[int64]*models.ProductLink),
		linkByKey:     make(map[models.LinkKey]int64),
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) UpsertCategory(_ context.Context, c *models.Category) (*models.Category, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := naturalKey{c.Source, c.ExternalID}
	if id, ok := s.categoryByKey[key]; ok {
		existing := s.categories[id]
		updated := *c
		updated.ID, updated.CreatedAt, updated.UpdatedAt = id, existing.CreatedAt, now
		s.categories[id] = &updated
		out := updated
		return &out, false, nil
	}
	stored := *c
	stored.ID, stored.CreatedAt, stored.UpdatedAt = s.id(), now, now
	s.categories[stored.ID] = &stored
	s.categoryByKey[key] = stored.ID
	out := stored
	return &out, true, nil
}

func (s *Store) UpsertBrand(_ context.Context, b *models.Brand) (*models.Brand, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := naturalKey{b.Source, b.ExternalID}
	if id, ok := s.brandByKey[key]; ok {
		existing := s.brands[id]
		updated := *b
		updated.ID, updated.CreatedAt, updated.UpdatedAt = id, existing.CreatedAt, now
		s.brands[id] = &updated
		out := updated
		return &out, false, nil
	}
	stored := *b
	stored.ID, stored.CreatedAt, stored.UpdatedAt = s.id(), now, now
	s.brands[stored.ID] = &stored
	s.brandByKey[key] = stored.ID
	out := stored
	return &out, true, nil
}

func (s *Store) UpsertProduct(_ context.Context, p *models.Product) (*models.Product, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := *p
	if p.CategoryExternalID != "" {
		if cid, ok := s.categoryByKey[naturalKey{p.Source, p.CategoryExternalID}]; ok {
			stored.CategoryID = &cid
		}
	}
	stored.LastSeenAt = now

	key := naturalKey{p.Source, p.ExternalID}
	if id, ok := s.productByKey[key]; ok {
		stored.ID, stored.FirstSeenAt = id, s.products[id].FirstSeenAt
		s.products[id] = &stored
		out := stored
		return &out, false, nil
	}
	stored.ID, stored.FirstSeenAt = s.id(), now
	s.products[stored.ID] = &stored
	s.productByKey[key] = stored.ID
	out := stored
	return &out, true, nil
}

func (s *Store) UpsertUnit(_ context.Context, u *models.ProductUnit) (*models.ProductUnit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[u.ProductID]; !ok {
		return nil, false, storage.ErrNotFound
	}
	stored := *u
	key := unitKey{u.ProductID, u.ExternalID}
	if id, ok := s.unitByKey[key]; ok {
		stored.ID = id
		s.units[id] = &stored
		out := stored
		return &out, false, nil
	}
	stored.ID = s.id()
	s.units[stored.ID] = &stored
	s.unitByKey[key] = stored.ID
	out := stored
	return &out, true, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	out := *p
	return &out, nil
}

func (s *Store) GetProducts(_ context.Context, ids []int64) ([]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortProducts(out)
	return out, nil
}

func (s *Store) ListProducts(_ context.Context, f storage.ProductFilter) ([]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Product
	for _, p := range s.products {
		if f.Source != "" && p.Source != f.Source {
			continue
		}
		if f.WithBarcode && strings.TrimSpace(p.Barcode) == "" {
			continue
		}
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sortProducts(out)
	return paginate(out, f.Limit, f.Offset), nil
}

func (s *Store) ListProductsByBarcode(_ context.Context, barcode string) ([]*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	barcode = strings.TrimSpace(barcode)
	var out []*models.Product
	if barcode == "" {
		return out, nil
	}
	for _, p := range s.products {
		if strings.TrimSpace(p.Barcode) == barcode {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortProducts(out)
	return out, nil
}

func (s *Store) GetUnit(_ context.Context, id int64) (*models.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

func (s *Store) ListUnits(_ context.Context, productID int64) ([]*models.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProductUnit
	for _, u := range s.units {
		if u.ProductID == productID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sortUnits(out)
	return out, nil
}

func (s *Store) ListUnitsWithBarcode(_ context.Context) ([]*models.ProductUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProductUnit
	for _, u := range s.units {
		if strings.TrimSpace(u.Barcode) != "" && u.IsActive {
			cp := *u
			out = append(out, &cp)
		}
	}
	sortUnits(out)
	return out, nil
}

func sortProducts(ps []*models.Product) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
}

// Единицы упорядочены по коэффициенту, как в исходной схеме.
func sortUnits(us []*models.ProductUnit) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].Factor != us[j].Factor {
			return us[i].Factor < us[j].Factor
		}
		return us[i].ID < us[j].ID
	})
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
