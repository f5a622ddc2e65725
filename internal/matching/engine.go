package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/clock"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
	"gomarket_pricewatch/metrics"
	"gomarket_pricewatch/pkg/business/service"
	"gomarket_pricewatch/pkg/logger"
)

var (
	ErrSameProduct      = errors.New("cannot link a product to itself")
	ErrSameSource       = errors.New("cannot link products from the same source")
	ErrProductNotFound  = errors.New("product not found")
	ErrUnitNotOwned     = errors.New("unit does not belong to the product")
	ErrLinkExists       = errors.New("link already exists")
	ErrLinkNotFound     = errors.New("link not found")
	ErrVerifierRequired = errors.New("verifier is required")
)

// LinkStats summarizes one barcode auto-link pass.
type LinkStats struct {
	Processed        int      `json:"products_processed"`
	Created          int      `json:"links_created"`
	Skipped          int      `json:"links_skipped"`
	UnitLinksCreated int      `json:"unit_links_created"`
	Errors           []string `json:"errors"`
}

// Engine связывает товары разных источников: по штрихкоду, эвристикой и вручную.
type Engine struct {
	store  storage.Store
	text   service.ITextService
	scorer *Scorer
	units  *UnitMatcher
	clock  clock.Clock
	log    logger.Logger
}

func New(store storage.Store, w Weights, uw UnitWeights, clk clock.Clock, log logger.Logger) *Engine {
	if clk == nil {
		clk = clock.WallClock
	}
	text := service.NewTextService()
	return &Engine{
		store:  store,
		text:   text,
		scorer: NewScorer(w, text),
		units:  NewUnitMatcher(uw, text),
		clock:  clk,
		log:    log,
	}
}

func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

func (e *Engine) Units() *UnitMatcher {
	return e.units
}

// AutoLinkByBarcode links every cross-source pair of active products sharing a
// trimmed barcode. With a non-empty source only barcode groups touching that
// source are linked. A second pass links units sharing a barcode.
func (e *Engine) AutoLinkByBarcode(ctx context.Context, source models.Source) (*LinkStats, error) {
	products, err := e.store.ListProducts(ctx, storage.ProductFilter{WithBarcode: true, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list barcoded products: %w", err)
	}

	stats := &LinkStats{Errors: []string{}}
	groups := make(map[string][]*models.Product)
	for _, p := range products {
		bc := strings.TrimSpace(p.Barcode)
		groups[bc] = append(groups[bc], p)
	}

	for _, bc := range sortedKeys(groups) {
		group := groups[bc]
		if source != "" && !touches(group, source) {
			continue
		}
		stats.Processed += len(group)
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Source == b.Source {
					continue
				}
				if err := ctx.Err(); err != nil {
					return stats, err
				}
				created, err := e.linkIfAbsent(ctx, a.ID, b.ID, nil, nil, models.LinkTypeBarcode, "matching barcode: "+bc)
				switch {
				case err != nil:
					stats.Errors = append(stats.Errors, fmt.Sprintf("barcode %s (%d, %d): %v", bc, a.ID, b.ID, err))
				case created:
					stats.Created++
				default:
					stats.Skipped++
				}
			}
		}
	}

	if err := e.linkUnitBarcodes(ctx, source, stats); err != nil {
		return stats, err
	}

	metrics.RecordLinksCreated(string(models.LinkTypeBarcode), stats.Created)
	metrics.RecordLinksCreated(string(models.LinkTypeUnitBarcode), stats.UnitLinksCreated)
	e.log.Log("barcode auto-link: processed=%d created=%d skipped=%d unit_links=%d errors=%d",
		stats.Processed, stats.Created, stats.Skipped, stats.UnitLinksCreated, len(stats.Errors))
	return stats, nil
}

// linkIfAbsent creates a product-level link unless any active link already ties the pair.
func (e *Engine) linkIfAbsent(ctx context.Context, a, b int64, unitA, unitB *int64, typ models.LinkType, reason string) (bool, error) {
	if unitA == nil && unitB == nil {
		exists, err := e.store.HasActiveLink(ctx, a, b)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}
	_, created, err := e.store.CreateLink(ctx, &models.ProductLink{
		ProductAID:      a,
		ProductBID:      b,
		UnitAID:         unitA,
		UnitBID:         unitB,
		LinkType:        typ,
		ConfidenceScore: 1,
		MatchReason:     reason,
		IsActive:        true,
	})
	return created, err
}

func (e *Engine) linkUnitBarcodes(ctx context.Context, source models.Source, stats *LinkStats) error {
	units, err := e.store.ListUnitsWithBarcode(ctx)
	if err != nil {
		return fmt.Errorf("list barcoded units: %w", err)
	}
	if len(units) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ProductID)
	}
	owners, err := e.store.GetProducts(ctx, ids)
	if err != nil {
		return fmt.Errorf("load unit owners: %w", err)
	}
	byID := make(map[int64]*models.Product, len(owners))
	for _, p := range owners {
		byID[p.ID] = p
	}

	groups := make(map[string][]*models.ProductUnit)
	for _, u := range units {
		if p, ok := byID[u.ProductID]; ok && p.IsActive {
			bc := strings.TrimSpace(u.Barcode)
			groups[bc] = append(groups[bc], u)
		}
	}

	for _, bc := range sortedKeys(groups) {
		group := groups[bc]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				ua, ub := group[i], group[j]
				pa, pb := byID[ua.ProductID], byID[ub.ProductID]
				if pa.Source == pb.Source {
					continue
				}
				if source != "" && pa.Source != source && pb.Source != source {
					continue
				}
				created, err := e.linkIfAbsent(ctx, pa.ID, pb.ID, &ua.ID, &ub.ID, models.LinkTypeUnitBarcode, "matching unit barcode: "+bc)
				switch {
				case err != nil:
					stats.Errors = append(stats.Errors, fmt.Sprintf("unit barcode %s (%d, %d): %v", bc, ua.ID, ub.ID, err))
				case created:
					stats.UnitLinksCreated++
				}
			}
		}
	}
	return nil
}

// ManualLink describes a human-asserted identity between two products,
// optionally narrowed to a unit pair.
type ManualLink struct {
	ProductAID int64
	ProductBID int64
	UnitAID    *int64
	UnitBID    *int64
	VerifiedBy string
}

// CreateManualLink validates the pair completely before writing anything.
func (e *Engine) CreateManualLink(ctx context.Context, req ManualLink) (*models.ProductLink, error) {
	if req.ProductAID == req.ProductBID {
		return nil, ErrSameProduct
	}
	a, b, err := e.productPair(ctx, req.ProductAID, req.ProductBID)
	if err != nil {
		return nil, err
	}
	if a.Source == b.Source {
		return nil, fmt.Errorf("%w: both products are from %s", ErrSameSource, a.Source)
	}
	if err := e.checkUnitOwner(ctx, req.UnitAID, a.ID); err != nil {
		return nil, err
	}
	if err := e.checkUnitOwner(ctx, req.UnitBID, b.ID); err != nil {
		return nil, err
	}

	link := &models.ProductLink{
		ProductAID:      a.ID,
		ProductBID:      b.ID,
		UnitAID:         req.UnitAID,
		UnitBID:         req.UnitBID,
		LinkType:        models.LinkTypeManual,
		ConfidenceScore: 1,
		MatchReason:     "manually linked by user",
		IsActive:        true,
	}
	if req.VerifiedBy != "" {
		now := e.clock.Now()
		link.VerifiedBy, link.VerifiedAt = req.VerifiedBy, &now
	}

	stored, created, err := e.store.CreateLink(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: link %d", ErrLinkExists, stored.ID)
	}
	metrics.RecordLinksCreated(string(models.LinkTypeManual), 1)
	e.log.Log("manual link %d: %d <-> %d", stored.ID, stored.ProductAID, stored.ProductBID)
	return stored, nil
}

func (e *Engine) productPair(ctx context.Context, aID, bID int64) (*models.Product, *models.Product, error) {
	a, err := e.store.GetProduct(ctx, aID)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrProductNotFound, aID)
	}
	b, err := e.store.GetProduct(ctx, bID)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("%w: %d", ErrProductNotFound, bID)
	}
	return a, b, nil
}

func (e *Engine) checkUnitOwner(ctx context.Context, unitID *int64, productID int64) error {
	if unitID == nil {
		return nil
	}
	u, err := e.store.GetUnit(ctx, *unitID)
	if err != nil {
		return err
	}
	if u == nil || u.ProductID != productID {
		return fmt.Errorf("%w: unit %d, product %d", ErrUnitNotOwned, *unitID, productID)
	}
	return nil
}

// VerifyLink records who confirmed the link; a suggested link becomes verified.
func (e *Engine) VerifyLink(ctx context.Context, id int64, verifiedBy string) (*models.ProductLink, error) {
	if strings.TrimSpace(verifiedBy) == "" {
		return nil, ErrVerifierRequired
	}
	link, err := e.store.VerifyLink(ctx, id, verifiedBy, e.clock.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrLinkNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	e.log.Log("link %d verified by %s", id, verifiedBy)
	return link, nil
}

func (e *Engine) DeleteLink(ctx context.Context, id int64) error {
	ok, err := e.store.DeleteLink(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrLinkNotFound, id)
	}
	return nil
}

func (e *Engine) GetLink(ctx context.Context, id int64) (*models.ProductLink, error) {
	link, err := e.store.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, fmt.Errorf("%w: %d", ErrLinkNotFound, id)
	}
	return link, nil
}

// LinkedProduct is a product reachable through one active link.
type LinkedProduct struct {
	Product *models.Product     `json:"product"`
	Link    *models.ProductLink `json:"link"`
}

// LinkedProducts returns products on the other side of the product's active links,
// one entry per distinct product, in link order.
func (e *Engine) LinkedProducts(ctx context.Context, productID int64) ([]LinkedProduct, error) {
	links, err := e.store.LinksForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(links))
	first := make(map[int64]*models.ProductLink, len(links))
	for _, l := range links {
		other := l.Other(productID)
		if _, ok := first[other]; ok {
			continue
		}
		first[other] = l
		ids = append(ids, other)
	}
	products, err := e.store.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	out := make([]LinkedProduct, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, LinkedProduct{Product: p, Link: first[id]})
		}
	}
	return out, nil
}

func touches(group []*models.Product, source models.Source) bool {
	for _, p := range group {
		if p.Source == source {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
