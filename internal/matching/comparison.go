package matching

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/storage"
)

const defaultMatrixLimit = 50

// MatchKind tells how an offer was tied to the primary product.
type MatchKind string

const (
	MatchSelf    MatchKind = "self"
	MatchBarcode MatchKind = "barcode"
	MatchLink    MatchKind = "link"
)

// PricedUnit - упаковка с последней ценой. Unit == nil означает цену на уровне товара.
type PricedUnit struct {
	Unit            *models.ProductUnit `json:"unit,omitempty"`
	Price           *decimal.Decimal    `json:"price,omitempty"`
	OriginalPrice   *decimal.Decimal    `json:"original_price,omitempty"`
	Discount        *decimal.Decimal    `json:"discount_percentage,omitempty"`
	IsAvailable     bool                `json:"is_available"`
	NormalizedPrice *decimal.Decimal    `json:"normalized_price,omitempty"`
}

// Offer is one source's version of a product with its priced units.
// BestPrice is the lowest per-base-unit price among available units.
type Offer struct {
	Source    models.Source    `json:"source_app"`
	Product   *models.Product  `json:"product"`
	MatchedBy MatchKind        `json:"matched_by"`
	Units     []PricedUnit     `json:"units"`
	BestPrice *decimal.Decimal `json:"best_price,omitempty"`
}

type ProductComparison struct {
	Product      *models.Product  `json:"product"`
	Offers       []*Offer         `json:"offers"`
	LowestPrice  *decimal.Decimal `json:"lowest_price,omitempty"`
	HighestPrice *decimal.Decimal `json:"highest_price,omitempty"`
	Difference   *decimal.Decimal `json:"price_difference,omitempty"`
	SourcesCount int              `json:"sources_count"`
}

// CompareProduct prices a product against everything linked to it.
func (e *Engine) CompareProduct(ctx context.Context, productID int64) (*ProductComparison, error) {
	p, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}

	self, err := e.offer(ctx, p, MatchSelf)
	if err != nil {
		return nil, err
	}
	res := &ProductComparison{Product: p, Offers: []*Offer{self}}

	linked, err := e.LinkedProducts(ctx, productID)
	if err != nil {
		return nil, err
	}
	for _, lp := range linked {
		o, err := e.offer(ctx, lp.Product, MatchLink)
		if err != nil {
			return nil, err
		}
		res.Offers = append(res.Offers, o)
	}

	sources := make(map[models.Source]struct{})
	for _, o := range res.Offers {
		sources[o.Source] = struct{}{}
		if o.BestPrice == nil {
			continue
		}
		if res.LowestPrice == nil || o.BestPrice.LessThan(*res.LowestPrice) {
			res.LowestPrice = o.BestPrice
		}
		if res.HighestPrice == nil || o.BestPrice.GreaterThan(*res.HighestPrice) {
			res.HighestPrice = o.BestPrice
		}
	}
	res.SourcesCount = len(sources)
	if res.LowestPrice != nil {
		diff := res.HighestPrice.Sub(*res.LowestPrice)
		res.Difference = &diff
	}
	return res, nil
}

type MatrixOptions struct {
	// Primary is the source whose products form the rows; the first of Sources by default.
	Primary models.Source
	// Sources are the matrix columns in display order; all known sources by default.
	Sources []models.Source
	Limit   int
	Offset  int
}

type MatrixRow struct {
	Primary *models.Product `json:"primary"`
	// Offers is aligned with Matrix.Sources; a nil entry means the source has no match.
	Offers    []*Offer         `json:"offers"`
	BestDeal  models.Source    `json:"best_deal,omitempty"`
	BestPrice *decimal.Decimal `json:"best_price,omitempty"`
}

type Matrix struct {
	Primary models.Source   `json:"primary"`
	Sources []models.Source `json:"sources"`
	Rows    []*MatrixRow    `json:"rows"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ComparisonMatrix builds one row per primary product. Each column resolves to the
// primary itself, then a same-barcode product, then a linked product.
func (e *Engine) ComparisonMatrix(ctx context.Context, opts MatrixOptions) (*Matrix, error) {
	sources := opts.Sources
	if len(sources) == 0 {
		sources = models.KnownSources()
	}
	for _, s := range sources {
		if !s.Valid() {
			return nil, fmt.Errorf("unknown source %q", s)
		}
	}
	primary := opts.Primary
	if primary == "" {
		primary = sources[0]
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultMatrixLimit
	}

	page, err := e.store.ListProducts(ctx, storage.ProductFilter{
		Source: primary, ActiveOnly: true, Limit: limit, Offset: opts.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list primary products: %w", err)
	}

	m := &Matrix{Primary: primary, Sources: sources, Rows: make([]*MatrixRow, 0, len(page)), Limit: limit, Offset: opts.Offset}
	byBarcode := make(map[string][]*models.Product)
	for _, p := range page {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := e.matrixRow(ctx, p, sources, byBarcode)
		if err != nil {
			return nil, err
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

func (e *Engine) matrixRow(ctx context.Context, p *models.Product, sources []models.Source, byBarcode map[string][]*models.Product) (*MatrixRow, error) {
	row := &MatrixRow{Primary: p, Offers: make([]*Offer, len(sources))}

	var (
		sameBarcode []*models.Product
		linked      []LinkedProduct
		linksLoaded bool
	)
	if bc := strings.TrimSpace(p.Barcode); bc != "" {
		cached, ok := byBarcode[bc]
		if !ok {
			found, err := e.store.ListProductsByBarcode(ctx, bc)
			if err != nil {
				return nil, err
			}
			byBarcode[bc], cached = found, found
		}
		sameBarcode = cached
	}

	for i, source := range sources {
		var (
			match *models.Product
			kind  MatchKind
		)
		switch {
		case p.Source == source:
			match, kind = p, MatchSelf
		default:
			if other := firstFrom(sameBarcode, source, p.ID); other != nil {
				match, kind = other, MatchBarcode
				break
			}
			if !linksLoaded {
				var err error
				if linked, err = e.LinkedProducts(ctx, p.ID); err != nil {
					return nil, err
				}
				linksLoaded = true
			}
			for _, lp := range linked {
				if lp.Product.Source == source && lp.Product.IsActive {
					match, kind = lp.Product, MatchLink
					break
				}
			}
		}
		if match == nil {
			continue
		}

		o, err := e.offer(ctx, match, kind)
		if err != nil {
			return nil, err
		}
		row.Offers[i] = o
		// При равной цене выигрывает источник, стоящий раньше в списке.
		if o.BestPrice != nil && (row.BestPrice == nil || o.BestPrice.LessThan(*row.BestPrice)) {
			row.BestPrice, row.BestDeal = o.BestPrice, source
		}
	}
	return row, nil
}

func firstFrom(products []*models.Product, source models.Source, exclude int64) *models.Product {
	for _, p := range products {
		if p.Source == source && p.ID != exclude && p.IsActive {
			return p
		}
	}
	return nil
}

// offer expands a product into priced units; products without units fall back
// to their product-level price.
func (e *Engine) offer(ctx context.Context, p *models.Product, kind MatchKind) (*Offer, error) {
	o := &Offer{Source: p.Source, Product: p, MatchedBy: kind}

	units, err := e.store.ListUnits(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list units of %d: %w", p.ID, err)
	}
	for _, u := range units {
		if !u.IsActive {
			continue
		}
		pu, err := e.pricedUnit(ctx, p.ID, u)
		if err != nil {
			return nil, err
		}
		o.Units = append(o.Units, pu)
	}
	if len(o.Units) == 0 {
		pu, err := e.pricedUnit(ctx, p.ID, nil)
		if err != nil {
			return nil, err
		}
		o.Units = append(o.Units, pu)
	}

	for _, pu := range o.Units {
		if !pu.IsAvailable || pu.NormalizedPrice == nil {
			continue
		}
		if o.BestPrice == nil || pu.NormalizedPrice.LessThan(*o.BestPrice) {
			o.BestPrice = pu.NormalizedPrice
		}
	}
	return o, nil
}

func (e *Engine) pricedUnit(ctx context.Context, productID int64, u *models.ProductUnit) (PricedUnit, error) {
	var unitID *int64
	if u != nil {
		unitID = &u.ID
	}
	rec, err := e.store.LatestPrice(ctx, productID, unitID)
	if err != nil {
		return PricedUnit{}, fmt.Errorf("latest price of product %d: %w", productID, err)
	}
	pu := PricedUnit{Unit: u}
	if rec == nil {
		return pu, nil
	}
	price := rec.Price
	pu.Price = &price
	pu.OriginalPrice = rec.OriginalPrice
	pu.Discount = rec.Discount()
	pu.IsAvailable = rec.IsAvailable
	if n, ok := NormalizedPrice(UnitOffer{Unit: u, Price: &price}); ok {
		pu.NormalizedPrice = &n
	}
	return pu, nil
}
