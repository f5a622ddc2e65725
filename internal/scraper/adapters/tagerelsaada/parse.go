package tagerelsaada

import (
	"strconv"
	"strings"

	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
)

const defaultUnitName = "قطعة"

// ParseProduct разбирает товар с его единицами. Цена и наличие есть только у единиц,
// штрихкод товара берется из первой единицы.
func (a *Adapter) ParseProduct(raw services.RawRecord) (*services.ParsedProduct, error) {
	id := raw.String("id")
	if id == "" {
		return nil, clients.NewValidationError("id", "missing product id")
	}
	name := raw.String("name")
	if name == "" {
		return nil, clients.NewValidationError("name", "product %s has no name", id)
	}

	product := models.Product{
		Source:             a.Source(),
		ExternalID:         id,
		Name:               name,
		NameAr:             name,
		Description:        raw.String("description"),
		SKU:                raw.String("sku"),
		CategoryExternalID: categoryOf(raw),
		UnitType:           string(models.UnitPiece),
		MinOrderQuantity:   1,
		IsActive:           true,
	}
	if vendor := raw.Record("vendor"); vendor != nil {
		product.Brand = vendor.String("name")
	}
	if img := raw.Record("base_image"); img != nil {
		product.ImageURL = img.String("url")
	}

	units := raw.Records("units")
	parsed := &services.ParsedProduct{Product: product, Units: make([]services.ParsedUnit, 0, len(units))}
	for idx, u := range units {
		parsed.Units = append(parsed.Units, parseUnit(id, idx, u))
	}
	if len(parsed.Units) > 0 {
		parsed.Product.Barcode = parsed.Units[0].Unit.Barcode
	}
	return parsed, nil
}

func parseUnit(productID string, idx int, raw services.RawRecord) services.ParsedUnit {
	extID := raw.String("id")
	if extID == "" {
		extID = productID + "_" + strconv.Itoa(idx)
	}
	name := raw.String("name")
	if name == "" {
		name = defaultUnitName
	}
	factor, ok := raw.Int("factor")
	if !ok || factor <= 0 {
		factor = 1
	}
	isBase, _ := raw.Bool("base_unit")

	unit := models.ProductUnit{
		ExternalID:  extID,
		Name:        name,
		NameAr:      name,
		Factor:      factor,
		Barcode:     firstBarcode(raw.String("barcode")),
		IsBaseUnit:  isBase || idx == 0,
		MinQuantity: 1,
		IsActive:    true,
	}

	out := services.ParsedUnit{Unit: unit}
	price, ok := raw.Decimal("price")
	if !ok || !price.IsPositive() {
		return out
	}
	obs := &models.PriceObservation{Price: price}
	if old, ok := raw.Decimal("old_price"); ok && old.IsPositive() {
		obs.OriginalPrice = &old
	}
	obs.IsAvailable, _ = raw.Bool("in_stock")
	out.Observation = obs
	return out
}

// firstBarcode: у единицы может быть несколько штрихкодов через запятую.
func firstBarcode(s string) string {
	first, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(first)
}

func categoryOf(raw services.RawRecord) string {
	if id := raw.String("category_id"); id != "" {
		return id
	}
	if cats := raw.Records("categories"); len(cats) > 0 {
		return cats[0].String("id")
	}
	return ""
}

func (a *Adapter) ParseCategory(raw services.RawRecord) (*models.Category, error) {
	id := raw.String("id")
	if id == "" {
		return nil, clients.NewValidationError("id", "missing category id")
	}
	name := raw.String("name")
	c := &models.Category{
		Source:           a.Source(),
		ExternalID:       id,
		Name:             name,
		NameAr:           name,
		ParentExternalID: raw.String("parent_id"),
		IsActive:         true,
	}
	if pos, ok := raw.Int("position"); ok {
		c.SortOrder = pos
	}
	if images := raw.Record("images"); images != nil {
		c.ImageURL = images.String("logo_url")
	}
	return c, nil
}

func (a *Adapter) ParseBrand(raw services.RawRecord) (*models.Brand, error) {
	id := raw.String("id")
	if id == "" {
		return nil, clients.NewValidationError("id", "missing vendor id")
	}
	name := raw.String("name")
	return &models.Brand{
		Source:     a.Source(),
		ExternalID: id,
		Name:       name,
		NameAr:     name,
		ImageURL:   raw.String("image_url"),
	}, nil
}

var (
	_ services.SourceAdapter  = (*Adapter)(nil)
	_ services.Paced          = (*Adapter)(nil)
	_ services.CatalogFetcher = (*Adapter)(nil)
	_ services.BrandFetcher   = (*Adapter)(nil)
)
