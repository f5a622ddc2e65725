package zahcode

import (
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
)

// ParseProduct: каждый вариант (علبة, باكت, كرتونة) становится единицей со своей ценой.
func (a *Adapter) ParseProduct(raw services.RawRecord) (*services.ParsedProduct, error) {
	id := raw.String("id")
	if id == "" {
		return nil, clients.NewValidationError("id", "missing product id")
	}
	name := raw.String("name")
	if name == "" {
		return nil, clients.NewValidationError("name", "product %s has no name", id)
	}

	stock, _ := raw.Float("stock")
	available := stock > 0
	description := a.text.RemoveTags(raw.String("description"))

	product := models.Product{
		Source:             a.source,
		ExternalID:         id,
		Name:               name,
		NameAr:             name,
		Description:        description,
		SKU:                id,
		CategoryExternalID: raw.String("category_id"),
		ImageURL:           raw.String("image"),
		UnitType:           string(models.UnitPiece),
		MinOrderQuantity:   1,
		ExtraData:          raw.Raw("stock", "total_allowed_quantity", "category_name"),
		IsActive:           true,
	}
	if maxQty, ok := raw.Int("total_allowed_quantity"); ok && maxQty > 0 {
		product.MaxOrderQuantity = &maxQty
	}

	variants := raw.Records("variants")
	parsed := &services.ParsedProduct{Product: product}
	for i, v := range variants {
		vid := v.String("id")
		if vid == "" {
			continue
		}
		unitName := v.String("unit")
		factor, ok := v.Int("measurement")
		if !ok || factor <= 0 {
			factor = 1
		}
		if i == 0 {
			parsed.Product.UnitType = string(models.ParseUnitType(unitName))
		}
		unit := models.ProductUnit{
			ExternalID:  vid,
			Name:        unitName,
			NameAr:      unitName,
			Factor:      factor,
			IsBaseUnit:  i == 0,
			MinQuantity: 1,
			IsActive:    true,
		}
		if offerQty, ok := v.Int("offer_quantity"); ok && offerQty > 1 {
			unit.MinQuantity = offerQty
		}
		pu := services.ParsedUnit{Unit: unit}

		price, ok := v.Decimal("discounted_price")
		if !ok || price.IsZero() {
			price, ok = v.Decimal("price")
		}
		if ok {
			obs := &models.PriceObservation{Price: price, IsAvailable: available}
			if original, ok := v.Decimal("price"); ok && !original.IsZero() {
				obs.OriginalPrice = &original
			}
			pu.Observation = obs
		}
		parsed.Units = append(parsed.Units, pu)
	}
	return parsed, nil
}

func (a *Adapter) ParseCategory(raw services.RawRecord) (*models.Category, error) {
	id := raw.String("id")
	if id == "" {
		return nil, clients.NewValidationError("id", "missing category id")
	}
	name := raw.String("name")
	return &models.Category{
		Source:     a.source,
		ExternalID: id,
		Name:       name,
		NameAr:     name,
		ImageURL:   raw.String("image"),
		IsActive:   true,
	}, nil
}
