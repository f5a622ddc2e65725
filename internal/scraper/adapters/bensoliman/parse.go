package bensoliman

import (
	"gomarket_pricewatch/internal/core/models"
	"gomarket_pricewatch/internal/core/services"
	"gomarket_pricewatch/internal/scraper/pkg/clients"
)

// ParseProduct переводит запись items в товар. Цена продажи SellPrice, исходная ItemPrice.
func (a *Adapter) ParseProduct(raw services.RawRecord) (*services.ParsedProduct, error) {
	id := raw.String("ItemCode")
	if id == "" {
		return nil, clients.NewValidationError("ItemCode", "missing item code")
	}
	name := raw.String("Name")
	if name == "" {
		return nil, clients.NewValidationError("Name", "item %s has no name", id)
	}

	unitName := "piece"
	if codes := raw.Records("u_codes"); len(codes) > 0 {
		if n := codes[0].String("U_Name"); n != "" {
			unitName = n
		}
	}
	minQty, ok := raw.Int("MinimumQuantity")
	if !ok || minQty <= 0 {
		minQty = 1
	}

	product := models.Product{
		Source:             a.Source(),
		ExternalID:         id,
		Name:               name,
		NameAr:             name,
		Description:        raw.String("Description"),
		SKU:                id,
		Barcode:            raw.String("BarCode"),
		Brand:              raw.String("BrandId"),
		CategoryExternalID: raw.String("CategoryCode"),
		ImageURL:           a.image(raw.String("ImageName")),
		UnitType:           string(models.ParseUnitType(unitName)),
		MinOrderQuantity:   minQty,
		ExtraData:          raw.Raw("Balance", "SalesLimit", "Coins", "Stars", "ItemPoints", "IsFav", "Offers", "u_codes"),
		IsActive:           true,
	}

	parsed := &services.ParsedProduct{Product: product}
	price, ok := raw.Decimal("SellPrice")
	if !ok || price.IsZero() {
		price, ok = raw.Decimal("ItemPrice")
	}
	if ok {
		obs := &models.PriceObservation{Price: price}
		if original, ok := raw.Decimal("ItemPrice"); ok && !original.IsZero() {
			obs.OriginalPrice = &original
		}
		balance, _ := raw.Float("Balance")
		obs.IsAvailable = balance > 0
		parsed.Observation = obs
	}
	return parsed, nil
}

func (a *Adapter) ParseCategory(raw services.RawRecord) (*models.Category, error) {
	id := raw.String("category_Id")
	if id == "" {
		return nil, clients.NewValidationError("category_Id", "missing category id")
	}
	name := raw.String("Name")
	return &models.Category{
		Source:     a.Source(),
		ExternalID: id,
		Name:       name,
		NameAr:     name,
		ImageURL:   a.image(raw.String("ImageName")),
		IsActive:   true,
	}, nil
}

func (a *Adapter) ParseBrand(raw services.RawRecord) (*models.Brand, error) {
	id := raw.First("BrandId", "Brand_Id", "Id", "id")
	if id == "" {
		return nil, clients.NewValidationError("BrandId", "missing brand id")
	}
	name := raw.First("Name", "BrandName", "name")
	return &models.Brand{
		Source:     a.Source(),
		ExternalID: id,
		Name:       name,
		NameAr:     name,
		ImageURL:   a.image(raw.String("ImageName")),
	}, nil
}

var (
	_ services.SourceAdapter = (*Adapter)(nil)
	_ services.Paced         = (*Adapter)(nil)
	_ services.BrandFetcher  = (*Adapter)(nil)
	_ services.OfferFetcher  = (*Adapter)(nil)
)
