package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "EGP"

// PriceRecord - неизменяемая запись истории цен. Добавляется только при изменении цены или наличия.
type PriceRecord struct {
	ID            int64            `db:"id" json:"id"`
	ProductID     int64            `db:"product_id" json:"product_id"`
	UnitID        *int64           `db:"unit_id" json:"unit_id,omitempty"`
	Source        Source           `db:"source_app" json:"source_app"`
	Price         decimal.Decimal  `db:"price" json:"price"`
	OriginalPrice *decimal.Decimal `db:"original_price" json:"original_price,omitempty"`
	Currency      string           `db:"currency" json:"currency"`
	IsAvailable   bool             `db:"is_available" json:"is_available"`
	RecordedAt    time.Time        `db:"recorded_at" json:"recorded_at"`
	ScrapeJobID   *int64           `db:"scrape_job_id" json:"scrape_job_id,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// DiscountPercentage is derived on read: round((1 - price/original) * 100, 2) when
// the original price is above the selling price, nil otherwise.
func DiscountPercentage(price decimal.Decimal, original *decimal.Decimal) *decimal.Decimal {
	if original == nil || !original.IsPositive() || !original.GreaterThan(price) {
		return nil
	}
	d := decimal.NewFromInt(1).Sub(price.Div(*original)).Mul(hundred).Round(2)
	return &d
}

func (p *PriceRecord) Discount() *decimal.Decimal {
	return DiscountPercentage(p.Price, p.OriginalPrice)
}

// PriceObservation is what a scrape saw for one (product, unit) at one moment.
type PriceObservation struct {
	Price         decimal.Decimal
	OriginalPrice *decimal.Decimal
	IsAvailable   bool
}

// Differs reports whether the observation should produce a new history record
// relative to the latest stored one.
func (o PriceObservation) Differs(latest *PriceRecord) bool {
	if latest == nil {
		return true
	}
	return !latest.Price.Equal(o.Price) || latest.IsAvailable != o.IsAvailable
}
