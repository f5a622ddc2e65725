package models

import (
	"encoding/json"
	"time"
)

// Category хранится с уникальностью по (source, external_id).
type Category struct {
	ID               int64     `db:"id" json:"id"`
	Source           Source    `db:"source_app" json:"source_app"`
	ExternalID       string    `db:"external_id" json:"external_id"`
	Name             string    `db:"name" json:"name"`
	NameAr           string    `db:"name_ar" json:"name_ar,omitempty"`
	ParentExternalID string    `db:"parent_external_id" json:"parent_external_id,omitempty"`
	ImageURL         string    `db:"image_url" json:"image_url,omitempty"`
	SortOrder        int       `db:"sort_order" json:"sort_order"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

type Brand struct {
	ID         int64     `db:"id" json:"id"`
	Source     Source    `db:"source_app" json:"source_app"`
	ExternalID string    `db:"external_id" json:"external_id"`
	Name       string    `db:"name" json:"name"`
	NameAr     string    `db:"name_ar" json:"name_ar,omitempty"`
	ImageURL   string    `db:"image_url" json:"image_url,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Product is one source's view of a sellable item, before any cross-source linking.
type Product struct {
	ID                 int64           `db:"id" json:"id"`
	Source             Source          `db:"source_app" json:"source_app"`
	ExternalID         string          `db:"external_id" json:"external_id"`
	Name               string          `db:"name" json:"name"`
	NameAr             string          `db:"name_ar" json:"name_ar,omitempty"`
	Description        string          `db:"description" json:"description,omitempty"`
	SKU                string          `db:"sku" json:"sku,omitempty"`
	Barcode            string          `db:"barcode" json:"barcode,omitempty"`
	Brand              string          `db:"brand" json:"brand,omitempty"`
	CategoryID         *int64          `db:"category_id" json:"category_id,omitempty"`
	CategoryExternalID string          `db:"-" json:"category_external_id,omitempty"`
	ImageURL           string          `db:"image_url" json:"image_url,omitempty"`
	UnitType           string          `db:"unit_type" json:"unit_type,omitempty"`
	MinOrderQuantity   int             `db:"min_order_quantity" json:"min_order_quantity"`
	MaxOrderQuantity   *int            `db:"max_order_quantity" json:"max_order_quantity,omitempty"`
	ExtraData          json.RawMessage `db:"extra_data" json:"extra_data,omitempty"`
	IsActive           bool            `db:"is_active" json:"is_active"`
	FirstSeenAt        time.Time       `db:"first_seen_at" json:"first_seen_at"`
	LastSeenAt         time.Time       `db:"last_seen_at" json:"last_seen_at"`
}

// ProductUnit - вариант упаковки товара. Factor показывает, сколько базовых единиц в упаковке.
type ProductUnit struct {
	ID          int64  `db:"id" json:"id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ExternalID  string `db:"external_id" json:"external_id"`
	Name        string `db:"name" json:"name"`
	NameAr      string `db:"name_ar" json:"name_ar,omitempty"`
	Factor      int    `db:"factor" json:"factor"`
	Barcode     string `db:"barcode" json:"barcode,omitempty"`
	IsBaseUnit  bool   `db:"is_base_unit" json:"is_base_unit"`
	MinQuantity int    `db:"min_quantity" json:"min_quantity"`
	MaxQuantity *int   `db:"max_quantity" json:"max_quantity,omitempty"`
	IsActive    bool   `db:"is_active" json:"is_active"`
}

// EffectiveFactor treats a missing or non-positive factor as a single base unit.
func (u *ProductUnit) EffectiveFactor() int {
	if u.Factor <= 0 {
		return 1
	}
	return u.Factor
}
