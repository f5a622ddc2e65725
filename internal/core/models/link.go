package models

import "time"

type LinkType string

const (
	LinkTypeBarcode     LinkType = "barcode"
	LinkTypeUnitBarcode LinkType = "unit_barcode"
	LinkTypeManual      LinkType = "manual"
	LinkTypeSuggested   LinkType = "suggested"
	LinkTypeVerified    LinkType = "verified"
)

func (t LinkType) Valid() bool {
	switch t {
	case LinkTypeBarcode, LinkTypeUnitBarcode, LinkTypeManual, LinkTypeSuggested, LinkTypeVerified:
		return true
	}
	return false
}

// ProductLink утверждает, что два товара (или две упаковки) из разных источников - одно и то же.
// Хранится в каноническом порядке: ProductAID < ProductBID.
type ProductLink struct {
	ID              int64      `db:"id" json:"id"`
	ProductAID      int64      `db:"product_a_id" json:"product_a_id"`
	ProductBID      int64      `db:"product_b_id" json:"product_b_id"`
	UnitAID         *int64     `db:"unit_a_id" json:"unit_a_id,omitempty"`
	UnitBID         *int64     `db:"unit_b_id" json:"unit_b_id,omitempty"`
	LinkType        LinkType   `db:"link_type" json:"link_type"`
	ConfidenceScore float64    `db:"confidence_score" json:"confidence_score"`
	MatchReason     string     `db:"match_reason" json:"match_reason"`
	VerifiedBy      string     `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt      *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// LinkKey is the uniqueness key of a link after canonical ordering.
type LinkKey struct {
	ProductAID int64
	ProductBID int64
	UnitAID    int64
	UnitBID    int64
}

// Canonicalize orders the pair so the smaller product id comes first, swapping the
// unit pair along with it. Zero unit ids mean "product level".
func Canonicalize(productA, productB int64, unitA, unitB *int64) LinkKey {
	ua, ub := unitValue(unitA), unitValue(unitB)
	if productA > productB {
		productA, productB = productB, productA
		ua, ub = ub, ua
	}
	return LinkKey{ProductAID: productA, ProductBID: productB, UnitAID: ua, UnitBID: ub}
}

func (k LinkKey) UnitPointers() (*int64, *int64) {
	var a, b *int64
	if k.UnitAID != 0 {
		v := k.UnitAID
		a = &v
	}
	if k.UnitBID != 0 {
		v := k.UnitBID
		b = &v
	}
	return a, b
}

func (l *ProductLink) Key() LinkKey {
	return Canonicalize(l.ProductAID, l.ProductBID, l.UnitAID, l.UnitBID)
}

// Other returns the id on the opposite side of the link from productID.
func (l *ProductLink) Other(productID int64) int64 {
	if l.ProductAID == productID {
		return l.ProductBID
	}
	return l.ProductAID
}

func unitValue(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
