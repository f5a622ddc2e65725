package models

import "strings"

type UnitType string

const (
	UnitPiece  UnitType = "piece"
	UnitKG     UnitType = "kg"
	UnitGram   UnitType = "gram"
	UnitLiter  UnitType = "liter"
	UnitML     UnitType = "ml"
	UnitPack   UnitType = "pack"
	UnitBox    UnitType = "box"
	UnitCarton UnitType = "carton"
)

var unitTypeNames = map[string]UnitType{
	"piece": UnitPiece, "pcs": UnitPiece, "unit": UnitPiece, "قطعة": UnitPiece, "وحدة": UnitPiece,
	"kg": UnitKG, "kilo": UnitKG, "كيلو": UnitKG,
	"gram": UnitGram, "g": UnitGram, "جرام": UnitGram,
	"liter": UnitLiter, "l": UnitLiter, "لتر": UnitLiter,
	"ml": UnitML,
	"pack": UnitPack, "باكت": UnitPack, "عبوة": UnitPack,
	"box": UnitBox, "علبة": UnitBox,
	"carton": UnitCarton, "كرتونة": UnitCarton, "كرتون": UnitCarton, "دستة": UnitCarton,
}

// ParseUnitType maps a source unit label (Arabic or English) to a UnitType; unknown labels are pieces.
func ParseUnitType(label string) UnitType {
	if t, ok := unitTypeNames[strings.ToLower(strings.TrimSpace(label))]; ok {
		return t
	}
	return UnitPiece
}
