package matching

// Weights настраивает эвристический скоринг пары товаров.
// Каждый сигнал учитывается только выше своего порога.
type Weights struct {
	SKUExact         float64 `yaml:"sku_exact"`
	SKUNear          float64 `yaml:"sku_near"`
	SKUNearThreshold float64 `yaml:"sku_near_threshold"`

	TokenJaccard   float64 `yaml:"token_jaccard"`
	TokenThreshold float64 `yaml:"token_threshold"`

	Sequence          float64 `yaml:"sequence"`
	SequenceThreshold float64 `yaml:"sequence_threshold"`

	// SecondaryName weighs the same name pipeline run over the secondary-language field.
	SecondaryName float64 `yaml:"secondary_name"`

	BrandBonus       float64 `yaml:"brand_bonus"`
	ContainmentBonus float64 `yaml:"containment_bonus"`
	// SignalBonus is added once per contributing signal.
	SignalBonus float64 `yaml:"signal_bonus"`
	// HeuristicCap bounds every score that is not backed by an exact barcode or SKU.
	HeuristicCap float64 `yaml:"heuristic_cap"`
}

func DefaultWeights() Weights {
	return Weights{
		SKUExact:          1.0,
		SKUNear:           0.9,
		SKUNearThreshold:  0.8,
		TokenJaccard:      1.0,
		TokenThreshold:    0.5,
		Sequence:          1.0,
		SequenceThreshold: 0.6,
		SecondaryName:     0.9,
		BrandBonus:        0.1,
		ContainmentBonus:  0.05,
		SignalBonus:       0.02,
		HeuristicCap:      0.99,
	}
}

// UnitWeights настраивает сравнение упаковок внутри пары товаров.
// Factor + Name + Price по умолчанию дают в сумме 1.0.
type UnitWeights struct {
	Factor          float64 `yaml:"factor"`
	FactorTolerance float64 `yaml:"factor_tolerance"`

	Name          float64 `yaml:"name"`
	NameThreshold float64 `yaml:"name_threshold"`

	Price          float64 `yaml:"price"`
	PriceThreshold float64 `yaml:"price_threshold"`

	// FactorWarningBelow flags unit pairs whose factor ratio is suspiciously low.
	FactorWarningBelow float64 `yaml:"factor_warning_below"`
}

func DefaultUnitWeights() UnitWeights {
	return UnitWeights{
		Factor:             0.4,
		FactorTolerance:    0.8,
		Name:               0.3,
		NameThreshold:      0.5,
		Price:              0.3,
		PriceThreshold:     0.7,
		FactorWarningBelow: 0.5,
	}
}
