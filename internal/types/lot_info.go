package types

import "github.com/shopspring/decimal"

// LotInfo carries the per-symbol exchange constraints from the LOT_SIZE and
// PRICE_FILTER filters: quantity bounds and step, price bounds and tick.
type LotInfo struct {
	MinQty   decimal.Decimal `yaml:"min_qty" json:"min_qty"`
	MaxQty   decimal.Decimal `yaml:"max_qty" json:"max_qty"`
	StepSize decimal.Decimal `yaml:"step_size" json:"step_size"`
	MinPrice decimal.Decimal `yaml:"min_price" json:"min_price"`
	MaxPrice decimal.Decimal `yaml:"max_price" json:"max_price"`
	TickSize decimal.Decimal `yaml:"tick_size" json:"tick_size"`
}
