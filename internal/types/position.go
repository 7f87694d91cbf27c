package types

import "github.com/shopspring/decimal"

// DefaultCommissionRate is the exchange round-trip fee approximation applied
// symmetrically on entry and exit: 0.15% (0.11% plus headroom).
var DefaultCommissionRate = decimal.RequireFromString("0.0015")

// Position is a snapshot of net exposure in one symbol, published to
// observers on every fill. The mutable accounting lives in the ledger;
// this type carries no behavior.
type Position struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	// Size is the net base-currency quantity held. Never negative.
	Size decimal.Decimal `yaml:"size" json:"size"`
	// AvgPrice is the volume-weighted average entry price with the entry
	// commission folded in. Zero when Size is zero.
	AvgPrice decimal.Decimal `yaml:"avg_price" json:"avg_price"`
	// TotalCost is the commission-inclusive cost basis of the open position.
	TotalCost   decimal.Decimal `yaml:"total_cost" json:"total_cost"`
	RealizedPnL decimal.Decimal `yaml:"realized_pnl" json:"realized_pnl"`
	// EntryOrders and TPOrders are the orders associated with the current
	// cycle, in placement order.
	EntryOrders []Order `yaml:"entry_orders" json:"entry_orders"`
	TPOrders    []Order `yaml:"tp_orders" json:"tp_orders"`
}

// HasPosition reports whether any quantity is held.
func (p *Position) HasPosition() bool {
	return p.Size.Sign() > 0
}
