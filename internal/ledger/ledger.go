// Package ledger tracks the net position of one trading cycle. All fills
// flow through a single Ledger which maintains the commission-effective
// cost basis, the volume-weighted average price and the realized PnL.
package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/errors"
	"go.uber.org/zap"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Ledger is the single source of truth for the open position of a symbol.
// Fills are applied at commission-effective prices: buys cost slightly more
// than the traded price and sells return slightly less, so PnL figures are
// net of fees without a separate fee leg.
type Ledger struct {
	mu sync.Mutex

	symbol         string
	commissionRate decimal.Decimal
	log            *logger.Logger

	size        decimal.Decimal
	avgPrice    decimal.Decimal
	totalCost   decimal.Decimal
	realizedPnL decimal.Decimal

	entryOrders []types.Order
	tpOrders    []types.Order
}

// NewLedger creates an empty ledger for the given symbol. A non-positive
// commissionRate falls back to types.DefaultCommissionRate.
func NewLedger(symbol string, commissionRate decimal.Decimal, log *logger.Logger) *Ledger {
	if commissionRate.Sign() <= 0 {
		commissionRate = types.DefaultCommissionRate
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Ledger{
		symbol:         symbol,
		commissionRate: commissionRate,
		log:            log,
		size:           decimal.Zero,
		avgPrice:       decimal.Zero,
		totalCost:      decimal.Zero,
		realizedPnL:    decimal.Zero,
	}
}

// ApplyFill applies a fill at the given traded price and quantity.
//
// Buys accrue cost at price * (1 + commissionRate) and move the average
// price. Sells realize PnL against the pre-trade average price at
// price * (1 - commissionRate); a sell larger than the open size is clamped
// to the open size, and a sell that closes the position exactly zeroes the
// average price and cost basis.
func (l *Ledger) ApplyFill(side types.PurchaseType, quantity, price decimal.Decimal) error {
	if quantity.Sign() <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill quantity must be positive, got %s", quantity)
	}

	if price.Sign() <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "fill price must be positive, got %s", price)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch side {
	case types.PurchaseTypeBuy:
		l.applyBuy(quantity, price)
	case types.PurchaseTypeSell:
		l.applySell(quantity, price)
	default:
		return errors.Newf(errors.ErrCodeInvalidParameter, "unknown fill side: %s", side)
	}

	return nil
}

func (l *Ledger) applyBuy(quantity, price decimal.Decimal) {
	effective := price.Mul(one.Add(l.commissionRate))

	l.totalCost = l.totalCost.Add(quantity.Mul(effective))
	l.size = l.size.Add(quantity)
	l.avgPrice = l.totalCost.Div(l.size)

	l.log.Info("buy fill applied",
		zap.String("symbol", l.symbol),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("avg_price", l.avgPrice.String()),
		zap.String("size", l.size.String()))
}

func (l *Ledger) applySell(quantity, price decimal.Decimal) {
	if l.size.Sign() <= 0 {
		l.log.Warn("sell fill ignored, no open position",
			zap.String("symbol", l.symbol),
			zap.String("quantity", quantity.String()))

		return
	}

	if quantity.GreaterThan(l.size) {
		l.log.Warn("sell fill exceeds open size, clamping",
			zap.String("symbol", l.symbol),
			zap.String("quantity", quantity.String()),
			zap.String("size", l.size.String()))
		quantity = l.size
	}

	effective := price.Mul(one.Sub(l.commissionRate))

	l.realizedPnL = l.realizedPnL.Add(effective.Sub(l.avgPrice).Mul(quantity))
	l.totalCost = l.totalCost.Sub(l.avgPrice.Mul(quantity))
	l.size = l.size.Sub(quantity)

	if l.size.Sign() == 0 {
		l.avgPrice = decimal.Zero
		l.totalCost = decimal.Zero
	}

	l.log.Info("sell fill applied",
		zap.String("symbol", l.symbol),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("realized_pnl", l.realizedPnL.String()),
		zap.String("size", l.size.String()))
}

// Size returns the net base-currency quantity held.
func (l *Ledger) Size() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.size
}

// AvgPrice returns the commission-inclusive volume-weighted average price.
func (l *Ledger) AvgPrice() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.avgPrice
}

// TotalCost returns the commission-inclusive cost basis of the open position.
func (l *Ledger) TotalCost() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.totalCost
}

// RealizedPnL returns the PnL realized by sells since the last Reset.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.realizedPnL
}

// HasPosition reports whether any quantity is held.
func (l *Ledger) HasPosition() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.size.Sign() > 0
}

// UnrealizedPnL returns the PnL of liquidating the open position at
// currentPrice, net of the exit commission. Zero when no position is held.
func (l *Ledger) UnrealizedPnL(currentPrice decimal.Decimal) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size.Sign() <= 0 {
		return decimal.Zero
	}

	proceeds := currentPrice.Mul(l.size).Mul(one.Sub(l.commissionRate))

	return proceeds.Sub(l.totalCost)
}

// TotalPnL returns realized plus unrealized PnL at currentPrice.
func (l *Ledger) TotalPnL(currentPrice decimal.Decimal) decimal.Decimal {
	return l.RealizedPnL().Add(l.UnrealizedPnL(currentPrice))
}

// TakeProfitLevels maps take-profit percentages to target prices above the
// current average price. Each level covers the profit percentage plus the
// exit commission. Returns nil when no position is held.
func (l *Ledger) TakeProfitLevels(percents []decimal.Decimal) []decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size.Sign() <= 0 {
		return nil
	}

	levels := make([]decimal.Decimal, 0, len(percents))
	for _, pct := range percents {
		markup := one.Add(pct.Div(hundred)).Add(l.commissionRate)
		levels = append(levels, l.avgPrice.Mul(markup))
	}

	return levels
}

// RecordEntryOrder appends an entry-side order to the cycle's order log.
func (l *Ledger) RecordEntryOrder(order types.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entryOrders = append(l.entryOrders, order)
}

// SetTPOrders replaces the tracked take-profit orders. TP orders are
// re-placed wholesale whenever the average price moves, so replacement
// rather than append matches their lifecycle.
func (l *Ledger) SetTPOrders(orders []types.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.tpOrders = append([]types.Order(nil), orders...)
}

// UpdateOrder replaces the tracked order with a matching ID, if any.
func (l *Ledger) UpdateOrder(order types.Order) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entryOrders {
		if l.entryOrders[i].ID == order.ID {
			l.entryOrders[i] = order

			return
		}
	}

	for i := range l.tpOrders {
		if l.tpOrders[i].ID == order.ID {
			l.tpOrders[i] = order

			return
		}
	}
}

// Reset clears all accounting for a fresh cycle.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.size = decimal.Zero
	l.avgPrice = decimal.Zero
	l.totalCost = decimal.Zero
	l.realizedPnL = decimal.Zero
	l.entryOrders = nil
	l.tpOrders = nil

	l.log.Info("ledger reset", zap.String("symbol", l.symbol))
}

// Snapshot returns an immutable copy of the current position.
func (l *Ledger) Snapshot() types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	return types.Position{
		Symbol:      l.symbol,
		Size:        l.size,
		AvgPrice:    l.avgPrice,
		TotalCost:   l.totalCost,
		RealizedPnL: l.realizedPnL,
		EntryOrders: append([]types.Order(nil), l.entryOrders...),
		TPOrders:    append([]types.Order(nil), l.tpOrders...),
	}
}
