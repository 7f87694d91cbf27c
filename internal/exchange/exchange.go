// Package exchange defines the contract between the cycle engine and a spot
// exchange, plus two implementations: a live Binance adapter and a
// deterministic in-memory simulator for tests and dry runs.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/types"
)

// Exchange is the minimal spot-trading surface the cycle engine needs.
// Implementations quantize quantities and prices to the symbol's lot grid
// before submission, so callers may pass raw computed values.
type Exchange interface {
	// GetBalance returns the free balance of a single asset.
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// GetCurrentPrice returns the latest traded price for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetLotInfo returns the symbol's quantity and price constraints.
	GetLotInfo(ctx context.Context, symbol string) (types.LotInfo, error)

	// CreateOrder submits an order and returns the exchange's view of it.
	CreateOrder(ctx context.Context, request types.OrderRequest) (types.OrderResult, error)

	// CancelOrder cancels an open order. Cancelling an order that is
	// already filled or cancelled is not an error.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderInfo returns the current fill snapshot of an order.
	GetOrderInfo(ctx context.Context, symbol, orderID string) (types.OrderResult, error)

	// IsOrderFilled reports whether the order is completely filled.
	IsOrderFilled(ctx context.Context, symbol, orderID string) (bool, error)

	// CheckConnection verifies connectivity and authentication.
	CheckConnection(ctx context.Context) error
}
