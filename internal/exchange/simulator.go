package exchange

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/quantize"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/errors"
	"go.uber.org/zap"
)

// DefaultSimulatorLotInfo is used for symbols without explicit lot info.
// The values mirror a typical BTC/USDT spot market.
var DefaultSimulatorLotInfo = types.LotInfo{
	MinQty:   decimal.RequireFromString("0.00001"),
	MaxQty:   decimal.RequireFromString("10000"),
	StepSize: decimal.RequireFromString("0.00001"),
	MinPrice: decimal.RequireFromString("1.0"),
	MaxPrice: decimal.RequireFromString("1000000"),
	TickSize: decimal.RequireFromString("0.01"),
}

type symbolAssets struct {
	base  string
	quote string
}

type simOrder struct {
	request    types.OrderRequest
	limitPrice decimal.Decimal
	status     types.OrderStatus
	filledQty  decimal.Decimal
	filledCost decimal.Decimal
}

func (o *simOrder) remaining() decimal.Decimal {
	return o.request.Quantity.Sub(o.filledQty)
}

func (o *simOrder) avgPrice() decimal.Decimal {
	if o.filledQty.Sign() <= 0 {
		return o.limitPrice
	}

	return o.filledCost.Div(o.filledQty)
}

// Simulator is a deterministic in-memory Exchange. Orders fill only in
// response to explicit mark-price moves or FillOrder calls, so tests can
// script an exact market scenario. All methods are safe for concurrent use.
type Simulator struct {
	mu sync.Mutex

	log *logger.Logger

	markPrices map[string]decimal.Decimal
	lotInfos   map[string]types.LotInfo
	balances   map[string]decimal.Decimal
	assets     map[string]symbolAssets
	orders     map[string]*simOrder

	connected bool
}

// NewSimulator creates an empty simulator with no prices or balances set.
func NewSimulator(log *logger.Logger) *Simulator {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Simulator{
		log:        log,
		markPrices: make(map[string]decimal.Decimal),
		lotInfos:   make(map[string]types.LotInfo),
		balances:   make(map[string]decimal.Decimal),
		assets:     make(map[string]symbolAssets),
		orders:     make(map[string]*simOrder),
		connected:  true,
	}
}

// RegisterSymbol enables balance accounting for a symbol by naming its base
// and quote assets. Unregistered symbols trade without balance checks.
func (s *Simulator) RegisterSymbol(symbol, baseAsset, quoteAsset string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets[symbol] = symbolAssets{base: baseAsset, quote: quoteAsset}
}

// SetLotInfo overrides the lot constraints for a symbol.
func (s *Simulator) SetLotInfo(symbol string, lot types.LotInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lotInfos[symbol] = lot
}

// SetBalance sets the free balance of an asset.
func (s *Simulator) SetBalance(asset string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.balances[asset] = amount
}

// SetConnected toggles simulated connectivity. While disconnected every
// call returns ErrCodeConnectivity.
func (s *Simulator) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = connected
}

// SetPrice moves the mark price of a symbol and fills any resting limit
// order the move crosses: buys fill when the mark reaches the limit price
// or below, sells when it reaches the limit price or above. Crossed orders
// fill completely at their limit price.
func (s *Simulator) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markPrices[symbol] = price

	for id, order := range s.orders {
		if order.request.Symbol != symbol || order.status.IsTerminal() {
			continue
		}

		if order.request.Kind != types.OrderKindLimit {
			continue
		}

		crossed := (order.request.Side == types.PurchaseTypeBuy && price.LessThanOrEqual(order.limitPrice)) ||
			(order.request.Side == types.PurchaseTypeSell && price.GreaterThanOrEqual(order.limitPrice))
		if crossed {
			s.fillLocked(id, order, order.remaining(), order.limitPrice)
		}
	}
}

// FillOrder force-fills part of a resting order at its limit price. Used by
// tests to script partial fills.
func (s *Simulator) FillOrder(orderID string, quantity decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order not found: %s", orderID)
	}

	if order.status.IsTerminal() {
		return errors.Newf(errors.ErrCodeInvalidOrder, "order %s is already %s", orderID, order.status)
	}

	if quantity.GreaterThan(order.remaining()) {
		quantity = order.remaining()
	}

	price := order.limitPrice
	if order.request.Kind == types.OrderKindMarket {
		price = s.markPrices[order.request.Symbol]
	}

	s.fillLocked(orderID, order, quantity, price)

	return nil
}

// OpenOrderCount returns the number of non-terminal orders.
func (s *Simulator) OpenOrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0

	for _, order := range s.orders {
		if !order.status.IsTerminal() {
			count++
		}
	}

	return count
}

// GetBalance returns the free balance of an asset, zero if never set.
func (s *Simulator) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return decimal.Zero, errDisconnected()
	}

	balance, ok := s.balances[asset]
	if !ok {
		return decimal.Zero, nil
	}

	return balance, nil
}

// GetCurrentPrice returns the mark price of a symbol.
func (s *Simulator) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return decimal.Zero, errDisconnected()
	}

	price, ok := s.markPrices[symbol]
	if !ok {
		return decimal.Zero, errors.Newf(errors.ErrCodeQueryFailed, "no mark price set for symbol %s", symbol)
	}

	return price, nil
}

// GetLotInfo returns the lot constraints for a symbol, falling back to
// DefaultSimulatorLotInfo.
func (s *Simulator) GetLotInfo(ctx context.Context, symbol string) (types.LotInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return types.LotInfo{}, errDisconnected()
	}

	if lot, ok := s.lotInfos[symbol]; ok {
		return lot, nil
	}

	return DefaultSimulatorLotInfo, nil
}

// CreateOrder quantizes and accepts an order. Market orders fill completely
// at the current mark price; limit orders that already cross the mark fill
// at their limit price, the rest stay open until SetPrice crosses them.
func (s *Simulator) CreateOrder(ctx context.Context, request types.OrderRequest) (types.OrderResult, error) {
	if err := request.Validate(); err != nil {
		return types.OrderResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return types.OrderResult{}, errDisconnected()
	}

	lot, ok := s.lotInfos[request.Symbol]
	if !ok {
		lot = DefaultSimulatorLotInfo
	}

	quantity, err := quantize.Quantity(request.Quantity, lot.StepSize, lot.MinQty, lot.MaxQty)
	if err != nil {
		return types.OrderResult{}, err
	}

	if quantity.Sign() <= 0 {
		return types.OrderResult{}, errors.Newf(errors.ErrCodeBelowMinimumSize,
			"quantity %s is below the minimum lot %s for %s", request.Quantity, lot.MinQty, request.Symbol)
	}

	request.Quantity = quantity

	mark, hasMark := s.markPrices[request.Symbol]

	var limitPrice decimal.Decimal

	if request.Kind == types.OrderKindLimit {
		limitPrice, err = quantize.Price(request.Price.Unwrap(), lot.TickSize, lot.MinPrice, lot.MaxPrice)
		if err != nil {
			return types.OrderResult{}, err
		}
	} else if !hasMark {
		return types.OrderResult{}, errors.Newf(errors.ErrCodeOrderRejected, "no mark price set for symbol %s", request.Symbol)
	}

	if err := s.checkBalanceLocked(request, limitPrice, mark); err != nil {
		return types.OrderResult{}, err
	}

	order := &simOrder{
		request:    request,
		limitPrice: limitPrice,
		status:     types.OrderStatusPending,
		filledQty:  decimal.Zero,
		filledCost: decimal.Zero,
	}

	id := uuid.NewString()
	s.orders[id] = order

	switch {
	case request.Kind == types.OrderKindMarket:
		s.fillLocked(id, order, quantity, mark)
	case hasMark && request.Side == types.PurchaseTypeBuy && mark.LessThanOrEqual(limitPrice):
		s.fillLocked(id, order, quantity, limitPrice)
	case hasMark && request.Side == types.PurchaseTypeSell && mark.GreaterThanOrEqual(limitPrice):
		s.fillLocked(id, order, quantity, limitPrice)
	}

	return types.OrderResult{
		ID:        id,
		Status:    order.status,
		FilledQty: order.filledQty,
		AvgPrice:  order.avgPrice(),
		Amount:    quantity,
	}, nil
}

// CancelOrder cancels a resting order. Cancelling a terminal order is a
// no-op, matching exchange idempotency.
func (s *Simulator) CancelOrder(ctx context.Context, symbol, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errDisconnected()
	}

	order, ok := s.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order not found: %s", orderID)
	}

	if order.status.IsTerminal() {
		return nil
	}

	order.status = types.OrderStatusCancelled

	s.log.Info("simulated order cancelled",
		zap.String("symbol", symbol),
		zap.String("order_id", orderID))

	return nil
}

// GetOrderInfo returns the current fill snapshot of an order.
func (s *Simulator) GetOrderInfo(ctx context.Context, symbol, orderID string) (types.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return types.OrderResult{}, errDisconnected()
	}

	order, ok := s.orders[orderID]
	if !ok {
		return types.OrderResult{}, errors.Newf(errors.ErrCodeOrderNotFound, "order not found: %s", orderID)
	}

	return types.OrderResult{
		ID:        orderID,
		Status:    order.status,
		FilledQty: order.filledQty,
		AvgPrice:  order.avgPrice(),
		Amount:    order.request.Quantity,
	}, nil
}

// IsOrderFilled reports whether the order is completely filled.
func (s *Simulator) IsOrderFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	info, err := s.GetOrderInfo(ctx, symbol, orderID)
	if err != nil {
		return false, err
	}

	return info.Status == types.OrderStatusFilled, nil
}

// CheckConnection reports the simulated connectivity state.
func (s *Simulator) CheckConnection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return errDisconnected()
	}

	return nil
}

// checkBalanceLocked rejects orders the registered balances cannot fund.
// Resting limit orders do not reserve balance.
func (s *Simulator) checkBalanceLocked(request types.OrderRequest, limitPrice, mark decimal.Decimal) error {
	assets, ok := s.assets[request.Symbol]
	if !ok {
		return nil
	}

	if request.Side == types.PurchaseTypeBuy {
		price := limitPrice
		if request.Kind == types.OrderKindMarket {
			price = mark
		}

		required := request.Quantity.Mul(price)
		if s.balances[assets.quote].LessThan(required) {
			return errors.Newf(errors.ErrCodeInsufficientBalance,
				"insufficient %s balance: need %s, have %s", assets.quote, required, s.balances[assets.quote])
		}

		return nil
	}

	if s.balances[assets.base].LessThan(request.Quantity) {
		return errors.Newf(errors.ErrCodeInsufficientBalance,
			"insufficient %s balance: need %s, have %s", assets.base, request.Quantity, s.balances[assets.base])
	}

	return nil
}

// fillLocked applies a fill to an order and moves the registered balances.
func (s *Simulator) fillLocked(id string, order *simOrder, quantity, price decimal.Decimal) {
	if quantity.Sign() <= 0 {
		return
	}

	order.filledQty = order.filledQty.Add(quantity)
	order.filledCost = order.filledCost.Add(quantity.Mul(price))

	if order.filledQty.GreaterThanOrEqual(order.request.Quantity) {
		order.status = types.OrderStatusFilled
	} else {
		order.status = types.OrderStatusPartiallyFilled
	}

	if assets, ok := s.assets[order.request.Symbol]; ok {
		cost := quantity.Mul(price)
		if order.request.Side == types.PurchaseTypeBuy {
			s.balances[assets.quote] = s.balances[assets.quote].Sub(cost)
			s.balances[assets.base] = s.balances[assets.base].Add(quantity)
		} else {
			s.balances[assets.base] = s.balances[assets.base].Sub(quantity)
			s.balances[assets.quote] = s.balances[assets.quote].Add(cost)
		}
	}

	s.log.Info("simulated fill",
		zap.String("symbol", order.request.Symbol),
		zap.String("order_id", id),
		zap.String("side", string(order.request.Side)),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("status", string(order.status)))
}

func errDisconnected() error {
	return errors.New(errors.ErrCodeConnectivity, "simulated exchange is disconnected")
}

// Ensure Simulator implements Exchange.
var _ Exchange = (*Simulator)(nil)
