package exchange

import (
	"context"
	"strconv"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/internal/logger"
	"github.com/stratalab/dcacycle/internal/quantize"
	"github.com/stratalab/dcacycle/internal/types"
	"github.com/stratalab/dcacycle/pkg/errors"
	"go.uber.org/zap"
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// GetOrderService interface for querying a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(orderID int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// ListPricesService interface for fetching ticker prices.
type ListPricesService interface {
	Symbol(symbol string) ListPricesService
	Do(ctx context.Context) ([]*binance.SymbolPrice, error)
}

// ExchangeInfoService interface for fetching symbol filters.
type ExchangeInfoService interface {
	Symbols(symbols ...string) ExchangeInfoService
	Do(ctx context.Context) (*binance.ExchangeInfo, error)
}

// PingService interface for connectivity checks.
type PingService interface {
	Do(ctx context.Context) error
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewCancelOrderService() CancelOrderService
	NewGetOrderService() GetOrderService
	NewGetAccountService() GetAccountService
	NewListPricesService() ListPricesService
	NewExchangeInfoService() ExchangeInfoService
	NewPingService() PingService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewListPricesService() ListPricesService {
	return &realListPricesService{service: r.client.NewListPricesService()}
}

func (r *realBinanceClient) NewExchangeInfoService() ExchangeInfoService {
	return &realExchangeInfoService{service: r.client.NewExchangeInfoService()}
}

func (r *realBinanceClient) NewPingService() PingService {
	return &realPingService{service: r.client.NewPingService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrderID(orderID int64) GetOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realListPricesService struct {
	service *binance.ListPricesService
}

func (s *realListPricesService) Symbol(symbol string) ListPricesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListPricesService) Do(ctx context.Context) ([]*binance.SymbolPrice, error) {
	return s.service.Do(ctx)
}

type realExchangeInfoService struct {
	service *binance.ExchangeInfoService
}

func (s *realExchangeInfoService) Symbols(symbols ...string) ExchangeInfoService {
	s.service = s.service.Symbols(symbols...)

	return s
}

func (s *realExchangeInfoService) Do(ctx context.Context) (*binance.ExchangeInfo, error) {
	return s.service.Do(ctx)
}

type realPingService struct {
	service *binance.PingService
}

func (s *realPingService) Do(ctx context.Context) error {
	return s.service.Do(ctx)
}

// BinanceConfig holds credentials and endpoint selection for the live
// Binance adapter.
type BinanceConfig struct {
	APIKey    string `yaml:"api_key" json:"api_key" validate:"required"`
	SecretKey string `yaml:"secret_key" json:"secret_key" validate:"required"`
	// BaseURL overrides the endpoint and takes precedence over UseTestnet.
	BaseURL    string `yaml:"base_url" json:"base_url"`
	UseTestnet bool   `yaml:"use_testnet" json:"use_testnet"`
}

// Validate validates the BinanceConfig struct.
func (c *BinanceConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid binance configuration", err)
	}

	return nil
}

// BinanceExchange implements Exchange against the Binance spot API. It is
// stateless apart from a per-symbol lot info cache; exchange filters change
// rarely enough that one fetch per process is sufficient.
type BinanceExchange struct {
	client BinanceClient
	log    *logger.Logger

	lotMu    sync.Mutex
	lotCache map[string]types.LotInfo
}

// NewBinanceExchange creates a live Binance adapter.
func NewBinanceExchange(config BinanceConfig, log *logger.Logger) (*BinanceExchange, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.UseTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	return newBinanceExchangeWithClient(&realBinanceClient{client: client}, log), nil
}

// newBinanceExchangeWithClient creates an adapter with a custom client.
// This is used for testing with mock clients.
func newBinanceExchangeWithClient(client BinanceClient, log *logger.Logger) *BinanceExchange {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &BinanceExchange{
		client:   client,
		log:      log,
		lotCache: make(map[string]types.LotInfo),
	}
}

// GetBalance returns the free balance of the given asset.
func (b *BinanceExchange) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrCodeConnectivity, "failed to get account info from Binance", err)
	}

	for _, balance := range account.Balances {
		if balance.Asset == asset {
			free, parseErr := decimal.NewFromString(balance.Free)
			if parseErr != nil {
				return decimal.Zero, errors.Wrapf(errors.ErrCodeQueryFailed, parseErr, "unparseable balance for %s", asset)
			}

			return free, nil
		}
	}

	return decimal.Zero, nil
}

// GetCurrentPrice returns the latest ticker price for the symbol.
func (b *BinanceExchange) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(errors.ErrCodeConnectivity, "failed to get ticker price from Binance", err)
	}

	for _, p := range prices {
		if p.Symbol == symbol {
			price, parseErr := decimal.NewFromString(p.Price)
			if parseErr != nil {
				return decimal.Zero, errors.Wrapf(errors.ErrCodeQueryFailed, parseErr, "unparseable price for %s", symbol)
			}

			return price, nil
		}
	}

	return decimal.Zero, errors.Newf(errors.ErrCodeQueryFailed, "no ticker price for symbol %s", symbol)
}

// GetLotInfo returns the symbol's LOT_SIZE and PRICE_FILTER constraints,
// cached after the first fetch.
func (b *BinanceExchange) GetLotInfo(ctx context.Context, symbol string) (types.LotInfo, error) {
	b.lotMu.Lock()
	cached, ok := b.lotCache[symbol]
	b.lotMu.Unlock()

	if ok {
		return cached, nil
	}

	info, err := b.client.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return types.LotInfo{}, errors.Wrap(errors.ErrCodeConnectivity, "failed to get exchange info from Binance", err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}

		lot, convertErr := lotInfoFromFilters(&s)
		if convertErr != nil {
			return types.LotInfo{}, convertErr
		}

		b.lotMu.Lock()
		b.lotCache[symbol] = lot
		b.lotMu.Unlock()

		return lot, nil
	}

	return types.LotInfo{}, errors.Newf(errors.ErrCodeLotInfoNotFound, "symbol %s not found in exchange info", symbol)
}

// CreateOrder quantizes the request to the symbol's lot grid and submits it.
func (b *BinanceExchange) CreateOrder(ctx context.Context, request types.OrderRequest) (types.OrderResult, error) {
	if err := request.Validate(); err != nil {
		return types.OrderResult{}, err
	}

	lot, err := b.GetLotInfo(ctx, request.Symbol)
	if err != nil {
		return types.OrderResult{}, err
	}

	quantity, err := quantize.Quantity(request.Quantity, lot.StepSize, lot.MinQty, lot.MaxQty)
	if err != nil {
		return types.OrderResult{}, err
	}

	if quantity.Sign() <= 0 {
		return types.OrderResult{}, errors.Newf(errors.ErrCodeBelowMinimumSize,
			"quantity %s is below the minimum lot %s for %s", request.Quantity, lot.MinQty, request.Symbol)
	}

	service := b.client.NewCreateOrderService().
		Symbol(request.Symbol).
		Side(mapSide(request.Side)).
		Type(mapKind(request.Kind)).
		Quantity(quantity.String())

	if request.Kind == types.OrderKindLimit {
		limitPrice, priceErr := quantize.Price(request.Price.Unwrap(), lot.TickSize, lot.MinPrice, lot.MaxPrice)
		if priceErr != nil {
			return types.OrderResult{}, priceErr
		}

		service = service.
			Price(limitPrice.String()).
			TimeInForce(binance.TimeInForceTypeGTC)
	}

	response, err := service.Do(ctx)
	if err != nil {
		return types.OrderResult{}, wrapBinanceOrderError(err)
	}

	result := types.OrderResult{
		ID:        strconv.FormatInt(response.OrderID, 10),
		Status:    mapBinanceOrderStatus(response.Status),
		FilledQty: parseDecimalOrZero(response.ExecutedQuantity),
		AvgPrice:  avgFillPrice(response.ExecutedQuantity, response.CummulativeQuoteQuantity, response.Price),
		Amount:    quantity,
	}

	b.log.Info("order placed on Binance",
		zap.String("symbol", request.Symbol),
		zap.String("side", string(request.Side)),
		zap.String("kind", string(request.Kind)),
		zap.String("quantity", quantity.String()),
		zap.String("order_id", result.ID))

	return result, nil
}

// CancelOrder cancels an open order. An order that is already gone on the
// exchange side counts as cancelled.
func (b *BinanceExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order ID format", err)
	}

	_, err = b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		// -2011 UNKNOWN_ORDER: already filled or cancelled.
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2011 {
			return nil
		}

		return errors.Wrap(errors.ErrCodeOrderFailed, "failed to cancel order on Binance", err)
	}

	return nil
}

// GetOrderInfo returns the current fill snapshot of an order.
func (b *BinanceExchange) GetOrderInfo(ctx context.Context, symbol, orderID string) (types.OrderResult, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return types.OrderResult{}, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid order ID format", err)
	}

	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2013 {
			return types.OrderResult{}, errors.Newf(errors.ErrCodeOrderNotFound, "order not found: %s", orderID)
		}

		return types.OrderResult{}, errors.Wrap(errors.ErrCodeConnectivity, "failed to get order from Binance", err)
	}

	return types.OrderResult{
		ID:        strconv.FormatInt(order.OrderID, 10),
		Status:    mapBinanceOrderStatus(order.Status),
		FilledQty: parseDecimalOrZero(order.ExecutedQuantity),
		AvgPrice:  avgFillPrice(order.ExecutedQuantity, order.CummulativeQuoteQuantity, order.Price),
		Amount:    parseDecimalOrZero(order.OrigQuantity),
	}, nil
}

// IsOrderFilled reports whether the order is completely filled.
func (b *BinanceExchange) IsOrderFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	info, err := b.GetOrderInfo(ctx, symbol, orderID)
	if err != nil {
		return false, err
	}

	return info.Status == types.OrderStatusFilled, nil
}

// CheckConnection verifies connectivity and authentication against Binance.
func (b *BinanceExchange) CheckConnection(ctx context.Context) error {
	if err := b.client.NewPingService().Do(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeConnectivity, "failed to ping Binance API", err)
	}

	if _, err := b.client.NewGetAccountService().Do(ctx); err != nil {
		return errors.Wrap(errors.ErrCodeConnectivity, "failed to authenticate with Binance API", err)
	}

	return nil
}

// Helper functions

func mapSide(side types.PurchaseType) binance.SideType {
	if side == types.PurchaseTypeSell {
		return binance.SideTypeSell
	}

	return binance.SideTypeBuy
}

func mapKind(kind types.OrderKind) binance.OrderType {
	if kind == types.OrderKindLimit {
		return binance.OrderTypeLimit
	}

	return binance.OrderTypeMarket
}

// mapBinanceOrderStatus maps Binance order status to our OrderStatus type.
func mapBinanceOrderStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew:
		return types.OrderStatusPending
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	default:
		return types.OrderStatusCancelled
	}
}

// wrapBinanceOrderError distinguishes exchange-side rejections from
// transport failures.
func wrapBinanceOrderError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		// -2010 NEW_ORDER_REJECTED, -1013 filter failure.
		if apiErr.Code == -2010 || apiErr.Code == -1013 {
			return errors.Wrap(errors.ErrCodeOrderRejected, "order rejected by Binance", err)
		}
	}

	return errors.Wrap(errors.ErrCodeOrderFailed, "failed to place order on Binance", err)
}

func lotInfoFromFilters(s *binance.Symbol) (types.LotInfo, error) {
	lotFilter := s.LotSizeFilter()
	priceFilter := s.PriceFilter()

	if lotFilter == nil || priceFilter == nil {
		return types.LotInfo{}, errors.Newf(errors.ErrCodeLotInfoNotFound, "symbol %s is missing LOT_SIZE or PRICE_FILTER", s.Symbol)
	}

	return types.LotInfo{
		MinQty:   parseDecimalOrZero(lotFilter.MinQuantity),
		MaxQty:   parseDecimalOrZero(lotFilter.MaxQuantity),
		StepSize: parseDecimalOrZero(lotFilter.StepSize),
		MinPrice: parseDecimalOrZero(priceFilter.MinPrice),
		MaxPrice: parseDecimalOrZero(priceFilter.MaxPrice),
		TickSize: parseDecimalOrZero(priceFilter.TickSize),
	}, nil
}

func parseDecimalOrZero(value string) decimal.Decimal {
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}

	return parsed
}

// avgFillPrice derives the average fill price from the cumulative quote
// quantity, falling back to the order price for unfilled orders.
func avgFillPrice(executedQty, cumQuote, orderPrice string) decimal.Decimal {
	executed := parseDecimalOrZero(executedQty)
	if executed.Sign() <= 0 {
		return parseDecimalOrZero(orderPrice)
	}

	return parseDecimalOrZero(cumQuote).Div(executed)
}

// Ensure BinanceExchange implements Exchange.
var _ Exchange = (*BinanceExchange)(nil)
