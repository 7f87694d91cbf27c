package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stratalab/dcacycle/pkg/errors"
)

type PurchaseType string

type OrderKind string

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

const (
	PurchaseTypeBuy  PurchaseType = "buy"
	PurchaseTypeSell PurchaseType = "sell"
)

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

// IsTerminal reports whether the status can no longer change.
// A partially filled order may still fill completely or be cancelled.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// OrderRequest describes an order to be submitted to an exchange.
// Price is only meaningful for limit orders.
type OrderRequest struct {
	Symbol   string          `yaml:"symbol" json:"symbol" validate:"required"`
	Side     PurchaseType    `yaml:"side" json:"side" validate:"required,oneof=buy sell"`
	Kind     OrderKind       `yaml:"kind" json:"kind" validate:"required,oneof=market limit"`
	Quantity decimal.Decimal `yaml:"quantity" json:"quantity"`
	// Price is the limit price. None for market orders.
	Price optional.Option[decimal.Decimal] `yaml:"price" json:"price"`
}

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	if r.Quantity.Sign() <= 0 {
		return errors.New(errors.ErrCodeInvalidOrder, "order quantity must be greater than zero")
	}

	if r.Kind == OrderKindLimit && r.Price.IsNone() {
		return errors.New(errors.ErrCodeInvalidOrder, "limit order requires a price")
	}

	return nil
}

// OrderResult is the exchange's view of an order: the assigned identifier
// plus the current fill snapshot.
type OrderResult struct {
	ID        string          `yaml:"id" json:"id"`
	Status    OrderStatus     `yaml:"status" json:"status"`
	FilledQty decimal.Decimal `yaml:"filled_qty" json:"filled_qty"`
	AvgPrice  decimal.Decimal `yaml:"avg_price" json:"avg_price"`
	Amount    decimal.Decimal `yaml:"amount" json:"amount"`
}

// Order is an exchange order tracked by the cycle engine for the lifetime
// of one trading cycle.
type Order struct {
	ID     string       `yaml:"id" json:"id"`
	Symbol string       `yaml:"symbol" json:"symbol" validate:"required"`
	Side   PurchaseType `yaml:"side" json:"side" validate:"required,oneof=buy sell"`
	Kind   OrderKind    `yaml:"kind" json:"kind" validate:"required,oneof=market limit"`
	// Amount is the requested quantity in base currency.
	Amount decimal.Decimal `yaml:"amount" json:"amount"`
	// Price is the limit price. None for market orders.
	Price        optional.Option[decimal.Decimal] `yaml:"price" json:"price"`
	Status       OrderStatus                      `yaml:"status" json:"status"`
	FilledAmount decimal.Decimal                  `yaml:"filled_amount" json:"filled_amount"`
	AvgPrice     decimal.Decimal                  `yaml:"avg_price" json:"avg_price"`
	CreatedAt    time.Time                        `yaml:"created_at" json:"created_at"`
}

// LimitPrice returns the limit price or zero for market orders.
func (o *Order) LimitPrice() decimal.Decimal {
	return o.Price.TakeOr(decimal.Zero)
}
