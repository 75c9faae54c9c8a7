// Package exchange defines the boundary between the engine and the
// perpetual futures exchange: the operations the core requires, and the
// typed error kinds exchange calls can fail with.
package exchange

import (
	"context"
	"errors"
	"time"

	"okx-scalper/internal/domain"
)

// OrderSide is the order side, distinct from domain.Side so a reduce-only close
// order can be expressed (e.g. selling to close a long).
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType names the order types the Entry/Exit Executors place.
type OrderType string

const (
	OrderLimit  OrderType = "limit"
	OrderMarket OrderType = "market"
)

// MarginMode mirrors the exchange's isolated/cross margin modes. This
// engine only ever uses isolated margin (spec.md §4.9's margin check
// assumes per-position isolated allocation).
type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// OrderStatus is the exchange's reported order lifecycle state.
type OrderStatus string

const (
	OrderStatusNew      OrderStatus = "new"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partially_filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderParams describes a new order request.
type OrderParams struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	Price      float64 // ignored for market orders
	PostOnly   bool
	ReduceOnly bool
}

// OrderResult is the exchange's immediate response to a placed order.
type OrderResult struct {
	OrderID string
	Status  OrderStatus
	FillPrice float64
	FillQty   float64
}

// Balance is the account's futures wallet snapshot.
type Balance struct {
	Equity    float64
	Available float64
}

// PositionSnapshot is the exchange's own view of an open position, used for
// startup reconciliation against the Position Registry.
type PositionSnapshot struct {
	Symbol     string
	Side       domain.Side
	Quantity   float64
	EntryPrice float64
	Leverage   int
}

// Client is the subset of exchange operations the engine depends on
// (spec.md §6's "Exchange client (consumed)").
type Client interface {
	GetKlines(ctx context.Context, symbol, tf string, limit int) ([]domain.Candle, error)
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)

	SetLeverage(ctx context.Context, symbol string, leverage int, mode MarginMode) error

	PlaceOrder(ctx context.Context, params OrderParams) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrder(ctx context.Context, symbol, orderID string) (OrderResult, error)

	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]PositionSnapshot, error)

	GetFundingRate(ctx context.Context, symbol string) (float64, error)
}

// ErrorKind classifies an exchange failure so callers can branch on it
// without inspecting exchange-specific error codes directly.
type ErrorKind string

const (
	KindRateLimited     ErrorKind = "rate_limited"
	KindLeverageTimeout ErrorKind = "leverage_timeout"
	KindPriceOutOfLimits ErrorKind = "price_out_of_limits"
	KindInsufficientMargin ErrorKind = "insufficient_margin"
	KindTransient       ErrorKind = "transient"
	KindFatal           ErrorKind = "fatal"
)

// Error wraps an exchange failure with its classified kind, the raw
// exchange error code, and whether retrying is ever worthwhile.
type Error struct {
	Kind      ErrorKind
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message + " (code " + e.Code + ")"
}

func (k ErrorKind) String() string { return string(k) }

// AsExchangeError unwraps err looking for an *Error, mirroring errors.As.
func AsExchangeError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ClassifyCode maps the exchange's numeric error-code class onto an
// ErrorKind, per spec.md §6/§7.
func ClassifyCode(code string) ErrorKind {
	switch code {
	case "429":
		return KindRateLimited
	case "50004":
		return KindLeverageTimeout
	case "51006":
		return KindPriceOutOfLimits
	case "51008", "51009":
		return KindInsufficientMargin
	default:
		return KindTransient
	}
}

// DefaultCallTimeout bounds every exchange round trip; Connection Quality
// profiles may tighten or relax this per spec.md §5.
const DefaultCallTimeout = 5 * time.Second
