// Package exchange defines a common abstraction for the trading venue.
// The lifecycle engine only talks to these types, so a different venue
// backend can be swapped in without touching the core state machine.
package exchange

import "time"

type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position held on s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Position represents an open position as reported by the venue.
// The venue is the source of truth; local state is only a cache of this.
type Position struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64 // average entry price
	MarkPrice     float64
	Leverage      float64
	StopLoss      float64 // 0 if not set
	TakeProfit    float64 // 0 if not set
	UnrealisedPnL float64
	UpdatedAt     time.Time
	Raw           map[string]any
}

// Balance represents margin balance for one account class.
type Balance struct {
	AccountClass string // e.g. "UNIFIED", "CONTRACT"
	Coin         string
	Equity       float64
	Available    float64
	UpdatedAt    time.Time
}

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "New"
	OrderStatusPartiallyFilled OrderStatus = "PartiallyFilled"
	OrderStatusFilled          OrderStatus = "Filled"
	OrderStatusCancelled       OrderStatus = "Cancelled"
	OrderStatusRejected        OrderStatus = "Rejected"
	OrderStatusUnknown         OrderStatus = "Unknown"
)

// Terminal reports whether the order can no longer fill.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Order is the venue's view of a single order.
type Order struct {
	OrderID      string
	OrderLinkID  string
	Symbol       string
	Side         Side
	Qty          float64
	Price        float64
	AvgFillPrice float64
	Status       OrderStatus
	CreatedAt    time.Time
}

// LimitOrderRequest contains parameters for a limit entry order.
type LimitOrderRequest struct {
	Symbol      string
	Side        Side
	Qty         float64
	Price       float64
	OrderLinkID string
	TimeInForce string // defaults to GTC
}

// MarketCloseRequest closes (part of) a position with a reduce-only order.
type MarketCloseRequest struct {
	Symbol string
	Side   Side // side of the closing order, i.e. opposite of the position
	Qty    float64
}

// StopLevels carries the TP/SL update for SetTradingStop.
// nil 表示保持不变，0 表示撤销对应档位。
type StopLevels struct {
	TakeProfit *float64
	StopLoss   *float64
}

// PriceQuote represents current price information for the instrument.
type PriceQuote struct {
	Symbol    string
	Last      float64
	Bid       float64
	Ask       float64
	MarkPrice float64
	UpdatedAt time.Time
}
