package exchange

import (
	"context"
	"errors"
)

// ErrOrderNotFound is returned when neither the active set nor the order
// history knows the order id.
var ErrOrderNotFound = errors.New("exchange: order not found")

// Trading 是交易所下单/查询接口。所有调用都必须在有限超时内返回，
// 失败通过 error 显式传播，绝不 panic 进状态机。
type Trading interface {
	// GetOpenPosition returns the open position for symbol, or nil if none.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)

	// GetBalance returns margin balance for the given account class.
	GetBalance(ctx context.Context, accountClass string) (Balance, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SubmitLimitOrder places a limit entry order and returns the venue order id.
	SubmitLimitOrder(ctx context.Context, req LimitOrderRequest) (string, error)

	// SubmitMarketClose places a reduce-only market order against the position.
	SubmitMarketClose(ctx context.Context, req MarketCloseRequest) (string, error)

	// GetOrderStatus looks the order up in the active set first, then in
	// history. Returns ErrOrderNotFound when neither knows it.
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*Order, error)

	// SetTradingStop applies TP/SL levels to the open position.
	SetTradingStop(ctx context.Context, symbol string, levels StopLevels) error

	// GetTicker returns the current price quote.
	GetTicker(ctx context.Context, symbol string) (PriceQuote, error)
}
