package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source 行情数据源：历史 K 线 + 实时订阅。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbol, interval string, opts SubscribeOptions) (<-chan CandleEvent, error)

	Stats() SourceStats

	Close() error
}
