package engine

import (
	"time"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/market"
)

// VolumeSignal 是当前唯一的候选信号。同一时间最多存在一个；
// 出现更强的信号 K 线时整体替换，从不合并。
type VolumeSignal struct {
	Candle                market.Candle
	RaisedAt              time.Time
	WaitingForLowerVolume bool
}

// Expired reports whether the signal candle is older than the staleness
// window. Expired signals must be discarded before any use.
func (s *VolumeSignal) Expired(ttl time.Duration, now time.Time) bool {
	if s == nil {
		return true
	}
	if ttl <= 0 {
		return false
	}
	return s.Candle.Age(now) > ttl
}

// ActivePosition 是本地对持仓的认知缓存。交易所才是持仓的事实来源，
// Reconciler 持续校验这份缓存。生命周期:
// pending（已下单未确认成交）→ open（成交，TP/SL 已挂）→ trailing → closed（清空）。
type ActivePosition struct {
	Side        exchange.Side
	Qty         float64
	EntryPrice  float64
	EntryTime   time.Time
	OrderID     string
	OrderLinkID string

	PlannedTakeProfit float64
	PlannedStopLoss   float64

	Filled       bool
	StopsApplied bool

	IsTrailingActive bool
	LastTrailingStop float64

	// ExecutionNotified 保证成交通知只发一次，即使轮询重复命中。
	ExecutionNotified bool

	// Adopted 标记该持仓是从交易所接管而非本进程开出。
	Adopted bool
}

// Pending reports whether the entry order is still unconfirmed.
func (p *ActivePosition) Pending() bool {
	return p != nil && !p.Filled
}

// ProfitPoints 返回相对开仓价的有利方向点数。
func (p *ActivePosition) ProfitPoints(price float64) float64 {
	if p == nil || p.EntryPrice <= 0 || price <= 0 {
		return 0
	}
	if p.Side == exchange.SideBuy {
		return price - p.EntryPrice
	}
	return p.EntryPrice - price
}

// BetterStop reports whether candidate is strictly more favorable than the
// last recorded trailing stop for this side. The stop only ever ratchets.
func (p *ActivePosition) BetterStop(candidate float64) bool {
	if p == nil || candidate <= 0 {
		return false
	}
	if p.LastTrailingStop <= 0 {
		return true
	}
	if p.Side == exchange.SideBuy {
		return candidate > p.LastTrailingStop
	}
	return candidate < p.LastTrailingStop
}

// Snapshot 是引擎内部状态的只读副本，供 HTTP 状态接口使用。
type Snapshot struct {
	Symbol    string          `json:"symbol"`
	Signal    *VolumeSignal   `json:"signal,omitempty"`
	Position  *ActivePosition `json:"position,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
