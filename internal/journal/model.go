package journal

import (
	"time"

	"gorm.io/datatypes"
)

type EventKind string

const (
	KindSignalRaised    EventKind = "signal_raised"
	KindSignalReplaced  EventKind = "signal_replaced"
	KindSignalExpired   EventKind = "signal_expired"
	KindOrderSubmitted  EventKind = "order_submitted"
	KindOrderFilled     EventKind = "order_filled"
	KindTrailingMoved   EventKind = "trailing_moved"
	KindPositionClosed  EventKind = "position_closed"
	KindPositionAdopted EventKind = "position_adopted"
	KindPanicClose      EventKind = "panic_close"
)

// TradeEvent 是一条只追加的流水记录。内部状态从不依赖这张表重建，
// 崩溃恢复一律以交易所为准。
type TradeEvent struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"index"`

	Kind   EventKind `gorm:"column:kind;index;type:TEXT"`
	Symbol string    `gorm:"column:symbol;type:TEXT"`
	Side   string    `gorm:"column:side;type:TEXT"`
	Price  float64   `gorm:"column:price"`
	Qty    float64   `gorm:"column:qty"`
	PnL    float64   `gorm:"column:pnl"`
	Note   string    `gorm:"column:note;type:TEXT"`

	// 交易所原始响应片段，仅用于排查。
	Payload datatypes.JSON `gorm:"column:payload;type:TEXT"`
}

func (TradeEvent) TableName() string { return "trade_events" }

// Summary 聚合一段时间内的流水，用于每日报告。
type Summary struct {
	Since        time.Time
	Signals      int64
	Orders       int64
	Fills        int64
	Closes       int64
	RealizedPnL  float64
	TrailingMove int64
}
