package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"voltrap/internal/config"
	"voltrap/internal/gateway/exchange"
	"voltrap/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockVenue struct {
	mock.Mock
}

func (m *MockVenue) GetOpenPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	args := m.Called(ctx, symbol)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.Position), args.Error(1)
}

func (m *MockVenue) GetBalance(ctx context.Context, accountClass string) (exchange.Balance, error) {
	args := m.Called(ctx, accountClass)
	return args.Get(0).(exchange.Balance), args.Error(1)
}

func (m *MockVenue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	args := m.Called(ctx, symbol, leverage)
	return args.Error(0)
}

func (m *MockVenue) SubmitLimitOrder(ctx context.Context, req exchange.LimitOrderRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockVenue) SubmitMarketClose(ctx context.Context, req exchange.MarketCloseRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockVenue) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	args := m.Called(ctx, symbol, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*exchange.Order), args.Error(1)
}

func (m *MockVenue) SetTradingStop(ctx context.Context, symbol string, levels exchange.StopLevels) error {
	args := m.Called(ctx, symbol, levels)
	return args.Error(0)
}

func (m *MockVenue) GetTicker(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(exchange.PriceQuote), args.Error(1)
}

// fakeClock 让测试完全掌控引擎看到的时间。
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var baseTime = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

func testStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		VolumeThreshold:    500,
		PanicVolume:        5000,
		SignalTTLMin:       120,
		AvgVolumePeriod:    20,
		OrderQty:           0.01,
		MinBalance:         50,
		PriceOffset:        5,
		TakeProfitPoints:   10,
		StopBuffer:         2,
		QtyStep:            0.001,
		TickSize:           0.1,
		TrailingActivation: 1,
		TrailingDistance:   2,
		TrailingIntervalS:  15,
		SLTPTolerance:      0.5,
	}
}

func newTestEngine(venue *MockVenue, clk *fakeClock) *Engine {
	return New(Params{
		Venue:        venue,
		Strategy:     testStrategy(),
		Symbol:       "BTCUSDT",
		Interval:     15 * time.Minute,
		AccountClass: "UNIFIED",
		CallTimeout:  time.Second,
		NowFn:        clk.Now,
	})
}

// candleAt 构造第 n 根 15 分钟已收盘 K 线。
func candleAt(n int, open, close, volume float64) market.Candle {
	start := baseTime.Add(time.Duration(n) * 15 * time.Minute)
	low := open
	if close < low {
		low = close
	}
	high := open
	if close > high {
		high = close
	}
	return market.Candle{
		OpenTime:  start.UnixMilli(),
		CloseTime: start.Add(15*time.Minute).UnixMilli() - 1,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Confirmed: true,
	}
}

// feed 先把时钟拨到 K 线收盘之后再投递，模拟实时顺序。
func feed(e *Engine, clk *fakeClock, c market.Candle) {
	closeAt := time.UnixMilli(c.OpenTime).Add(15 * time.Minute).Add(5 * time.Second)
	clk.Set(closeAt)
	e.OnCandle(context.Background(), c)
}

func TestSignalRaisedOnlyAboveThreshold(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 101, 102, 400))
	assert.Nil(t, e.Snapshot().Signal, "低于阈值不应产生信号")

	feed(e, clk, candleAt(2, 102, 103, 1000))
	snap := e.Snapshot()
	if assert.NotNil(t, snap.Signal) {
		assert.Equal(t, 1000.0, snap.Signal.Candle.Volume)
		assert.True(t, snap.Signal.WaitingForLowerVolume)
	}
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
}

func TestSignalCandleCannotConfirmItself(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 101, 102, 1000))

	// 信号 K 线本身的处理不能触发下单。
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
	assert.NotNil(t, e.Snapshot().Signal)
}

func TestSignalReplacedByStrongerCandle(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 101, 102, 1000))
	feed(e, clk, candleAt(2, 102, 103, 1200))

	snap := e.Snapshot()
	if assert.NotNil(t, snap.Signal) {
		assert.Equal(t, 1200.0, snap.Signal.Candle.Volume, "更强的信号整体替换旧信号")
	}
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
}

func TestHigherVolumeReplacesInsteadOfEntering(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 101, 102, 1000))
	// 信号量本身 ≥ 阈值，所以任何超过信号量的 K 线必然也过阈值：
	// 它走的是替换路径，而新信号 K 线又不能确认自己，绝不会触发下单。
	feed(e, clk, candleAt(2, 102, 103, 1100))

	snap := e.Snapshot()
	if assert.NotNil(t, snap.Signal) {
		assert.Equal(t, 1100.0, snap.Signal.Candle.Volume)
		assert.True(t, snap.Signal.WaitingForLowerVolume)
	}
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
}

func TestEntryOnLowerVolumeRedSignalGoesLong(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.MatchedBy(func(req exchange.LimitOrderRequest) bool {
		return req.Side == exchange.SideBuy && req.Price == 95 && req.Qty == 0.01 && req.OrderLinkID != ""
	})).Return("ord-1", nil).Once()
	// 下单后立即有一次委托状态查询。
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-1").Return(&exchange.Order{
		OrderID: "ord-1",
		Status:  exchange.OrderStatusNew,
	}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	// 阴线放量：吸筹，应做多。
	feed(e, clk, candleAt(1, 105, 100, 1000))
	feed(e, clk, candleAt(2, 100, 101, 300))

	snap := e.Snapshot()
	assert.Nil(t, snap.Signal, "入场后信号应被清除")
	if assert.NotNil(t, snap.Position) {
		assert.Equal(t, exchange.SideBuy, snap.Position.Side)
		assert.True(t, snap.Position.Pending())
		assert.Equal(t, "ord-1", snap.Position.OrderID)
		// SL = min(信号低点 100, 确认低点 100) - buffer 2
		assert.Equal(t, 98.0, snap.Position.PlannedStopLoss)
		// TP = 下单价 95 + 10
		assert.Equal(t, 105.0, snap.Position.PlannedTakeProfit)
	}
	venue.AssertExpectations(t)
	e.Close()
}

func TestEntryOnGreenSignalGoesShort(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.MatchedBy(func(req exchange.LimitOrderRequest) bool {
		return req.Side == exchange.SideSell && req.Price == 105
	})).Return("ord-2", nil).Once()
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-2").Return(&exchange.Order{
		OrderID: "ord-2",
		Status:  exchange.OrderStatusNew,
	}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	// 阳线放量：派发，应做空。
	feed(e, clk, candleAt(1, 100, 106, 1000))
	feed(e, clk, candleAt(2, 106, 105, 300))

	snap := e.Snapshot()
	if assert.NotNil(t, snap.Position) {
		assert.Equal(t, exchange.SideSell, snap.Position.Side)
		// SL = max(信号高点 106, 确认高点 106) + buffer 2
		assert.Equal(t, 108.0, snap.Position.PlannedStopLoss)
	}
	venue.AssertExpectations(t)
	e.Close()
}

func TestInstantFillCaughtBySubmitTimePoll(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.Anything).Return("ord-5", nil).Once()
	// 委托瞬时成交：下单后的立即查询直接返回 Filled。
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-5").Return(&exchange.Order{
		OrderID:      "ord-5",
		Status:       exchange.OrderStatusFilled,
		AvgFillPrice: 95,
	}, nil).Once()
	venue.On("SetTradingStop", mock.Anything, "BTCUSDT", mock.MatchedBy(func(l exchange.StopLevels) bool {
		return l.TakeProfit != nil && *l.TakeProfit == 105 && l.StopLoss != nil && *l.StopLoss == 98
	})).Return(nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000))
	feed(e, clk, candleAt(2, 100, 101, 300))

	// 不需要等任何 Tick：成交在下单路径内就已确认，TP/SL 也已补挂。
	snap := e.Snapshot()
	if assert.NotNil(t, snap.Position) {
		assert.False(t, snap.Position.Pending())
		assert.Equal(t, 95.0, snap.Position.EntryPrice)
		assert.True(t, snap.Position.StopsApplied)
	}
	venue.AssertExpectations(t)
	e.Close()
}

func TestStaleSignalDiscardedBeforeEntry(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000))
	assert.NotNil(t, e.Snapshot().Signal)

	// 缩量确认 K 线出现时信号 K 线已超过 2 小时时效。
	feed(e, clk, candleAt(12, 100, 101, 300))

	assert.Nil(t, e.Snapshot().Signal, "过期信号应被丢弃")
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
}

func TestEntrySkippedWhenBalanceTooLow(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 10}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000))
	feed(e, clk, candleAt(2, 100, 101, 300))

	assert.Nil(t, e.Snapshot().Position)
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
	venue.AssertExpectations(t)
}

func TestUnconfirmedCandleIgnored(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	c := candleAt(1, 101, 102, 9000)
	c.Confirmed = false
	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, c)

	assert.Nil(t, e.Snapshot().Signal, "未收盘 K 线不得参与信号判定")
}

func TestFillAppliesPlannedStops(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.Anything).Return("ord-3", nil).Once()
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-3").Return(&exchange.Order{
		OrderID: "ord-3",
		Status:  exchange.OrderStatusNew,
	}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000))
	feed(e, clk, candleAt(2, 100, 101, 300))
	e.Close() // 取消首次成交检查定时器，改由 Tick 驱动

	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-3").Return(&exchange.Order{
		OrderID:      "ord-3",
		Status:       exchange.OrderStatusFilled,
		AvgFillPrice: 94.8,
	}, nil).Once()
	venue.On("SetTradingStop", mock.Anything, "BTCUSDT", mock.MatchedBy(func(l exchange.StopLevels) bool {
		return l.TakeProfit != nil && *l.TakeProfit == 105 && l.StopLoss != nil && *l.StopLoss == 98
	})).Return(nil).Once()

	e.Tick(context.Background())

	snap := e.Snapshot()
	if assert.NotNil(t, snap.Position) {
		assert.False(t, snap.Position.Pending())
		assert.Equal(t, 94.8, snap.Position.EntryPrice, "成交后入场价应更新为实际成交均价")
		assert.True(t, snap.Position.StopsApplied)
	}
	venue.AssertExpectations(t)
}

func TestCancelledEntryClearsPosition(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.Anything).Return("ord-4", nil).Once()
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-4").Return(&exchange.Order{
		OrderID: "ord-4",
		Status:  exchange.OrderStatusNew,
	}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000))
	feed(e, clk, candleAt(2, 100, 101, 300))
	e.Close()

	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-4").Return(&exchange.Order{
		OrderID: "ord-4",
		Status:  exchange.OrderStatusCancelled,
	}, nil).Once()

	e.Tick(context.Background())

	assert.Nil(t, e.Snapshot().Position, "外部撤单后本地持仓记录应清除")
	venue.AssertExpectations(t)
}

// openFilledPosition 走完整入场+成交流程，返回进入 trailing 阶段前的引擎。
func openFilledPosition(t *testing.T, venue *MockVenue, clk *fakeClock) *Engine {
	t.Helper()
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 105}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.Anything).Return("ord-t", nil).Once()
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-t").Return(&exchange.Order{
		OrderID: "ord-t",
		Status:  exchange.OrderStatusNew,
	}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000)) // 阴线 → 做多，下单价 100
	feed(e, clk, candleAt(2, 100, 101, 300))
	e.Close()

	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-t").Return(&exchange.Order{
		OrderID:      "ord-t",
		Status:       exchange.OrderStatusFilled,
		AvgFillPrice: 100,
	}, nil).Once()
	venue.On("SetTradingStop", mock.Anything, "BTCUSDT", mock.Anything).Return(nil).Once()
	e.Tick(context.Background())

	pos := e.Snapshot().Position
	if assert.NotNil(t, pos) {
		assert.False(t, pos.Pending())
		assert.Equal(t, 100.0, pos.EntryPrice)
	}
	return e
}

func TestTrailingStopRatchetsOnlyForward(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := openFilledPosition(t, venue, clk)

	// Tick 先对账：持仓两侧一致且 TP/SL 与计划一致，不应触发重挂。
	venuePos := &exchange.Position{
		Symbol:     "BTCUSDT",
		Side:       exchange.SideBuy,
		Size:       0.01,
		EntryPrice: 100,
		TakeProfit: 110,
		StopLoss:   98,
	}
	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(venuePos, nil)

	// 激活：价格 103，利润 3 ≥ 激活点 1，新止损 = 103 - 2 = 101，
	// 首次激活同时撤掉止盈（TP=0）。
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 103}, nil).Once()
	venue.On("SetTradingStop", mock.Anything, "BTCUSDT", mock.MatchedBy(func(l exchange.StopLevels) bool {
		return l.StopLoss != nil && *l.StopLoss == 101 &&
			l.TakeProfit != nil && *l.TakeProfit == 0
	})).Return(nil).Once()
	e.Tick(context.Background())

	snap := e.Snapshot()
	if assert.NotNil(t, snap.Position) {
		assert.True(t, snap.Position.IsTrailingActive)
		assert.Equal(t, 101.0, snap.Position.LastTrailingStop)
	}

	// 回撤：价格 102 → 候选止损 100 < 101，棘轮不后退，不调用交易所。
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 102}, nil).Once()
	e.Tick(context.Background())
	assert.Equal(t, 101.0, e.Snapshot().Position.LastTrailingStop)

	// 新高：价格 105 → 止损收紧到 103，此时不再动止盈。
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 105}, nil).Once()
	venue.On("SetTradingStop", mock.Anything, "BTCUSDT", mock.MatchedBy(func(l exchange.StopLevels) bool {
		return l.StopLoss != nil && *l.StopLoss == 103 && l.TakeProfit == nil
	})).Return(nil).Once()
	e.Tick(context.Background())
	assert.Equal(t, 103.0, e.Snapshot().Position.LastTrailingStop)

	venue.AssertExpectations(t)
}

func TestTrailingNotActivatedBelowThreshold(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := openFilledPosition(t, venue, clk)

	venuePos := &exchange.Position{
		Symbol: "BTCUSDT", Side: exchange.SideBuy, Size: 0.01,
		EntryPrice: 100, TakeProfit: 110, StopLoss: 98,
	}
	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(venuePos, nil)
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100.5}, nil).Once()

	e.Tick(context.Background())

	assert.False(t, e.Snapshot().Position.IsTrailingActive, "利润未达激活点不应启动 trailing")
	venue.AssertExpectations(t)
}

func TestReconcileAdoptsVenuePosition(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venuePos := &exchange.Position{
		Symbol:     "BTCUSDT",
		Side:       exchange.SideSell,
		Size:       0.02,
		EntryPrice: 200,
		MarkPrice:  199,
		TakeProfit: 190,
		StopLoss:   210,
		UpdatedAt:  baseTime,
	}
	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(venuePos, nil)

	e.ReconcileOnce(context.Background())

	snap := e.Snapshot()
	if assert.NotNil(t, snap.Position) {
		assert.True(t, snap.Position.Adopted)
		assert.Equal(t, exchange.SideSell, snap.Position.Side)
		assert.Equal(t, 0.02, snap.Position.Qty)
		assert.Equal(t, 200.0, snap.Position.EntryPrice)
		// 兜底 TP/SL：入场价 ± 固定距离 10。
		assert.Equal(t, 190.0, snap.Position.PlannedTakeProfit)
		assert.Equal(t, 210.0, snap.Position.PlannedStopLoss)
	}
	// 交易所 TP/SL 与兜底值一致，不应重挂。
	venue.AssertNotCalled(t, "SetTradingStop", mock.Anything, mock.Anything, mock.Anything)

	// 再跑一次对账必须幂等：既不重复接管也不下任何新单。
	e.ReconcileOnce(context.Background())
	assert.True(t, e.Snapshot().Position.Adopted)
	venue.AssertNotCalled(t, "SubmitLimitOrder", mock.Anything, mock.Anything)
	venue.AssertNotCalled(t, "SetTradingStop", mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileAppliesStopsWhenMissing(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venuePos := &exchange.Position{
		Symbol:     "BTCUSDT",
		Side:       exchange.SideBuy,
		Size:       0.01,
		EntryPrice: 100,
		MarkPrice:  100,
		UpdatedAt:  baseTime,
	}
	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(venuePos, nil).Once()
	venue.On("SetTradingStop", mock.Anything, "BTCUSDT", mock.MatchedBy(func(l exchange.StopLevels) bool {
		return l.TakeProfit != nil && *l.TakeProfit == 110 &&
			l.StopLoss != nil && *l.StopLoss == 90
	})).Return(nil).Once()

	e.ReconcileOnce(context.Background())

	venue.AssertExpectations(t)
}

func TestReconcileDetectsExternalClose(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := openFilledPosition(t, venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 108}, nil).Once()

	e.ReconcileOnce(context.Background())

	snap := e.Snapshot()
	assert.Nil(t, snap.Position, "交易所侧平仓后本地持仓应清除")
	assert.Nil(t, snap.Signal, "外部平仓后残留信号也应清除")
	venue.AssertExpectations(t)
}

func TestPendingOrderVanishedTreatedAsCancel(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	venue.On("GetOpenPosition", mock.Anything, "BTCUSDT").Return(nil, nil).Once()
	venue.On("GetBalance", mock.Anything, "UNIFIED").Return(exchange.Balance{Available: 1000}, nil).Once()
	venue.On("GetTicker", mock.Anything, "BTCUSDT").Return(exchange.PriceQuote{Last: 100}, nil).Once()
	venue.On("SubmitLimitOrder", mock.Anything, mock.Anything).Return("ord-gone", nil).Once()
	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-gone").Return(&exchange.Order{
		OrderID: "ord-gone",
		Status:  exchange.OrderStatusNew,
	}, nil).Once()

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(1, 105, 100, 1000))
	feed(e, clk, candleAt(2, 100, 101, 300))
	e.Close()

	venue.On("GetOrderStatus", mock.Anything, "BTCUSDT", "ord-gone").
		Return(nil, exchange.ErrOrderNotFound).Once()

	e.ReconcileOnce(context.Background())

	assert.Nil(t, e.Snapshot().Position)
	venue.AssertExpectations(t)
}

func TestPanicVolumeClosesPosition(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := openFilledPosition(t, venue, clk)

	venue.On("SubmitMarketClose", mock.Anything, mock.MatchedBy(func(req exchange.MarketCloseRequest) bool {
		return req.Side == exchange.SideSell && req.Qty == 0.01
	})).Return("close-1", nil).Once()

	// 持仓期间出现异常放量（≥ panic_volume）。
	feed(e, clk, candleAt(4, 101, 99, 6000))

	snap := e.Snapshot()
	assert.Nil(t, snap.Position, "保护性平仓后持仓应清除")
	assert.Nil(t, snap.Signal)
	venue.AssertExpectations(t)
}

func TestOutOfOrderCandleDropped(t *testing.T) {
	venue := new(MockVenue)
	clk := &fakeClock{t: baseTime}
	e := newTestEngine(venue, clk)

	feed(e, clk, candleAt(0, 100, 101, 100))
	feed(e, clk, candleAt(2, 102, 103, 100))
	assert.Equal(t, candleAt(2, 102, 103, 100).OpenTime, e.LastConfirmedOpenTime())

	// 乱序旧 K 线不得覆盖最新进度。
	e.OnCandle(context.Background(), candleAt(1, 101, 102, 9000))
	assert.Equal(t, candleAt(2, 102, 103, 100).OpenTime, e.LastConfirmedOpenTime())
	assert.Nil(t, e.Snapshot().Signal)
}

func TestBetterStopRatchet(t *testing.T) {
	long := &ActivePosition{Side: exchange.SideBuy, LastTrailingStop: 101}
	assert.True(t, long.BetterStop(102))
	assert.False(t, long.BetterStop(101))
	assert.False(t, long.BetterStop(100))

	short := &ActivePosition{Side: exchange.SideSell, LastTrailingStop: 99}
	assert.True(t, short.BetterStop(98))
	assert.False(t, short.BetterStop(99))
	assert.False(t, short.BetterStop(100))
}

func TestRoundStep(t *testing.T) {
	assert.InDelta(t, 0.012, roundStep(0.0123, 0.001), 1e-12) // 向下取整
	assert.InDelta(t, 0.012, roundStep(0.0129, 0.001), 1e-12)
	assert.InDelta(t, 99.5, roundStep(99.55, 0.5), 1e-12)
	assert.Equal(t, 7.0, roundStep(7, 0))
}
