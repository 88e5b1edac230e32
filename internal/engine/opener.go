package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
	"voltrap/internal/market"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// openPositionLocked 执行开仓前置检查、计算下单参数并提交限价单。
// 所有前置条件都直接问交易所，不信任本地缓存。
func (e *Engine) openPositionLocked(ctx context.Context, signalCandle, confirmCandle market.Candle) {
	// 重入锁：覆盖整个开仓流程，重叠的异步触发退化为 no-op。
	if e.opening {
		logger.Warnf("开仓流程进行中，忽略重复触发")
		return
	}
	e.opening = true
	defer func() { e.opening = false }()

	if e.position != nil {
		logger.Warnf("本地已有持仓记录，跳过开仓")
		return
	}

	// 交易所侧的持仓检查：发现已有持仓则接管并放弃新单，守住单仓不变量。
	cctx, cancel := e.callCtx(ctx)
	existing, err := e.venue.GetOpenPosition(cctx, e.symbol)
	cancel()
	if err != nil {
		logger.Warnf("查询持仓失败，放弃本次开仓: %v", err)
		return
	}
	if existing != nil {
		logger.Warnf("交易所已有 %s 持仓 size=%.4f，接管并放弃新单", existing.Side, existing.Size)
		e.adoptPositionLocked(ctx, existing)
		return
	}

	cctx, cancel = e.callCtx(ctx)
	balance, err := e.venue.GetBalance(cctx, e.accountClass)
	cancel()
	if err != nil {
		logger.Warnf("查询余额失败，放弃本次开仓: %v", err)
		return
	}
	if e.cfg.MinBalance > 0 && balance.Available < e.cfg.MinBalance {
		logger.Warnf("可用保证金不足: available=%.2f min=%.2f", balance.Available, e.cfg.MinBalance)
		return
	}

	// 信号时效第二次检查：触发到执行之间的异步延迟可能跨过失效边界。
	now := e.nowFn()
	if signalCandle.Age(now) > e.cfg.SignalTTL() {
		logger.Warnf("执行开仓时信号已超过时效 %s，放弃", e.cfg.SignalTTL())
		e.signal = nil
		return
	}

	// VSA 方向：阳线放量视为派发做空，阴线放量视为吸筹做多。
	side := exchange.SideBuy
	if signalCandle.IsGreen() {
		side = exchange.SideSell
	}
	if err := verifyDirection(signalCandle, side); err != nil {
		logger.Errorf("方向校验失败，拒绝交易: %v", err)
		return
	}

	cctx, cancel = e.callCtx(ctx)
	quote, err := e.venue.GetTicker(cctx, e.symbol)
	cancel()
	if err != nil {
		logger.Warnf("获取行情失败，放弃本次开仓: %v", err)
		return
	}

	orderPrice := e.limitPrice(side, quote.Last)
	takeProfit, stopLoss := e.planStops(side, orderPrice, signalCandle, confirmCandle)
	qty := roundStep(e.cfg.OrderQty, e.cfg.QtyStep)
	if qty <= 0 {
		logger.Errorf("下单数量取整后为 0（order_qty=%f step=%f），放弃", e.cfg.OrderQty, e.cfg.QtyStep)
		return
	}

	req := exchange.LimitOrderRequest{
		Symbol:      e.symbol,
		Side:        side,
		Qty:         qty,
		Price:       orderPrice,
		OrderLinkID: uuid.NewString(),
	}
	cctx, cancel = e.callCtx(ctx)
	orderID, err := e.venue.SubmitLimitOrder(cctx, req)
	cancel()
	if err != nil {
		logger.Errorf("提交限价单失败: %v", err)
		e.signal = nil
		return
	}

	// TP/SL 先记账不下发：持仓尚不存在时交易所会拒绝止盈止损。
	e.position = &ActivePosition{
		Side:              side,
		Qty:               qty,
		EntryPrice:        orderPrice,
		EntryTime:         now,
		OrderID:           orderID,
		OrderLinkID:       req.OrderLinkID,
		PlannedTakeProfit: takeProfit,
		PlannedStopLoss:   stopLoss,
	}
	logger.Infof("限价单已提交: side=%s qty=%.4f price=%.2f tp=%.2f sl=%.2f order=%s",
		side, qty, orderPrice, takeProfit, stopLoss, orderID)
	e.journalEvent(journal.KindOrderSubmitted, string(side), orderPrice, qty, 0, orderID, req)
	e.notifyOrderSubmittedLocked(side, orderPrice, qty, takeProfit, stopLoss)

	// 提交后立刻查一次委托状态，限价单偶尔会瞬时成交；
	// 仍未成交才安排延迟检查。
	e.pollExecutionLocked(ctx)
	if e.position != nil && e.position.Pending() {
		e.scheduleFillCheckLocked()
	}
}

// verifyDirection 是最后一道保险：计算出的方向与 K 线颜色规则不一致
// 时直接拒绝交易，绝不猜测入场。
func verifyDirection(signalCandle market.Candle, side exchange.Side) error {
	expected := exchange.SideBuy
	if signalCandle.IsGreen() {
		expected = exchange.SideSell
	}
	if side != expected {
		return fmt.Errorf("side=%s 与信号 K 线颜色（green=%v）规则不符", side, signalCandle.IsGreen())
	}
	return nil
}

// limitPrice 在市价上逆着方向让出固定价差，提高限价成交概率。
func (e *Engine) limitPrice(side exchange.Side, last float64) float64 {
	offset := e.cfg.PriceOffset
	var price float64
	if side == exchange.SideBuy {
		price = last - offset
	} else {
		price = last + offset
	}
	return roundStep(price, e.cfg.TickSize)
}

// planStops 计算固定止盈与极值止损。止损取信号 K 线与确认 K 线中
// 更不利的一端，再向外让出缓冲。
func (e *Engine) planStops(side exchange.Side, orderPrice float64, signalCandle, confirmCandle market.Candle) (takeProfit, stopLoss float64) {
	if side == exchange.SideBuy {
		takeProfit = orderPrice + e.cfg.TakeProfitPoints
		stopLoss = math.Min(signalCandle.Low, confirmCandle.Low) - e.cfg.StopBuffer
	} else {
		takeProfit = orderPrice - e.cfg.TakeProfitPoints
		stopLoss = math.Max(signalCandle.High, confirmCandle.High) + e.cfg.StopBuffer
	}
	return roundStep(takeProfit, e.cfg.TickSize), roundStep(stopLoss, e.cfg.TickSize)
}

// roundStep 按步长向下取整，避免交易所因精度拒单。
func roundStep(value, step float64) float64 {
	if step <= 0 || value <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	f, _ := v.Div(s).Floor().Mul(s).Float64()
	return f
}

// scheduleFillCheckLocked 安排下单后的首次成交检查；之后由周期 tick 接手。
func (e *Engine) scheduleFillCheckLocked() {
	if e.fillTimer != nil {
		e.fillTimer.Stop()
	}
	e.fillTimer = time.AfterFunc(firstFillCheckDelay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.position == nil || !e.position.Pending() {
			return
		}
		e.pollExecutionLocked(context.Background())
	})
}
