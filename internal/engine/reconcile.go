package engine

import (
	"context"
	"errors"
	"math"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
)

// reconcileLocked 比对本地持仓认知与交易所事实，在启动时和每个
// trailing tick 之前运行。外部手工平仓/止损触发/进程重启前开的仓，
// 都在这里收敛为正常的状态迁移，而不是错误。
func (e *Engine) reconcileLocked(ctx context.Context) {
	if e.position != nil && e.position.Pending() {
		// 挂单期间交易所没有持仓是预期状态，只核对委托本身。
		e.reconcilePendingLocked(ctx)
		return
	}

	cctx, cancel := e.callCtx(ctx)
	venuePos, err := e.venue.GetOpenPosition(cctx, e.symbol)
	cancel()
	if err != nil {
		logger.Warnf("对账: 查询交易所持仓失败: %v", err)
		return
	}

	switch {
	case venuePos == nil && e.position != nil:
		e.externalCloseLocked(ctx)
	case venuePos != nil && e.position == nil:
		e.adoptPositionLocked(ctx, venuePos)
	case venuePos != nil && e.position != nil:
		e.verifyStopsLocked(ctx, venuePos)
	}
}

// reconcilePendingLocked 核对尚未成交的入场委托。
func (e *Engine) reconcilePendingLocked(ctx context.Context) {
	pos := e.position
	cctx, cancel := e.callCtx(ctx)
	order, err := e.venue.GetOrderStatus(cctx, e.symbol, pos.OrderID)
	cancel()
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			logger.Warnf("对账: 入场委托 %s 已从交易所消失，按外部撤单处理", pos.OrderID)
			e.journalEvent(journal.KindPositionClosed, string(pos.Side), pos.EntryPrice, pos.Qty, 0, "entry order vanished", nil)
			e.position = nil
		} else {
			logger.Warnf("对账: 查询入场委托失败: %v", err)
		}
		return
	}
	switch order.Status {
	case exchange.OrderStatusFilled:
		e.finalizeFillLocked(ctx, order)
	case exchange.OrderStatusCancelled, exchange.OrderStatusRejected:
		logger.Warnf("对账: 入场委托终结于 %s，清除本地持仓记录", order.Status)
		e.journalEvent(journal.KindPositionClosed, string(pos.Side), order.Price, pos.Qty, 0, "entry order "+string(order.Status), order)
		e.position = nil
	}
}

// adoptPositionLocked 接管一个不是本进程开出的持仓（或崩溃前开的仓），
// 这是进程重启后不丢失持仓控制权的关键路径。
func (e *Engine) adoptPositionLocked(ctx context.Context, venuePos *exchange.Position) {
	entry := venuePos.EntryPrice
	pos := &ActivePosition{
		Side:              venuePos.Side,
		Qty:               venuePos.Size,
		EntryPrice:        entry,
		EntryTime:         venuePos.UpdatedAt,
		Filled:            true,
		StopsApplied:      true,
		ExecutionNotified: true, // 接管的仓不再补发成交通知
		Adopted:           true,
	}
	if pos.EntryTime.IsZero() {
		pos.EntryTime = e.nowFn()
	}

	// 止损距离标记价在一个 trailing 距离量级之内，视为 trailing 已激活。
	if venuePos.StopLoss > 0 && venuePos.MarkPrice > 0 {
		dist := math.Abs(venuePos.MarkPrice - venuePos.StopLoss)
		if dist <= e.cfg.TrailingDistance*1.5 {
			pos.IsTrailingActive = true
			pos.LastTrailingStop = venuePos.StopLoss
		}
	}

	// 信号 K 线已不可考，按入场价用固定距离兜底计算 TP/SL。
	expectedTP, expectedSL := e.fallbackStops(pos.Side, entry)
	pos.PlannedTakeProfit = expectedTP
	pos.PlannedStopLoss = expectedSL

	e.position = pos
	logger.Infof("对账: 接管交易所持仓 side=%s size=%.4f entry=%.2f trailing=%v",
		pos.Side, pos.Qty, entry, pos.IsTrailingActive)
	e.journalEvent(journal.KindPositionAdopted, string(pos.Side), entry, pos.Qty, 0, "adopted from venue", venuePos)
	e.notifyAdoptLocked(pos)

	if pos.IsTrailingActive {
		return
	}
	if !e.stopsDeviate(venuePos, expectedTP, expectedSL) {
		return
	}
	cctx, cancel := e.callCtx(ctx)
	err := e.venue.SetTradingStop(cctx, e.symbol, exchange.StopLevels{TakeProfit: &expectedTP, StopLoss: &expectedSL})
	cancel()
	if err != nil {
		logger.Warnf("对账: 补挂 TP/SL 失败: %v", err)
		return
	}
	logger.Infof("对账: 已按公式重挂 TP=%.2f SL=%.2f", expectedTP, expectedSL)
}

// verifyStopsLocked 对双方都有持仓的场景做轻量校验：刷新均价，
// 并在 TP/SL 缺失或偏差超过容差时按计划值补挂。
func (e *Engine) verifyStopsLocked(ctx context.Context, venuePos *exchange.Position) {
	pos := e.position
	if venuePos.EntryPrice > 0 {
		pos.EntryPrice = venuePos.EntryPrice
	}
	if venuePos.Size > 0 {
		pos.Qty = venuePos.Size
	}
	if pos.IsTrailingActive {
		// trailing 接管后 TP 被撤是预期状态，由 trailing 自己维护 SL。
		return
	}
	if !e.stopsDeviate(venuePos, pos.PlannedTakeProfit, pos.PlannedStopLoss) {
		return
	}
	tp := pos.PlannedTakeProfit
	sl := pos.PlannedStopLoss
	cctx, cancel := e.callCtx(ctx)
	err := e.venue.SetTradingStop(cctx, e.symbol, exchange.StopLevels{TakeProfit: &tp, StopLoss: &sl})
	cancel()
	if err != nil {
		logger.Warnf("对账: 重挂 TP/SL 失败: %v", err)
		return
	}
	pos.StopsApplied = true
	logger.Infof("对账: TP/SL 偏差超容差，已重挂 TP=%.2f SL=%.2f", tp, sl)
}

// stopsDeviate 判断交易所当前的 TP/SL 是否缺失或偏离期望值超过容差。
func (e *Engine) stopsDeviate(venuePos *exchange.Position, expectedTP, expectedSL float64) bool {
	tol := e.cfg.SLTPTolerance
	if tol <= 0 {
		tol = e.cfg.TickSize
	}
	if expectedTP > 0 {
		if venuePos.TakeProfit <= 0 || math.Abs(venuePos.TakeProfit-expectedTP) > tol {
			return true
		}
	}
	if expectedSL > 0 {
		if venuePos.StopLoss <= 0 || math.Abs(venuePos.StopLoss-expectedSL) > tol {
			return true
		}
	}
	return false
}

// fallbackStops 在缺少信号 K 线上下文时（接管持仓）按入场价对称计算
// TP/SL，风险回报 1:1。
func (e *Engine) fallbackStops(side exchange.Side, entry float64) (takeProfit, stopLoss float64) {
	if side == exchange.SideBuy {
		takeProfit = entry + e.cfg.TakeProfitPoints
		stopLoss = entry - e.cfg.TakeProfitPoints
	} else {
		takeProfit = entry - e.cfg.TakeProfitPoints
		stopLoss = entry + e.cfg.TakeProfitPoints
	}
	return roundStep(takeProfit, e.cfg.TickSize), roundStep(stopLoss, e.cfg.TickSize)
}

// externalCloseLocked 处理持仓在交易所侧消失（TP/SL 触发或人工平仓）。
func (e *Engine) externalCloseLocked(ctx context.Context) {
	pos := e.position
	// 尽力取当前价估算盈亏，取不到就按 0 价格上报。
	var price float64
	cctx, cancel := e.callCtx(ctx)
	quote, err := e.venue.GetTicker(cctx, e.symbol)
	cancel()
	if err == nil {
		price = quote.Last
	}
	pnl := 0.0
	if price > 0 {
		pnl = pos.ProfitPoints(price) * pos.Qty
	}
	logger.Infof("对账: 持仓已在交易所被平 side=%s entry=%.2f est_pnl=%.2f", pos.Side, pos.EntryPrice, pnl)
	e.journalEvent(journal.KindPositionClosed, string(pos.Side), price, pos.Qty, pnl, "closed externally", nil)
	e.notifyCloseLocked(pos, price, pnl, "交易所侧平仓（止盈/止损触发或人工操作）")

	// 清掉持仓与残留信号，立即恢复寻找新信号。
	e.position = nil
	e.signal = nil
}
