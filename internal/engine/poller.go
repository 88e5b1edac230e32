package engine

import (
	"context"
	"errors"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
)

// pollExecutionLocked 查询入场委托状态。成交后补挂 TP/SL、发一次性
// 成交通知并进入 trailing 阶段。委托从不重试改价：不成交的单就挂着，
// 直到外部撤单或对账发现其消失。
func (e *Engine) pollExecutionLocked(ctx context.Context) {
	pos := e.position
	if pos == nil || !pos.Pending() {
		return
	}
	cctx, cancel := e.callCtx(ctx)
	order, err := e.venue.GetOrderStatus(cctx, e.symbol, pos.OrderID)
	cancel()
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			// 活动单和历史单都查不到：交给对账流程判定，不在这里猜。
			logger.Warnf("委托 %s 在交易所查询不到，等待对账处理", pos.OrderID)
			return
		}
		logger.Warnf("查询委托状态失败: %v", err)
		return
	}

	switch order.Status {
	case exchange.OrderStatusFilled:
		e.finalizeFillLocked(ctx, order)
	case exchange.OrderStatusCancelled, exchange.OrderStatusRejected:
		logger.Warnf("入场委托终结于 %s，清除本地持仓记录", order.Status)
		e.journalEvent(journal.KindPositionClosed, string(pos.Side), order.Price, pos.Qty, 0, "entry order "+string(order.Status), order)
		e.position = nil
	default:
		logger.Debugf("委托 %s 仍未成交: status=%s", pos.OrderID, order.Status)
	}
}

// finalizeFillLocked 在确认成交后执行一次性的收尾动作。
func (e *Engine) finalizeFillLocked(ctx context.Context, order *exchange.Order) {
	pos := e.position
	if pos == nil {
		return
	}
	if order.AvgFillPrice > 0 {
		pos.EntryPrice = order.AvgFillPrice
	}
	pos.Filled = true

	// 成交之前不能挂止盈止损，现在一次性补上。
	if !pos.StopsApplied {
		tp := pos.PlannedTakeProfit
		sl := pos.PlannedStopLoss
		cctx, cancel := e.callCtx(ctx)
		err := e.venue.SetTradingStop(cctx, e.symbol, exchange.StopLevels{TakeProfit: &tp, StopLoss: &sl})
		cancel()
		if err != nil {
			// 留待下一个 tick 或对账补挂。
			logger.Errorf("设置 TP/SL 失败，稍后重试: %v", err)
		} else {
			pos.StopsApplied = true
		}
	}

	logger.Infof("入场成交: side=%s entry=%.2f qty=%.4f order=%s", pos.Side, pos.EntryPrice, pos.Qty, pos.OrderID)
	e.journalEvent(journal.KindOrderFilled, string(pos.Side), pos.EntryPrice, pos.Qty, 0, pos.OrderID, order)
	if !pos.ExecutionNotified {
		pos.ExecutionNotified = true
		e.notifyFillLocked(pos)
	}
}
