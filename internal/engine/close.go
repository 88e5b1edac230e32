package engine

import (
	"context"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
	"voltrap/internal/market"
)

// panicCloseLocked 在持仓期间出现异常放量时立即以只减仓市价单离场。
func (e *Engine) panicCloseLocked(ctx context.Context, trigger market.Candle) {
	pos := e.position
	if pos == nil {
		return
	}
	if pos.Pending() {
		// 还没有真实仓位可平，撤单与否交给外部/对账决定。
		logger.Warnf("异常放量时入场委托尚未成交，不做保护性平仓")
		return
	}
	req := exchange.MarketCloseRequest{
		Symbol: e.symbol,
		Side:   pos.Side.Opposite(),
		Qty:    pos.Qty,
	}
	cctx, cancel := e.callCtx(ctx)
	orderID, err := e.venue.SubmitMarketClose(cctx, req)
	cancel()
	if err != nil {
		logger.Errorf("保护性平仓下单失败: %v", err)
		return
	}
	pnl := pos.ProfitPoints(trigger.Close) * pos.Qty
	logger.Infof("保护性平仓已提交: order=%s est_pnl=%.2f", orderID, pnl)
	e.journalEvent(journal.KindPanicClose, string(pos.Side), trigger.Close, pos.Qty, pnl, orderID, trigger)
	e.notifyCloseLocked(pos, trigger.Close, pnl, "持仓期间异常放量，保护性平仓")

	e.position = nil
	e.signal = nil
}
