package engine

import (
	"context"
	"time"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
)

// trailNotifyPolicy 控制移动止损通知的节流：首次激活必发，其余只在
// 冷却窗口过后或移动幅度超过最小点差时提醒。
type trailNotifyPolicy struct {
	cooldown time.Duration
	minMove  float64
	lastSent time.Time
	lastStop float64
}

func (p *trailNotifyPolicy) shouldNotify(now time.Time, newStop float64, firstActivation bool) bool {
	if firstActivation {
		p.lastSent = now
		p.lastStop = newStop
		return true
	}
	moved := newStop - p.lastStop
	if moved < 0 {
		moved = -moved
	}
	if p.minMove > 0 && moved >= p.minMove {
		p.lastSent = now
		p.lastStop = newStop
		return true
	}
	if p.cooldown > 0 && now.Sub(p.lastSent) >= p.cooldown {
		p.lastSent = now
		p.lastStop = newStop
		return true
	}
	return false
}

// trailingTickLocked 在持仓存在且已成交时每个 tick 收紧一次止损。
// 止损只朝有利方向棘轮移动，首次激活时同时撤掉固定止盈。
func (e *Engine) trailingTickLocked(ctx context.Context) {
	pos := e.position
	if pos == nil || pos.Pending() {
		return
	}
	cctx, cancel := e.callCtx(ctx)
	quote, err := e.venue.GetTicker(cctx, e.symbol)
	cancel()
	if err != nil {
		logger.Warnf("trailing: 获取行情失败: %v", err)
		return
	}
	price := quote.Last
	if price <= 0 {
		price = quote.MarkPrice
	}
	if price <= 0 {
		return
	}

	profit := pos.ProfitPoints(price)
	if !pos.IsTrailingActive && profit < e.cfg.TrailingActivation {
		return
	}

	var newStop float64
	if pos.Side == exchange.SideBuy {
		newStop = price - e.cfg.TrailingDistance
	} else {
		newStop = price + e.cfg.TrailingDistance
	}
	newStop = roundStep(newStop, e.cfg.TickSize)

	if pos.IsTrailingActive && !pos.BetterStop(newStop) {
		return
	}

	levels := exchange.StopLevels{StopLoss: &newStop}
	firstActivation := !pos.IsTrailingActive
	if firstActivation {
		// trailing 接管后撤掉固定止盈。
		zero := 0.0
		levels.TakeProfit = &zero
	}
	cctx, cancel = e.callCtx(ctx)
	err = e.venue.SetTradingStop(cctx, e.symbol, levels)
	cancel()
	if err != nil {
		logger.Warnf("trailing: 更新止损失败: %v", err)
		return
	}

	pos.IsTrailingActive = true
	prev := pos.LastTrailingStop
	pos.LastTrailingStop = newStop
	logger.Infof("trailing: 止损 %.2f -> %.2f (price=%.2f profit=%.2f)", prev, newStop, price, profit)
	e.journalEvent(journal.KindTrailingMoved, string(pos.Side), newStop, pos.Qty, 0, "", nil)

	now := e.nowFn()
	if e.trail.shouldNotify(now, newStop, firstActivation) {
		e.notifyTrailingLocked(pos, price, newStop, firstActivation)
	}
}
