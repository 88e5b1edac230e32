package engine

import (
	"fmt"
	"time"

	"voltrap/internal/gateway/exchange"
	"voltrap/internal/gateway/notifier"
	"voltrap/internal/logger"
	"voltrap/internal/market"
)

// 通知一律尽力而为：单独 goroutine 发送，失败只记日志不回传。

func (e *Engine) sendAsync(n notifier.TextNotifier, text string) {
	if n == nil {
		return
	}
	go func() {
		if err := n.SendText(text); err != nil {
			logger.Warnf("通知发送失败: %v", err)
		}
	}()
}

func (e *Engine) notifySignalLocked(c market.Candle, ratio, relAvg float64, replaced bool) {
	title := "🔔 放量信号"
	if replaced {
		title = "🔁 信号替换（更强 K 线）"
	}
	dir := "🟢 阳线（候选做空）"
	if !c.IsGreen() {
		dir = "🔴 阴线（候选做多）"
	}
	text := fmt.Sprintf("%s *%s*\n%s\n成交量: %.2f（前一根 %.2f 倍",
		title, e.symbol, dir, c.Volume, ratio)
	if relAvg > 0 {
		text += fmt.Sprintf("，均量 %.2f 倍", relAvg)
	}
	text += fmt.Sprintf("）\n收盘: %.2f\nK线: %s", c.Close, c.Start().Format("2006-01-02 15:04"))
	e.sendAsync(e.signalGate, text)
}

func (e *Engine) notifyOrderSubmittedLocked(side exchange.Side, price, qty, tp, sl float64) {
	text := fmt.Sprintf("📝 限价单已提交 *%s*\n方向: %s\n价格: %.2f\n数量: %.4f\n计划止盈: %.2f\n计划止损: %.2f",
		e.symbol, side, price, qty, tp, sl)
	e.sendAsync(e.notifier, text)
}

func (e *Engine) notifyFillLocked(pos *ActivePosition) {
	text := fmt.Sprintf("✅ 入场成交 *%s*\n方向: %s\n均价: %.2f\n数量: %.4f\n止盈: %.2f\n止损: %.2f",
		e.symbol, pos.Side, pos.EntryPrice, pos.Qty, pos.PlannedTakeProfit, pos.PlannedStopLoss)
	e.sendAsync(e.notifier, text)
}

func (e *Engine) notifyTrailingLocked(pos *ActivePosition, price, newStop float64, firstActivation bool) {
	title := "📈 移动止损更新"
	if firstActivation {
		title = "🚀 移动止损激活（固定止盈已撤销）"
	}
	text := fmt.Sprintf("%s *%s*\n方向: %s\n现价: %.2f\n新止损: %.2f",
		title, e.symbol, pos.Side, price, newStop)
	e.sendAsync(e.notifier, text)
}

func (e *Engine) notifyAdoptLocked(pos *ActivePosition) {
	text := fmt.Sprintf("🤝 接管交易所持仓 *%s*\n方向: %s\n均价: %.2f\n数量: %.4f\ntrailing: %v",
		e.symbol, pos.Side, pos.EntryPrice, pos.Qty, pos.IsTrailingActive)
	e.sendAsync(e.notifier, text)
}

func (e *Engine) notifyCloseLocked(pos *ActivePosition, price, pnl float64, reason string) {
	held := ""
	if !pos.EntryTime.IsZero() {
		held = fmt.Sprintf("\n持仓时长: %s", e.nowFn().Sub(pos.EntryTime).Truncate(time.Second))
	}
	text := fmt.Sprintf("⚠️ 持仓关闭 *%s*\n方向: %s\n入场: %.2f\n参考价: %.2f\n预估盈亏: %.2f%s\n原因: %s",
		e.symbol, pos.Side, pos.EntryPrice, price, pnl, held, reason)
	e.sendAsync(e.notifier, text)
}
