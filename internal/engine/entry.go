package engine

import (
	"context"
	"time"

	"voltrap/internal/logger"
	"voltrap/internal/market"
)

// tryEntryLocked 用刚收盘的 K 线核对当前信号的入场条件。
func (e *Engine) tryEntryLocked(ctx context.Context, completed market.Candle) {
	sig := e.signal
	if sig == nil || !sig.WaitingForLowerVolume {
		return
	}
	// 信号 K 线自身永远不能触发入场，必须是之后的 K 线。
	if completed.OpenTime == sig.Candle.OpenTime {
		return
	}
	now := e.nowFn()

	// 信号 K 线和确认 K 线都必须能在本地历史中找到。找不到说明历史被
	// 截断，宁可放弃信号也不在陈旧数据上入场。
	signalCandle, ok := e.findCandleLocked(sig.Candle.OpenTime)
	if !ok {
		logger.Errorf("信号 K 线不在本地历史中（open=%d），清除信号放弃入场", sig.Candle.OpenTime)
		e.signal = nil
		return
	}
	if _, ok := e.findCandleLocked(completed.OpenTime); !ok {
		logger.Errorf("确认 K 线不在本地历史中（open=%d），清除信号放弃入场", completed.OpenTime)
		e.signal = nil
		return
	}

	if !completed.Confirmed {
		return
	}
	if completed.InOpenBucket(e.interval, now) {
		return
	}
	if sig.Expired(e.cfg.SignalTTL(), now) {
		logger.Infof("入场检查时信号已过期，放弃")
		e.signal = nil
		return
	}
	// 入场条件：确认 K 线缩量（不高于信号 K 线的量）。
	if completed.Volume > signalCandle.Volume {
		return
	}

	logger.Infof("入场条件满足: signal_vol=%.2f confirm_vol=%.2f open=%s",
		signalCandle.Volume, completed.Volume, completed.Start().Format(time.RFC3339))
	e.openPositionLocked(ctx, signalCandle, completed)

	// 开仓过程可能因失败自行清掉信号，这里幂等地再检查一次。
	if e.signal != nil && e.signal.Candle.OpenTime == sig.Candle.OpenTime {
		e.signal.WaitingForLowerVolume = false
		e.signal = nil
	}
}

func (e *Engine) findCandleLocked(openTime int64) (market.Candle, bool) {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].OpenTime == openTime {
			return e.history[i], true
		}
	}
	return market.Candle{}, false
}
