package engine

import (
	"context"
	"time"

	"voltrap/internal/journal"
	"voltrap/internal/logger"
	"voltrap/internal/market"

	talib "github.com/markcheno/go-talib"
)

// detectSignalLocked 根据刚收盘的 K 线与其前一根决定：平仓保护、
// 新信号、信号替换，或者什么都不做。
func (e *Engine) detectSignalLocked(ctx context.Context, completed, previous market.Candle) {
	if !completed.Confirmed || !previous.Confirmed {
		return
	}
	now := e.nowFn()

	// 持仓期间出现异常放量不是入场信号而是危险信号：立即市价离场。
	if e.position != nil && e.cfg.PanicVolume > 0 &&
		completed.Volume >= e.cfg.PanicVolume &&
		completed.Start().After(e.position.EntryTime) {
		logger.Warnf("持仓期间异常放量 volume=%.2f threshold=%.2f，触发保护性平仓", completed.Volume, e.cfg.PanicVolume)
		e.panicCloseLocked(ctx, completed)
		return
	}

	var volumeRatio float64
	if previous.Volume > 0 {
		volumeRatio = completed.Volume / previous.Volume
	}

	// 过期信号先丢弃，再考虑是否产生新信号。
	if e.signal != nil && e.signal.Expired(e.cfg.SignalTTL(), now) {
		logger.Infof("信号已过期（K线时间超过 %s），丢弃", e.cfg.SignalTTL())
		e.journalEvent(journal.KindSignalExpired, "", e.signal.Candle.Close, 0, 0, "signal ttl exceeded", nil)
		e.signal = nil
	}

	switch {
	case e.signal == nil:
		if completed.Volume < e.cfg.VolumeThreshold {
			return
		}
		if completed.Age(now) > e.cfg.SignalTTL() {
			// 回填场景：太老的放量不再有入场价值。
			return
		}
		e.signal = &VolumeSignal{
			Candle:                completed,
			RaisedAt:              now,
			WaitingForLowerVolume: true,
		}
		rel := e.relativeVolumeLocked()
		logger.Infof("放量信号: open=%s volume=%.2f ratio=%.2f relAvg=%.2f green=%v",
			completed.Start().Format(time.RFC3339), completed.Volume, volumeRatio, rel, completed.IsGreen())
		e.journalEvent(journal.KindSignalRaised, "", completed.Close, 0, 0, "volume spike", completed)
		e.notifySignalLocked(completed, volumeRatio, rel, false)

	case completed.Volume >= e.cfg.VolumeThreshold && completed.Volume > e.signal.Candle.Volume:
		// 最新最强信号胜出：整体替换，不做任何平均。
		logger.Infof("信号被更强 K 线替换: old=%.2f new=%.2f", e.signal.Candle.Volume, completed.Volume)
		e.signal = &VolumeSignal{
			Candle:                completed,
			RaisedAt:              now,
			WaitingForLowerVolume: true,
		}
		rel := e.relativeVolumeLocked()
		e.journalEvent(journal.KindSignalReplaced, "", completed.Close, 0, 0, "stronger candle", completed)
		e.notifySignalLocked(completed, volumeRatio, rel, true)
	}
}

// relativeVolumeLocked 返回最新成交量相对 N 周期均量的倍数，
// 仅用于通知里的上下文展示，不参与信号判定。
func (e *Engine) relativeVolumeLocked() float64 {
	period := e.cfg.AvgVolumePeriod
	if period <= 1 || len(e.history) < period+1 {
		return 0
	}
	volumes := make([]float64, 0, len(e.history))
	for _, c := range e.history {
		volumes = append(volumes, c.Volume)
	}
	sma := talib.Sma(volumes[:len(volumes)-1], period)
	avg := sma[len(sma)-1]
	if avg <= 0 {
		return 0
	}
	return volumes[len(volumes)-1] / avg
}
