package app

import (
	"context"
	"fmt"
	"time"

	"voltrap/internal/logger"
	"voltrap/internal/market"
	"voltrap/internal/scheduler"
)

// runLive 是实时主循环：启动预检 → 对账与历史预热 → 订阅实时 K 线。
// K 线事件、周期 tick 和重连回填都汇聚到同一个 select 循环，
// 引擎因此观察到单一逻辑线索。
func (a *App) runLive(ctx context.Context) error {
	if err := a.preflight(ctx); err != nil {
		return err
	}

	history, err := a.source.FetchHistory(ctx, a.cfg.Feed.Symbol, a.cfg.Feed.Interval, a.cfg.Feed.HistoryLimit)
	if err != nil {
		return fmt.Errorf("拉取历史 K 线失败: %w", err)
	}
	a.engine.Bootstrap(ctx, history)

	reconnectC := make(chan struct{}, 1)
	opts := market.SubscribeOptions{
		OnConnect: func() {
			select {
			case reconnectC <- struct{}{}:
			default:
			}
		},
		OnDisconnect: func(err error) {
			if err != nil {
				logger.Warnf("行情连接断开: %v", err)
			}
		},
	}
	events, err := a.source.Subscribe(ctx, a.cfg.Feed.Symbol, a.cfg.Feed.Interval, opts)
	if err != nil {
		return fmt.Errorf("订阅实时 K 线失败: %w", err)
	}

	ticker := time.NewTicker(a.cfg.Strategy.TrailingInterval())
	defer ticker.Stop()

	// 收盘兜底：WS 丢掉收盘事件时，在每个周期边界后主动回填一次。
	barSync := scheduler.NewAlignedScheduler(ctx, a.interval, scheduler.DefaultKlineGrace+3*time.Second)
	barSync.Name = "bar-sync"
	go barSync.Start(func() { a.backfill(ctx) })

	logger.Infof("实时循环启动: feed=%s/%s venue=%s tick=%s",
		a.cfg.Feed.Symbol, a.cfg.Feed.Interval, a.cfg.Venue.Symbol, a.cfg.Strategy.TrailingInterval())

	for {
		// 重连回填优先于实时事件，保证缺口 K 线先按时间顺序重放。
		select {
		case <-reconnectC:
			a.backfill(ctx)
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-reconnectC:
			a.backfill(ctx)
		case <-ticker.C:
			a.engine.Tick(ctx)
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("行情事件通道已关闭")
			}
			a.engine.OnCandle(ctx, ev.Candle)
		}
	}
}

// preflight 启动时设置杠杆并确认余额可查，失败直接拒绝启动。
func (a *App) preflight(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.venue.SetLeverage(cctx, a.cfg.Venue.Symbol, a.cfg.Venue.Leverage); err != nil {
		return fmt.Errorf("设置杠杆失败: %w", err)
	}
	balance, err := a.venue.GetBalance(cctx, a.cfg.Venue.AccountClass)
	if err != nil {
		return fmt.Errorf("查询余额失败: %w", err)
	}
	logger.Infof("启动预检通过: leverage=%dx balance=%.2f %s (%s)",
		a.cfg.Venue.Leverage, balance.Available, balance.Coin, balance.AccountClass)
	return nil
}

// backfill 断线重连后补齐缺口：从历史接口拉取近段 K 线，把比本地最新
// K 线更新的已确认部分按顺序重放进引擎。
func (a *App) backfill(ctx context.Context) {
	last := a.engine.LastConfirmedOpenTime()
	if last == 0 {
		return
	}
	history, err := a.source.FetchHistory(ctx, a.cfg.Feed.Symbol, a.cfg.Feed.Interval, a.cfg.Feed.HistoryLimit)
	if err != nil {
		logger.Warnf("重连回填失败: %v", err)
		return
	}
	replayed := 0
	for _, c := range history {
		if c.OpenTime <= last || !c.Confirmed {
			continue
		}
		a.engine.OnCandle(ctx, c)
		replayed++
	}
	if replayed > 0 {
		logger.Infof("重连回填完成: %d 根 K 线已重放", replayed)
	}
}
