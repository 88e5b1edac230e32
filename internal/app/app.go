// Package app 负责应用级编排：加载配置 → 初始化依赖 → 启动实时引擎。
package app

import (
	"context"
	"fmt"
	"time"

	"voltrap/internal/config"
	"voltrap/internal/engine"
	"voltrap/internal/gateway/binance"
	"voltrap/internal/gateway/bybit"
	"voltrap/internal/gateway/notifier"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
	"voltrap/internal/market"
	"voltrap/internal/scheduler"
	vthttp "voltrap/internal/transport/http"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg     *config.Config
	cfgPath string

	source   market.Source
	venue    *bybit.Client
	notify   notifier.TextNotifier
	store    *journal.Store
	engine   *engine.Engine
	httpSrv  *vthttp.Server
	reporter *cron.Cron
	watcher  *config.Watcher

	interval time.Duration
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config, cfgPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	interval, ok := scheduler.ParseIntervalDuration(cfg.Feed.Interval)
	if !ok {
		return nil, fmt.Errorf("feed.interval 无效: %s", cfg.Feed.Interval)
	}

	source, err := binance.New(binance.Config{
		RESTBaseURL:  cfg.Feed.RESTBaseURL,
		HTTPTimeout:  time.Duration(cfg.Feed.TimeoutSeconds) * time.Second,
		ProxyEnabled: cfg.Feed.ProxyEnabled,
		RESTProxyURL: cfg.Feed.RESTProxyURL,
		WSProxyURL:   cfg.Feed.WSProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}

	venue, err := bybit.NewClient(cfg.Venue)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	var notify notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("打开交易流水库失败: %w", err)
		}
	}

	eng := engine.New(engine.Params{
		Venue:        venue,
		Notifier:     notify,
		Journal:      store,
		Strategy:     cfg.Strategy,
		Symbol:       cfg.Venue.Symbol,
		Interval:     interval,
		AccountClass: cfg.Venue.AccountClass,
		CallTimeout:  time.Duration(cfg.Venue.TimeoutSeconds) * time.Second,
	})
	eng.SetSignalCooldown(cfg.Notify.SignalCooldownSeconds)
	eng.SetTrailNotifyPolicy(
		time.Duration(cfg.Notify.TrailCooldownSeconds)*time.Second,
		cfg.Notify.TrailMinMovePoints,
	)

	a := &App{
		cfg:      cfg,
		cfgPath:  cfgPath,
		source:   source,
		venue:    venue,
		notify:   notify,
		store:    store,
		engine:   eng,
		interval: interval,
	}

	if cfg.App.HTTPAddr != "" {
		a.httpSrv = vthttp.NewServer(cfg.App.HTTPAddr, eng, store)
	}
	if cfg.Report.Enabled && store != nil {
		a.reporter = cron.New()
		if _, err := a.reporter.AddFunc(cfg.Report.DailyCron, a.sendDailyReport); err != nil {
			return nil, fmt.Errorf("注册每日报告任务失败: %w", err)
		}
	}
	if cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, cfg.Strategy)
		if err != nil {
			logger.Warnf("配置热更新不可用: %v", err)
		} else {
			watcher.Subscribe(eng.SetStrategy)
			a.watcher = watcher
		}
	}
	return a, nil
}

// Run 启动实时服务，阻塞直至 ctx 取消或发生不可恢复错误。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.reporter != nil {
		a.reporter.Start()
		defer a.reporter.Stop()
	}

	group.Go(func() error {
		defer a.closeAll()
		return a.runLive(ctx)
	})

	return group.Wait()
}

func (a *App) closeAll() {
	a.engine.Close()
	_ = a.source.Close()
	if a.store != nil {
		_ = a.store.Close()
	}
}

// Engine exposes the engine instance (for tests/replay harnesses).
func (a *App) Engine() *engine.Engine {
	return a.engine
}

func (a *App) sendDailyReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sum, err := a.store.SummarySince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		logger.Warnf("汇总每日报告失败: %v", err)
		return
	}
	text := fmt.Sprintf("📊 每日报告 *%s*\n信号: %d\n下单: %d\n成交: %d\n平仓: %d\n移动止损: %d 次\n已实现盈亏(估): %.2f",
		a.cfg.Venue.Symbol, sum.Signals, sum.Orders, sum.Fills, sum.Closes, sum.TrailingMove, sum.RealizedPnL)
	if err := a.notify.SendText(text); err != nil {
		logger.Warnf("发送每日报告失败: %v", err)
	}
}
