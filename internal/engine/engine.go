// Package engine implements the volume-spike signal detector and the
// position lifecycle state machine: entry confirmation, order placement,
// fill polling, trailing-stop management and venue reconciliation.
//
// 引擎是信号与持仓两份状态的唯一属主。三个异步来源（K 线流、周期 tick、
// 下单后的一次性延迟检查）都会进入这里，统一用一把互斥锁串行化；
// 锁内对交易所的调用全部套有限超时，失败只影响当前一跳，从不终止进程。
package engine

import (
	"context"
	"sync"
	"time"

	"voltrap/internal/config"
	"voltrap/internal/gateway/exchange"
	"voltrap/internal/gateway/notifier"
	"voltrap/internal/journal"
	"voltrap/internal/logger"
	"voltrap/internal/market"
)

const (
	maxHistory       = 500
	defaultCallLimit = 10 * time.Second
	// 下单后首次成交检查的延迟。
	firstFillCheckDelay = 2 * time.Second
)

type Params struct {
	Venue        exchange.Trading
	Notifier     notifier.TextNotifier
	Journal      *journal.Store // optional
	Strategy     config.StrategyConfig
	Symbol       string // venue symbol
	Interval     time.Duration
	AccountClass string
	CallTimeout  time.Duration
	NowFn        func() time.Time
}

type Engine struct {
	mu sync.Mutex

	venue      exchange.Trading
	notifier   notifier.TextNotifier
	signalGate *notifier.Throttled
	trail      trailNotifyPolicy
	journal    *journal.Store

	cfg          config.StrategyConfig
	symbol       string
	interval     time.Duration
	accountClass string
	callTimeout  time.Duration
	nowFn        func() time.Time

	signal   *VolumeSignal
	position *ActivePosition
	history  []market.Candle

	// opening 是开仓全程的重入锁：并发触发退化为 no-op，绝不重复下单。
	opening bool

	fillTimer *time.Timer
}

func New(p Params) *Engine {
	callTimeout := p.CallTimeout
	if callTimeout <= 0 {
		callTimeout = defaultCallLimit
	}
	nowFn := p.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	n := p.Notifier
	if n == nil {
		n = notifier.Noop{}
	}
	cooldown := 60.0
	return &Engine{
		venue:        p.Venue,
		notifier:     n,
		signalGate:   notifier.NewThrottled(n, 1.0/cooldown),
		journal:      p.Journal,
		cfg:          p.Strategy,
		symbol:       p.Symbol,
		interval:     p.Interval,
		accountClass: p.AccountClass,
		callTimeout:  callTimeout,
		nowFn:        nowFn,
	}
}

// SetSignalCooldown 重新设置信号通知的限流窗口（秒）。
func (e *Engine) SetSignalCooldown(seconds int) {
	if seconds <= 0 {
		return
	}
	e.mu.Lock()
	e.signalGate = notifier.NewThrottled(e.notifier, 1.0/float64(seconds))
	e.mu.Unlock()
}

// SetTrailNotifyPolicy 配置移动止损通知的冷却与最小点差。
func (e *Engine) SetTrailNotifyPolicy(cooldown time.Duration, minMovePoints float64) {
	e.mu.Lock()
	e.trail.cooldown = cooldown
	e.trail.minMove = minMovePoints
	e.mu.Unlock()
}

// SetStrategy 热更新策略参数（配置文件变更时由 Watcher 调用）。
func (e *Engine) SetStrategy(cfg config.StrategyConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

// Bootstrap 启动流程：先对账（接管崩溃前的持仓），再灌入历史 K 线。
// 历史 K 线按时间顺序走与实时流相同的信号/入场路径，保证顺序语义一致。
func (e *Engine) Bootstrap(ctx context.Context, history []market.Candle) {
	e.ReconcileOnce(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range history {
		e.processCandleLocked(ctx, c)
	}
	logger.Infof("引擎预热完成: history=%d signal=%v position=%v", len(e.history), e.signal != nil, e.position != nil)
}

// OnCandle 处理一条实时/回填 K 线事件。只有确认收盘的 K 线才会推进状态机。
func (e *Engine) OnCandle(ctx context.Context, c market.Candle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processCandleLocked(ctx, c)
}

func (e *Engine) processCandleLocked(ctx context.Context, c market.Candle) {
	if !c.Confirmed {
		return
	}
	now := e.nowFn()
	// 防御时钟漂移：仍处于当前未收盘时间桶内的 K 线即便带着确认标记也拒绝。
	if c.InOpenBucket(e.interval, now) {
		logger.Warnf("拒绝处于未收盘时间桶内的 K 线: open=%s", c.Start().Format(time.RFC3339))
		return
	}
	if !e.appendHistoryLocked(c) {
		return
	}
	if len(e.history) < 2 {
		return
	}
	completed := e.history[len(e.history)-1]
	previous := e.history[len(e.history)-2]
	e.detectSignalLocked(ctx, completed, previous)
	e.tryEntryLocked(ctx, completed)
}

// appendHistoryLocked 去重追加，乱序旧数据直接丢弃。
func (e *Engine) appendHistoryLocked(c market.Candle) bool {
	if n := len(e.history); n > 0 {
		last := e.history[n-1]
		if c.OpenTime == last.OpenTime {
			e.history[n-1] = c
			return true
		}
		if c.OpenTime < last.OpenTime {
			logger.Warnf("丢弃乱序 K 线: open=%d last=%d", c.OpenTime, last.OpenTime)
			return false
		}
	}
	e.history = append(e.history, c)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	return true
}

// LastConfirmedOpenTime 返回最近一根已确认 K 线的开盘毫秒时间，
// 供断线重连后的回填去重。
func (e *Engine) LastConfirmedOpenTime() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.history) == 0 {
		return 0
	}
	return e.history[len(e.history)-1].OpenTime
}

// Tick 由固定周期定时器驱动：先对账，再推进移动止损。挂单状态的
// 轮询由对账路径完成；成交当个 tick 不立即进入 trailing，从下一个
// tick 开始。
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pendingBefore := e.position != nil && e.position.Pending()
	e.reconcileLocked(ctx)
	if e.position == nil || pendingBefore {
		return
	}
	e.trailingTickLocked(ctx)
}

// ReconcileOnce 按需执行一次对账（启动时、HTTP 触发等）。
func (e *Engine) ReconcileOnce(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconcileLocked(ctx)
}

// Snapshot 返回内部状态的只读深拷贝。
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{Symbol: e.symbol, UpdatedAt: e.nowFn()}
	if e.signal != nil {
		s := *e.signal
		snap.Signal = &s
	}
	if e.position != nil {
		p := *e.position
		snap.Position = &p
	}
	return snap
}

// Close 停止内部定时器。进行中的委托单不会被自动撤销。
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fillTimer != nil {
		e.fillTimer.Stop()
		e.fillTimer = nil
	}
}

// callCtx 给每次交易所调用套上有限超时。
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.callTimeout)
}

func (e *Engine) journalEvent(kind journal.EventKind, side string, price, qty, pnl float64, note string, payload any) {
	if e.journal == nil {
		return
	}
	evt := journal.TradeEvent{
		Kind:   kind,
		Symbol: e.symbol,
		Side:   side,
		Price:  price,
		Qty:    qty,
		PnL:    pnl,
		Note:   note,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.journal.Append(ctx, evt, payload); err != nil {
		logger.Warnf("journal append failed kind=%s err=%v", kind, err)
	}
}
