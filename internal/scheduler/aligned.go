package scheduler

import (
	"context"
	"time"

	"voltrap/internal/logger"
)

// AlignedScheduler 在每个 K 线周期边界加偏移处执行任务，用作实时流
// 之外的收盘兜底（WS 丢包时由它触发回填）。
type AlignedScheduler struct {
	Name     string
	Interval time.Duration
	Offset   time.Duration

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 阻塞运行直到 ctx 取消，通常放在独立 goroutine 里。
func (s *AlignedScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: interval=%s 无效，退出", s.Interval)
		return
	}
	if s.Offset < 0 {
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("AlignedScheduler[%s]: interval=%s offset=%s", s.Name, s.Interval, s.Offset)
	for {
		now := s.nowFn().UTC()
		nextClose := now.Truncate(s.Interval).Add(s.Interval)
		wakeAt := nextClose.Add(s.Offset)
		if !s.waitUntil(wakeAt) {
			logger.Infof("AlignedScheduler[%s]: ctx done, exit", s.Name)
			return
		}
		task()
	}
}

func (s *AlignedScheduler) waitUntil(target time.Time) bool {
	wait := target.Sub(s.nowFn().UTC())
	if wait <= 0 {
		wait = time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
