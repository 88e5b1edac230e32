package notifier

import (
	"golang.org/x/time/rate"
)

// Throttled 包装一个 TextNotifier，按冷却窗口限流。
// 超出配额的消息直接丢弃（返回 nil），通知是尽力而为的旁路输出。
type Throttled struct {
	inner   TextNotifier
	limiter *rate.Limiter
}

// NewThrottled allows one message per cooldown window with a burst of one.
func NewThrottled(inner TextNotifier, perSecond float64) *Throttled {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (t *Throttled) SendText(text string) error {
	if t == nil || t.inner == nil {
		return nil
	}
	if !t.limiter.Allow() {
		return nil
	}
	return t.inner.SendText(text)
}
