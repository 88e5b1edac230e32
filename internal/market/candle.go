package market

import "time"

// Candle 表示单根 K 线。Confirmed=false 表示当前仍在形成中的 K 线，
// 只有收盘确认后的数据才能参与信号判断。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Turnover  float64 `json:"turnover"`
	Confirmed bool    `json:"confirmed"`
}

// IsGreen reports whether the candle closed at or above its open.
func (c Candle) IsGreen() bool {
	return c.Close >= c.Open
}

// Start returns the candle open time as time.Time (ms since epoch).
func (c Candle) Start() time.Time {
	return time.UnixMilli(c.OpenTime)
}

// Age 返回自该 K 线开盘以来经过的时间。
func (c Candle) Age(now time.Time) time.Duration {
	return now.Sub(c.Start())
}

// InOpenBucket reports whether the candle still belongs to the
// currently-open time bucket for the given interval. Such candles must
// never drive signal or entry decisions, even if flagged confirmed.
func (c Candle) InOpenBucket(interval time.Duration, now time.Time) bool {
	if interval <= 0 {
		return false
	}
	bucketStart := now.UTC().Truncate(interval)
	return !c.Start().UTC().Before(bucketStart)
}
