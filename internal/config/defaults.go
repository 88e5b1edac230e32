package config

import (
	"strings"

	"voltrap/internal/pkg/symbol"
)

func (c *Config) applyDefaults() {
	if c == nil {
		return
	}
	c.Venue.Symbol = symbol.Normalize(c.Venue.Symbol)
	c.Feed.Symbol = symbol.Normalize(c.Feed.Symbol)
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = "dev"
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}

	if strings.TrimSpace(c.Feed.Symbol) == "" {
		c.Feed.Symbol = c.Venue.Symbol
	}
	if strings.TrimSpace(c.Feed.Interval) == "" {
		// 信号时效固定为 K 线时间 2 小时，周期必须明显短于它，
		// 否则紧随其后的确认 K 线会踩在过期边界上。
		c.Feed.Interval = "15m"
	}
	if c.Feed.HistoryLimit <= 0 {
		c.Feed.HistoryLimit = 200
	}
	if c.Feed.TimeoutSeconds <= 0 {
		c.Feed.TimeoutSeconds = 15
	}

	if strings.TrimSpace(c.Venue.BaseURL) == "" {
		c.Venue.BaseURL = "https://api.bybit.com"
	}
	if strings.TrimSpace(c.Venue.Category) == "" {
		c.Venue.Category = "linear"
	}
	if strings.TrimSpace(c.Venue.AccountClass) == "" {
		c.Venue.AccountClass = "UNIFIED"
	}
	if c.Venue.Leverage <= 0 {
		c.Venue.Leverage = 10
	}
	if c.Venue.RecvWindowMS <= 0 {
		c.Venue.RecvWindowMS = 5000
	}
	if c.Venue.TimeoutSeconds <= 0 {
		c.Venue.TimeoutSeconds = 10
	}

	if c.Strategy.SignalTTLMin <= 0 {
		c.Strategy.SignalTTLMin = 120
	}
	if c.Strategy.AvgVolumePeriod <= 0 {
		c.Strategy.AvgVolumePeriod = 20
	}
	if c.Strategy.TrailingIntervalS <= 0 {
		c.Strategy.TrailingIntervalS = 15
	}
	if c.Strategy.QtyStep <= 0 {
		c.Strategy.QtyStep = 0.001
	}
	if c.Strategy.TickSize <= 0 {
		c.Strategy.TickSize = 0.1
	}

	if c.Notify.SignalCooldownSeconds <= 0 {
		c.Notify.SignalCooldownSeconds = 60
	}
	if c.Notify.TrailCooldownSeconds <= 0 {
		c.Notify.TrailCooldownSeconds = 300
	}
	if strings.TrimSpace(c.Journal.Path) == "" {
		c.Journal.Path = "data/journal.db"
	}
	if strings.TrimSpace(c.Report.DailyCron) == "" {
		c.Report.DailyCron = "0 0 * * *"
	}
}
