package config

import (
	"fmt"
	"strings"

	"voltrap/internal/scheduler"
)

func validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("nil config")
	}
	if strings.TrimSpace(c.Venue.Symbol) == "" {
		return fmt.Errorf("venue.symbol 不能为空")
	}
	if strings.TrimSpace(c.Venue.APIKey) == "" || strings.TrimSpace(c.Venue.APISecret) == "" {
		return fmt.Errorf("venue.api_key/api_secret 不能为空")
	}
	if _, ok := scheduler.ParseIntervalDuration(c.Feed.Interval); !ok {
		return fmt.Errorf("feed.interval 无效: %s", c.Feed.Interval)
	}
	if c.Strategy.VolumeThreshold <= 0 {
		return fmt.Errorf("strategy.volume_threshold 必须大于 0")
	}
	if c.Strategy.OrderQty <= 0 {
		return fmt.Errorf("strategy.order_qty 必须大于 0")
	}
	if c.Strategy.TakeProfitPoints <= 0 {
		return fmt.Errorf("strategy.take_profit_points 必须大于 0")
	}
	if c.Strategy.TrailingDistance <= 0 {
		return fmt.Errorf("strategy.trailing_distance_points 必须大于 0")
	}
	if c.Strategy.TrailingActivation <= 0 {
		return fmt.Errorf("strategy.trailing_activation_points 必须大于 0")
	}
	if c.Strategy.PanicVolume > 0 && c.Strategy.PanicVolume < c.Strategy.VolumeThreshold {
		return fmt.Errorf("strategy.panic_volume 不应小于 volume_threshold")
	}
	if c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.BotToken) == "" || strings.TrimSpace(c.Notify.Telegram.ChatID) == "" {
			return fmt.Errorf("telegram 已启用但 bot_token/chat_id 不完整")
		}
	}
	return nil
}
