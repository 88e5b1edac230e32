package config

import "time"

// Config 是 voltrap 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Feed     FeedConfig     `toml:"feed"`
	Venue    VenueConfig    `toml:"venue"`
	Strategy StrategyConfig `toml:"strategy"`
	Notify   NotifyConfig   `toml:"notify"`
	Journal  JournalConfig  `toml:"journal"`
	Report   ReportConfig   `toml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// FeedConfig 描述行情数据源（Binance USDT 合约）。
type FeedConfig struct {
	Symbol         string `toml:"symbol"`
	Interval       string `toml:"interval"`
	HistoryLimit   int    `toml:"history_limit"`
	RESTBaseURL    string `toml:"rest_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ProxyEnabled   bool   `toml:"proxy_enabled"`
	RESTProxyURL   string `toml:"rest_proxy_url"`
	WSProxyURL     string `toml:"ws_proxy_url"`
}

// VenueConfig 描述交易所（Bybit v5）的访问方式。
type VenueConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	Symbol         string `toml:"symbol"`
	Category       string `toml:"category"`      // linear | inverse
	AccountClass   string `toml:"account_class"` // UNIFIED | CONTRACT
	Leverage       int    `toml:"leverage"`
	RecvWindowMS   int    `toml:"recv_window_ms"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// StrategyConfig 包含策略全部经验参数。原始策略中这些是硬编码常量，
// 这里一律下放到配置（见 DESIGN.md 的 Open Question 决策）。
type StrategyConfig struct {
	VolumeThreshold float64 `toml:"volume_threshold"` // 触发信号的绝对成交量
	PanicVolume     float64 `toml:"panic_volume"`     // 持仓期间的异常量平仓阈值，0 表示禁用
	SignalTTLMin    int     `toml:"signal_ttl_minutes"`
	AvgVolumePeriod int     `toml:"avg_volume_period"`

	OrderQty         float64 `toml:"order_qty"`
	MinBalance       float64 `toml:"min_balance"`
	PriceOffset      float64 `toml:"price_offset"`       // 限价单相对市价的让价
	TakeProfitPoints float64 `toml:"take_profit_points"` // 相对下单价的固定止盈距离
	StopBuffer       float64 `toml:"stop_buffer"`        // 止损相对极值的缓冲
	QtyStep          float64 `toml:"qty_step"`
	TickSize         float64 `toml:"tick_size"`

	TrailingActivation float64 `toml:"trailing_activation_points"`
	TrailingDistance   float64 `toml:"trailing_distance_points"`
	TrailingIntervalS  int     `toml:"trailing_interval_seconds"`
	SLTPTolerance      float64 `toml:"sltp_tolerance_points"` // 接管持仓时允许的 TP/SL 偏差
}

func (s StrategyConfig) SignalTTL() time.Duration {
	return time.Duration(s.SignalTTLMin) * time.Minute
}

func (s StrategyConfig) TrailingInterval() time.Duration {
	return time.Duration(s.TrailingIntervalS) * time.Second
}

type NotifyConfig struct {
	Telegram              TelegramConfig `toml:"telegram"`
	SignalCooldownSeconds int            `toml:"signal_cooldown_seconds"`
	TrailCooldownSeconds  int            `toml:"trail_cooldown_seconds"`
	TrailMinMovePoints    float64        `toml:"trail_min_move_points"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type ReportConfig struct {
	Enabled   bool   `toml:"enabled"`
	DailyCron string `toml:"daily_cron"`
}
