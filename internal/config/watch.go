package config

import (
	"path/filepath"
	"sync"

	"voltrap/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// StrategyListener 在配置文件变更且校验通过后收到新的策略参数。
type StrategyListener func(StrategyConfig)

// Watcher 监听配置文件，热更新策略阈值（仅 strategy 段；
// 交易所/通知等接线类配置变更需要重启进程）。
type Watcher struct {
	mu        sync.RWMutex
	path      string
	current   StrategyConfig
	listeners []StrategyListener
	v         *viper.Viper
}

func NewWatcher(path string, initial StrategyConfig) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: abs, current: initial}
	v := viper.New()
	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := w.reload(); err != nil {
			logger.Errorf("strategy reload failed (%s): %v", evt.Name, err)
			return
		}
	})
	v.WatchConfig()
	w.v = v
	return w, nil
}

func (w *Watcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.current = cfg.Strategy
	listeners := append([]StrategyListener(nil), w.listeners...)
	w.mu.Unlock()
	logger.Infof("策略参数已热更新: volume_threshold=%.2f ttl=%dm", cfg.Strategy.VolumeThreshold, cfg.Strategy.SignalTTLMin)
	for _, fn := range listeners {
		fn(cfg.Strategy)
	}
	return nil
}

// Subscribe 注册监听器，并立即收到一次当前快照。
func (w *Watcher) Subscribe(fn StrategyListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	snapshot := w.current
	w.mu.Unlock()
	fn(snapshot)
}

// Current 返回当前策略参数快照。
func (w *Watcher) Current() StrategyConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
