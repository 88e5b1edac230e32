// Package symbol 统一合约符号写法。配置里允许 "BTC/USDT"、"btcusdt"、
// "BTC/USDT:USDT" 等人类写法，网关一律使用交易所原生的 "BTCUSDT"。
package symbol

import "strings"

// Normalize converts any supported notation to the exchange-native form.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "/", "")
}
