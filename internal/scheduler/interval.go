package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// 交易所周期后缀。统一按小写匹配，调用方传 "4H" 也能接受。
var intervalUnits = map[byte]time.Duration{
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseIntervalDuration 把 "15m"、"1h"、"4h"、"1d"、"1w" 这类周期写法
// 换算成 time.Duration。写法非法时返回 (0, false)。
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(interval))
	if len(s) < 2 {
		return 0, false
	}
	unit, ok := intervalUnits[s[len(s)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}
