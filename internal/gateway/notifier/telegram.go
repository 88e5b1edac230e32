package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"voltrap/internal/pkg/circuit"
)

// 中文说明：
// Telegram 通知器：信号触发、成交、移动止损与平仓事件推送至指定群/频道。
// 持续失败时熔断器打开，冷却期内的消息直接丢弃，避免拖慢交易主路径。

type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client

	breaker *circuit.Breaker
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 15 * time.Second},
		breaker:  circuit.NewBreaker("telegram", 3, 2*time.Minute),
	}
}

// SendText 发送文本消息（带最多 3 次重试）
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("Telegram 配置不完整")
	}
	if !t.breaker.Allow() {
		return nil
	}
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.BotToken)

	payload := map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, _ := json.Marshal(payload)

	var lastErr error
	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest("POST", url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(i+1) * time.Second)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			t.breaker.RecordSuccess()
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	t.breaker.RecordFailure()
	return lastErr
}
