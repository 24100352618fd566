// Package notify delivers operator alerts. Delivery is fire-and-forget: the
// core never blocks on, retries, or fails because of a notification.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier is the alert channel the engines call.
type Notifier interface {
	Notify(text string)
}

// Nop discards every notification. Used when no channel is configured.
type Nop struct{}

// Notify discards text.
func (Nop) Notify(string) {}

// Telegram sends messages through the Telegram bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTelegram creates a Telegram notifier for one chat.
func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// Notify delivers text asynchronously. Failures are logged and dropped.
func (t *Telegram) Notify(text string) {
	go func() {
		payload, err := json.Marshal(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		})
		if err != nil {
			t.logger.Warn("Failed marshaling telegram message", zap.Error(err))
			return
		}

		url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
		resp, err := t.client.Post(url, "application/json", bytes.NewReader(payload))
		if err != nil {
			t.logger.Warn("Failed sending telegram message", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.logger.Warn("Telegram API rejected message", zap.Int("status", resp.StatusCode))
		}
	}()
}
