package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/ultratrader/internal/alert"
)

// levelEmoji prefixes Telegram messages so severity is visible at a glance
// in the chat list.
var levelEmoji = map[alert.Level]string{
	alert.LevelInfo:    "ℹ️",
	alert.LevelSuccess: "✅",
	alert.LevelWarning: "⚠️",
	alert.LevelError:   "\U0001f6a8",
}

// TelegramSender delivers alert events via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the event to the configured Telegram chat using the sendMessage
// API. The title is rendered in bold, prefixed with a severity emoji, and
// event fields are appended as sorted "key: value" lines.
func (t *TelegramSender) Send(ctx context.Context, ev alert.Event) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       telegramText(ev),
		"parse_mode": "Markdown",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

func telegramText(ev alert.Event) string {
	var b strings.Builder
	if emoji, ok := levelEmoji[ev.Level]; ok {
		b.WriteString(emoji)
		b.WriteString(" ")
	}
	b.WriteString("*")
	b.WriteString(eventTitle(ev))
	b.WriteString("*\n")
	b.WriteString(ev.Message)
	for _, k := range sortedFieldKeys(ev) {
		b.WriteString("\n")
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(ev.Fields[k])
	}
	return b.String()
}
