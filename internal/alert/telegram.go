package alert

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkghttp "index_trader/pkg/http"
)

const telegramAPI = "https://api.telegram.org"

type TelegramChannel struct {
	botToken string
	chatID   string
	client   *pkghttp.Client
}

func NewTelegramChannel(botToken, chatID string) *TelegramChannel {
	return newTelegramChannel(telegramAPI, botToken, chatID)
}

func newTelegramChannel(apiURL, botToken, chatID string) *TelegramChannel {
	return &TelegramChannel{
		botToken: botToken,
		chatID:   chatID,
		client:   pkghttp.NewClient(apiURL, pkghttp.Options{Timeout: 5 * time.Second, MaxRetries: 2}, nil),
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Send(ctx context.Context, alert AlertPayload) error {
	if t.botToken == "" || t.chatID == "" {
		return nil
	}

	icon := "ℹ️"
	switch alert.Level {
	case Warning:
		icon = "⚠️"
	case Error:
		icon = "❌"
	case Critical:
		icon = "🚨"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *[%s] %s*\n\n%s", icon, alert.Level, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		b.WriteString("\n")
		for _, k := range sortedFieldKeys(alert.Fields) {
			fmt.Fprintf(&b, "\n- *%s*: %s", k, alert.Fields[k])
		}
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       b.String(),
		"parse_mode": "Markdown",
	}
	if _, err := t.client.PostJSON(ctx, "/bot"+t.botToken+"/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram api failed: %w", err)
	}
	return nil
}
