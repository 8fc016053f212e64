package notify

import (
	"context"
	"fmt"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	httpSender
	token  string
	chatID string
}

// NewTelegramSender creates a TelegramSender for a bot token and chat ID.
func NewTelegramSender(token, chatID string, opts ...SenderOption) *TelegramSender {
	return &TelegramSender{
		httpSender: newHTTPSender("telegram", telegramAPI, opts),
		token:      token,
		chatID:     chatID,
	}
}

// Send posts title in bold followed by message to the configured chat.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return t.postJSON(ctx, fmt.Sprintf("%s/bot%s/sendMessage", t.endpoint, t.token), map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	})
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return t.name
}
