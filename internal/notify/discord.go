package notify

import (
	"context"
	"fmt"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	httpSender
}

// NewDiscordSender creates a DiscordSender posting to webhookURL.
func NewDiscordSender(webhookURL string, opts ...SenderOption) *DiscordSender {
	return &DiscordSender{httpSender: newHTTPSender("discord", webhookURL, opts)}
}

// Send posts title in bold followed by message. Discord answers 204 on
// success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	return d.postJSON(ctx, d.endpoint, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return d.name
}
