package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender posts alerts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: webhookTimeout}}
}

type discordMessage struct {
	Content string `json:"content"`
}

// Send renders the title in bold above the message.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{Content: "**" + title + "**\n" + message}
	if err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
