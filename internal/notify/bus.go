package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AlertChannel is the Redis Pub/Sub channel alerts are published on.
const AlertChannel = "perparb:alerts"

// Publisher is the publishing half of domain.SignalBus.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Alert is the JSON payload published by BusSender.
type Alert struct {
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// BusSender publishes alerts on a signal bus channel so other processes can
// react to them.
type BusSender struct {
	bus     Publisher
	channel string
}

// NewBusSender creates a BusSender. An empty channel uses AlertChannel.
func NewBusSender(bus Publisher, channel string) *BusSender {
	if channel == "" {
		channel = AlertChannel
	}
	return &BusSender{bus: bus, channel: channel}
}

// Send publishes the alert.
func (b *BusSender) Send(ctx context.Context, title, message string) error {
	payload, err := json.Marshal(Alert{Title: title, Message: message, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("bus: marshal alert: %w", err)
	}
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (b *BusSender) Name() string {
	return "bus"
}
