// Package notify delivers operator alerts, such as an unhedged partial
// failure, to Telegram, Discord and the Redis alert channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches to every Sender. Notify forwards only the configured
// event types; NotifyAll bypasses the filter. It satisfies
// executor.Alerter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends to all senders when event is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll sends regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch delivers to every sender even when some fail.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
