// Package notify defines the outbound notification contract. Delivery is
// best-effort: failures are logged by callers, never retried by the core.
package notify

import (
	"context"
	"log/slog"
)

// Message is one notification to a single recipient.
type Message struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
}

// Notifier sends a message through an external channel (email, chat, pager).
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier records messages to the structured log instead of sending them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Send implements Notifier.
func (n *LogNotifier) Send(_ context.Context, msg Message) error {
	n.logger.Info("notification dispatched",
		"channel", msg.Channel, "recipient", msg.Recipient, "subject", msg.Subject)
	return nil
}
