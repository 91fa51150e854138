package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/crew-io/crewd/internal/bus"
	"github.com/crew-io/crewd/pkg/protocol"
)

// SlackNotifier forwards alert messages to a Slack incoming webhook. It is a
// plain observer: delivery failures are logged, never retried, and never fed
// back into the core.
type SlackNotifier struct {
	WebhookURL string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewSlack creates a notifier for the given webhook URL.
func NewSlack(webhookURL string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
	}
}

// Run subscribes to the alert channel and posts each alert until ctx is
// cancelled.
func (n *SlackNotifier) Run(ctx context.Context, b *bus.Bus) {
	sub := b.Subscribe(ctx, protocol.ChannelAlert)
	n.Logger.Info("slack alert notifier started")
	for msg := range sub.C() {
		if err := n.post(ctx, msg); err != nil {
			n.Logger.Error("slack webhook delivery failed", "sender", msg.Sender, "error", err)
		}
	}
	n.Logger.Info("slack alert notifier stopped")
}

func (n *SlackNotifier) post(ctx context.Context, msg protocol.Message) error {
	text := fmt.Sprintf(":rotating_light: alert from %s", msg.Sender)
	if step, ok := msg.Payload["step"].(string); ok && step != "" {
		text += fmt.Sprintf(" (step %s)", step)
	}
	if errText, ok := msg.Payload["error"].(string); ok && errText != "" {
		text += ": " + errText
	}
	return slack.PostWebhookCustomHTTPContext(ctx, n.WebhookURL, n.HTTPClient, &slack.WebhookMessage{
		Text: text,
	})
}
