package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nicholas-fedor/shoutrrr"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// Message is the rendered notification handed to a channel sender.
type Message struct {
	MonitorID   string           `json:"monitor_id"`
	MonitorName string           `json:"monitor_name"`
	Status      db.MonitorStatus `json:"status"`
	Kind        string           `json:"kind"` // triggered, recovered or handoff
	Recipient   string           `json:"recipient,omitempty"`
	Body        string           `json:"body"`
	At          time.Time        `json:"at"`
}

// Notifier delivers one message to one channel. Failures are recorded
// per-channel; they never abort dispatch to siblings.
type Notifier interface {
	Send(ctx context.Context, channel *db.NotificationChannel, msg *Message) error
}

// ShoutrrrNotifier sends through any service shoutrrr understands (slack,
// discord, telegram, smtp, ...) using a service URL from the channel
// config.
type ShoutrrrNotifier struct{}

func (n *ShoutrrrNotifier) Send(_ context.Context, channel *db.NotificationChannel, msg *Message) error {
	rawURL, _ := channel.Config["url"].(string)
	if rawURL == "" {
		return fmt.Errorf("channel %s has no service url", channel.ID)
	}

	sender, err := shoutrrr.CreateSender(rawURL)
	if err != nil {
		return fmt.Errorf("failed to create sender: %w", err)
	}

	for _, sendErr := range sender.Send(msg.Body, nil) {
		if sendErr != nil {
			return fmt.Errorf("failed to send notification: %w", sendErr)
		}
	}
	return nil
}

// WebhookNotifier POSTs the message as JSON to the channel's endpoint.
type WebhookNotifier struct {
	Client *http.Client
}

func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (n *WebhookNotifier) Send(ctx context.Context, channel *db.NotificationChannel, msg *Message) error {
	endpoint, _ := channel.Config["endpoint"].(string)
	if endpoint == "" {
		return fmt.Errorf("channel %s has no endpoint", channel.ID)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Router picks a sender by channel type.
type Router struct {
	senders map[string]Notifier
}

func NewRouter() *Router {
	webhook := NewWebhookNotifier()
	sh := &ShoutrrrNotifier{}
	return &Router{senders: map[string]Notifier{
		"webhook":  webhook,
		"slack":    sh,
		"discord":  sh,
		"telegram": sh,
		"email":    sh,
	}}
}

func (r *Router) Send(ctx context.Context, channel *db.NotificationChannel, msg *Message) error {
	sender, ok := r.senders[channel.Type]
	if !ok {
		return fmt.Errorf("unknown channel type %q", channel.Type)
	}
	return sender.Send(ctx, channel, msg)
}
