// Package notify sends batch summaries to webhooks and Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"z88-quant/internal/runner"
	"z88-quant/pkg/utils"
)

// Notification is a message for all channels.
type Notification struct {
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Channel delivers notifications.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier fans a notification out to every channel, retrying transient failures.
type MultiNotifier struct {
	channels []Channel
	retry    utils.RetryConfig
}

// NewMultiNotifier creates a notifier over channels.
func NewMultiNotifier(channels ...Channel) *MultiNotifier {
	return &MultiNotifier{channels: channels, retry: utils.DefaultRetryConfig()}
}

// Len returns the number of channels.
func (m *MultiNotifier) Len() int {
	return len(m.channels)
}

// Send delivers n on every channel and joins the channel errors.
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	var errs []error
	for _, ch := range m.channels {
		ch := ch
		if err := utils.Retry(ctx, m.retry, func() error { return ch.Send(ctx, n) }); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// BatchSummary turns a completed batch into a notification listing the top setups.
func BatchSummary(batch *runner.Batch, top int) Notification {
	setups := batch.Setups()
	if top > 0 && len(setups) > top {
		setups = setups[:top]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d symbols analysed", len(batch.Results))
	if len(batch.Failures) > 0 {
		fmt.Fprintf(&b, ", %d without history", len(batch.Failures))
	}
	b.WriteString("\n")
	if len(setups) == 0 {
		b.WriteString("No breakout or accumulation setups.")
	}
	for _, s := range setups {
		fmt.Fprintf(&b, "\n%s @ %s", s, utils.FormatPrice(s.Close))
	}

	return Notification{
		Title:   "z88 analysis " + batch.FinishedAt.Format("2006-01-02 15:04"),
		Message: b.String(),
		Data: map[string]interface{}{
			"run_id":   batch.ID,
			"symbols":  len(batch.Results),
			"failures": len(batch.Failures),
			"setups":   setups,
		},
		Timestamp: batch.FinishedAt,
	}
}

// WebhookNotifier posts notifications as JSON.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook channel.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send posts n to the webhook URL.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}
	return post(ctx, w.client, w.url, body, "webhook")
}

// TelegramNotifier sends notifications through the Telegram Bot API.
type TelegramNotifier struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram channel.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		baseURL:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

// Send posts n as an HTML message.
func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("<b>%s</b>\n\n%s", html.EscapeString(n.Title), html.EscapeString(n.Message)),
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	return post(ctx, t.client, url, body, "telegram")
}

func post(ctx context.Context, client *http.Client, url string, body []byte, channel string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "z88/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", channel, resp.StatusCode)
	}
	return nil
}
