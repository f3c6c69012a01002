package channels

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

const webhookUserAgent = "TaskBell/0.3"

// WebhookChannel POSTs ntfy-style notifications: the message is the body,
// metadata rides in the Title/Tags/Priority headers.
type WebhookChannel struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewWebhookChannel(cfg config.WebhookConfig, logger *slog.Logger) *WebhookChannel {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		endpoint: strings.TrimSpace(cfg.URL),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) SendReminder(ctx context.Context, task persistence.Task) error {
	priority := "default"
	if task.Priority == persistence.PriorityHigh {
		priority = "high"
	}
	return w.send(ctx, webhookPayload{
		title:    fmt.Sprintf("Reminder: %s", task.Name),
		message:  reminderBody(task),
		tags:     []string{"taskbell", "reminder", string(task.Priority)},
		priority: priority,
	})
}

func (w *WebhookChannel) SendDigest(ctx context.Context, tasks []persistence.Task) error {
	return w.send(ctx, webhookPayload{
		title:   "TaskBell - Daily Digest",
		message: digestBody(tasks),
		tags:    []string{"taskbell", "digest"},
	})
}

type webhookPayload struct {
	title    string
	message  string
	tags     []string
	priority string
}

func (w *WebhookChannel) send(ctx context.Context, data webhookPayload) error {
	if w.endpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
