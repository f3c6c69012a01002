// Package channels fans reminder notifications out to the configured
// delivery surfaces: SMTP email, an ntfy-style push webhook, and Telegram.
// Email is the at-most-once channel; the push channels are fire-and-forget.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
	"github.com/basket/taskbell/internal/reminder"
)

// PushChannel is a fire-and-forget delivery surface for fired reminders.
type PushChannel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// SendReminder delivers a fired-reminder message. Errors are returned
	// for logging only; the caller never retries.
	SendReminder(ctx context.Context, task persistence.Task) error

	// SendDigest delivers the daily open-reminder summary.
	SendDigest(ctx context.Context, tasks []persistence.Task) error
}

// Service implements reminder.Notifier over the configured channels.
type Service struct {
	mailer Mailer
	push   []PushChannel
	logger *slog.Logger
}

// NewService wires the channels enabled in cfg. Disabled channels are
// simply absent; with nothing enabled the service is a safe no-op.
func NewService(cfg config.ChannelsConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger}

	if cfg.SMTP.Enabled {
		s.mailer = NewSMTPMailer(cfg.SMTP, logger)
	} else {
		s.mailer = NoopMailer{}
	}
	if cfg.Webhook.Enabled {
		s.push = append(s.push, NewWebhookChannel(cfg.Webhook, logger))
	}
	if cfg.Telegram.Enabled {
		s.push = append(s.push, NewTelegramChannel(cfg.Telegram, logger))
	}
	return s
}

// SendReminderEmail makes exactly one email attempt for the fired occurrence.
func (s *Service) SendReminderEmail(ctx context.Context, task persistence.Task) reminder.NotifyResult {
	subject := fmt.Sprintf("Reminder: %s", task.Name)
	body := reminderBody(task)
	if err := s.mailer.Send(ctx, task.OwnerEmail, subject, body); err != nil {
		return reminder.NotifyResult{Success: false, Detail: err.Error()}
	}
	return reminder.NotifyResult{Success: true}
}

// Push fans the fired reminder out to every push channel. Failures are
// logged and swallowed.
func (s *Service) Push(ctx context.Context, task persistence.Task) {
	for _, ch := range s.push {
		if err := ch.SendReminder(ctx, task); err != nil {
			s.logger.Warn("push channel failed",
				"channel", ch.Name(),
				"task_id", task.ID,
				"error", err,
			)
		}
	}
}

// SendDigest sends the daily summary through every push channel and reports
// the first failure.
func (s *Service) SendDigest(ctx context.Context, tasks []persistence.Task) error {
	var firstErr error
	for _, ch := range s.push {
		if err := ch.SendDigest(ctx, tasks); err != nil {
			s.logger.Warn("digest channel failed", "channel", ch.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s digest: %w", ch.Name(), err)
			}
		}
	}
	return firstErr
}

func reminderBody(task persistence.Task) string {
	at := "now"
	if task.ReminderAt != nil {
		at = task.ReminderAt.Local().Format("Mon Jan 2 15:04")
	}
	body := fmt.Sprintf("Task: %s\nPriority: %s\nDue: %s\n", task.Name, task.Priority, at)
	if task.Description != "" {
		body += "\n" + task.Description + "\n"
	}
	return body
}

func digestBody(tasks []persistence.Task) string {
	if len(tasks) == 0 {
		return "No open reminders today."
	}
	body := fmt.Sprintf("%d open reminder(s):\n", len(tasks))
	for _, t := range tasks {
		at := "unscheduled"
		if t.ReminderAt != nil {
			at = t.ReminderAt.Local().Format(time.RFC822)
		}
		body += fmt.Sprintf("- [%s] %s (%s)\n", t.Priority, t.Name, at)
	}
	return body
}
