package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/taskbell/internal/config"
	"github.com/basket/taskbell/internal/persistence"
)

// telegramSender is the slice of tgbotapi.BotAPI we use, swappable in tests.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel pushes fired reminders to a single chat. It is send-only:
// TaskBell never reads updates from the bot.
type TelegramChannel struct {
	token  string
	chatID int64
	logger *slog.Logger

	mu  sync.Mutex
	bot telegramSender
}

func NewTelegramChannel(cfg config.TelegramConfig, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:  cfg.Token,
		chatID: cfg.ChatID,
		logger: logger,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) SendReminder(ctx context.Context, task persistence.Task) error {
	text := fmt.Sprintf("🔔 *%s*\n%s", escapeMarkdown(task.Name), reminderBody(task))
	return t.sendText(ctx, text)
}

func (t *TelegramChannel) SendDigest(ctx context.Context, tasks []persistence.Task) error {
	return t.sendText(ctx, "📋 *Daily Digest*\n"+digestBody(tasks))
}

func (t *TelegramChannel) sendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.getBot()
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// getBot initializes the bot lazily on first use. NewBotAPI performs a
// network call, so construction failures surface as send errors instead of
// blocking startup.
func (t *TelegramChannel) getBot() (telegramSender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot connected", "user", bot.Self.UserName)
	t.bot = bot
	return t.bot, nil
}

func escapeMarkdown(s string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
}
