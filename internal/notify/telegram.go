package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/skalibog/everex/internal/config"
)

// TelegramChannel отправляет уведомления в Telegram-чат
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramChannel создает Telegram-канал уведомлений
func NewTelegramChannel(cfg config.TelegramConfig) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram-бота: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: cfg.ChatID}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Send отправляет событие в чат с HTML-разметкой
func (c *TelegramChannel) Send(ctx context.Context, event Event) error {
	text := fmt.Sprintf("📢 <b>%s</b>\n\n%s", event.Kind, event.Message)
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("ошибка отправки в Telegram: %w", err)
	}
	return nil
}
