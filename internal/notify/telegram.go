package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender is the part of tgbotapi.BotAPI the presenter needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramPresenter sends failure messages to an operator chat.
type TelegramPresenter struct {
	bot    TelegramSender
	chatID int64
}

func NewTelegramPresenter(bot TelegramSender, chatID int64) *TelegramPresenter {
	return &TelegramPresenter{bot: bot, chatID: chatID}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

func (p *TelegramPresenter) Present(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	text := fmt.Sprintf("%s\n\n[%s] %s, attempt %d", msg.Text, msg.Kind, msg.Label, msg.Attempt)
	if _, err := p.bot.Send(tgbotapi.NewMessage(p.chatID, text)); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}
