// Package messagingplugin implements plugin.Messaging over the Telegram
// Bot API, backing the telegram_send_message/telegram_edit_message step
// handlers and the input.callback_query trigger.
package messagingplugin

import (
	"context"
	"errors"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

// Sender captures the subset of *tgbotapi.BotAPI used by TelegramProvider.
// It is satisfied by *tgbotapi.BotAPI so callers can pass either a real bot
// or a fake in tests.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramProvider implements plugin.Messaging over the Telegram Bot API.
type TelegramProvider struct {
	bot Sender
}

var _ plugin.Messaging = (*TelegramProvider)(nil)

// NewTelegramProvider builds a provider from an already-constructed bot
// client (or a fake, for tests).
func NewTelegramProvider(bot Sender) (*TelegramProvider, error) {
	if bot == nil {
		return nil, errors.New("messagingplugin: telegram bot is required")
	}
	return &TelegramProvider{bot: bot}, nil
}

// NewTelegramProviderFromToken constructs a provider using the default
// Telegram Bot API HTTP client.
func NewTelegramProviderFromToken(token string) (*TelegramProvider, error) {
	if token == "" {
		return nil, errors.New("messagingplugin: telegram bot token is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return NewTelegramProvider(bot)
}

// Send posts text to chatID with an optional inline keyboard and returns the
// Telegram-assigned message id.
func (p *TelegramProvider) Send(ctx context.Context, chatID, text string, keyboard [][]plugin.InlineKeyboardButton) (plugin.SendResult, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return plugin.SendResult{}, err
	}
	msg := tgbotapi.NewMessage(id, text)
	if kb := buildKeyboard(keyboard); kb != nil {
		msg.ReplyMarkup = *kb
	}
	sent, err := p.bot.Send(msg)
	if err != nil {
		return plugin.SendResult{}, err
	}
	return plugin.SendResult{MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Edit replaces the text/keyboard of an existing message.
func (p *TelegramProvider) Edit(ctx context.Context, chatID, messageID, text string, keyboard [][]plugin.InlineKeyboardButton) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return errors.New("messagingplugin: invalid telegram message id " + messageID)
	}
	edit := tgbotapi.NewEditMessageText(id, msgID, text)
	if kb := buildKeyboard(keyboard); kb != nil {
		edit.ReplyMarkup = kb
	}
	_, err = p.bot.Send(edit)
	return err
}

func parseChatID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, errors.New("messagingplugin: invalid telegram chat id " + chatID)
	}
	return id, nil
}

func buildKeyboard(rows [][]plugin.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	kbRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		btnRow := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			btnRow = append(btnRow, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.CallbackData))
		}
		kbRows = append(kbRows, btnRow)
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(kbRows...)
	return &kb
}
