package messagingplugin

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/goa-ai-labs/scenario-orchestrator/internal/plugin"
)

type fakeSender struct {
	lastChattable tgbotapi.Chattable
	resp          tgbotapi.Message
	err           error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.lastChattable = c
	return f.resp, f.err
}

func TestSendReturnsMessageID(t *testing.T) {
	sender := &fakeSender{resp: tgbotapi.Message{MessageID: 42}}
	p, err := NewTelegramProvider(sender)
	require.NoError(t, err)

	result, err := p.Send(context.Background(), "123", "hello", [][]plugin.InlineKeyboardButton{
		{{Text: "Yes", CallbackData: "yes"}, {Text: "No", CallbackData: "no"}},
	})
	require.NoError(t, err)
	require.Equal(t, "42", result.MessageID)

	msg, ok := sender.lastChattable.(tgbotapi.MessageConfig)
	require.True(t, ok)
	require.Equal(t, int64(123), msg.ChatID)
	require.Equal(t, "hello", msg.Text)
}

func TestSendRejectsNonNumericChatID(t *testing.T) {
	p, err := NewTelegramProvider(&fakeSender{})
	require.NoError(t, err)
	_, err = p.Send(context.Background(), "not-a-number", "hi", nil)
	require.Error(t, err)
}

func TestEditUpdatesExistingMessage(t *testing.T) {
	sender := &fakeSender{resp: tgbotapi.Message{MessageID: 42}}
	p, err := NewTelegramProvider(sender)
	require.NoError(t, err)

	err = p.Edit(context.Background(), "123", "42", "updated", nil)
	require.NoError(t, err)

	edit, ok := sender.lastChattable.(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	require.Equal(t, 42, edit.MessageID)
	require.Equal(t, "updated", edit.Text)
}

func TestEditRejectsNonNumericMessageID(t *testing.T) {
	p, err := NewTelegramProvider(&fakeSender{})
	require.NoError(t, err)
	err = p.Edit(context.Background(), "123", "abc", "updated", nil)
	require.Error(t, err)
}
