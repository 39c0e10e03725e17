package push

import (
	"context"
	"errors"
	"net/http"
	"time"

	telebot "gopkg.in/telebot.v3"

	apperrors "github.com/Proton-105/globalization/internal/errors"
)

// TelegramSender is the subset of *telebot.Bot used for delivery.
type TelegramSender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// chatRecipient addresses a chat by numeric id or @username.
type chatRecipient string

func (c chatRecipient) Recipient() string {
	return string(c)
}

// TelegramChannel delivers messages through the Telegram Bot API.
type TelegramChannel struct {
	bot TelegramSender
}

// NewTelegramBot connects a bot with token and verifies it with getMe.
func NewTelegramBot(token string, timeout time.Duration) (*telebot.Bot, error) {
	return telebot.NewBot(telebot.Settings{
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	})
}

// NewTelegramChannel wraps bot as a Channel.
func NewTelegramChannel(bot TelegramSender) *TelegramChannel {
	return &TelegramChannel{bot: bot}
}

// Name implements Channel.
func (c *TelegramChannel) Name() string {
	return ChannelTelegram
}

// Send implements Channel. telebot has no context support, so cancellation is
// only observed before the call.
func (c *TelegramChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.bot.Send(chatRecipient(msg.Recipient), msg.Content); err != nil {
		if errors.Is(err, telebot.ErrBlockedByUser) || errors.Is(err, telebot.ErrChatNotFound) {
			return apperrors.NewDeclinedError(ChannelTelegram, err)
		}
		return apperrors.NewExternalAPIError(ChannelTelegram, err)
	}

	return nil
}
