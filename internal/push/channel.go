// Package push delivers notifications to recipients over named channels.
package push

import (
	"context"
	"strings"
)

// Channel names understood by the router.
const (
	ChannelTelegram = "telegram"
	ChannelSlack    = "slack"
	ChannelWhatsApp = "whatsapp"
	ChannelWeChat   = "wechat"
	ChannelEmail    = "email"
	ChannelLog      = "log"
)

var aliases = map[string]string{
	"weixin": ChannelWeChat,
	"wx":     ChannelWeChat,
	"mail":   ChannelEmail,
	"tg":     ChannelTelegram,
}

// Message is a single-recipient delivery.
type Message struct {
	Recipient string
	Content   string
}

// Channel delivers messages through one external mechanism.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// NormalizePlatform lower-cases the platform name and resolves aliases.
func NormalizePlatform(platform string) string {
	name := strings.ToLower(strings.TrimSpace(platform))
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}
