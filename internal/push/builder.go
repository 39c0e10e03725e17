package push

import (
	"log/slog"
	"net/http"

	"github.com/Proton-105/globalization/pkg/config"
)

// FromConfig builds the channels enabled in cfg. tg may be nil when no bot
// token is configured.
func FromConfig(cfg config.PushConfig, client *http.Client, tg TelegramSender, log *slog.Logger) []Channel {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	var channels []Channel

	if tg != nil {
		channels = append(channels, NewTelegramChannel(tg))
	}
	if cfg.Slack.URL != "" {
		channels = append(channels, NewSlackChannel(cfg.Slack.URL, client))
	}
	if cfg.WhatsApp.URL != "" {
		channels = append(channels, NewWhatsAppChannel(cfg.WhatsApp.URL, cfg.WhatsApp.Token, client))
	}
	if cfg.WeChat.URL != "" {
		channels = append(channels, NewWeChatChannel(cfg.WeChat.URL, client))
	}
	if cfg.Email.Host != "" {
		channels = append(channels, NewEmailChannel(cfg.Email))
	}
	if cfg.Log {
		channels = append(channels, NewLogChannel(log))
	}

	return channels
}
