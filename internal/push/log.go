package push

import (
	"context"
	"log/slog"
)

// LogChannel writes messages to the structured logger instead of delivering them.
type LogChannel struct {
	log *slog.Logger
}

// NewLogChannel constructs a logging channel.
func NewLogChannel(log *slog.Logger) *LogChannel {
	if log == nil {
		log = slog.Default()
	}
	return &LogChannel{log: log}
}

// Name implements Channel.
func (c *LogChannel) Name() string {
	return ChannelLog
}

// Send implements Channel.
func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	c.log.InfoContext(ctx, "push notification", slog.String("recipient", msg.Recipient), slog.String("content", msg.Content))
	return nil
}
