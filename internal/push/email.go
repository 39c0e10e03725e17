package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel delivers plain-text mail over SMTP.
type EmailChannel struct {
	addr     string
	auth     smtp.Auth
	from     string
	subject  string
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailChannel builds an SMTP channel from cfg.
func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "Notification"
	}

	return &EmailChannel{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		auth:     auth,
		from:     cfg.From,
		subject:  subject,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Name implements Channel.
func (c *EmailChannel) Name() string {
	return ChannelEmail
}

// Send implements Channel. net/smtp is not context aware; cancellation is
// checked before dialing.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	to, err := mail.ParseAddress(msg.Recipient)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("invalid email recipient %q", msg.Recipient))
	}

	if err := c.sendMail(c.addr, c.auth, c.from, []string{to.Address}, c.compose(to.Address, msg.Content)); err != nil {
		return classifySMTPError(err)
	}

	return nil
}

func (c *EmailChannel) compose(to, content string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", c.from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", c.subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", c.now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(content)
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// classifySMTPError treats 5xx replies as permanent and everything else as transient.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return apperrors.NewDeclinedError(ChannelEmail, err)
	}
	return apperrors.NewExternalAPIError(ChannelEmail, err)
}
