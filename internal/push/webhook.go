package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/logger"
)

const maxErrorBody = 512

// WebhookChannel posts a JSON payload per message to an HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	token   string
	client  *http.Client
	payload func(Message) any
	check   func(body []byte) error
}

// NewSlackChannel sends through a Slack incoming webhook. The recipient is the
// target channel or user id.
func NewSlackChannel(url string, client *http.Client) *WebhookChannel {
	return &WebhookChannel{
		name:   ChannelSlack,
		url:    url,
		client: client,
		payload: func(msg Message) any {
			return map[string]any{
				"channel": msg.Recipient,
				"text":    msg.Content,
			}
		},
	}
}

// NewWhatsAppChannel sends text messages through the WhatsApp Cloud API
// messages endpoint. The recipient is a phone number in international format.
func NewWhatsAppChannel(url, token string, client *http.Client) *WebhookChannel {
	return &WebhookChannel{
		name:   ChannelWhatsApp,
		url:    url,
		token:  token,
		client: client,
		payload: func(msg Message) any {
			return map[string]any{
				"messaging_product": "whatsapp",
				"to":                msg.Recipient,
				"type":              "text",
				"text":              map[string]string{"body": msg.Content},
			}
		},
	}
}

// NewWeChatChannel sends through a WeCom group robot webhook, mentioning the
// recipient user id.
func NewWeChatChannel(url string, client *http.Client) *WebhookChannel {
	return &WebhookChannel{
		name:   ChannelWeChat,
		url:    url,
		client: client,
		payload: func(msg Message) any {
			return map[string]any{
				"msgtype": "text",
				"text": map[string]any{
					"content":        msg.Content,
					"mentioned_list": []string{msg.Recipient},
				},
			}
		},
		check: checkWeChatResponse,
	}
}

// Name implements Channel.
func (c *WebhookChannel) Name() string {
	return c.name
}

// Send implements Channel.
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(c.payload(msg))
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("encode %s payload: %v", c.name, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("build %s request: %v", c.name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	logger.Propagate(req)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	client := c.client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return apperrors.NewExternalAPIError(c.name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.FromHTTPStatus(c.name, resp.StatusCode, truncate(respBody))
	}

	if c.check != nil {
		return c.check(respBody)
	}

	return nil
}

const weChatRateLimited = 45009

func checkWeChatResponse(body []byte) error {
	var resp struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return apperrors.NewExternalAPIError(ChannelWeChat, fmt.Errorf("decode response: %w", err))
	}

	switch resp.ErrCode {
	case 0:
		return nil
	case weChatRateLimited:
		return apperrors.NewExternalAPIError(ChannelWeChat, fmt.Errorf("errcode %d: %s", resp.ErrCode, resp.ErrMsg))
	default:
		return apperrors.NewDeclinedError(ChannelWeChat, fmt.Errorf("errcode %d: %s", resp.ErrCode, resp.ErrMsg))
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody])
	}
	return string(body)
}
