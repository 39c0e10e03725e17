// Package payment routes payouts to a user's payment channels.
package payment

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider names understood by the router.
const (
	ProviderPayPal    = "paypal"
	ProviderStripe    = "stripe"
	ProviderWeChatPay = "wechatpay"
	ProviderAlipay    = "alipay"
)

// PayoutRequest is what a provider needs to move money.
type PayoutRequest struct {
	PayoutID       string          `json:"payout_id"`
	UserID         string          `json:"user_id"`
	Email          string          `json:"email,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"-"`
}

// Confirmation is a provider's acknowledgement of a payout.
type Confirmation struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Provider sends a payout through one payment network.
type Provider interface {
	Name() string
	Pay(ctx context.Context, req PayoutRequest) (*Confirmation, error)
}

// NormalizeChannel lower-cases a payment channel name and resolves aliases.
func NormalizeChannel(channel string) string {
	name := strings.ToLower(strings.TrimSpace(channel))
	switch name {
	case "wechat", "weixin", "wechat_pay":
		return ProviderWeChatPay
	case "ali", "alipay_cn":
		return ProviderAlipay
	}
	return name
}
