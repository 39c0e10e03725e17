package logger

import (
	"context"
	"log/slog"
	"strings"
)

// MaskedValue replaces secrets in logs and audit records.
const MaskedValue = "***"

// secretFragments mark keys whose values are dropped entirely. Matching is
// by substring so "slack_token" and "gateway_api_key" are caught too.
var secretFragments = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"apikey",
	"authorization",
	"card_number",
	"cvv",
	"iban",
	"account_number",
}

// contactKeys hold personal contact data that is partially shown.
var contactKeys = map[string]struct{}{
	"email":     {},
	"phone":     {},
	"recipient": {},
}

// MaskingHandler wraps a slog.Handler and masks secrets and contact data.
type MaskingHandler struct {
	next slog.Handler
}

// NewMaskingHandler wraps next.
func NewMaskingHandler(next slog.Handler) *MaskingHandler {
	return &MaskingHandler{next: next}
}

func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		masked[i] = maskAttr(attr)
	}
	return &MaskingHandler{next: h.next.WithAttrs(masked)}
}

func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{next: h.next.WithGroup(name)}
}

func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(maskAttr(attr))
		return true
	})

	return h.next.Handle(ctx, masked)
}

func maskAttr(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()

	if IsSensitiveKey(attr.Key) {
		return slog.String(attr.Key, MaskedValue)
	}

	switch attr.Value.Kind() {
	case slog.KindGroup:
		group := attr.Value.Group()
		masked := make([]any, len(group))
		for i, child := range group {
			masked[i] = maskAttr(child)
		}
		return slog.Group(attr.Key, masked...)
	case slog.KindString:
		if _, ok := contactKeys[strings.ToLower(attr.Key)]; ok {
			return slog.String(attr.Key, MaskContact(attr.Value.String()))
		}
	}

	return attr
}

// IsSensitiveKey reports whether values stored under key must never be written in clear text.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range secretFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}

// MaskContact keeps enough of an address or handle to tell recipients apart:
// the first character and domain of an email, or the last four characters
// of anything else.
func MaskContact(value string) string {
	if value == "" {
		return ""
	}

	if at := strings.LastIndexByte(value, '@'); at > 0 {
		return value[:1] + MaskedValue + value[at:]
	}

	runes := []rune(value)
	if len(runes) <= 4 {
		return MaskedValue
	}
	return MaskedValue + string(runes[len(runes)-4:])
}
