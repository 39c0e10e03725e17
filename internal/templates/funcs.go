package templates

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"money": money,
	"date":  date,
}

// money formats an amount with two decimal places.
func money(v any) (string, error) {
	switch amount := v.(type) {
	case decimal.Decimal:
		return amount.StringFixed(2), nil
	case *decimal.Decimal:
		if amount == nil {
			return "", fmt.Errorf("money: nil amount")
		}
		return amount.StringFixed(2), nil
	case string:
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return "", fmt.Errorf("money: %w", err)
		}
		return d.StringFixed(2), nil
	case float64:
		return decimal.NewFromFloat(amount).StringFixed(2), nil
	case float32:
		return decimal.NewFromFloat32(amount).StringFixed(2), nil
	case int:
		return decimal.NewFromInt(int64(amount)).StringFixed(2), nil
	case int64:
		return decimal.NewFromInt(amount).StringFixed(2), nil
	default:
		return "", fmt.Errorf("money: unsupported type %T", v)
	}
}

// date formats t with layout. Strings are parsed as RFC 3339.
func date(layout string, v any) (string, error) {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout), nil
	case *time.Time:
		if t == nil {
			return "", fmt.Errorf("date: nil time")
		}
		return t.Format(layout), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return "", fmt.Errorf("date: %w", err)
		}
		return parsed.Format(layout), nil
	default:
		return "", fmt.Errorf("date: unsupported type %T", v)
	}
}
