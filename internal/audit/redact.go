package audit

import "github.com/Proton-105/globalization/pkg/logger"

// Redact returns a copy of details with sensitive values masked, recursing
// into nested maps and slices.
func Redact(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}

	out := make(map[string]any, len(details))
	for key, value := range details {
		if logger.IsSensitiveKey(key) {
			out[key] = logger.MaskedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return Redact(v)
	case map[string]string:
		m := make(map[string]any, len(v))
		for key, s := range v {
			m[key] = s
		}
		return Redact(m)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}
