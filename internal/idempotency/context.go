package idempotency

import "context"

type keyContextKey struct{}

// WithKey stores a caller-supplied idempotency key in ctx.
func WithKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext returns the idempotency key stored in ctx, or an empty string.
func KeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if key, ok := ctx.Value(keyContextKey{}).(string); ok {
		return key
	}
	return ""
}
