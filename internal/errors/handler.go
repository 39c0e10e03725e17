package errors

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/Proton-105/globalization/pkg/logger"
)

const genericUserMessage = "Something went wrong. Please try again later"

// CodeInternal labels errors that carry no AppError code.
const CodeInternal = "E000"

// Resolution is what a caller may be told about a failed operation.
type Resolution struct {
	Code      string
	Message   string
	Retryable bool
}

// Reporter forwards an error to an external tracker.
type Reporter func(ctx context.Context, err error, tags map[string]string)

// Handler logs failed operations and reports the severe ones.
type Handler struct {
	log    *slog.Logger
	report Reporter
}

// NewHandler builds a Handler. With sentryEnabled, high and critical errors
// and anything unclassified go to Sentry.
func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	var report Reporter
	if sentryEnabled {
		report = reportToSentry
	}
	return NewHandlerWithReporter(log, report)
}

// NewHandlerWithReporter builds a Handler with a custom reporter. report may be nil.
func NewHandlerWithReporter(log *slog.Logger, report Reporter) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, report: report}
}

// Handle logs err and resolves it to a caller-safe message. A cancelled
// caller context is logged at info level and never reported.
func (h *Handler) Handle(ctx context.Context, err error) Resolution {
	if err == nil {
		return Resolution{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res := Resolution{Code: CodeInternal, Message: genericUserMessage}
	severity := SeverityHigh

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		res.Code = appErr.Code
		res.Retryable = appErr.Retryable
		if appErr.UserMessage != "" {
			res.Message = appErr.UserMessage
		}
		severity = appErr.Severity
	}

	tags := map[string]string{"code": res.Code, "severity": string(severity)}
	attrs := []slog.Attr{
		slog.String("code", res.Code),
		slog.String("error", err.Error()),
		slog.String("severity", string(severity)),
		slog.Bool("retryable", res.Retryable),
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
		tags["correlation_id"] = correlationID
	}

	if errors.Is(err, context.Canceled) {
		h.log.LogAttrs(ctx, slog.LevelInfo, "operation cancelled by caller", attrs...)
		return res
	}

	severe := severity == SeverityHigh || severity == SeverityCritical
	level := slog.LevelWarn
	if severe {
		level = slog.LevelError
	}
	h.log.LogAttrs(ctx, level, "operation failed", attrs...)

	if severe && h.report != nil {
		h.report(ctx, err, tags)
	}

	return res
}

func reportToSentry(ctx context.Context, err error, tags map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		hub.CaptureException(err)
	})
}
