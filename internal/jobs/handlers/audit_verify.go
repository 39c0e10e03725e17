package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"

	"github.com/Proton-105/globalization/internal/audit"
	"github.com/Proton-105/globalization/pkg/metrics"
)

// AuditVerifyHandler re-verifies the stored audit chain.
type AuditVerifyHandler struct {
	source audit.ChainSource
	log    *slog.Logger
}

func NewAuditVerifyHandler(source audit.ChainSource, log *slog.Logger) *AuditVerifyHandler {
	if log == nil {
		log = slog.Default()
	}

	return &AuditVerifyHandler{source: source, log: log}
}

func (h *AuditVerifyHandler) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()

	checked, err := audit.Verify(ctx, h.source)
	if err == nil {
		h.log.InfoContext(ctx, "audit verify: chain intact",
			slog.Int("entries", checked),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	}

	var chainErr *audit.ChainError
	if !errors.As(err, &chainErr) {
		return err
	}

	metrics.RecordAuditChainBreak()
	h.log.ErrorContext(ctx, "audit verify: chain broken",
		slog.Uint64("seq", chainErr.Seq),
		slog.String("reason", chainErr.Reason),
		slog.Int("verified_entries", checked),
	)

	if hub := sentry.CurrentHub(); hub.Client() != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", "audit")
			scope.SetExtra("seq", chainErr.Seq)
			hub.CaptureException(chainErr)
		})
	}

	return fmt.Errorf("%w: %w", chainErr, asynq.SkipRetry)
}
