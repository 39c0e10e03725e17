// Package handlers processes asynq tasks.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/jobs"
	"github.com/Proton-105/globalization/internal/push"
	"github.com/Proton-105/globalization/pkg/logger"
)

// Pusher sends a push synchronously.
type Pusher interface {
	SendPush(ctx context.Context, platform string, recipients []string, content string) error
}

// PushDeliverHandler runs queued pushes. Recipients that failed transiently are
// re-enqueued on their own so successful recipients are not notified twice.
type PushDeliverHandler struct {
	pusher Pusher
	queue  jobs.Manager
	log    *slog.Logger
}

func NewPushDeliverHandler(pusher Pusher, queue jobs.Manager, log *slog.Logger) *PushDeliverHandler {
	if log == nil {
		log = slog.Default()
	}

	return &PushDeliverHandler{pusher: pusher, queue: queue, log: log}
}

func (h *PushDeliverHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.PushDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "push deliver: failed to decode payload", slog.String("task_type", t.Type()), slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx = logger.WithCorrelationID(ctx, payload.CorrelationID)
	log := h.log.With(
		slog.String("platform", payload.Platform),
		slog.Int("attempt", payload.Attempt),
	)
	if payload.CorrelationID != "" {
		log = log.With(slog.String("correlation_id", payload.CorrelationID))
	}

	err := h.pusher.SendPush(ctx, payload.Platform, payload.Recipients, payload.Content)
	if err == nil {
		log.InfoContext(ctx, "push deliver: done", slog.Int("recipients", len(payload.Recipients)))
		return nil
	}

	var delivery *push.DeliveryError
	if !errors.As(err, &delivery) {
		if apperrors.IsRetryable(err) {
			return err
		}
		log.WarnContext(ctx, "push deliver: dropped", slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	var retry, dropped []string
	for _, recipient := range delivery.Recipients() {
		if shouldRetry(delivery.Failed[recipient]) {
			retry = append(retry, recipient)
		} else {
			dropped = append(dropped, recipient)
		}
	}

	if len(dropped) > 0 {
		log.WarnContext(ctx, "push deliver: recipients dropped", slog.Any("recipients", dropped))
	}

	if len(retry) == 0 {
		return nil
	}

	next := payload.Attempt + 1
	if next >= jobs.MaxPushAttempts {
		log.ErrorContext(ctx, "push deliver: giving up", slog.Any("recipients", retry))
		return nil
	}

	task, err := jobs.NewPushDeliverTask(jobs.PushDeliverPayload{
		Platform:      payload.Platform,
		Recipients:    retry,
		Content:       payload.Content,
		CorrelationID: payload.CorrelationID,
		Attempt:       next,
	}, asynq.ProcessIn(jobs.RetryDelay(next)))
	if err != nil {
		return err
	}

	if _, err := h.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("re-enqueue failed recipients: %w", err)
	}

	log.InfoContext(ctx, "push deliver: failed recipients re-enqueued", slog.Int("recipients", len(retry)))
	return nil
}

// shouldRetry treats transient, throttled and circuit-rejected deliveries as worth another try.
func shouldRetry(err error) bool {
	return apperrors.IsRetryable(err) ||
		apperrors.IsCircuitRejection(err) ||
		apperrors.CodeOf(err) == apperrors.CodeRateLimit
}
