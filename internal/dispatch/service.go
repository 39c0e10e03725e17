// Package dispatch is the single entry point for notifications, payouts,
// localized text and audit records.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/Proton-105/globalization/internal/audit"
	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/jobs"
	"github.com/Proton-105/globalization/internal/payment"
	"github.com/Proton-105/globalization/internal/push"
	"github.com/Proton-105/globalization/pkg/logger"
)

// Audit actions written by the service.
const (
	ActionPushSent         = "push.sent"
	ActionPushFailed       = "push.failed"
	ActionPaymentSucceeded = "payment.succeeded"
	ActionPaymentFailed    = "payment.failed"
	ActionPaymentPending   = "payment.pending"
)

// Pusher delivers a notification to every recipient.
type Pusher interface {
	SendPush(ctx context.Context, platform string, recipients []string, content string) error
}

// Payer pays a user.
type Payer interface {
	PayUser(ctx context.Context, amount decimal.Decimal, user domain.User, opts ...payment.PayOption) (*payment.Receipt, error)
}

// Renderer produces localized text.
type Renderer interface {
	GetTemplate(key, lang string, data any) (string, error)
}

// Auditor appends audit entries.
type Auditor interface {
	LogAudit(ctx context.Context, action, userID string, details map[string]any) (*audit.Entry, error)
}

// Service wires the four operations together and audits pushes and payouts.
type Service struct {
	push      Pusher
	pay       Payer
	templates Renderer
	audit     Auditor
	queue     jobs.Manager
	log       *slog.Logger
}

// Deps lists the collaborators of a Service. Queue may be nil, which disables SendPushAsync.
type Deps struct {
	Push      Pusher
	Pay       Payer
	Templates Renderer
	Audit     Auditor
	Queue     jobs.Manager
}

func NewService(deps Deps, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		push:      deps.Push,
		pay:       deps.Pay,
		templates: deps.Templates,
		audit:     deps.Audit,
		queue:     deps.Queue,
		log:       log,
	}
}

// SendPush delivers content synchronously and records the outcome.
func (s *Service) SendPush(ctx context.Context, platform string, recipients []string, content string) error {
	err := s.push.SendPush(ctx, platform, recipients, content)

	details := map[string]any{
		"platform":   push.NormalizePlatform(platform),
		"recipients": len(recipients),
	}
	action := ActionPushSent
	if err != nil {
		action = ActionPushFailed
		details["error"] = err.Error()
		if code := apperrors.CodeOf(err); code != "" {
			details["code"] = code
		}

		var delivery *push.DeliveryError
		if errors.As(err, &delivery) {
			details["failed"] = delivery.Recipients()
		}
	}

	s.record(ctx, action, audit.SystemUser, details)
	return err
}

// SendPushAsync queues the push for a worker and returns the task id.
func (s *Service) SendPushAsync(ctx context.Context, platform string, recipients []string, content string) (string, error) {
	if s.queue == nil {
		return "", apperrors.NewStateError("async push delivery is not configured")
	}
	if strings.TrimSpace(content) == "" {
		return "", apperrors.NewValidationError("content is required")
	}

	task, err := jobs.NewPushDeliverTask(jobs.PushDeliverPayload{
		Platform:      platform,
		Recipients:    recipients,
		Content:       content,
		CorrelationID: logger.CorrelationIDFromContext(ctx),
	})
	if err != nil {
		return "", err
	}

	info, err := s.queue.Enqueue(ctx, task, asynq.Queue(jobs.QueueCritical))
	if err != nil {
		return "", apperrors.NewExternalAPIError("asynq", err)
	}

	return info.ID, nil
}

// PayUser pays amount to user and records the outcome.
func (s *Service) PayUser(ctx context.Context, amount decimal.Decimal, user domain.User, opts ...payment.PayOption) (*payment.Receipt, error) {
	receipt, err := s.pay.PayUser(ctx, amount, user, opts...)

	if err != nil {
		details := map[string]any{
			"amount": amount.StringFixed(2),
			"error":  err.Error(),
		}
		if code := apperrors.CodeOf(err); code != "" {
			details["code"] = code
		}
		s.record(ctx, ActionPaymentFailed, user.ID, details)
		return nil, err
	}

	// replays were audited the first time
	if !receipt.FromCache {
		action := ActionPaymentSucceeded
		if receipt.Status == domain.PayoutProcessing {
			action = ActionPaymentPending
		}
		s.record(ctx, action, user.ID, map[string]any{
			"payout_id": receipt.PayoutID,
			"channel":   receipt.Channel,
			"reference": receipt.Reference,
			"amount":    receipt.Amount.StringFixed(2),
			"currency":  receipt.Currency,
		})
	}

	return receipt, nil
}

// GetTemplate renders key in lang with data.
func (s *Service) GetTemplate(key, lang string, data any) (string, error) {
	return s.templates.GetTemplate(key, lang, data)
}

// LogAudit appends an entry to the audit trail.
func (s *Service) LogAudit(ctx context.Context, action, userID string, details map[string]any) (*audit.Entry, error) {
	return s.audit.LogAudit(ctx, action, userID, details)
}

func (s *Service) record(ctx context.Context, action, userID string, details map[string]any) {
	if s.audit == nil {
		return
	}

	// the outcome is recorded even when the caller has gone away
	ctx = context.WithoutCancel(ctx)
	if _, err := s.audit.LogAudit(ctx, action, userID, details); err != nil {
		s.log.ErrorContext(ctx, "failed to write audit entry",
			slog.String("action", action),
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	}
}
