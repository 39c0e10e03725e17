package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/globalization/internal/audit"
	"github.com/Proton-105/globalization/internal/domain"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/jobs"
	"github.com/Proton-105/globalization/internal/payment"
	"github.com/Proton-105/globalization/internal/push"
	"github.com/Proton-105/globalization/pkg/logger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockPusher struct{ mock.Mock }

func (m *mockPusher) SendPush(ctx context.Context, platform string, recipients []string, content string) error {
	return m.Called(platform, recipients, content).Error(0)
}

type mockPayer struct{ mock.Mock }

func (m *mockPayer) PayUser(ctx context.Context, amount decimal.Decimal, user domain.User, opts ...payment.PayOption) (*payment.Receipt, error) {
	args := m.Called(amount.String(), user.ID)
	receipt, _ := args.Get(0).(*payment.Receipt)
	return receipt, args.Error(1)
}

type staticRenderer map[string]string

func (r staticRenderer) GetTemplate(key, _ string, _ any) (string, error) {
	text, ok := r[key]
	if !ok {
		return "", errors.New("missing")
	}
	return text, nil
}

type brokenAuditor struct{}

func (brokenAuditor) LogAudit(context.Context, string, string, map[string]any) (*audit.Entry, error) {
	return nil, errors.New("audit store down")
}

type queueStub struct {
	tasks []*asynq.Task
}

func (q *queueStub) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: jobs.QueueCritical}, nil
}

func (q *queueStub) Close() error { return nil }

func newService(t *testing.T, pusher Pusher, payer Payer, queue jobs.Manager) (*Service, *audit.MemorySink) {
	t.Helper()
	sink := audit.NewMemorySink()
	svc := NewService(Deps{
		Push:      pusher,
		Pay:       payer,
		Templates: staticRenderer{"greeting": "hello"},
		Audit:     audit.NewRecorder(quietLogger(), sink),
		Queue:     queue,
	}, quietLogger())
	return svc, sink
}

func TestSendPush_AuditsSuccess(t *testing.T) {
	pusher := &mockPusher{}
	pusher.On("SendPush", "Slack", []string{"a", "b"}, "hi").Return(nil)
	svc, sink := newService(t, pusher, &mockPayer{}, nil)

	require.NoError(t, svc.SendPush(context.Background(), "Slack", []string{"a", "b"}, "hi"))

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionPushSent, entries[0].Action)
	assert.Equal(t, audit.SystemUser, entries[0].UserID)
	assert.Equal(t, "slack", entries[0].Details["platform"])
	pusher.AssertExpectations(t)
}

func TestSendPush_AuditsFailedRecipients(t *testing.T) {
	deliveryErr := &push.DeliveryError{Channel: "slack", Failed: map[string]error{
		"b": apperrors.NewDeclinedError("slack", errors.New("gone")),
	}}
	pusher := &mockPusher{}
	pusher.On("SendPush", "slack", []string{"a", "b"}, "hi").Return(deliveryErr)
	svc, sink := newService(t, pusher, &mockPayer{}, nil)

	err := svc.SendPush(context.Background(), "slack", []string{"a", "b"}, "hi")
	require.ErrorIs(t, err, deliveryErr)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionPushFailed, entries[0].Action)
	assert.Equal(t, []any{"b"}, entries[0].Details["failed"])
}

func TestSendPush_AuditFailureDoesNotMaskResult(t *testing.T) {
	pusher := &mockPusher{}
	pusher.On("SendPush", "slack", []string{"a"}, "hi").Return(nil)
	svc := NewService(Deps{Push: pusher, Audit: brokenAuditor{}}, quietLogger())

	assert.NoError(t, svc.SendPush(context.Background(), "slack", []string{"a"}, "hi"))
}

type ctxAwareAuditor struct {
	actions []string
}

func (a *ctxAwareAuditor) LogAudit(ctx context.Context, action, _ string, _ map[string]any) (*audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.actions = append(a.actions, action)
	return &audit.Entry{Action: action}, nil
}

func TestOutcomesAreAuditedAfterCallerCancel(t *testing.T) {
	pusher := &mockPusher{}
	pusher.On("SendPush", "slack", []string{"a"}, "hi").Return(context.Canceled)
	payer := &mockPayer{}
	payer.On("PayUser", "5", "u-1").Return(nil, context.Canceled)

	auditor := &ctxAwareAuditor{}
	svc := NewService(Deps{Push: pusher, Pay: payer, Audit: auditor}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, svc.SendPush(ctx, "slack", []string{"a"}, "hi"), context.Canceled)
	_, err := svc.PayUser(ctx, decimal.NewFromInt(5), domain.User{ID: "u-1"})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{ActionPushFailed, ActionPaymentFailed}, auditor.actions)
}

func TestSendPushAsync(t *testing.T) {
	queue := &queueStub{}
	svc, _ := newService(t, &mockPusher{}, &mockPayer{}, queue)
	ctx := logger.WithCorrelationID(context.Background(), "corr-9")

	id, err := svc.SendPushAsync(ctx, "slack", []string{"a"}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	require.Len(t, queue.tasks, 1)

	var payload jobs.PushDeliverPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, "corr-9", payload.CorrelationID)
	assert.Equal(t, []string{"a"}, payload.Recipients)
}

func TestSendPushAsync_Errors(t *testing.T) {
	svc, _ := newService(t, &mockPusher{}, &mockPayer{}, nil)
	_, err := svc.SendPushAsync(context.Background(), "slack", []string{"a"}, "hi")
	assert.Equal(t, apperrors.CodeState, apperrors.CodeOf(err))

	svc, _ = newService(t, &mockPusher{}, &mockPayer{}, &queueStub{})
	_, err = svc.SendPushAsync(context.Background(), "slack", []string{"a"}, " ")
	assert.Equal(t, apperrors.CodeValidation, apperrors.CodeOf(err))
}

func TestPayUser_AuditsOutcome(t *testing.T) {
	user := domain.User{ID: "u-1", PaymentChannels: []string{"stripe"}}
	receipt := &payment.Receipt{
		PayoutID:  "p-1",
		UserID:    "u-1",
		Channel:   "stripe",
		Reference: "ref-1",
		Amount:    decimal.RequireFromString("12.5"),
		Currency:  "USD",
		Status:    domain.PayoutSucceeded,
	}
	payer := &mockPayer{}
	payer.On("PayUser", "12.5", "u-1").Return(receipt, nil).Once()
	payer.On("PayUser", "3", "u-1").Return(nil, apperrors.NewNoPaymentChannelError("u-1")).Once()
	svc, sink := newService(t, &mockPusher{}, payer, nil)

	got, err := svc.PayUser(context.Background(), decimal.RequireFromString("12.5"), user)
	require.NoError(t, err)
	assert.Equal(t, receipt, got)

	_, err = svc.PayUser(context.Background(), decimal.NewFromInt(3), user)
	assert.Equal(t, apperrors.CodeNoPaymentChannel, apperrors.CodeOf(err))

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ActionPaymentSucceeded, entries[0].Action)
	assert.Equal(t, "12.50", entries[0].Details["amount"])
	assert.Equal(t, "ref-1", entries[0].Details["reference"])
	assert.Equal(t, ActionPaymentFailed, entries[1].Action)
	assert.Equal(t, apperrors.CodeNoPaymentChannel, entries[1].Details["code"])
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
}

func TestPayUser_UnconfirmedPayoutIsAuditedAsPending(t *testing.T) {
	payer := &mockPayer{}
	payer.On("PayUser", "7", "u-1").Return(&payment.Receipt{
		PayoutID: "p-9",
		Channel:  "paypal",
		Amount:   decimal.NewFromInt(7),
		Currency: "USD",
		Status:   domain.PayoutProcessing,
	}, nil)
	svc, sink := newService(t, &mockPusher{}, payer, nil)

	_, err := svc.PayUser(context.Background(), decimal.NewFromInt(7), domain.User{ID: "u-1"})
	require.NoError(t, err)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, ActionPaymentPending, entries[0].Action)
	assert.Equal(t, "p-9", entries[0].Details["payout_id"])
}

func TestPayUser_ReplayIsNotAuditedTwice(t *testing.T) {
	payer := &mockPayer{}
	payer.On("PayUser", "1", "u-1").Return(&payment.Receipt{PayoutID: "p-1", Amount: decimal.NewFromInt(1), FromCache: true}, nil)
	svc, sink := newService(t, &mockPusher{}, payer, nil)

	_, err := svc.PayUser(context.Background(), decimal.NewFromInt(1), domain.User{ID: "u-1"})
	require.NoError(t, err)
	assert.Empty(t, sink.Entries())
}

func TestGetTemplateAndLogAudit(t *testing.T) {
	svc, sink := newService(t, &mockPusher{}, &mockPayer{}, nil)

	text, err := svc.GetTemplate("greeting", "en", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	entry, err := svc.LogAudit(context.Background(), "user.updated", "u-1", map[string]any{"field": "email"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Seq)
	assert.Len(t, sink.Entries(), 1)
}
