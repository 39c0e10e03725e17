package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/globalization/internal/audit"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/jobs"
	"github.com/Proton-105/globalization/internal/push"
	"github.com/Proton-105/globalization/pkg/logger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pusherFunc func(ctx context.Context, platform string, recipients []string, content string) error

func (f pusherFunc) SendPush(ctx context.Context, platform string, recipients []string, content string) error {
	return f(ctx, platform, recipients, content)
}

type recordingQueue struct {
	tasks []*asynq.Task
	err   error
}

func (q *recordingQueue) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t", Queue: jobs.QueueCritical}, nil
}

func (q *recordingQueue) Close() error { return nil }

func pushTask(t *testing.T, payload jobs.PushDeliverPayload) *asynq.Task {
	t.Helper()
	task, err := jobs.NewPushDeliverTask(payload)
	require.NoError(t, err)
	return task
}

func TestPushDeliver_Success(t *testing.T) {
	var gotCorrelation string
	pusher := pusherFunc(func(ctx context.Context, platform string, recipients []string, content string) error {
		gotCorrelation = logger.CorrelationIDFromContext(ctx)
		assert.Equal(t, "slack", platform)
		assert.Equal(t, []string{"a", "b"}, recipients)
		assert.Equal(t, "hi", content)
		return nil
	})
	queue := &recordingQueue{}
	h := NewPushDeliverHandler(pusher, queue, quietLogger())

	err := h.ProcessTask(context.Background(), pushTask(t, jobs.PushDeliverPayload{
		Platform: "slack", Recipients: []string{"a", "b"}, Content: "hi", CorrelationID: "corr-7",
	}))
	require.NoError(t, err)
	assert.Equal(t, "corr-7", gotCorrelation)
	assert.Empty(t, queue.tasks)
}

func TestPushDeliver_RequeuesOnlyRetryableRecipients(t *testing.T) {
	pusher := pusherFunc(func(context.Context, string, []string, string) error {
		return &push.DeliveryError{Channel: "slack", Failed: map[string]error{
			"flaky":   apperrors.NewExternalAPIError("slack", errors.New("502")),
			"blocked": apperrors.NewDeclinedError("slack", errors.New("blocked")),
			"slow":    apperrors.NewRateLimitError(3),
		}}
	})
	queue := &recordingQueue{}
	h := NewPushDeliverHandler(pusher, queue, quietLogger())

	err := h.ProcessTask(context.Background(), pushTask(t, jobs.PushDeliverPayload{
		Platform: "slack", Recipients: []string{"flaky", "blocked", "slow", "ok"}, Content: "hi", Attempt: 1,
	}))
	require.NoError(t, err)
	require.Len(t, queue.tasks, 1)

	var next jobs.PushDeliverPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &next))
	assert.Equal(t, []string{"flaky", "slow"}, next.Recipients)
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, jobs.TaskTypePushDeliver, queue.tasks[0].Type())
}

func TestPushDeliver_GivesUpAfterMaxAttempts(t *testing.T) {
	pusher := pusherFunc(func(context.Context, string, []string, string) error {
		return &push.DeliveryError{Channel: "slack", Failed: map[string]error{
			"flaky": apperrors.NewExternalAPIError("slack", errors.New("502")),
		}}
	})
	queue := &recordingQueue{}
	h := NewPushDeliverHandler(pusher, queue, quietLogger())

	err := h.ProcessTask(context.Background(), pushTask(t, jobs.PushDeliverPayload{
		Platform: "slack", Recipients: []string{"flaky"}, Content: "hi", Attempt: jobs.MaxPushAttempts - 1,
	}))
	require.NoError(t, err)
	assert.Empty(t, queue.tasks)
}

func TestPushDeliver_SkipsRetryOnPermanentErrors(t *testing.T) {
	pusher := pusherFunc(func(context.Context, string, []string, string) error {
		return apperrors.NewUnknownChannelError("fax")
	})
	h := NewPushDeliverHandler(pusher, &recordingQueue{}, quietLogger())

	err := h.ProcessTask(context.Background(), pushTask(t, jobs.PushDeliverPayload{
		Platform: "fax", Recipients: []string{"a"}, Content: "hi",
	}))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPushDeliver_BadPayload(t *testing.T) {
	h := NewPushDeliverHandler(pusherFunc(nil), &recordingQueue{}, quietLogger())

	err := h.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypePushDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPushDeliver_EnqueueFailureIsReturned(t *testing.T) {
	pusher := pusherFunc(func(context.Context, string, []string, string) error {
		return &push.DeliveryError{Channel: "slack", Failed: map[string]error{
			"flaky": apperrors.NewExternalAPIError("slack", errors.New("502")),
		}}
	})
	h := NewPushDeliverHandler(pusher, &recordingQueue{err: errors.New("redis down")}, quietLogger())

	err := h.ProcessTask(context.Background(), pushTask(t, jobs.PushDeliverPayload{
		Platform: "slack", Recipients: []string{"flaky"}, Content: "hi",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestAuditVerify_IntactChain(t *testing.T) {
	sink := audit.NewMemorySink()
	rec := audit.NewRecorder(quietLogger(), sink)
	for i := 0; i < 3; i++ {
		_, err := rec.LogAudit(context.Background(), "push.sent", "u-1", nil)
		require.NoError(t, err)
	}

	h := NewAuditVerifyHandler(sink, quietLogger())
	assert.NoError(t, h.ProcessTask(context.Background(), jobs.NewAuditVerifyTask()))
}

func TestAuditVerify_BrokenChain(t *testing.T) {
	sink := audit.NewMemorySink()
	rec := audit.NewRecorder(quietLogger(), sink)
	_, err := rec.LogAudit(context.Background(), "push.sent", "u-1", nil)
	require.NoError(t, err)

	forged := audit.Entry{
		ID:        "forged",
		Seq:       2,
		Action:    "payment.succeeded",
		UserID:    "u-2",
		Timestamp: time.Now().UTC(),
		PrevHash:  audit.GenesisHash,
		Hash:      audit.GenesisHash,
	}
	require.NoError(t, sink.Write(context.Background(), forged))

	h := NewAuditVerifyHandler(sink, quietLogger())
	err = h.ProcessTask(context.Background(), jobs.NewAuditVerifyTask())
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	var chainErr *audit.ChainError
	require.ErrorAs(t, err, &chainErr)
	assert.Equal(t, uint64(2), chainErr.Seq)
}
