package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/pkg/logger"
)

type fakeClient struct {
	err    error
	queues []string
	closed bool
}

func (f *fakeClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	queue := QueueDefault
	for _, opt := range opts {
		if opt.Type() == asynq.QueueOpt {
			queue = opt.Value().(string)
		}
	}
	f.queues = append(f.queues, queue)
	return &asynq.TaskInfo{ID: "id-" + task.Type(), Queue: queue}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestManager_RoutesByTaskType(t *testing.T) {
	client := &fakeClient{}
	m := newManager(client, logger.Discard())
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")

	push, err := NewPushDeliverTask(PushDeliverPayload{Platform: "slack", Recipients: []string{"a"}, Content: "hi"})
	require.NoError(t, err)

	_, err = m.Enqueue(ctx, asynq.NewTask(TaskTypeAuditVerify, nil))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, asynq.NewTask("report:weekly", nil))
	require.NoError(t, err)
	info, err := m.Enqueue(ctx, push, asynq.Queue(QueueLow))
	require.NoError(t, err)

	assert.Equal(t, []string{QueueLow, QueueDefault, QueueLow}, client.queues)
	assert.Equal(t, "id-"+TaskTypePushDeliver, info.ID)

	require.NoError(t, m.Close())
	assert.True(t, client.closed)
}

func TestManager_EnqueueErrors(t *testing.T) {
	m := newManager(&fakeClient{err: errors.New("redis down")}, logger.Discard())

	_, err := m.Enqueue(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilTask)

	_, err = m.Enqueue(context.Background(), NewAuditVerifyTask())
	assert.EqualError(t, err, "redis down")
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryDelay(0))
	assert.Equal(t, time.Minute, RetryDelay(2))
	assert.Equal(t, 30*time.Minute, RetryDelay(10))
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, QueueCritical, QueueFor(TaskTypePushDeliver))
	assert.Equal(t, QueueLow, QueueFor(TaskTypeAuditVerify))
	assert.Equal(t, QueueDefault, QueueFor("unknown"))
}

func TestWorker_RetryDelayAndFailureClassification(t *testing.T) {
	push := asynq.NewTask(TaskTypePushDeliver, nil)
	assert.Equal(t, RetryDelay(1), retryDelay(0, errors.New("x"), push))
	assert.Equal(t, RetryDelay(3), retryDelay(2, errors.New("x"), push))

	assert.False(t, isFailure(apperrors.NewRateLimitError(5)))
	assert.True(t, isFailure(apperrors.NewExternalAPIError("slack", errors.New("502"))))
	assert.True(t, isFailure(errors.New("boom")))
}
