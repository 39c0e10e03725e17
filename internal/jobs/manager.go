package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/globalization/pkg/logger"
	"github.com/Proton-105/globalization/pkg/metrics"
)

// ErrNilTask is returned when Enqueue is called without a task.
var ErrNilTask = errors.New("jobs: nil task")

// Manager is the enqueue side of the job queue.
type Manager interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// enqueuer is the subset of *asynq.Client the manager needs.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type manager struct {
	client enqueuer
	log    *slog.Logger
}

// NewManager builds a Manager backed by an asynq client.
func NewManager(redisOpt asynq.RedisConnOpt, log *slog.Logger) Manager {
	return newManager(asynq.NewClient(redisOpt), log)
}

func newManager(client enqueuer, log *slog.Logger) *manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{client: client, log: log}
}

// Enqueue submits task. Tasks without an explicit queue option land on the
// queue their type belongs to.
func (m *manager) Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if task == nil {
		return nil, ErrNilTask
	}

	if !hasQueueOption(opts) {
		opts = append([]asynq.Option{asynq.Queue(QueueFor(task.Type()))}, opts...)
	}

	log := m.log.With(slog.String("task_type", task.Type()))
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		log = log.With(slog.String("correlation_id", correlationID))
	}

	info, err := m.client.EnqueueContext(ctx, task, opts...)
	metrics.RecordJobEnqueued(task.Type(), err)
	if err != nil {
		log.ErrorContext(ctx, "jobs: enqueue failed", slog.Any("error", err))
		return nil, err
	}

	log.DebugContext(ctx, "jobs: task enqueued",
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return info, nil
}

func (m *manager) Close() error {
	return m.client.Close()
}

// QueueFor maps a task type to its queue.
func QueueFor(taskType string) string {
	switch taskType {
	case TaskTypePushDeliver:
		return QueueCritical
	case TaskTypeAuditVerify:
		return QueueLow
	default:
		return QueueDefault
	}
}

func hasQueueOption(opts []asynq.Option) bool {
	for _, opt := range opts {
		if opt != nil && opt.Type() == asynq.QueueOpt {
			return true
		}
	}
	return false
}
