package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/Proton-105/globalization/internal/errors"
)

// Worker consumes push deliveries and audit verifications.
type Worker interface {
	RegisterHandler(taskType string, handler asynq.Handler)
	Start() error
	Shutdown()
}

type worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *slog.Logger
}

var _ Worker = (*worker)(nil)

// NewWorker constructs a Worker backed by an asynq.Server.
func NewWorker(redisOpt asynq.RedisConnOpt, concurrency int, queues map[string]int, log *slog.Logger) Worker {
	if log == nil {
		log = slog.Default()
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Queues:         queues,
		Concurrency:    concurrency,
		RetryDelayFunc: retryDelay,
		IsFailure:      isFailure,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.ErrorContext(ctx, "jobs worker: task failed",
				slog.String("task_type", task.Type()),
				slog.String("code", apperrors.CodeOf(err)),
				slog.Any("error", err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	mux.Use(logTask(log))

	return &worker{server: server, mux: mux, log: log}
}

func (w *worker) RegisterHandler(taskType string, handler asynq.Handler) {
	w.mux.Handle(taskType, handler)
}

// Start launches the asynq server in the background. The caller owns
// Shutdown.
func (w *worker) Start() error {
	w.log.Info("jobs worker: starting")
	return w.server.Start(w.mux)
}

func (w *worker) Shutdown() {
	w.log.Info("jobs worker: shutting down")
	w.server.Shutdown()
}

// retryDelay backs push deliveries off on the same schedule as recipient
// re-enqueues. Other tasks use asynq's default.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if task.Type() == TaskTypePushDeliver {
		return RetryDelay(n + 1)
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

// isFailure keeps rate limiting and open circuits out of the failure stats.
// Those tasks are still retried.
func isFailure(err error) bool {
	if apperrors.CodeOf(err) == apperrors.CodeRateLimit {
		return false
	}
	return !apperrors.IsCircuitRejection(err)
}

func logTask(log *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, task)

			attrs := []slog.Attr{
				slog.String("task_type", task.Type()),
				slog.Duration("duration", time.Since(start)),
			}
			if id, ok := asynq.GetTaskID(ctx); ok {
				attrs = append(attrs, slog.String("task_id", id))
			}
			if retried, ok := asynq.GetRetryCount(ctx); ok && retried > 0 {
				attrs = append(attrs, slog.Int("retried", retried))
			}

			level := slog.LevelDebug
			if err != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.Any("error", err))
			}
			log.LogAttrs(ctx, level, "jobs worker: task processed", attrs...)
			return err
		})
	}
}
