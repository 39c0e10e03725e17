package jobs

import (
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Scheduler enqueues periodic tasks.
type Scheduler interface {
	RegisterTasks(auditVerifyCron string) error
	Run()
	Shutdown()
}

type scheduler struct {
	inner *asynq.Scheduler
	log   *slog.Logger
}

// NewScheduler builds a Scheduler whose cron specs are evaluated in UTC.
func NewScheduler(redisOpt asynq.RedisConnOpt, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	inner := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Error("scheduler: enqueue failed", slog.Any("error", err))
				return
			}
			log.Debug("scheduler: task enqueued", slog.String("task_type", info.Type), slog.String("task_id", info.ID))
		},
	})

	return &scheduler{inner: inner, log: log}
}

// RegisterTasks schedules audit chain verification. An empty cron spec
// disables it. Runs never overlap within an hour.
func (s *scheduler) RegisterTasks(auditVerifyCron string) error {
	if auditVerifyCron == "" {
		s.log.Info("scheduler: audit verification disabled")
		return nil
	}

	entryID, err := s.inner.Register(auditVerifyCron, NewAuditVerifyTask(), asynq.Unique(time.Hour))
	if err != nil {
		return err
	}

	s.log.Info("scheduler: registered audit verification",
		slog.String("cron", auditVerifyCron),
		slog.String("entry_id", entryID),
	)
	return nil
}

// Run starts the scheduler loop in the background.
func (s *scheduler) Run() {
	go func() {
		if err := s.inner.Run(); err != nil {
			s.log.Error("scheduler: run failed", slog.Any("error", err))
		}
	}()
}

func (s *scheduler) Shutdown() {
	s.log.Info("scheduler: shutting down")
	s.inner.Shutdown()
}
