// Package jobs runs deferred work on asynq: asynchronous push delivery and the
// periodic audit chain verification.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypePushDeliver = "push:deliver"
	TaskTypeAuditVerify = "audit:verify"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// MaxPushAttempts bounds how often failed recipients are re-enqueued.
const MaxPushAttempts = 5

// PushDeliverPayload is a push waiting to be sent.
type PushDeliverPayload struct {
	Platform      string   `json:"platform"`
	Recipients    []string `json:"recipients"`
	Content       string   `json:"content"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Attempt       int      `json:"attempt"`
}

// NewPushDeliverTask wraps payload as a task on the critical queue.
func NewPushDeliverTask(payload PushDeliverPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode push payload: %w", err)
	}

	opts = append([]asynq.Option{
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(3),
		asynq.Timeout(2 * time.Minute),
	}, opts...)

	return asynq.NewTask(TaskTypePushDeliver, data, opts...), nil
}

// NewAuditVerifyTask builds the periodic chain verification task.
func NewAuditVerifyTask() *asynq.Task {
	return asynq.NewTask(TaskTypeAuditVerify, nil,
		asynq.Queue(QueueLow),
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Minute),
	)
}

// RetryDelay is the delay before re-enqueueing failed recipients for attempt.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 30 * time.Second << (attempt - 1)
	if delay > 30*time.Minute {
		return 30 * time.Minute
	}
	return delay
}
