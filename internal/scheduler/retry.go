package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/circuitbreaker"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/dlq"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/events"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
)

// RetryPolicy decides what happens after a failed delivery attempt:
// exponential backoff while the retry budget lasts, dead letter
// hand-off once it runs out.
type RetryPolicy struct {
	tasks       TaskStore
	logs        LogStore
	deadLetters DLQWriter
	breakers    *circuitbreaker.Registry
	events      *events.Publisher
	logger      *zap.Logger
}

// NewRetryPolicy creates the failure handler shared by all workers.
func NewRetryPolicy(
	tasks TaskStore,
	logs LogStore,
	deadLetters DLQWriter,
	breakers *circuitbreaker.Registry,
	publisher *events.Publisher,
	logger *zap.Logger,
) *RetryPolicy {
	return &RetryPolicy{
		tasks:       tasks,
		logs:        logs,
		deadLetters: deadLetters,
		breakers:    breakers,
		events:      publisher,
		logger:      logger,
	}
}

// HandleFailure records one failed attempt and routes the task: back
// onto the schedule with backoff, or into the dead letter queue once
// the incremented retry count reaches the budget. It never returns an
// error; every branch leaves the task in a terminal or retryable state.
func (p *RetryPolicy) HandleFailure(ctx context.Context, task *db.ScheduledTask, cause error) {
	p.breakers.RecordFailure(task.DeliveryMethod)

	task.RetryCount++
	msg := cause.Error()
	task.ErrorMessage = &msg

	p.logDelivery(ctx, task, db.LogFailed, &msg)

	p.logger.Warn("delivery attempt failed",
		zap.Error(cause),
		zap.String("task_id", task.ID.String()),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.Int("attempt", task.RetryCount),
		zap.Int("max_retries", task.MaxRetries),
	)

	if task.RetryCount < task.MaxRetries {
		next := time.Now().UTC().Add(backoff(task.RetryCount))
		if err := p.tasks.MarkRetrying(ctx, task, next); err != nil {
			p.logger.Error("failed to schedule retry",
				zap.Error(err),
				zap.String("task_id", task.ID.String()),
			)
			return
		}
		metrics.RecordTaskProcessed("retrying", string(task.DeliveryMethod))
		p.events.Publish(ctx, task, events.OutcomeRetrying, msg)
		return
	}

	p.deadLetter(ctx, task, cause, msg)
}

// backoff returns the wait before the next attempt: 2^n minutes for
// the n-th retry, no jitter.
func backoff(retryCount int) time.Duration {
	return time.Duration(1<<retryCount) * time.Minute
}

func (p *RetryPolicy) deadLetter(ctx context.Context, task *db.ScheduledTask, cause error, msg string) {
	history, err := p.logs.ListFailureMessages(ctx, task.ID)
	if err != nil || len(history) == 0 {
		p.logger.Warn("could not load failure history",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
		history = []string{msg}
	}

	entry := &db.DeadLetterEntry{
		TaskID:                task.ID,
		TaskType:              task.TaskType,
		AppointmentID:         task.AppointmentID,
		DeliveryMethod:        task.DeliveryMethod,
		FailureType:           dlq.Classify(cause),
		FinalErrorMessage:     msg,
		ErrorHistory:          history,
		OriginalMessageData:   task.MessageData,
		OriginalScheduledTime: task.ScheduledTime,
	}

	if err := p.deadLetters.CreateEntry(ctx, entry); err != nil {
		// The entry could not be written; park the task so nothing is
		// silently lost.
		p.logger.Error("failed to write dead letter entry",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
		if err := p.tasks.MarkFailed(ctx, task); err != nil {
			p.logger.Error("failed to park exhausted task",
				zap.Error(err),
				zap.String("task_id", task.ID.String()),
			)
		}
		return
	}

	if err := p.tasks.MarkCancelled(ctx, task); err != nil {
		p.logger.Error("failed to close out dead-lettered task",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
	}

	metrics.RecordTaskProcessed("dead_lettered", string(task.DeliveryMethod))
	metrics.RecordDeadLettered(string(entry.FailureType))
	p.events.Publish(ctx, task, events.OutcomeDeadLettered, msg)

	p.logger.Error("task exhausted retries, moved to dead letter queue",
		zap.String("task_id", task.ID.String()),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.String("failure_type", string(entry.FailureType)),
		zap.Int("attempts", task.RetryCount),
	)
}

// logDelivery appends one attempt outcome to the notification log.
// Logging is best-effort; a failed append never changes task state.
func (p *RetryPolicy) logDelivery(ctx context.Context, task *db.ScheduledTask, status db.LogStatus, errMsg *string) {
	entry := &db.NotificationLog{
		TaskID:         task.ID,
		AppointmentID:  task.AppointmentID,
		DeliveryMethod: task.DeliveryMethod,
		Status:         status,
		ErrorMessage:   errMsg,
	}
	if err := p.logs.Append(ctx, entry); err != nil {
		p.logger.Error("failed to append notification log",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
	}
}
