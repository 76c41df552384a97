package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/events"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
)

// deliver runs one delivery attempt for a claimed task. Every exit
// path lands the task in a consistent state: completed, retrying, or
// handed to the dead letter queue.
func (s *Scheduler) deliver(ctx context.Context, task *db.ScheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("delivery panicked",
				zap.Any("panic", r),
				zap.String("task_id", task.ID.String()),
			)
			s.retry.HandleFailure(ctx, task, fmt.Errorf("delivery panicked: %v", r))
		}
	}()

	start := time.Now()

	appt, err := s.directory.GetAppointmentData(ctx, task.AppointmentID)
	if err != nil {
		s.retry.HandleFailure(ctx, task, fmt.Errorf("appointment lookup: %w", err))
		return
	}

	if err := s.sender.Send(ctx, task, appt); err != nil {
		s.retry.HandleFailure(ctx, task, err)
		return
	}

	s.breakers.RecordSuccess(task.DeliveryMethod)

	if err := s.tasks.MarkCompleted(ctx, task); err != nil {
		// The message went out; losing the status update is recoverable
		// noise, not a delivery failure.
		s.logger.Error("failed to mark task completed",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
	}

	s.retry.logDelivery(ctx, task, db.LogSent, nil)

	metrics.RecordTaskProcessed("completed", string(task.DeliveryMethod))
	metrics.RecordDeliveryLatency(string(task.DeliveryMethod), time.Since(start))
	s.events.Publish(ctx, task, events.OutcomeDelivered, "")

	s.logger.Info("notification delivered",
		zap.String("task_id", task.ID.String()),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.String("appointment_id", task.AppointmentID.String()),
		zap.Duration("latency", time.Since(start)),
	)
}
