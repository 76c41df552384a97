package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrValidation is returned when a task is created with required fields
// missing or malformed.
var ErrValidation = errors.New("task validation failed")

const taskColumns = `
	id, task_type, appointment_id, delivery_method, scheduled_time,
	priority, status, retry_count, max_retries, error_message,
	message_data, created_at, last_attempt, completed_at, cancelled_at
`

// TaskStore handles persistence of scheduled tasks.
type TaskStore struct {
	db     *DB
	logger *zap.Logger
}

// NewTaskStore creates a task repository over the shared pool.
func NewTaskStore(db *DB, logger *zap.Logger) *TaskStore {
	return &TaskStore{db: db, logger: logger}
}

// CreateTask persists a new task in status pending. The appointment
// reference, delivery method, and scheduled time are mandatory.
func (s *TaskStore) CreateTask(ctx context.Context, task *ScheduledTask) error {
	if task.AppointmentID == uuid.Nil {
		return fmt.Errorf("%w: appointment_id is required", ErrValidation)
	}
	if !ValidMethod(task.DeliveryMethod) {
		return fmt.Errorf("%w: unknown delivery_method %q", ErrValidation, task.DeliveryMethod)
	}
	if task.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled_time is required", ErrValidation)
	}

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.TaskType == "" {
		task.TaskType = TaskNotification
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	task.Status = StatusPending

	query := `
		INSERT INTO scheduled_tasks (
			id, task_type, appointment_id, delivery_method, scheduled_time,
			priority, status, retry_count, max_retries, message_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(ctx, query,
		task.ID,
		task.TaskType,
		task.AppointmentID,
		task.DeliveryMethod,
		task.ScheduledTime,
		task.Priority,
		task.Status,
		task.RetryCount,
		task.MaxRetries,
		task.MessageData,
	).Scan(&task.CreatedAt)

	if err != nil {
		s.logger.Error("failed to create task",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
		return fmt.Errorf("insert task: %w", err)
	}

	s.logger.Info("task scheduled",
		zap.String("task_id", task.ID.String()),
		zap.String("task_type", string(task.TaskType)),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.Time("scheduled_time", task.ScheduledTime),
	)

	return nil
}

// GetTask retrieves one task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (*ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM scheduled_tasks WHERE id = $1`

	task, err := scanTask(s.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// GetDueTasks returns up to batch tasks that are ready to dispatch,
// urgent first, oldest scheduled time first within a priority.
func (s *TaskStore) GetDueTasks(ctx context.Context, now time.Time, batch int) ([]*ScheduledTask, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM scheduled_tasks
		WHERE status IN ('pending', 'retrying') AND scheduled_time <= $1
		ORDER BY priority ASC, scheduled_time ASC
		LIMIT $2
	`

	rows, err := s.db.Pool().Query(ctx, query, now, batch)
	if err != nil {
		return nil, fmt.Errorf("query due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return tasks, nil
}

// MarkProcessing claims a task for delivery. The conditional update only
// succeeds from pending/retrying, so two pollers sharing the store can
// never both dispatch the same task. Returns false when the claim lost.
func (s *TaskStore) MarkProcessing(ctx context.Context, task *ScheduledTask) (bool, error) {
	now := time.Now().UTC()
	query := `
		UPDATE scheduled_tasks
		SET status = 'processing', last_attempt = $2
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`

	result, err := s.db.Pool().Exec(ctx, query, task.ID, now)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	if result.RowsAffected() == 0 {
		return false, nil
	}

	task.Status = StatusProcessing
	task.LastAttempt = &now
	return true, nil
}

// MarkCompleted records a successful delivery.
func (s *TaskStore) MarkCompleted(ctx context.Context, task *ScheduledTask) error {
	now := time.Now().UTC()
	query := `
		UPDATE scheduled_tasks
		SET status = 'completed', completed_at = $2, error_message = NULL
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := s.db.Pool().Exec(ctx, query, task.ID, now); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	task.Status = StatusCompleted
	task.CompletedAt = &now
	return nil
}

// MarkRetrying schedules another attempt. The task's incremented
// retry_count and error message are persisted alongside the new time.
func (s *TaskStore) MarkRetrying(ctx context.Context, task *ScheduledTask, nextTime time.Time) error {
	query := `
		UPDATE scheduled_tasks
		SET status = 'retrying', scheduled_time = $2, retry_count = $3, error_message = $4
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := s.db.Pool().Exec(ctx, query, task.ID, nextTime, task.RetryCount, task.ErrorMessage); err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}

	task.Status = StatusRetrying
	task.ScheduledTime = nextTime
	return nil
}

// MarkCancelled moves a task to its terminal cancelled state.
func (s *TaskStore) MarkCancelled(ctx context.Context, task *ScheduledTask) error {
	now := time.Now().UTC()
	query := `
		UPDATE scheduled_tasks
		SET status = 'cancelled', cancelled_at = $2, error_message = $3
		WHERE id = $1 AND status NOT IN ('completed', 'cancelled', 'failed')
	`

	if _, err := s.db.Pool().Exec(ctx, query, task.ID, now, task.ErrorMessage); err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}

	task.Status = StatusCancelled
	task.CancelledAt = &now
	return nil
}

// MarkFailed parks a task whose dead-letter hand-off could not be
// written, so it stays visible for manual repair.
func (s *TaskStore) MarkFailed(ctx context.Context, task *ScheduledTask) error {
	query := `
		UPDATE scheduled_tasks
		SET status = 'failed', error_message = $2
		WHERE id = $1 AND status = 'processing'
	`

	if _, err := s.db.Pool().Exec(ctx, query, task.ID, task.ErrorMessage); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	task.Status = StatusFailed
	return nil
}

// RescheduleTask pushes a task's due time without touching its status or
// retry count. Used when the rate limiter or a circuit breaker defers
// dispatch; a deferral is not a delivery failure.
func (s *TaskStore) RescheduleTask(ctx context.Context, task *ScheduledTask, at time.Time) error {
	query := `
		UPDATE scheduled_tasks
		SET scheduled_time = $2
		WHERE id = $1 AND status IN ('pending', 'retrying')
	`

	if _, err := s.db.Pool().Exec(ctx, query, task.ID, at); err != nil {
		return fmt.Errorf("reschedule task: %w", err)
	}

	task.ScheduledTime = at
	return nil
}

// RecoverInterrupted reverts tasks stranded in processing by a crash of
// a previous run back to pending. Run once at startup, before polling.
func (s *TaskStore) RecoverInterrupted(ctx context.Context) (int64, error) {
	query := `UPDATE scheduled_tasks SET status = 'pending' WHERE status = 'processing'`

	result, err := s.db.Pool().Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("recover interrupted tasks: %w", err)
	}

	n := result.RowsAffected()
	if n > 0 {
		s.logger.Warn("recovered interrupted tasks from previous run",
			zap.Int64("count", n),
		)
	}
	return n, nil
}

// CancelByAppointment bulk-cancels every pending/retrying task for an
// appointment and returns the number affected.
func (s *TaskStore) CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	query := `
		UPDATE scheduled_tasks
		SET status = 'cancelled', cancelled_at = $2
		WHERE appointment_id = $1 AND status IN ('pending', 'retrying')
	`

	result, err := s.db.Pool().Exec(ctx, query, appointmentID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cancel by appointment: %w", err)
	}

	n := result.RowsAffected()
	s.logger.Info("cancelled appointment reminders",
		zap.String("appointment_id", appointmentID.String()),
		zap.Int64("count", n),
	)
	return n, nil
}

// CountByStatus returns the number of tasks currently in each status.
func (s *TaskStore) CountByStatus(ctx context.Context) (map[TaskStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM scheduled_tasks GROUP BY status`

	rows, err := s.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int64)
	for rows.Next() {
		var status TaskStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// AggregateForDay recomputes the per-day counters from task state.
func (s *TaskStore) AggregateForDay(ctx context.Context, day time.Time) (*DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	query := `
		SELECT
			COUNT(*) FILTER (WHERE last_attempt >= $1 AND last_attempt < $2),
			COUNT(*) FILTER (WHERE status = 'completed' AND completed_at >= $1 AND completed_at < $2),
			COUNT(*) FILTER (WHERE status = 'failed' AND last_attempt >= $1 AND last_attempt < $2),
			COUNT(*) FILTER (WHERE status = 'retrying' AND last_attempt >= $1 AND last_attempt < $2),
			COUNT(*) FILTER (WHERE status = 'cancelled' AND cancelled_at >= $1 AND cancelled_at < $2)
		FROM scheduled_tasks
	`

	stats := &DailyStats{Day: start}
	err := s.db.Pool().QueryRow(ctx, query, start, end).Scan(
		&stats.Processed,
		&stats.Successful,
		&stats.Failed,
		&stats.Retried,
		&stats.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily stats: %w", err)
	}
	return stats, nil
}

// PurgeTerminalBefore deletes completed/cancelled/failed tasks whose
// terminal timestamp is older than the cutoff.
func (s *TaskStore) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM scheduled_tasks
		WHERE status IN ('completed', 'cancelled', 'failed')
		  AND COALESCE(completed_at, cancelled_at, last_attempt, created_at) < $1
	`

	result, err := s.db.Pool().Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal tasks: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanTask(row pgx.Row) (*ScheduledTask, error) {
	var task ScheduledTask
	err := row.Scan(
		&task.ID,
		&task.TaskType,
		&task.AppointmentID,
		&task.DeliveryMethod,
		&task.ScheduledTime,
		&task.Priority,
		&task.Status,
		&task.RetryCount,
		&task.MaxRetries,
		&task.ErrorMessage,
		&task.MessageData,
		&task.CreatedAt,
		&task.LastAttempt,
		&task.CompletedAt,
		&task.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
