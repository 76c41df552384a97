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

// LogStore appends delivery-attempt outcomes to the notification log.
// Rows are never mutated after creation except for the delivery-status
// timestamps driven by provider callbacks.
type LogStore struct {
	db     *DB
	logger *zap.Logger
}

// NewLogStore creates a notification log repository.
func NewLogStore(db *DB, logger *zap.Logger) *LogStore {
	return &LogStore{db: db, logger: logger}
}

// Append writes one attempt-outcome row.
func (s *LogStore) Append(ctx context.Context, entry *NotificationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO notification_logs (
			id, task_id, appointment_id, delivery_method, status,
			error_message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := s.db.Pool().QueryRow(ctx, query,
		entry.ID,
		entry.TaskID,
		entry.AppointmentID,
		entry.DeliveryMethod,
		entry.Status,
		entry.ErrorMessage,
		entry.Metadata,
	).Scan(&entry.CreatedAt)

	if err != nil {
		s.logger.Error("failed to append notification log",
			zap.Error(err),
			zap.String("task_id", entry.TaskID.String()),
		)
		return fmt.Errorf("insert notification log: %w", err)
	}
	return nil
}

// ListFailureMessages returns the error messages of every failed attempt
// for a task, oldest first. The dead-letter pipeline uses this as the
// entry's error history.
func (s *LogStore) ListFailureMessages(ctx context.Context, taskID uuid.UUID) ([]string, error) {
	query := `
		SELECT COALESCE(error_message, '')
		FROM notification_logs
		WHERE task_id = $1 AND status = 'failed'
		ORDER BY created_at ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("query failure messages: %w", err)
	}
	defer rows.Close()

	var messages []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("scan failure message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListByTask returns every log row for a task, oldest first.
func (s *LogStore) ListByTask(ctx context.Context, taskID uuid.UUID) ([]*NotificationLog, error) {
	query := `
		SELECT id, task_id, appointment_id, delivery_method, status,
		       error_message, metadata, created_at,
		       delivered_at, opened_at, clicked_at
		FROM notification_logs
		WHERE task_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("query notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*NotificationLog
	for rows.Next() {
		var l NotificationLog
		err := rows.Scan(
			&l.ID, &l.TaskID, &l.AppointmentID, &l.DeliveryMethod, &l.Status,
			&l.ErrorMessage, &l.Metadata, &l.CreatedAt,
			&l.DeliveredAt, &l.OpenedAt, &l.ClickedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// UpdateDeliveryStatus records a provider callback (delivered, opened,
// clicked, bounced) against an existing log row.
func (s *LogStore) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status LogStatus, at time.Time) error {
	var column string
	switch status {
	case LogDelivered:
		column = "delivered_at"
	case LogOpened:
		column = "opened_at"
	case LogClicked:
		column = "clicked_at"
	case LogBounced:
		// bounce carries no timestamp column of its own
		column = ""
	default:
		return fmt.Errorf("unsupported delivery status update: %s", status)
	}

	query := `UPDATE notification_logs SET status = $2 WHERE id = $1`
	if column != "" {
		query = fmt.Sprintf(`UPDATE notification_logs SET status = $2, %s = $3 WHERE id = $1`, column)
	}

	var err error
	if column != "" {
		_, err = s.db.Pool().Exec(ctx, query, id, status, at)
	} else {
		_, err = s.db.Pool().Exec(ctx, query, id, status)
	}
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	return nil
}

// GetLog retrieves one log row by ID.
func (s *LogStore) GetLog(ctx context.Context, id uuid.UUID) (*NotificationLog, error) {
	query := `
		SELECT id, task_id, appointment_id, delivery_method, status,
		       error_message, metadata, created_at,
		       delivered_at, opened_at, clicked_at
		FROM notification_logs
		WHERE id = $1
	`

	var l NotificationLog
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&l.ID, &l.TaskID, &l.AppointmentID, &l.DeliveryMethod, &l.Status,
		&l.ErrorMessage, &l.Metadata, &l.CreatedAt,
		&l.DeliveredAt, &l.OpenedAt, &l.ClickedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification log not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification log: %w", err)
	}
	return &l, nil
}

// PurgeBefore deletes log rows older than the cutoff.
func (s *LogStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.Pool().Exec(ctx,
		`DELETE FROM notification_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge notification logs: %w", err)
	}
	return result.RowsAffected(), nil
}
