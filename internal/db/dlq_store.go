package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrEntryProcessed is returned when a review action targets an entry
// that has already left its reviewable state.
var ErrEntryProcessed = errors.New("dead letter entry already processed")

// DLQFilter narrows dead-letter listings. Zero values mean "any".
type DLQFilter struct {
	Status         DLQStatus
	FailureType    FailureType
	DeliveryMethod DeliveryMethod
	Limit          int
	Offset         int
}

const dlqColumns = `
	id, task_id, task_type, appointment_id, delivery_method, failure_type,
	final_error_message, error_history, original_message_data,
	original_scheduled_time, status, reviewed_by, review_notes, reviewed_at,
	created_at, updated_at
`

// DLQStore persists dead letter entries and their review workflow.
type DLQStore struct {
	db     *DB
	logger *zap.Logger
}

// NewDLQStore creates a dead letter queue repository.
func NewDLQStore(db *DB, logger *zap.Logger) *DLQStore {
	return &DLQStore{db: db, logger: logger}
}

// CreateEntry inserts a new entry in pending_review.
func (s *DLQStore) CreateEntry(ctx context.Context, entry *DeadLetterEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailureType == "" {
		entry.FailureType = FailureUnknown
	}
	entry.Status = DLQPendingReview

	history, err := json.Marshal(entry.ErrorHistory)
	if err != nil {
		return fmt.Errorf("marshal error history: %w", err)
	}

	query := `
		INSERT INTO dead_letter_entries (
			id, task_id, task_type, appointment_id, delivery_method,
			failure_type, final_error_message, error_history,
			original_message_data, original_scheduled_time, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err = s.db.Pool().QueryRow(ctx, query,
		entry.ID,
		entry.TaskID,
		entry.TaskType,
		entry.AppointmentID,
		entry.DeliveryMethod,
		entry.FailureType,
		entry.FinalErrorMessage,
		history,
		entry.OriginalMessageData,
		entry.OriginalScheduledTime,
		entry.Status,
	).Scan(&entry.CreatedAt, &entry.UpdatedAt)

	if err != nil {
		return fmt.Errorf("insert dead letter entry: %w", err)
	}

	s.logger.Info("task moved to dead letter queue",
		zap.String("dlq_id", entry.ID.String()),
		zap.String("task_id", entry.TaskID.String()),
		zap.String("failure_type", string(entry.FailureType)),
		zap.String("channel", string(entry.DeliveryMethod)),
	)

	return nil
}

// GetEntry retrieves one entry by ID.
func (s *DLQStore) GetEntry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_entries WHERE id = $1`

	entry, err := scanDLQ(s.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dead letter entry not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query dead letter entry: %w", err)
	}
	return entry, nil
}

// ListEntries retrieves entries matching the filter, newest first.
func (s *DLQStore) ListEntries(ctx context.Context, filter DLQFilter) ([]*DeadLetterEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM dead_letter_entries WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.FailureType != "" {
		args = append(args, filter.FailureType)
		query += fmt.Sprintf(" AND failure_type = $%d", len(args))
	}
	if filter.DeliveryMethod != "" {
		args = append(args, filter.DeliveryMethod)
		query += fmt.Sprintf(" AND delivery_method = $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	return s.queryEntries(ctx, query, args...)
}

// ListRetryCandidates returns entries eligible for an operator retry:
// still awaiting review and not classified as unrecoverable.
func (s *DLQStore) ListRetryCandidates(ctx context.Context, limit int) ([]*DeadLetterEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + dlqColumns + `
		FROM dead_letter_entries
		WHERE status IN ('pending_review', 'requires_manual_intervention')
		  AND failure_type NOT IN ('permanent_failure', 'invalid_recipient', 'data_corruption', 'template_error')
		ORDER BY created_at ASC
		LIMIT $1
	`
	return s.queryEntries(ctx, query, limit)
}

// MarkResolved records a manual resolution with reviewer metadata.
func (s *DLQStore) MarkResolved(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	return s.review(ctx, id, DLQManuallyResolved, &reviewer, &notes)
}

// Archive moves an entry out of the review queue without resolution.
func (s *DLQStore) Archive(ctx context.Context, id uuid.UUID) error {
	return s.review(ctx, id, DLQArchived, nil, nil)
}

// RequireIntervention escalates an entry for manual follow-up.
func (s *DLQStore) RequireIntervention(ctx context.Context, id uuid.UUID, notes string) error {
	return s.review(ctx, id, DLQRequiresIntervention, nil, &notes)
}

func (s *DLQStore) review(ctx context.Context, id uuid.UUID, status DLQStatus, reviewer, notes *string) error {
	query := `
		UPDATE dead_letter_entries
		SET status = $2,
		    reviewed_by = COALESCE($3, reviewed_by),
		    review_notes = COALESCE($4, review_notes),
		    reviewed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending_review', 'requires_manual_intervention')
	`

	result, err := s.db.Pool().Exec(ctx, query, id, status, reviewer, notes)
	if err != nil {
		return fmt.Errorf("update dead letter entry: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrEntryProcessed
	}

	s.logger.Info("dead letter entry reviewed",
		zap.String("dlq_id", id.String()),
		zap.String("status", string(status)),
	)
	return nil
}

// RetryEntry spawns a brand-new scheduled task from the entry's original
// payload (retry count reset to zero, retry budget raised) and marks
// the entry manually resolved, all in one transaction.
func (s *DLQStore) RetryEntry(ctx context.Context, id uuid.UUID, reviewer string) (*ScheduledTask, error) {
	entry, err := s.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Status != DLQPendingReview && entry.Status != DLQRequiresIntervention {
		return nil, fmt.Errorf("%w: %s", ErrEntryProcessed, entry.Status)
	}

	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	task := &ScheduledTask{
		ID:             uuid.New(),
		TaskType:       entry.TaskType,
		AppointmentID:  entry.AppointmentID,
		DeliveryMethod: entry.DeliveryMethod,
		ScheduledTime:  time.Now().UTC(),
		Priority:       PriorityHigh,
		Status:         StatusPending,
		RetryCount:     0,
		MaxRetries:     DefaultMaxRetries + 2,
		MessageData:    entry.OriginalMessageData,
	}

	insert := `
		INSERT INTO scheduled_tasks (
			id, task_type, appointment_id, delivery_method, scheduled_time,
			priority, status, retry_count, max_retries, message_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err = tx.QueryRow(ctx, insert,
		task.ID, task.TaskType, task.AppointmentID, task.DeliveryMethod,
		task.ScheduledTime, task.Priority, task.Status,
		task.RetryCount, task.MaxRetries, task.MessageData,
	).Scan(&task.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert retry task: %w", err)
	}

	update := `
		UPDATE dead_letter_entries
		SET status = $2, reviewed_by = $3, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update, id, DLQManuallyResolved, reviewer); err != nil {
		return nil, fmt.Errorf("update dead letter entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("dead letter entry retried",
		zap.String("dlq_id", id.String()),
		zap.String("new_task_id", task.ID.String()),
		zap.String("reviewer", reviewer),
	)

	return task, nil
}

func (s *DLQStore) queryEntries(ctx context.Context, query string, args ...any) ([]*DeadLetterEntry, error) {
	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letter entries: %w", err)
	}
	defer rows.Close()

	var entries []*DeadLetterEntry
	for rows.Next() {
		entry, err := scanDLQ(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanDLQ(row pgx.Row) (*DeadLetterEntry, error) {
	var entry DeadLetterEntry
	var history []byte
	err := row.Scan(
		&entry.ID,
		&entry.TaskID,
		&entry.TaskType,
		&entry.AppointmentID,
		&entry.DeliveryMethod,
		&entry.FailureType,
		&entry.FinalErrorMessage,
		&history,
		&entry.OriginalMessageData,
		&entry.OriginalScheduledTime,
		&entry.Status,
		&entry.ReviewedBy,
		&entry.ReviewNotes,
		&entry.ReviewedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &entry.ErrorHistory); err != nil {
			return nil, fmt.Errorf("unmarshal error history: %w", err)
		}
	}
	return &entry, nil
}
