package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies what kind of notification a task delivers.
type TaskType string

const (
	TaskReminder     TaskType = "reminder"
	TaskConfirmation TaskType = "confirmation"
	TaskUpdate       TaskType = "update"
	TaskCancellation TaskType = "cancellation"
	TaskNoShow       TaskType = "no_show"
	TaskManual       TaskType = "manual"
	TaskNotification TaskType = "notification"
)

// DeliveryMethod is the channel a notification goes out on.
type DeliveryMethod string

const (
	MethodEmail    DeliveryMethod = "email"
	MethodSMS      DeliveryMethod = "sms"
	MethodPush     DeliveryMethod = "push"
	MethodWhatsApp DeliveryMethod = "whatsapp"
)

// Methods lists every delivery method, in a stable order.
func Methods() []DeliveryMethod {
	return []DeliveryMethod{MethodEmail, MethodSMS, MethodPush, MethodWhatsApp}
}

// ValidMethod reports whether m is a known delivery method.
func ValidMethod(m DeliveryMethod) bool {
	switch m {
	case MethodEmail, MethodSMS, MethodPush, MethodWhatsApp:
		return true
	}
	return false
}

// TaskPriority orders due-task selection. Lower values dispatch first,
// so the column sorts ascending with urgent on top.
type TaskPriority int

const (
	PriorityUrgent TaskPriority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its value. Unknown names fall
// back to medium.
func ParsePriority(s string) TaskPriority {
	switch s {
	case "urgent":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// TaskStatus is the lifecycle state of a scheduled task.
//
// Transitions:
//
//	pending -> processing -> completed
//	pending -> processing -> retrying -> processing (up to max_retries)
//	pending/retrying -> cancelled (explicit cancel, or DLQ hand-off)
//	processing -> failed (the DLQ write itself failed; awaiting manual fix)
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusRetrying   TaskStatus = "retrying"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
	StatusFailed     TaskStatus = "failed"
)

// DefaultMaxRetries applies when a task is created without an explicit limit.
const DefaultMaxRetries = 3

// ScheduledTask is a unit of deferred notification work.
type ScheduledTask struct {
	ID             uuid.UUID       `json:"id"`
	TaskType       TaskType        `json:"task_type"`
	AppointmentID  uuid.UUID       `json:"appointment_id"`
	DeliveryMethod DeliveryMethod  `json:"delivery_method"`
	ScheduledTime  time.Time       `json:"scheduled_time"`
	Priority       TaskPriority    `json:"priority"`
	Status         TaskStatus      `json:"status"`
	RetryCount     int             `json:"retry_count"`
	MaxRetries     int             `json:"max_retries"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	MessageData    json.RawMessage `json:"message_data"`
	CreatedAt      time.Time       `json:"created_at"`
	LastAttempt    *time.Time      `json:"last_attempt,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
}

// LogStatus is the outcome recorded for one delivery attempt. The later
// lifecycle values (delivered/opened/clicked) are written by provider
// callbacks, not by the scheduler.
type LogStatus string

const (
	LogSent      LogStatus = "sent"
	LogFailed    LogStatus = "failed"
	LogBounced   LogStatus = "bounced"
	LogDelivered LogStatus = "delivered"
	LogOpened    LogStatus = "opened"
	LogClicked   LogStatus = "clicked"
)

// NotificationLog is one append-only row per delivery attempt outcome.
type NotificationLog struct {
	ID             uuid.UUID       `json:"id"`
	TaskID         uuid.UUID       `json:"task_id"`
	AppointmentID  uuid.UUID       `json:"appointment_id"`
	DeliveryMethod DeliveryMethod  `json:"delivery_method"`
	Status         LogStatus       `json:"status"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	OpenedAt       *time.Time      `json:"opened_at,omitempty"`
	ClickedAt      *time.Time      `json:"clicked_at,omitempty"`
}

// FailureType classifies why a task landed in the dead letter queue.
type FailureType string

const (
	FailureMaxRetries         FailureType = "max_retries_exceeded"
	FailurePermanent          FailureType = "permanent_failure"
	FailureInvalidRecipient   FailureType = "invalid_recipient"
	FailureServiceUnavailable FailureType = "service_unavailable"
	FailureAuthentication     FailureType = "authentication_error"
	FailureRateLimited        FailureType = "rate_limit_exceeded"
	FailureTemplate           FailureType = "template_error"
	FailureDataCorruption     FailureType = "data_corruption"
	FailureTimeout            FailureType = "timeout"
	FailureUnknown            FailureType = "unknown"
)

// DLQStatus tracks the manual-review workflow of a dead letter entry.
type DLQStatus string

const (
	DLQPendingReview        DLQStatus = "pending_review"
	DLQManuallyResolved     DLQStatus = "manually_resolved"
	DLQArchived             DLQStatus = "archived"
	DLQAutoResolved         DLQStatus = "auto_resolved"
	DLQRequiresIntervention DLQStatus = "requires_manual_intervention"
)

// DeadLetterEntry is created exactly once per task that exhausts its
// retries. It is mutated only through review actions.
type DeadLetterEntry struct {
	ID                    uuid.UUID       `json:"id"`
	TaskID                uuid.UUID       `json:"task_id"`
	TaskType              TaskType        `json:"task_type"`
	AppointmentID         uuid.UUID       `json:"appointment_id"`
	DeliveryMethod        DeliveryMethod  `json:"delivery_method"`
	FailureType           FailureType     `json:"failure_type"`
	FinalErrorMessage     string          `json:"final_error_message"`
	ErrorHistory          []string        `json:"error_history"`
	OriginalMessageData   json.RawMessage `json:"original_message_data"`
	OriginalScheduledTime time.Time       `json:"original_scheduled_time"`
	Status                DLQStatus       `json:"status"`
	ReviewedBy            *string         `json:"reviewed_by,omitempty"`
	ReviewNotes           *string         `json:"review_notes,omitempty"`
	ReviewedAt            *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// DailyStats is the per-day aggregate recomputed by housekeeping.
type DailyStats struct {
	Day        time.Time `json:"day"`
	Processed  int64     `json:"processed"`
	Successful int64     `json:"successful"`
	Failed     int64     `json:"failed"`
	Retried    int64     `json:"retried"`
	Cancelled  int64     `json:"cancelled"`
}
