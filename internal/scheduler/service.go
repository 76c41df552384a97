package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/circuitbreaker"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/notify"
)

// Runtime is the live-scheduler view the stats endpoint reads.
type Runtime interface {
	ActiveWorkers() int
	Breakers() map[db.DeliveryMethod]circuitbreaker.Snapshot
}

// ScheduleRequest describes one reminder to put on the schedule.
type ScheduleRequest struct {
	TaskType       string          `json:"task_type"`
	AppointmentID  uuid.UUID       `json:"appointment_id"`
	DeliveryMethod string          `json:"delivery_method"`
	ScheduledTime  time.Time       `json:"scheduled_time"`
	Priority       string          `json:"priority"`
	MessageData    json.RawMessage `json:"message_data"`
	MaxRetries     int             `json:"max_retries,omitempty"`
}

// Stats is the operational snapshot returned by the stats endpoint.
type Stats struct {
	Tasks         map[db.TaskStatus]int64                       `json:"tasks"`
	ActiveWorkers int                                           `json:"active_workers"`
	Breakers      map[db.DeliveryMethod]circuitbreaker.Snapshot `json:"circuit_breakers"`
	Today         *db.DailyStats                                `json:"today,omitempty"`
}

// Service exposes the inbound operations: scheduling reminders,
// cancelling them per appointment, and reporting stats.
type Service struct {
	tasks   TaskStore
	runtime Runtime
	logger  *zap.Logger
}

// NewService creates the inbound operations service.
func NewService(tasks TaskStore, runtime Runtime, logger *zap.Logger) *Service {
	return &Service{tasks: tasks, runtime: runtime, logger: logger}
}

var validTaskTypes = map[db.TaskType]bool{
	db.TaskReminder:     true,
	db.TaskConfirmation: true,
	db.TaskUpdate:       true,
	db.TaskCancellation: true,
	db.TaskNoShow:       true,
	db.TaskManual:       true,
	db.TaskNotification: true,
}

// ScheduleReminder validates the request and puts a pending task on
// the schedule. A scheduled time in the past is accepted; the task
// simply becomes due on the next tick.
func (s *Service) ScheduleReminder(ctx context.Context, req *ScheduleRequest) (*db.ScheduledTask, error) {
	taskType := db.TaskType(req.TaskType)
	if taskType == "" {
		taskType = db.TaskReminder
	}
	if !validTaskTypes[taskType] {
		return nil, fmt.Errorf("%w: unknown task type %q", db.ErrValidation, req.TaskType)
	}

	method := db.DeliveryMethod(req.DeliveryMethod)
	if !db.ValidMethod(method) {
		return nil, fmt.Errorf("%w: unknown delivery method %q", db.ErrValidation, req.DeliveryMethod)
	}

	if err := notify.ValidateMessageData(method, req.MessageData); err != nil {
		return nil, fmt.Errorf("%w: %v", db.ErrValidation, err)
	}

	task := &db.ScheduledTask{
		TaskType:       taskType,
		AppointmentID:  req.AppointmentID,
		DeliveryMethod: method,
		ScheduledTime:  req.ScheduledTime,
		Priority:       db.ParsePriority(req.Priority),
		MessageData:    req.MessageData,
		MaxRetries:     req.MaxRetries,
	}

	if err := s.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	metrics.RecordTaskScheduled(string(task.TaskType), string(task.DeliveryMethod))
	s.logger.Info("reminder scheduled",
		zap.String("task_id", task.ID.String()),
		zap.String("appointment_id", task.AppointmentID.String()),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.Time("scheduled_time", task.ScheduledTime),
	)
	return task, nil
}

// CancelAppointmentReminders cancels every pending or retrying task
// for the appointment. Tasks already processing finish their attempt.
func (s *Service) CancelAppointmentReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	if appointmentID == uuid.Nil {
		return 0, fmt.Errorf("%w: appointment id is required", db.ErrValidation)
	}
	return s.tasks.CancelByAppointment(ctx, appointmentID)
}

// GetTask fetches one task by ID.
func (s *Service) GetTask(ctx context.Context, id uuid.UUID) (*db.ScheduledTask, error) {
	return s.tasks.GetTask(ctx, id)
}

// Stats assembles the operational snapshot: queue depths by status,
// in-flight workers, breaker states, and today's aggregate so far.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Tasks:         counts,
		ActiveWorkers: s.runtime.ActiveWorkers(),
		Breakers:      s.runtime.Breakers(),
	}

	today, err := s.tasks.AggregateForDay(ctx, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		s.logger.Warn("failed to aggregate today's stats", zap.Error(err))
	} else {
		stats.Today = today
	}
	return stats, nil
}
