package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/circuitbreaker"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

type stubRuntime struct{}

func (stubRuntime) ActiveWorkers() int { return 2 }
func (stubRuntime) Breakers() map[db.DeliveryMethod]circuitbreaker.Snapshot {
	return circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), zap.NewNop()).Snapshot()
}

func newService(tasks *memTasks) *Service {
	return NewService(tasks, stubRuntime{}, zap.NewNop())
}

func TestScheduleReminderCreatesPendingTask(t *testing.T) {
	tasks := newMemTasks()
	svc := newService(tasks)

	task, err := svc.ScheduleReminder(context.Background(), &ScheduleRequest{
		TaskType:       "reminder",
		AppointmentID:  uuid.New(),
		DeliveryMethod: "email",
		ScheduledTime:  time.Now().UTC().Add(time.Hour),
		Priority:       "high",
		MessageData:    emailData,
	})
	if err != nil {
		t.Fatalf("ScheduleReminder failed: %v", err)
	}
	if task.Status != db.StatusPending {
		t.Errorf("status = %s, want pending", task.Status)
	}
	if task.Priority != db.PriorityHigh {
		t.Errorf("priority = %s, want high", task.Priority)
	}
	if task.MaxRetries != db.DefaultMaxRetries {
		t.Errorf("max retries = %d, want %d", task.MaxRetries, db.DefaultMaxRetries)
	}
}

func TestScheduleReminderDefaultsTaskType(t *testing.T) {
	svc := newService(newMemTasks())

	task, err := svc.ScheduleReminder(context.Background(), &ScheduleRequest{
		AppointmentID:  uuid.New(),
		DeliveryMethod: "email",
		ScheduledTime:  time.Now().UTC().Add(time.Hour),
		MessageData:    emailData,
	})
	if err != nil {
		t.Fatalf("ScheduleReminder failed: %v", err)
	}
	if task.TaskType != db.TaskReminder {
		t.Errorf("task type = %s, want reminder", task.TaskType)
	}
	if task.Priority != db.PriorityMedium {
		t.Errorf("priority = %s, want medium", task.Priority)
	}
}

func TestScheduleReminderRejectsBadInput(t *testing.T) {
	svc := newService(newMemTasks())
	base := func() *ScheduleRequest {
		return &ScheduleRequest{
			TaskType:       "reminder",
			AppointmentID:  uuid.New(),
			DeliveryMethod: "email",
			ScheduledTime:  time.Now().UTC().Add(time.Hour),
			MessageData:    emailData,
		}
	}

	cases := []struct {
		name   string
		mutate func(*ScheduleRequest)
	}{
		{"unknown task type", func(r *ScheduleRequest) { r.TaskType = "carrier_pigeon" }},
		{"unknown delivery method", func(r *ScheduleRequest) { r.DeliveryMethod = "fax" }},
		{"missing message data", func(r *ScheduleRequest) { r.MessageData = nil }},
		{"payload missing fields", func(r *ScheduleRequest) { r.MessageData = json.RawMessage(`{"to":"a@b.c"}`) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(req)
			_, err := svc.ScheduleReminder(context.Background(), req)
			if !errors.Is(err, db.ErrValidation) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
}

func TestCancelAppointmentReminders(t *testing.T) {
	appointmentID := uuid.New()

	first := dueTask(3)
	first.AppointmentID = appointmentID
	second := dueTask(3)
	second.AppointmentID = appointmentID
	second.Status = db.StatusRetrying
	other := dueTask(3)

	tasks := newMemTasks(first, second, other)
	svc := newService(tasks)

	n, err := svc.CancelAppointmentReminders(context.Background(), appointmentID)
	if err != nil {
		t.Fatalf("CancelAppointmentReminders failed: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled = %d, want 2", n)
	}
	if first.Status != db.StatusCancelled || second.Status != db.StatusCancelled {
		t.Error("appointment tasks not cancelled")
	}
	if other.Status != db.StatusPending {
		t.Errorf("unrelated task status = %s, want pending", other.Status)
	}
}

func TestCancelRequiresAppointmentID(t *testing.T) {
	svc := newService(newMemTasks())
	if _, err := svc.CancelAppointmentReminders(context.Background(), uuid.Nil); !errors.Is(err, db.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestStatsReportsQueueAndWorkers(t *testing.T) {
	pending := dueTask(3)
	done := dueTask(3)
	done.Status = db.StatusCompleted

	svc := newService(newMemTasks(pending, done))

	stats, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Tasks[db.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", stats.Tasks[db.StatusPending])
	}
	if stats.Tasks[db.StatusCompleted] != 1 {
		t.Errorf("completed = %d, want 1", stats.Tasks[db.StatusCompleted])
	}
	if stats.ActiveWorkers != 2 {
		t.Errorf("active workers = %d, want 2", stats.ActiveWorkers)
	}
	if len(stats.Breakers) != len(db.Methods()) {
		t.Errorf("breaker snapshot covers %d channels, want %d", len(stats.Breakers), len(db.Methods()))
	}
}
