package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/notify"
)

// memTasks is an in-memory TaskStore for exercising the dispatch path.
type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*db.ScheduledTask

	claimDenied bool
	reschedules []time.Time
	recovered   int64
	aggCalls    int
}

func newMemTasks(tasks ...*db.ScheduledTask) *memTasks {
	m := &memTasks{tasks: make(map[uuid.UUID]*db.ScheduledTask)}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *memTasks) get(id uuid.UUID) *db.ScheduledTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[id]
}

func (m *memTasks) CreateTask(ctx context.Context, task *db.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = db.DefaultMaxRetries
	}
	task.Status = db.StatusPending
	task.CreatedAt = time.Now().UTC()
	m.tasks[task.ID] = task
	return nil
}

func (m *memTasks) GetTask(ctx context.Context, id uuid.UUID) (*db.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	return task, nil
}

func (m *memTasks) GetDueTasks(ctx context.Context, now time.Time, batch int) ([]*db.ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*db.ScheduledTask
	for _, t := range m.tasks {
		if (t.Status == db.StatusPending || t.Status == db.StatusRetrying) && !t.ScheduledTime.After(now) {
			due = append(due, t)
		}
		if len(due) == batch {
			break
		}
	}
	return due, nil
}

func (m *memTasks) MarkProcessing(ctx context.Context, task *db.ScheduledTask) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimDenied {
		return false, nil
	}
	if task.Status != db.StatusPending && task.Status != db.StatusRetrying {
		return false, nil
	}
	task.Status = db.StatusProcessing
	now := time.Now().UTC()
	task.LastAttempt = &now
	return true, nil
}

func (m *memTasks) MarkCompleted(ctx context.Context, task *db.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = db.StatusCompleted
	now := time.Now().UTC()
	task.CompletedAt = &now
	return nil
}

func (m *memTasks) MarkRetrying(ctx context.Context, task *db.ScheduledTask, nextTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = db.StatusRetrying
	task.ScheduledTime = nextTime
	return nil
}

func (m *memTasks) MarkCancelled(ctx context.Context, task *db.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = db.StatusCancelled
	now := time.Now().UTC()
	task.CancelledAt = &now
	return nil
}

func (m *memTasks) MarkFailed(ctx context.Context, task *db.ScheduledTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.Status = db.StatusFailed
	return nil
}

func (m *memTasks) RescheduleTask(ctx context.Context, task *db.ScheduledTask, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task.ScheduledTime = at
	m.reschedules = append(m.reschedules, at)
	return nil
}

func (m *memTasks) RecoverInterrupted(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tasks {
		if t.Status == db.StatusProcessing {
			t.Status = db.StatusPending
			n++
		}
	}
	m.recovered = n
	return n, nil
}

func (m *memTasks) CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tasks {
		if t.AppointmentID == appointmentID && (t.Status == db.StatusPending || t.Status == db.StatusRetrying) {
			t.Status = db.StatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *memTasks) CountByStatus(ctx context.Context) (map[db.TaskStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[db.TaskStatus]int64)
	for _, t := range m.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (m *memTasks) AggregateForDay(ctx context.Context, day time.Time) (*db.DailyStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggCalls++
	return &db.DailyStats{Day: day}, nil
}

func (m *memTasks) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// memLogs is an in-memory LogStore.
type memLogs struct {
	mu      sync.Mutex
	entries []*db.NotificationLog
	failing bool
}

func (m *memLogs) Append(ctx context.Context, entry *db.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("log store down")
	}
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now().UTC()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memLogs) ListFailureMessages(ctx context.Context, taskID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("log store down")
	}
	var msgs []string
	for _, e := range m.entries {
		if e.TaskID == taskID && e.Status == db.LogFailed && e.ErrorMessage != nil {
			msgs = append(msgs, *e.ErrorMessage)
		}
	}
	return msgs, nil
}

func (m *memLogs) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memLogs) byTask(taskID uuid.UUID) []*db.NotificationLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.NotificationLog
	for _, e := range m.entries {
		if e.TaskID == taskID {
			out = append(out, e)
		}
	}
	return out
}

// memDLQ is an in-memory DLQWriter.
type memDLQ struct {
	mu      sync.Mutex
	entries []*db.DeadLetterEntry
	failing bool
}

func (m *memDLQ) CreateEntry(ctx context.Context, entry *db.DeadLetterEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("dlq store down")
	}
	entry.ID = uuid.New()
	entry.Status = db.DLQPendingReview
	m.entries = append(m.entries, entry)
	return nil
}

// stubLimiter admits or denies everything.
type stubLimiter struct {
	mu     sync.Mutex
	allow  bool
	denied int
}

func (l *stubLimiter) Allow(ctx context.Context, channel db.DeliveryMethod) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.allow {
		l.denied++
	}
	return l.allow, nil
}

func (l *stubLimiter) Cleanup(ctx context.Context) error { return nil }

// stubSender records sends and fails on demand. A non-nil hold channel
// blocks each send until it is closed, simulating a slow provider.
type stubSender struct {
	mu      sync.Mutex
	err     error
	sends   int
	hold    chan struct{}
	lastCtx error
}

func (s *stubSender) Send(ctx context.Context, task *db.ScheduledTask, appt *notify.AppointmentContext) error {
	if s.hold != nil {
		<-s.hold
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	s.lastCtx = ctx.Err()
	return s.err
}

func (s *stubSender) lastCtxErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCtx
}

func (s *stubSender) SupportsMethod(method db.DeliveryMethod) bool { return true }

func (s *stubSender) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

// stubDirectory resolves every appointment to the same patient.
type stubDirectory struct {
	err error
}

func (d *stubDirectory) GetAppointmentData(ctx context.Context, appointmentID uuid.UUID) (*notify.AppointmentContext, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &notify.AppointmentContext{
		AppointmentID: appointmentID,
		PatientName:   "Jordan Reyes",
		PatientEmail:  "jordan@example.com",
		PatientPhone:  "+15550100",
		ProviderName:  "Dr. Okafor",
		StartsAt:      time.Now().UTC().Add(24 * time.Hour),
		Location:      "Clinic 4B",
	}, nil
}
