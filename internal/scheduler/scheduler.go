// Package scheduler runs the persistent notification pipeline: polling
// due tasks, dispatching them through a bounded worker pool behind the
// per-channel rate limiter and circuit breakers, and handing exhausted
// tasks to the dead letter queue.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/circuitbreaker"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/events"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/notify"
)

// TaskStore is the task persistence surface the scheduler needs.
type TaskStore interface {
	CreateTask(ctx context.Context, task *db.ScheduledTask) error
	GetTask(ctx context.Context, id uuid.UUID) (*db.ScheduledTask, error)
	GetDueTasks(ctx context.Context, now time.Time, batch int) ([]*db.ScheduledTask, error)
	MarkProcessing(ctx context.Context, task *db.ScheduledTask) (bool, error)
	MarkCompleted(ctx context.Context, task *db.ScheduledTask) error
	MarkRetrying(ctx context.Context, task *db.ScheduledTask, nextTime time.Time) error
	MarkCancelled(ctx context.Context, task *db.ScheduledTask) error
	MarkFailed(ctx context.Context, task *db.ScheduledTask) error
	RescheduleTask(ctx context.Context, task *db.ScheduledTask, at time.Time) error
	RecoverInterrupted(ctx context.Context) (int64, error)
	CancelByAppointment(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	CountByStatus(ctx context.Context) (map[db.TaskStatus]int64, error)
	AggregateForDay(ctx context.Context, day time.Time) (*db.DailyStats, error)
	PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LogStore is the notification-log surface the scheduler needs.
type LogStore interface {
	Append(ctx context.Context, entry *db.NotificationLog) error
	ListFailureMessages(ctx context.Context, taskID uuid.UUID) ([]string, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// DLQWriter receives tasks that exhausted their retries.
type DLQWriter interface {
	CreateEntry(ctx context.Context, entry *db.DeadLetterEntry) error
}

// Limiter is the per-channel sliding-window admission check.
type Limiter interface {
	Allow(ctx context.Context, channel db.DeliveryMethod) (bool, error)
	Cleanup(ctx context.Context) error
}

// Config tunes the dispatch loop.
type Config struct {
	TickInterval   time.Duration
	BatchSize      int
	MaxConcurrent  int
	RateLimitDelay time.Duration
	BreakerDelay   time.Duration
}

// DefaultConfig returns the production dispatch settings.
func DefaultConfig() Config {
	return Config{
		TickInterval:   5 * time.Second,
		BatchSize:      25,
		MaxConcurrent:  10,
		RateLimitDelay: 30 * time.Second,
		BreakerDelay:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = d.RateLimitDelay
	}
	if c.BreakerDelay <= 0 {
		c.BreakerDelay = d.BreakerDelay
	}
	return c
}

// Scheduler polls due tasks and pushes them through the delivery pool.
type Scheduler struct {
	tasks     TaskStore
	retry     *RetryPolicy
	limiter   Limiter
	breakers  *circuitbreaker.Registry
	sender    notify.Sender
	directory notify.Directory
	events    *events.Publisher
	cfg       Config
	logger    *zap.Logger

	sem     chan struct{}
	active  atomic.Int64
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	baseCtx context.Context

	mu        sync.Mutex
	lastStats *db.DailyStats
	purgeDay  time.Time
}

// New assembles a scheduler. The breaker registry is process-local;
// the limiter is shared through Redis across instances.
func New(
	tasks TaskStore,
	retry *RetryPolicy,
	limiter Limiter,
	breakers *circuitbreaker.Registry,
	sender notify.Sender,
	directory notify.Directory,
	publisher *events.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		tasks:     tasks,
		retry:     retry,
		limiter:   limiter,
		breakers:  breakers,
		sender:    sender,
		directory: directory,
		events:    publisher,
		cfg:       cfg,
		logger:    logger,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start recovers tasks stranded by a previous run, then launches the
// dispatch and housekeeping loops. It returns once both are running.
func (s *Scheduler) Start(ctx context.Context) error {
	recovered, err := s.tasks.RecoverInterrupted(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		s.logger.Info("requeued interrupted tasks", zap.Int64("count", recovered))
	}

	// Deliveries run on the caller's context so Stop drains them
	// instead of aborting their store writes mid-send; only the
	// polling loops hang off the cancelable one.
	s.baseCtx = ctx
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.run(runCtx)
	go s.runHousekeeping(runCtx)

	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.cfg.TickInterval),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("max_concurrent", s.cfg.MaxConcurrent),
	)
	return nil
}

// Stop halts polling and waits for in-flight deliveries to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dispatch loop stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick claims and dispatches one batch of due tasks. Admission order:
// worker slot, rate limiter, circuit breaker, then the conditional
// claim that prevents double dispatch.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	deliverCtx := s.baseCtx
	if deliverCtx == nil {
		deliverCtx = ctx
	}
	due, err := s.tasks.GetDueTasks(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to fetch due tasks", zap.Error(err))
		return
	}

	for _, task := range due {
		select {
		case s.sem <- struct{}{}:
		default:
			// Pool saturated; the rest of the batch stays due.
			return
		}

		if !s.admit(ctx, task) {
			<-s.sem
			continue
		}

		claimed, err := s.tasks.MarkProcessing(ctx, task)
		if err != nil {
			s.logger.Error("failed to claim task",
				zap.Error(err),
				zap.String("task_id", task.ID.String()),
			)
			<-s.sem
			continue
		}
		if !claimed {
			// Another instance took it, or it was cancelled under us.
			<-s.sem
			continue
		}

		s.wg.Add(1)
		s.active.Add(1)
		metrics.SetActiveWorkers(int(s.active.Load()))

		go func(task *db.ScheduledTask) {
			defer func() {
				<-s.sem
				s.active.Add(-1)
				metrics.SetActiveWorkers(int(s.active.Load()))
				s.wg.Done()
			}()
			s.deliver(deliverCtx, task)
		}(task)
	}
}

// admit runs the rate limiter and circuit breaker gates. A denied task
// is pushed back without consuming a retry.
func (s *Scheduler) admit(ctx context.Context, task *db.ScheduledTask) bool {
	allowed, err := s.limiter.Allow(ctx, task.DeliveryMethod)
	if err != nil {
		// Redis trouble must not stall deliveries; fail open.
		s.logger.Warn("rate limiter unavailable, admitting task",
			zap.Error(err),
			zap.String("channel", string(task.DeliveryMethod)),
		)
		allowed = true
	}
	if !allowed {
		metrics.RecordChannelRateLimited(string(task.DeliveryMethod))
		s.pushBack(ctx, task, s.cfg.RateLimitDelay, "rate limit")
		return false
	}

	if !s.breakers.Allow(task.DeliveryMethod) {
		metrics.RecordTaskProcessed("breaker_deferred", string(task.DeliveryMethod))
		s.pushBack(ctx, task, s.cfg.BreakerDelay, "circuit breaker open")
		return false
	}
	return true
}

func (s *Scheduler) pushBack(ctx context.Context, task *db.ScheduledTask, delay time.Duration, reason string) {
	at := time.Now().UTC().Add(delay)
	if err := s.tasks.RescheduleTask(ctx, task, at); err != nil {
		s.logger.Error("failed to defer task",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
		)
		return
	}
	s.logger.Debug("task deferred",
		zap.String("task_id", task.ID.String()),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.String("reason", reason),
		zap.Time("next_attempt", at),
	)
}

// ActiveWorkers reports the number of deliveries currently in flight.
func (s *Scheduler) ActiveWorkers() int {
	return int(s.active.Load())
}

// Breakers returns a point-in-time view of every channel breaker.
func (s *Scheduler) Breakers() map[db.DeliveryMethod]circuitbreaker.Snapshot {
	return s.breakers.Snapshot()
}

// LastDailyStats returns the most recent housekeeping aggregate, or
// nil before the first housekeeping pass.
func (s *Scheduler) LastDailyStats() *db.DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}
