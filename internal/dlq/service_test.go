package dlq

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

type fakeStore struct {
	entries map[uuid.UUID]*db.DeadLetterEntry

	resolved  []uuid.UUID
	archived  []uuid.UUID
	escalated []uuid.UUID
	retried   []uuid.UUID
}

func newFakeStore(entries ...*db.DeadLetterEntry) *fakeStore {
	s := &fakeStore{entries: make(map[uuid.UUID]*db.DeadLetterEntry)}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *fakeStore) GetEntry(ctx context.Context, id uuid.UUID) (*db.DeadLetterEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, db.ErrEntryProcessed
	}
	return e, nil
}

func (s *fakeStore) ListEntries(ctx context.Context, filter db.DLQFilter) ([]*db.DeadLetterEntry, error) {
	var out []*db.DeadLetterEntry
	for _, e := range s.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) ListRetryCandidates(ctx context.Context, limit int) ([]*db.DeadLetterEntry, error) {
	var out []*db.DeadLetterEntry
	for _, e := range s.entries {
		if CanBeRetried(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkResolved(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	s.resolved = append(s.resolved, id)
	return nil
}

func (s *fakeStore) Archive(ctx context.Context, id uuid.UUID) error {
	s.archived = append(s.archived, id)
	return nil
}

func (s *fakeStore) RequireIntervention(ctx context.Context, id uuid.UUID, notes string) error {
	s.escalated = append(s.escalated, id)
	return nil
}

func (s *fakeStore) RetryEntry(ctx context.Context, id uuid.UUID, reviewer string) (*db.ScheduledTask, error) {
	s.retried = append(s.retried, id)
	entry := s.entries[id]
	return &db.ScheduledTask{
		ID:             uuid.New(),
		TaskType:       entry.TaskType,
		AppointmentID:  entry.AppointmentID,
		DeliveryMethod: entry.DeliveryMethod,
		RetryCount:     0,
		MaxRetries:     db.DefaultMaxRetries + 2,
		Status:         db.StatusPending,
	}, nil
}

func pendingEntry(ftype db.FailureType) *db.DeadLetterEntry {
	return &db.DeadLetterEntry{
		ID:                    uuid.New(),
		TaskID:                uuid.New(),
		TaskType:              db.TaskReminder,
		AppointmentID:         uuid.New(),
		DeliveryMethod:        db.MethodEmail,
		FailureType:           ftype,
		FinalErrorMessage:     "delivery failed",
		OriginalScheduledTime: time.Now().UTC(),
		Status:                db.DLQPendingReview,
	}
}

func TestServiceRetrySpawnsFreshTask(t *testing.T) {
	entry := pendingEntry(db.FailureServiceUnavailable)
	store := newFakeStore(entry)
	svc := NewService(store, zap.NewNop())

	task, err := svc.Retry(context.Background(), entry.ID, "oncall")
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if task.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", task.RetryCount)
	}
	if task.MaxRetries != db.DefaultMaxRetries+2 {
		t.Errorf("max retries = %d, want %d", task.MaxRetries, db.DefaultMaxRetries+2)
	}
	if len(store.retried) != 1 {
		t.Errorf("store retried %d entries, want 1", len(store.retried))
	}
}

func TestServiceRetryRejectsUnrecoverableFailure(t *testing.T) {
	entry := pendingEntry(db.FailureInvalidRecipient)
	store := newFakeStore(entry)
	svc := NewService(store, zap.NewNop())

	if _, err := svc.Retry(context.Background(), entry.ID, "oncall"); err == nil {
		t.Fatal("expected retry of invalid_recipient entry to be rejected")
	}
	if len(store.retried) != 0 {
		t.Errorf("store retried %d entries, want 0", len(store.retried))
	}
}

func TestServiceRetryRequiresReviewer(t *testing.T) {
	entry := pendingEntry(db.FailureTimeout)
	svc := NewService(newFakeStore(entry), zap.NewNop())

	if _, err := svc.Retry(context.Background(), entry.ID, ""); err == nil {
		t.Fatal("expected missing reviewer to be rejected")
	}
}

func TestServiceResolveRequiresReviewer(t *testing.T) {
	entry := pendingEntry(db.FailureTimeout)
	store := newFakeStore(entry)
	svc := NewService(store, zap.NewNop())

	if err := svc.Resolve(context.Background(), entry.ID, "", "fixed"); err == nil {
		t.Fatal("expected missing reviewer to be rejected")
	}
	if err := svc.Resolve(context.Background(), entry.ID, "oncall", "fixed"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(store.resolved) != 1 {
		t.Errorf("store resolved %d entries, want 1", len(store.resolved))
	}
}

func TestServiceViewsCarryRetryGuidance(t *testing.T) {
	retryable := pendingEntry(db.FailureServiceUnavailable)
	terminal := pendingEntry(db.FailureInvalidRecipient)
	svc := NewService(newFakeStore(retryable, terminal), zap.NewNop())

	views, err := svc.List(context.Background(), db.DLQFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views, want 2", len(views))
	}
	for _, v := range views {
		if v.Suggestion == "" {
			t.Errorf("entry %s has no retry suggestion", v.ID)
		}
		want := v.FailureType == db.FailureServiceUnavailable
		if v.CanRetry != want {
			t.Errorf("entry %s CanRetry = %v, want %v", v.FailureType, v.CanRetry, want)
		}
	}
}
