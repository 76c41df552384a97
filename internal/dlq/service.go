package dlq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// Store is the persistence surface the review service needs.
type Store interface {
	GetEntry(ctx context.Context, id uuid.UUID) (*db.DeadLetterEntry, error)
	ListEntries(ctx context.Context, filter db.DLQFilter) ([]*db.DeadLetterEntry, error)
	ListRetryCandidates(ctx context.Context, limit int) ([]*db.DeadLetterEntry, error)
	MarkResolved(ctx context.Context, id uuid.UUID, reviewer, notes string) error
	Archive(ctx context.Context, id uuid.UUID) error
	RequireIntervention(ctx context.Context, id uuid.UUID, notes string) error
	RetryEntry(ctx context.Context, id uuid.UUID, reviewer string) (*db.ScheduledTask, error)
}

// EntryView is a dead letter entry enriched with retry guidance for
// the review API.
type EntryView struct {
	*db.DeadLetterEntry
	CanRetry   bool   `json:"can_retry"`
	Suggestion string `json:"retry_suggestion"`
}

// Service implements the manual review workflow over the dead letter
// queue.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a review service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Get returns one entry with its retry guidance.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*EntryView, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(entry), nil
}

// List returns entries matching the filter, each with retry guidance.
func (s *Service) List(ctx context.Context, filter db.DLQFilter) ([]*EntryView, error) {
	entries, err := s.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.view(entry))
	}
	return views, nil
}

// RetryCandidates returns entries an operator could reasonably retry.
func (s *Service) RetryCandidates(ctx context.Context, limit int) ([]*EntryView, error) {
	entries, err := s.store.ListRetryCandidates(ctx, limit)
	if err != nil {
		return nil, err
	}
	views := make([]*EntryView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, s.view(entry))
	}
	return views, nil
}

// Resolve marks an entry manually resolved.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID, reviewer, notes string) error {
	if reviewer == "" {
		return fmt.Errorf("reviewer is required")
	}
	return s.store.MarkResolved(ctx, id, reviewer, notes)
}

// Archive moves an entry out of the review queue.
func (s *Service) Archive(ctx context.Context, id uuid.UUID) error {
	return s.store.Archive(ctx, id)
}

// Escalate flags an entry for manual intervention.
func (s *Service) Escalate(ctx context.Context, id uuid.UUID, notes string) error {
	return s.store.RequireIntervention(ctx, id, notes)
}

// Retry spawns a fresh task from the entry's original payload. Entries
// whose failure type is unrecoverable are rejected before the store is
// touched.
func (s *Service) Retry(ctx context.Context, id uuid.UUID, reviewer string) (*db.ScheduledTask, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("reviewer is required")
	}

	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanBeRetried(entry) {
		return nil, fmt.Errorf("entry %s cannot be retried: %s (%s)",
			id, entry.FailureType, entry.Status)
	}

	task, err := s.store.RetryEntry(ctx, id, reviewer)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dead letter retry created new task",
		zap.String("dlq_id", id.String()),
		zap.String("task_id", task.ID.String()),
		zap.String("reviewer", reviewer),
	)
	return task, nil
}

func (s *Service) view(entry *db.DeadLetterEntry) *EntryView {
	suggestion := SuggestionFor(entry.FailureType)
	return &EntryView{
		DeadLetterEntry: entry,
		CanRetry:        CanBeRetried(entry),
		Suggestion:      suggestion.Suggestion,
	}
}
