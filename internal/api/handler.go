package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/dlq"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/metrics"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/redis"
	"github.com/Bouric0076/mediremind-backend-sub002/internal/scheduler"
)

// ReminderService is the scheduling surface the API exposes.
type ReminderService interface {
	ScheduleReminder(ctx context.Context, req *scheduler.ScheduleRequest) (*db.ScheduledTask, error)
	CancelAppointmentReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error)
	GetTask(ctx context.Context, id uuid.UUID) (*db.ScheduledTask, error)
	Stats(ctx context.Context) (*scheduler.Stats, error)
}

// ReviewService is the dead letter review surface the API exposes.
type ReviewService interface {
	Get(ctx context.Context, id uuid.UUID) (*dlq.EntryView, error)
	List(ctx context.Context, filter db.DLQFilter) ([]*dlq.EntryView, error)
	RetryCandidates(ctx context.Context, limit int) ([]*dlq.EntryView, error)
	Resolve(ctx context.Context, id uuid.UUID, reviewer, notes string) error
	Archive(ctx context.Context, id uuid.UUID) error
	Escalate(ctx context.Context, id uuid.UUID, notes string) error
	Retry(ctx context.Context, id uuid.UUID, reviewer string) (*db.ScheduledTask, error)
}

// reminderRequest is the incoming request body for scheduling.
type reminderRequest struct {
	TaskType       string          `json:"task_type"`
	AppointmentID  string          `json:"appointment_id"`
	DeliveryMethod string          `json:"delivery_method"`
	ScheduledTime  time.Time       `json:"scheduled_time"`
	Priority       string          `json:"priority"`
	MessageData    json.RawMessage `json:"message_data"`
	MaxRetries     int             `json:"max_retries,omitempty"`
}

// reminderResponse is returned after scheduling a reminder.
type reminderResponse struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	ScheduledTime time.Time `json:"scheduled_time"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	reminders   ReminderService
	review      ReviewService
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, reminders ReminderService, review ReviewService) *Handler {
	return &Handler{
		logger:    logger,
		reminders: reminders,
		review:    review,
	}
}

// NewHandlerWithIdempotency creates a handler that deduplicates schedule
// requests by Idempotency-Key.
func NewHandlerWithIdempotency(logger *zap.Logger, reminders ReminderService, review ReviewService, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		reminders:   reminders,
		review:      review,
		idempotency: idempotency,
	}
}

// CreateReminder handles POST /v1/reminders
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempotencyKey := r.Header.Get("Idempotency-Key")

	var req reminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.AppointmentID == "" || req.DeliveryMethod == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"appointment_id and delivery_method are required")
		return
	}

	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid appointment_id", "appointment_id must be a valid UUID")
		return
	}

	if req.ScheduledTime.IsZero() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing scheduled_time", "scheduled_time is required")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyKey)
		if err != nil {
			if errors.Is(err, redis.ErrDuplicateRequest) {
				h.writeError(w, http.StatusConflict, "duplicate_request",
					"Request is already being processed",
					"Another request with this idempotency key is in progress")
				return
			}
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		} else if cached != nil {
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_ = json.NewEncoder(w).Encode(reminderResponse{ID: cached.TaskID})
			return
		}
	}

	task, err := h.reminders.ScheduleReminder(ctx, &scheduler.ScheduleRequest{
		TaskType:       req.TaskType,
		AppointmentID:  appointmentID,
		DeliveryMethod: req.DeliveryMethod,
		ScheduledTime:  req.ScheduledTime,
		Priority:       req.Priority,
		MessageData:    req.MessageData,
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		if errors.Is(err, db.ErrValidation) {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Validation failed", err.Error())
			return
		}
		h.logger.Error("failed to schedule reminder",
			zap.Error(err),
			zap.String("appointment_id", req.AppointmentID),
			zap.String("channel", req.DeliveryMethod),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to schedule reminder", "")
		return
	}

	if idempotencyKey != "" && h.idempotency != nil {
		result := &redis.IdempotencyResult{
			TaskID:     task.ID.String(),
			StatusCode: http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, idempotencyKey, result); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(reminderResponse{
		ID:            task.ID.String(),
		Status:        string(task.Status),
		ScheduledTime: task.ScheduledTime,
	})
}

// GetReminder handles GET /v1/reminders/{id}
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	taskID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid reminder ID", "ID must be a valid UUID")
		return
	}

	task, err := h.reminders.GetTask(ctx, taskID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Reminder not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(task)
}

// CancelAppointmentReminders handles DELETE /v1/appointments/{id}/reminders
func (h *Handler) CancelAppointmentReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	appointmentID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid appointment ID", "ID must be a valid UUID")
		return
	}

	n, err := h.reminders.CancelAppointmentReminders(ctx, appointmentID)
	if err != nil {
		h.logger.Error("failed to cancel appointment reminders",
			zap.Error(err),
			zap.String("appointment_id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to cancel reminders", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"appointment_id": idStr,
		"cancelled":      n,
	})
}

// GetStats handles GET /v1/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reminders.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to collect stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to collect stats", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// ListDeadLetters handles GET /v1/dlq?status=&failure_type=&channel=&limit=&offset=
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := db.DLQFilter{
		Status:         db.DLQStatus(r.URL.Query().Get("status")),
		FailureType:    db.FailureType(r.URL.Query().Get("failure_type")),
		DeliveryMethod: db.DeliveryMethod(r.URL.Query().Get("channel")),
		Limit:          20,
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			filter.Limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	entries, err := h.review.List(ctx, filter)
	if err != nil {
		h.logger.Error("failed to list dead letter queue", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list dead letter queue", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   entries,
		"limit":  filter.Limit,
		"offset": filter.Offset,
		"count":  len(entries),
	})
}

// GetDeadLetter handles GET /v1/dlq/{id}
func (h *Handler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dlqID(w, r)
	if !ok {
		return
	}

	entry, err := h.review.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Dead letter entry not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(entry)
}

// ListRetryCandidates handles GET /v1/dlq/retry-candidates
func (h *Handler) ListRetryCandidates(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	entries, err := h.review.RetryCandidates(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list retry candidates", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list retry candidates", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":  entries,
		"count": len(entries),
	})
}

// ResolveDeadLetter handles POST /v1/dlq/{id}/resolve
func (h *Handler) ResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dlqID(w, r)
	if !ok {
		return
	}

	var req struct {
		ReviewedBy string `json:"reviewed_by"`
		Notes      string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.ReviewedBy == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing reviewed_by", "reviewed_by is required")
		return
	}

	if err := h.review.Resolve(r.Context(), id, req.ReviewedBy, req.Notes); err != nil {
		h.reviewError(w, err, id)
		return
	}

	h.writeReviewResult(w, id, "manually_resolved")
}

// ArchiveDeadLetter handles POST /v1/dlq/{id}/archive
func (h *Handler) ArchiveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dlqID(w, r)
	if !ok {
		return
	}

	if err := h.review.Archive(r.Context(), id); err != nil {
		h.reviewError(w, err, id)
		return
	}

	h.writeReviewResult(w, id, "archived")
}

// EscalateDeadLetter handles POST /v1/dlq/{id}/escalate
func (h *Handler) EscalateDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dlqID(w, r)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.review.Escalate(r.Context(), id, req.Notes); err != nil {
		h.reviewError(w, err, id)
		return
	}

	h.writeReviewResult(w, id, "requires_manual_intervention")
}

// RetryDeadLetter handles POST /v1/dlq/{id}/retry
func (h *Handler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := h.dlqID(w, r)
	if !ok {
		return
	}

	var req struct {
		ReviewedBy string `json:"reviewed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.ReviewedBy == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing reviewed_by", "reviewed_by is required")
		return
	}

	task, err := h.review.Retry(r.Context(), id, req.ReviewedBy)
	if err != nil {
		h.reviewError(w, err, id)
		return
	}

	h.logger.Info("dead letter entry retried",
		zap.String("dlq_id", id.String()),
		zap.String("new_task_id", task.ID.String()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":          id.String(),
		"status":      "retried",
		"new_task_id": task.ID.String(),
	})
}

func (h *Handler) dlqID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid DLQ ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) reviewError(w http.ResponseWriter, err error, id uuid.UUID) {
	if errors.Is(err, db.ErrEntryProcessed) {
		h.writeError(w, http.StatusConflict, "already_processed",
			"Entry already processed", "The entry has already left its reviewable state")
		return
	}
	h.logger.Error("dead letter review action failed",
		zap.Error(err),
		zap.String("dlq_id", id.String()),
	)
	h.writeError(w, http.StatusUnprocessableEntity, "review_failed", "Review action failed", err.Error())
}

func (h *Handler) writeReviewResult(w http.ResponseWriter, id uuid.UUID, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     id.String(),
		"status": status,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
