package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// PushSender delivers push notifications through the push gateway's
// HTTP API (FCM-compatible send endpoint).
type PushSender struct {
	client    *http.Client
	endpoint  string
	serverKey string
	logger    *zap.Logger
}

type PushConfig struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
}

func NewPushSender(cfg PushConfig, logger *zap.Logger) *PushSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &PushSender{
		client:    &http.Client{Timeout: timeout},
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
		logger:    logger,
	}
}

type pushRequest struct {
	To           string            `json:"to"`
	Notification map[string]string `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

func (s *PushSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	if task.DeliveryMethod != db.MethodPush {
		return fmt.Errorf("push sender only supports push, got: %s", task.DeliveryMethod)
	}

	var payload PushPayload
	if err := json.Unmarshal(task.MessageData, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if payload.DeviceToken == "" {
		return fmt.Errorf("%w: push payload missing device token", ErrInvalidRecipient)
	}

	body, err := json.Marshal(pushRequest{
		To: payload.DeviceToken,
		Notification: map[string]string{
			"title": payload.Title,
			"body":  payload.Body,
		},
		Data: payload.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+s.serverKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if err := classifyHTTPStatus(resp.StatusCode, preview); err != nil {
		return fmt.Errorf("push gateway: %w", err)
	}

	s.logger.Info("push notification delivered",
		zap.String("task_id", task.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (s *PushSender) SupportsMethod(method db.DeliveryMethod) bool {
	return method == db.MethodPush
}

// classifyHTTPStatus maps provider HTTP responses to the sentinel errors
// the failure handler classifies on.
func classifyHTTPStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthentication, status)
	case status == http.StatusNotFound || status == http.StatusBadRequest || status == http.StatusGone:
		return fmt.Errorf("%w: status %d, body: %s", ErrInvalidRecipient, status, body)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUpstreamRateLimited, status)
	case status >= 500:
		return fmt.Errorf("%w: status %d", ErrServiceUnavailable, status)
	default:
		return fmt.Errorf("unexpected status %d, body: %s", status, body)
	}
}
