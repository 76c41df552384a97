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

// WhatsAppSender delivers template messages through the WhatsApp
// Business HTTP API.
type WhatsAppSender struct {
	client      *http.Client
	endpoint    string
	accessToken string
	logger      *zap.Logger
}

type WhatsAppConfig struct {
	Endpoint    string
	AccessToken string
	Timeout     time.Duration
}

func NewWhatsAppSender(cfg WhatsAppConfig, logger *zap.Logger) *WhatsAppSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WhatsAppSender{
		client:      &http.Client{Timeout: timeout},
		endpoint:    cfg.Endpoint,
		accessToken: cfg.AccessToken,
		logger:      logger,
	}
}

type whatsappRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         waTmpl `json:"template"`
}

type waTmpl struct {
	Name       string        `json:"name"`
	Language   waLang        `json:"language"`
	Components []waComponent `json:"components,omitempty"`
}

type waLang struct {
	Code string `json:"code"`
}

type waComponent struct {
	Type       string    `json:"type"`
	Parameters []waParam `json:"parameters"`
}

type waParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *WhatsAppSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	if task.DeliveryMethod != db.MethodWhatsApp {
		return fmt.Errorf("whatsapp sender only supports whatsapp, got: %s", task.DeliveryMethod)
	}

	var payload WhatsAppPayload
	if err := json.Unmarshal(task.MessageData, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	phone := payload.PhoneNumber
	if phone == "" {
		phone = appt.PatientPhone
	}
	if phone == "" {
		return fmt.Errorf("%w: no phone number for patient %q", ErrInvalidRecipient, appt.PatientName)
	}

	req := whatsappRequest{
		MessagingProduct: "whatsapp",
		To:               phone,
		Type:             "template",
		Template: waTmpl{
			Name:     payload.Template,
			Language: waLang{Code: "en"},
		},
	}
	if len(payload.Params) > 0 {
		params := make([]waParam, 0, len(payload.Params))
		for _, p := range payload.Params {
			params = append(params, waParam{Type: "text", Text: p})
		}
		req.Template.Components = []waComponent{{Type: "body", Parameters: params}}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal whatsapp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create whatsapp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if err := classifyHTTPStatus(resp.StatusCode, preview); err != nil {
		return fmt.Errorf("whatsapp api: %w", err)
	}

	s.logger.Info("whatsapp message delivered",
		zap.String("task_id", task.ID.String()),
		zap.String("template", payload.Template),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (s *WhatsAppSender) SupportsMethod(method db.DeliveryMethod) bool {
	return method == db.MethodWhatsApp
}
