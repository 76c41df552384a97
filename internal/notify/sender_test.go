package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

type recordingSender struct {
	method db.DeliveryMethod
	sends  int
}

func (s *recordingSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	s.sends++
	return nil
}

func (s *recordingSender) SupportsMethod(method db.DeliveryMethod) bool {
	return method == s.method
}

func testAppointment() *AppointmentContext {
	return &AppointmentContext{
		AppointmentID: uuid.New(),
		PatientName:   "Jordan Reyes",
		PatientEmail:  "jordan@example.com",
		PatientPhone:  "+15550100",
		ProviderName:  "Dr. Okafor",
		StartsAt:      time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestMultiSenderRoutesByChannel(t *testing.T) {
	email := &recordingSender{method: db.MethodEmail}
	sms := &recordingSender{method: db.MethodSMS}
	multi := NewMultiSender(zap.NewNop(), email, sms)

	task := &db.ScheduledTask{ID: uuid.New(), DeliveryMethod: db.MethodSMS}
	if err := multi.Send(context.Background(), task, testAppointment()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if sms.sends != 1 {
		t.Errorf("sms sends = %d, want 1", sms.sends)
	}
	if email.sends != 0 {
		t.Errorf("email sends = %d, want 0", email.sends)
	}
}

func TestMultiSenderRejectsUnsupportedChannel(t *testing.T) {
	multi := NewMultiSender(zap.NewNop(), &recordingSender{method: db.MethodEmail})

	task := &db.ScheduledTask{ID: uuid.New(), DeliveryMethod: db.MethodWhatsApp}
	if err := multi.Send(context.Background(), task, testAppointment()); err == nil {
		t.Fatal("expected error for channel with no sender")
	}
	if multi.SupportsMethod(db.MethodWhatsApp) {
		t.Error("SupportsMethod should be false for an unrouted channel")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{200, nil},
		{202, nil},
		{400, ErrInvalidRecipient},
		{401, ErrAuthentication},
		{403, ErrAuthentication},
		{404, ErrInvalidRecipient},
		{410, ErrInvalidRecipient},
		{429, ErrUpstreamRateLimited},
		{500, ErrServiceUnavailable},
		{503, ErrServiceUnavailable},
	}

	for _, tc := range cases {
		err := classifyHTTPStatus(tc.status, nil)
		if tc.want == nil {
			if err != nil {
				t.Errorf("status %d: unexpected error %v", tc.status, err)
			}
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: error %v does not wrap %v", tc.status, err, tc.want)
		}
	}
}

func TestPushSenderDelivers(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewPushSender(PushConfig{Endpoint: server.URL, ServerKey: "secret"}, zap.NewNop())
	task := &db.ScheduledTask{
		ID:             uuid.New(),
		DeliveryMethod: db.MethodPush,
		MessageData:    json.RawMessage(`{"device_token":"tok","title":"Reminder","body":"Tomorrow 10:00"}`),
	}

	if err := sender.Send(context.Background(), task, testAppointment()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAuth != "key=secret" {
		t.Errorf("authorization header = %q, want key=secret", gotAuth)
	}
}

func TestPushSenderMapsGatewayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	sender := NewPushSender(PushConfig{Endpoint: server.URL, ServerKey: "secret"}, zap.NewNop())
	task := &db.ScheduledTask{
		ID:             uuid.New(),
		DeliveryMethod: db.MethodPush,
		MessageData:    json.RawMessage(`{"device_token":"stale","title":"Reminder"}`),
	}

	err := sender.Send(context.Background(), task, testAppointment())
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("err = %v, want ErrInvalidRecipient for a gone device token", err)
	}
}

func TestWhatsAppSenderBuildsTemplateRequest(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWhatsAppSender(WhatsAppConfig{Endpoint: server.URL, AccessToken: "tok"}, zap.NewNop())
	task := &db.ScheduledTask{
		ID:             uuid.New(),
		DeliveryMethod: db.MethodWhatsApp,
		MessageData:    json.RawMessage(`{"phone_number":"+15550100","template":"reminder_24h","params":["Jordan","10:00"]}`),
	}

	if err := sender.Send(context.Background(), task, testAppointment()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if body["messaging_product"] != "whatsapp" {
		t.Errorf("messaging_product = %v, want whatsapp", body["messaging_product"])
	}
	if body["to"] != "+15550100" {
		t.Errorf("to = %v, want +15550100", body["to"])
	}
}

func TestLogSenderAcceptsEveryChannel(t *testing.T) {
	sender := NewLogSender(zap.NewNop())
	for _, method := range db.Methods() {
		if !sender.SupportsMethod(method) {
			t.Errorf("log sender should support %s", method)
		}
	}

	task := &db.ScheduledTask{ID: uuid.New(), DeliveryMethod: db.MethodEmail}
	if err := sender.Send(context.Background(), task, testAppointment()); err != nil {
		t.Errorf("Send failed: %v", err)
	}
}
