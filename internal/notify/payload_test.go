package notify

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

func TestValidateMessageData(t *testing.T) {
	cases := []struct {
		name    string
		method  db.DeliveryMethod
		raw     string
		wantErr bool
	}{
		{"valid email", db.MethodEmail, `{"to":"a@b.c","subject":"hi","body":"text"}`, false},
		{"email missing to", db.MethodEmail, `{"subject":"hi","body":"text"}`, true},
		{"email missing subject", db.MethodEmail, `{"to":"a@b.c","body":"text"}`, true},
		{"email missing body", db.MethodEmail, `{"to":"a@b.c","subject":"hi"}`, true},
		{"valid sms", db.MethodSMS, `{"phone_number":"+15550100","message":"hi"}`, false},
		{"sms missing phone", db.MethodSMS, `{"message":"hi"}`, true},
		{"sms missing message", db.MethodSMS, `{"phone_number":"+15550100"}`, true},
		{"valid push", db.MethodPush, `{"device_token":"tok","title":"hi"}`, false},
		{"push body only", db.MethodPush, `{"device_token":"tok","body":"hi"}`, false},
		{"push missing token", db.MethodPush, `{"title":"hi"}`, true},
		{"push no title or body", db.MethodPush, `{"device_token":"tok"}`, true},
		{"valid whatsapp", db.MethodWhatsApp, `{"phone_number":"+15550100","template":"reminder_24h"}`, false},
		{"whatsapp missing template", db.MethodWhatsApp, `{"phone_number":"+15550100"}`, true},
		{"empty payload", db.MethodEmail, ``, true},
		{"invalid json", db.MethodEmail, `{broken`, true},
		{"unknown method", db.DeliveryMethod("fax"), `{}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessageData(tc.method, json.RawMessage(tc.raw))
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tc.wantErr && err != nil && !errors.Is(err, ErrBadPayload) {
				t.Errorf("error %v does not wrap ErrBadPayload", err)
			}
		})
	}
}
