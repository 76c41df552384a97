package notify

import (
	"encoding/json"
	"fmt"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// Message payloads are discriminated by delivery method and validated
// when the task is created, so a malformed payload is rejected up front
// instead of burning retries at send time.

// EmailPayload is the message_data shape for the email channel.
type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SMSPayload is the message_data shape for the sms channel.
type SMSPayload struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

// PushPayload is the message_data shape for the push channel.
type PushPayload struct {
	DeviceToken string            `json:"device_token"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}

// WhatsAppPayload is the message_data shape for the whatsapp channel.
type WhatsAppPayload struct {
	PhoneNumber string   `json:"phone_number"`
	Template    string   `json:"template"`
	Params      []string `json:"params,omitempty"`
}

// ValidateMessageData checks that raw parses as the payload shape for
// the method and carries its required fields.
func ValidateMessageData(method db.DeliveryMethod, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: message_data is required", ErrBadPayload)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: message_data is not valid JSON", ErrBadPayload)
	}

	switch method {
	case db.MethodEmail:
		var p EmailPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if p.To == "" {
			return fmt.Errorf("%w: email payload missing 'to'", ErrBadPayload)
		}
		if p.Subject == "" {
			return fmt.Errorf("%w: email payload missing 'subject'", ErrBadPayload)
		}
		if p.Body == "" {
			return fmt.Errorf("%w: email payload missing 'body'", ErrBadPayload)
		}

	case db.MethodSMS:
		var p SMSPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if p.PhoneNumber == "" {
			return fmt.Errorf("%w: sms payload missing 'phone_number'", ErrBadPayload)
		}
		if p.Message == "" {
			return fmt.Errorf("%w: sms payload missing 'message'", ErrBadPayload)
		}

	case db.MethodPush:
		var p PushPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if p.DeviceToken == "" {
			return fmt.Errorf("%w: push payload missing 'device_token'", ErrBadPayload)
		}
		if p.Title == "" && p.Body == "" {
			return fmt.Errorf("%w: push payload needs a title or body", ErrBadPayload)
		}

	case db.MethodWhatsApp:
		var p WhatsAppPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		if p.PhoneNumber == "" {
			return fmt.Errorf("%w: whatsapp payload missing 'phone_number'", ErrBadPayload)
		}
		if p.Template == "" {
			return fmt.Errorf("%w: whatsapp payload missing 'template'", ErrBadPayload)
		}

	default:
		return fmt.Errorf("%w: unsupported delivery method %q", ErrBadPayload, method)
	}

	return nil
}
