package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAppointmentNotFound is returned by a Directory when the referenced
// appointment (or its patient/provider) no longer exists.
var ErrAppointmentNotFound = errors.New("appointment not found")

// AppointmentContext is the resolved patient/provider data a sender
// needs to address and personalize a notification.
type AppointmentContext struct {
	AppointmentID uuid.UUID
	PatientName   string
	PatientEmail  string
	PatientPhone  string
	ProviderName  string
	StartsAt      time.Time
	Location      string
}

// Directory resolves appointment context. It is an external
// collaborator; the scheduler only depends on this contract.
type Directory interface {
	GetAppointmentData(ctx context.Context, appointmentID uuid.UUID) (*AppointmentContext, error)
}
