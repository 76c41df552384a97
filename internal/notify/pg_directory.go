package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// PostgresDirectory resolves appointment context from the local
// appointments table, which the upstream booking system keeps synced.
type PostgresDirectory struct {
	db     *db.DB
	logger *zap.Logger
}

// NewPostgresDirectory creates a directory over the shared pool.
func NewPostgresDirectory(database *db.DB, logger *zap.Logger) *PostgresDirectory {
	return &PostgresDirectory{db: database, logger: logger}
}

// GetAppointmentData looks up the patient and provider context for one
// appointment.
func (d *PostgresDirectory) GetAppointmentData(ctx context.Context, appointmentID uuid.UUID) (*AppointmentContext, error) {
	query := `
		SELECT id, patient_name, COALESCE(patient_email, ''), COALESCE(patient_phone, ''),
		       provider_name, starts_at, COALESCE(location, '')
		FROM appointments
		WHERE id = $1
	`

	var appt AppointmentContext
	err := d.db.Pool().QueryRow(ctx, query, appointmentID).Scan(
		&appt.AppointmentID,
		&appt.PatientName,
		&appt.PatientEmail,
		&appt.PatientPhone,
		&appt.ProviderName,
		&appt.StartsAt,
		&appt.Location,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAppointmentNotFound, appointmentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query appointment: %w", err)
	}
	return &appt, nil
}
