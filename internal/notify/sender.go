// Package notify holds the delivery-channel senders and the contracts
// the scheduler consumes: the Sender interface, the channel payload
// shapes, and the appointment directory lookup.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// Sender delivers one task on a specific channel.
// Implementations: email (SES), sms (SNS), push, WhatsApp.
type Sender interface {
	Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error
	SupportsMethod(method db.DeliveryMethod) bool
}

// Sentinel errors senders wrap so the failure handler can classify
// terminal failures. Anything unwrapped classifies as unknown.
var (
	ErrInvalidRecipient    = errors.New("invalid recipient")
	ErrBadPayload          = errors.New("malformed message payload")
	ErrServiceUnavailable  = errors.New("delivery service unavailable")
	ErrUpstreamRateLimited = errors.New("delivery service rate limited")
	ErrAuthentication      = errors.New("delivery service rejected credentials")
)

// MultiSender routes a task to the sender owning its delivery method.
type MultiSender struct {
	senders []Sender
	logger  *zap.Logger
}

// NewMultiSender creates a router over the given channel senders.
func NewMultiSender(logger *zap.Logger, senders ...Sender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

// Send routes the task to the first sender supporting its channel.
func (m *MultiSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	for _, sender := range m.senders {
		if sender.SupportsMethod(task.DeliveryMethod) {
			m.logger.Debug("routing task to channel sender",
				zap.String("channel", string(task.DeliveryMethod)),
				zap.String("task_id", task.ID.String()),
			)
			return sender.Send(ctx, task, appt)
		}
	}
	return fmt.Errorf("no sender found for channel: %s", task.DeliveryMethod)
}

// SupportsMethod reports whether any underlying sender handles the channel.
func (m *MultiSender) SupportsMethod(method db.DeliveryMethod) bool {
	for _, sender := range m.senders {
		if sender.SupportsMethod(method) {
			return true
		}
	}
	return false
}

// LogSender logs instead of delivering, for development and tests.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	s.logger.Info("logging notification (development mode)",
		zap.String("task_id", task.ID.String()),
		zap.String("channel", string(task.DeliveryMethod)),
		zap.String("appointment_id", task.AppointmentID.String()),
		zap.String("patient", appt.PatientName),
	)
	return nil
}

func (s *LogSender) SupportsMethod(method db.DeliveryMethod) bool {
	return db.ValidMethod(method)
}
