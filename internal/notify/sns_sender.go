package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// SNSSender delivers SMS notifications via AWS SNS.
type SNSSender struct {
	client *sns.Client
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

func NewSNSSender(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	return &SNSSender{
		client: sns.NewFromConfig(awsCfg),
		logger: logger,
	}, nil
}

// Send delivers one SMS task. The phone number falls back to the
// patient's phone when the payload omits one.
func (s *SNSSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	if task.DeliveryMethod != db.MethodSMS {
		return fmt.Errorf("SNS sender only supports sms, got: %s", task.DeliveryMethod)
	}

	var payload SMSPayload
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

	input := &sns.PublishInput{
		PhoneNumber: aws.String(phone),
		Message:     aws.String(payload.Message),
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("sms sent via SNS",
		zap.String("task_id", task.ID.String()),
		zap.String("phone_number", phone),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

func (s *SNSSender) SupportsMethod(method db.DeliveryMethod) bool {
	return method == db.MethodSMS
}
