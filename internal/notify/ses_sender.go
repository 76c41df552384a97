package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// SESSender delivers email notifications via AWS SES.
type SESSender struct {
	client *ses.Client
	from   string
	logger *zap.Logger
}

type SESConfig struct {
	Region    string
	FromEmail string
}

func NewSESSender(ctx context.Context, cfg SESConfig, logger *zap.Logger) (*SESSender, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config: %w", err)
	}
	return &SESSender{
		client: ses.NewFromConfig(awsCfg),
		from:   cfg.FromEmail,
		logger: logger,
	}, nil
}

// Send delivers one email task. The recipient falls back to the
// patient's email when the payload omits one.
func (s *SESSender) Send(ctx context.Context, task *db.ScheduledTask, appt *AppointmentContext) error {
	if task.DeliveryMethod != db.MethodEmail {
		return fmt.Errorf("SES sender only supports email, got: %s", task.DeliveryMethod)
	}

	var payload EmailPayload
	if err := json.Unmarshal(task.MessageData, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	to := payload.To
	if to == "" {
		to = appt.PatientEmail
	}
	if to == "" {
		return fmt.Errorf("%w: no email address for patient %q", ErrInvalidRecipient, appt.PatientName)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(payload.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(payload.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	s.logger.Info("email sent via SES",
		zap.String("task_id", task.ID.String()),
		zap.String("to", to),
		zap.String("message_id", *result.MessageId),
	)

	return nil
}

func (s *SESSender) SupportsMethod(method db.DeliveryMethod) bool {
	return method == db.MethodEmail
}
