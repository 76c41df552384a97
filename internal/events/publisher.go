// Package events publishes delivery-outcome events to SQS so
// downstream consumers (audit, analytics, the follow-up pipeline) can
// react without polling the database.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/Bouric0076/mediremind-backend-sub002/internal/db"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
}

// Outcome names the terminal result of one dispatch.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeRetrying     Outcome = "retrying"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Event is the payload published for one dispatch outcome.
type Event struct {
	TaskID         string          `json:"task_id"`
	AppointmentID  string          `json:"appointment_id"`
	TaskType       string          `json:"task_type"`
	DeliveryMethod string          `json:"delivery_method"`
	Outcome        Outcome         `json:"outcome"`
	RetryCount     int             `json:"retry_count"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	MessageData    json.RawMessage `json:"message_data,omitempty"`
	OccurredAt     int64           `json:"occurred_at"`
}

// Publisher sends delivery-outcome events to SQS. A nil Publisher is
// valid and drops every event, so callers never guard their publishes.
type Publisher struct {
	client   *sqs.Client
	queueURL string
	logger   *zap.Logger
}

// NewPublisher creates an SQS-backed event publisher.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	logger.Info("event publisher initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return &Publisher{
		client:   sqs.NewFromConfig(awsCfg),
		queueURL: cfg.QueueURL,
		logger:   logger,
	}, nil
}

// Publish sends one outcome event. Failures are logged and swallowed:
// event delivery is best-effort and must never affect task state.
func (p *Publisher) Publish(ctx context.Context, task *db.ScheduledTask, outcome Outcome, errMsg string) {
	if p == nil {
		return
	}

	event := Event{
		TaskID:         task.ID.String(),
		AppointmentID:  task.AppointmentID.String(),
		TaskType:       string(task.TaskType),
		DeliveryMethod: string(task.DeliveryMethod),
		Outcome:        outcome,
		RetryCount:     task.RetryCount,
		ErrorMessage:   errMsg,
		MessageData:    task.MessageData,
		OccurredAt:     time.Now().UnixNano(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal outcome event", zap.Error(err))
		return
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Warn("failed to publish outcome event",
			zap.Error(err),
			zap.String("task_id", task.ID.String()),
			zap.String("outcome", string(outcome)),
		)
	}
}
