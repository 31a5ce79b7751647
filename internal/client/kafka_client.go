package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/vertec-io/hyperfactory-waitlist/internal/config"
	"github.com/vertec-io/hyperfactory-waitlist/internal/util"
)

// SubmissionEvent is the payload published for every accepted waitlist
// signup. Downstream consumers (analytics, marketing automation) key on the
// email address.
type SubmissionEvent struct {
	EventID   string    `json:"eventId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Company   string    `json:"company,omitempty"`
	LeadID    int64     `json:"leadId"`
	Outcome   string    `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher writes waitlist events to Kafka. It is optional
// infrastructure: the submission flow treats publish failures as
// non-fatal and only logs them.
type EventPublisher struct {
	writer *kafka.Writer
	topic  string
}

func NewEventPublisher(cfg *config.Config) (*EventPublisher, error) {
	kafkaConfig := cfg.Kafka
	if len(kafkaConfig.Brokers) == 0 {
		return nil, fmt.Errorf("no Kafka brokers configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(kafkaConfig.Brokers...),
		Topic:        kafkaConfig.Topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				util.Error("failed to write kafka messages",
					zap.Error(err),
					zap.Int("message_count", len(messages)),
				)
			}
		},
	}

	util.Info("Kafka event publisher initialized",
		zap.Strings("brokers", kafkaConfig.Brokers),
		zap.String("topic", kafkaConfig.Topic),
	)

	return &EventPublisher{
		writer: writer,
		topic:  kafkaConfig.Topic,
	}, nil
}

// PublishSubmission emits one event keyed by email so all events for an
// address land on the same partition.
func (p *EventPublisher) PublishSubmission(ctx context.Context, event SubmissionEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal submission event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Email),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish submission event: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			util.Error("failed to close Kafka event publisher", zap.Error(err))
			return err
		}
		util.Info("Kafka event publisher closed")
	}
	return nil
}
