package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/weather-push-notifier/internal/config"
	"github.com/couchcryptid/weather-push-notifier/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces delivery outcomes to a Kafka topic so downstream
// consumers can audit what each cycle sent.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured outcome topic.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaOutcomeTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishOutcomes serializes and publishes one cycle's outcomes in a single
// WriteMessages call. Messages are keyed by endpoint key so each
// subscription's history stays on one partition.
func (p *Publisher) PublishOutcomes(ctx context.Context, outcomes []domain.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(outcomes))
	for i := range outcomes {
		msg, err := serializeToMessage(outcomes[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d outcomes: %w", len(msgs), err)
	}
	p.logger.Debug("published delivery outcomes", "count", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage marshals a DeliveryOutcome into a Kafka message.
func serializeToMessage(o domain.DeliveryOutcome) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize delivery outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.EndpointKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "cycle_id", Value: []byte(o.CycleID)},
			{Key: "kind", Value: []byte(o.Kind)},
			{Key: "result", Value: []byte(o.Result)},
			{Key: "at", Value: []byte(o.At.Format(time.RFC3339))},
		},
	}, nil
}
