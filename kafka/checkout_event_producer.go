package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/IA-Academy-Team/checkout-service/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CheckoutEventProducer writes checkout events keyed by payment reference, so
// every event of one attempt lands on the same partition.
type CheckoutEventProducer struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewCheckoutEventProducer(brokers []string, topic string, logger *zap.Logger) *CheckoutEventProducer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &CheckoutEventProducer{writer: w, topic: topic, logger: logger}
}

// Publish sends event to the topic.
func (p *CheckoutEventProducer) Publish(ctx context.Context, event models.CheckoutEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Reference),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write checkout event to %s: %w", p.topic, err)
	}
	p.logger.Debug("Sent checkout event",
		zap.String("event_type", event.EventType),
		zap.String("reference", event.Reference),
	)
	return nil
}

func (p *CheckoutEventProducer) Close() error {
	return p.writer.Close()
}
