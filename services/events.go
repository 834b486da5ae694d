package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IA-Academy-Team/checkout-service/models"
	aws_pkg "github.com/IA-Academy-Team/checkout-service/pkg/aws"
)

// EventPublisher delivers checkout events to the configured sink.
type EventPublisher interface {
	Publish(ctx context.Context, event models.CheckoutEvent) error
}

// SNSEventPublisher publishes checkout events to an SNS topic.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) Publish(ctx context.Context, event models.CheckoutEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}
	return p.client.Publish(ctx, p.topicArn, b, map[string]string{"event_type": event.EventType})
}
