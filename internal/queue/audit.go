package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/benvon/render-gate/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AuditPublisher forwards audit records to the audit_events queue so
// downstream consumers can index them. It implements gate.AuditSink.
type AuditPublisher struct {
	q *RabbitMQQueue
}

// NewAuditPublisher creates a publisher sharing q's connection.
func NewAuditPublisher(q *RabbitMQQueue) *AuditPublisher {
	return &AuditPublisher{q: q}
}

// Record publishes rec as a persistent JSON message.
func (p *AuditPublisher) Record(ctx context.Context, rec models.AuditRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID.String(),
		Timestamp:    rec.Timestamp,
		Type:         rec.Action,
	}
	if err := p.q.publish(ctx, auditRoutingKey, msg); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	return nil
}
