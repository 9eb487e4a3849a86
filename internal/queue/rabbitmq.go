package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchangeName is the exchange render jobs and audit events are published to
	DefaultExchangeName = "render_gate"
	// DefaultQueueName is the render job queue
	DefaultQueueName = "render_jobs"
	// DefaultDLQName is the dead letter queue for render jobs
	DefaultDLQName = "render_jobs_dlq"
	// DefaultAuditQueueName receives audit records
	DefaultAuditQueueName = "audit_events"

	renderRoutingKey = "render"
	auditRoutingKey  = "audit"
	dlqRoutingKey    = "dlq"
)

// RabbitMQQueue implements JobQueue using RabbitMQ
type RabbitMQQueue struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	pub          publisher
	mu           sync.Mutex
	exchangeName string
}

// NewRabbitMQQueue connects to amqpURL and declares the exchange and queues.
func NewRabbitMQQueue(amqpURL string) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &RabbitMQQueue{
		conn:         conn,
		channel:      ch,
		pub:          ch,
		exchangeName: DefaultExchangeName,
	}

	if err := q.setup(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to setup queues: %w", err)
	}

	return q, nil
}

// setup configures exchanges and queues
func (q *RabbitMQQueue) setup() error {
	err := q.channel.ExchangeDeclare(
		q.exchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	bindings := []struct {
		queue string
		key   string
		args  amqp.Table
	}{
		{DefaultDLQName, dlqRoutingKey, nil},
		{DefaultQueueName, renderRoutingKey, amqp.Table{
			"x-dead-letter-exchange":    q.exchangeName,
			"x-dead-letter-routing-key": dlqRoutingKey,
		}},
		{DefaultAuditQueueName, auditRoutingKey, nil},
	}

	for _, b := range bindings {
		if _, err := q.channel.QueueDeclare(b.queue, true, false, false, false, b.args); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", b.queue, err)
		}
		if err := q.channel.QueueBind(b.queue, b.key, q.exchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.queue, err)
		}
	}

	return nil
}

// Enqueue publishes a render job
func (q *RabbitMQQueue) Enqueue(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID.String(),
		Timestamp:    job.CreatedAt,
		Type:         string(job.Type),
	}
	if ttl := job.TTL(); ttl > 0 {
		publishing.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	if err := q.publish(ctx, renderRoutingKey, publishing); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// publish serializes access to the channel, which is not safe for concurrent use.
func (q *RabbitMQQueue) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pub.PublishWithContext(ctx, q.exchangeName, key, false, false, msg)
}

// HealthCheck reports whether the connection and channel are still open.
func (q *RabbitMQQueue) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if q.conn == nil || q.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	if q.channel == nil || q.channel.IsClosed() {
		return errors.New("rabbitmq channel closed")
	}
	return nil
}

// Close closes the queue connection
func (q *RabbitMQQueue) Close() error {
	var err error
	if q.channel != nil {
		err = q.channel.Close()
	}
	if q.conn != nil {
		if closeErr := q.conn.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
