// ABOUTME: RabbitMQ publisher: durable topic exchange with publisher confirms
// ABOUTME: Channels are opened per publish; the connection is long-lived

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// RabbitPublisher publishes envelopes to a topic exchange.
type RabbitPublisher struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewRabbitPublisher dials the broker and declares the exchange.
func NewRabbitPublisher(url, exchange string, logger *slog.Logger) (*RabbitPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &RabbitPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "events"),
	}, nil
}

// Publish implements Publisher. The schema is both the envelope schema
// and the routing key; delivery is confirmed before returning.
func (p *RabbitPublisher) Publish(ctx context.Context, schema string, data any) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enabling confirms: %w", err)
	}

	env := NewEnvelope(schema, "", data)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, p.exchange, schema, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    env.Meta.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", schema, err)
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("awaiting confirm for %s: %w", schema, err)
	}
	if !ok {
		return fmt.Errorf("broker nacked %s", schema)
	}

	p.logger.Debug("event published", "schema", schema, "exchange", p.exchange, "id", env.Meta.ID)
	return nil
}

// Close implements Publisher.
func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}
