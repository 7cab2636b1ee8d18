package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"tiendabot/internal/model"
)

// TelemetryPublisher pushes turn-debug snapshots onto a durable queue so the
// hot path never waits on telemetry writes.
type TelemetryPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewTelemetryPublisher(conn *amqp.Connection, queueName string) *TelemetryPublisher {
	return &TelemetryPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *TelemetryPublisher) Publish(ctx context.Context, record model.TurnDebug) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal telemetry payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish telemetry failed: %w", err)
	}
	return nil
}
