package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dreamteamprod/digiscript-live/internal/queue"
)

// EventPublisher sends audit events. Failures never undo the change the
// event describes.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.ShowEvent) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.ShowEvent) error { return nil }

// AMQPPublisher publishes events to queue.QueueName over a connection
// opened per publish. Messages are persistent and the queue durable, so
// events survive broker restarts.
type AMQPPublisher struct {
	URL     string
	Timeout time.Duration
	Log     *slog.Logger
}

// Publish declares the queue (idempotent) and publishes ev on the default
// exchange. Errors are logged and returned.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.ShowEvent) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(p.dialTimeout())})
	if err != nil {
		log.Warn("rabbitmq: dial failed", "err", err, "kind", ev.Kind)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq: channel open failed", "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		queue.QueueName, // name
		true,            // durable
		false,           // autoDelete
		false,           // exclusive
		false,           // noWait
		nil,             // args
	); err != nil {
		log.Warn("rabbitmq: queue declare failed", "err", err)
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", queue.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}); err != nil {
		log.Warn("rabbitmq: publish failed", "err", err, "kind", ev.Kind)
		return err
	}
	return nil
}

func (p *AMQPPublisher) dialTimeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 5 * time.Second
}
