package queue

import (
	"context"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitQueue publishes to and consumes from one durable RabbitMQ queue.
// The event type travels as the AMQP message type.
type RabbitQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
	logger  *log.Logger
}

// NewRabbitQueue dials url and declares the queue.
func NewRabbitQueue(url, name string, logger *log.Logger) (*RabbitQueue, error) {
	if name == "" {
		name = "tutorflow.events"
	}
	if logger == nil {
		logger = log.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq declare %s: %w", name, err)
	}
	return &RabbitQueue{conn: conn, channel: ch, name: name, logger: logger}, nil
}

// Publish sends msg as a persistent JSON message.
func (q *RabbitQueue) Publish(ctx context.Context, msg Message) error {
	return q.channel.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         msg.Type,
		Body:         msg.Body,
	})
}

// Consume acknowledges each delivery once it has been handed to the reader.
func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Message, error) {
	deliveries, err := q.channel.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq consume %s: %w", q.name, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-deliveries:
				if !ok {
					q.logger.Printf("queue.rabbitmq.deliveries closed queue=%s", q.name)
					return
				}
				select {
				case out <- Message{Type: d.Type, Body: d.Body}:
					if err := d.Ack(false); err != nil {
						q.logger.Printf("queue.rabbitmq.ack failed: %v", err)
					}
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the channel and the connection.
func (q *RabbitQueue) Close() error {
	if q == nil || q.channel == nil {
		return nil
	}
	if err := q.channel.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}
