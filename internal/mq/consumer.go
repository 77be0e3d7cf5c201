package mq

import (
	"context"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPermanent marks a delivery that will never succeed; it is dropped
// instead of requeued.
var ErrPermanent = errors.New("permanent delivery failure")

type Consumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	queue    string
	keys     []string
}

func NewConsumer(url, exchange, queue string, keys []string) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, rk := range keys {
		if err := ch.QueueBind(q.Name, rk, exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("bind %s: %w", rk, err)
		}
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &Consumer{conn: conn, ch: ch, exchange: exchange, queue: q.Name, keys: keys}, nil
}

func (c *Consumer) Deliveries(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Handler processes one delivery. Returning nil acks it, an error wrapping
// ErrPermanent drops it, any other error requeues it once.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Serve runs handle for each delivery until ctx is done or the channel
// closes.
func Serve(ctx context.Context, deliveries <-chan amqp.Delivery, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			settle(ctx, d, handle)
		}
	}
}

func settle(ctx context.Context, d amqp.Delivery, handle Handler) {
	err := handle(ctx, d)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Printf("mq: ack %s: %v", d.MessageId, ackErr)
		}
	case errors.Is(err, ErrPermanent):
		log.Printf("mq: dropping %s (%s): %v", d.MessageId, d.RoutingKey, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Printf("mq: nack %s: %v", d.MessageId, nackErr)
		}
	default:
		requeue := !d.Redelivered
		log.Printf("mq: handling %s (%s) failed, requeue=%t: %v", d.MessageId, d.RoutingKey, requeue, err)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Printf("mq: nack %s: %v", d.MessageId, nackErr)
		}
	}
}
