package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends JSON events to a durable topic exchange. amqp channels are
// not safe for concurrent publishing, so calls are serialized.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	// delay queues already declared on ch, by name
	delayQueues map[string]bool
}

func NewPublisher(url, exchange string) (*Publisher, error) {
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
	return &Publisher{conn: conn, ch: ch, exchange: exchange, delayQueues: make(map[string]bool)}, nil
}

func (p *Publisher) PublishJSON(ctx context.Context, key, messageID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, jsonPublishing(key, messageID, b))
}

// PublishDelayed parks v on a durable per-key delay queue. When the message
// expires RabbitMQ dead-letters it into the exchange under key, so consumers
// bound to key receive it after delay.
func (p *Publisher) PublishDelayed(ctx context.Context, key, messageID string, v any, delay time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	queue := delayQueueName(p.exchange, key)
	if !p.delayQueues[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, delayQueueArgs(p.exchange, key)); err != nil {
			return fmt.Errorf("declare delay queue %s: %w", queue, err)
		}
		p.delayQueues[queue] = true
	}

	msg := jsonPublishing(key, messageID, b)
	msg.Expiration = expiration(delay)
	return p.ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

func jsonPublishing(key, messageID string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Type:         key,
		Body:         body,
	}
}

func delayQueueName(exchange, key string) string {
	return exchange + ".delay." + key
}

func delayQueueArgs(exchange, key string) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    exchange,
		"x-dead-letter-routing-key": key,
	}
}

// expiration renders delay as the per-message TTL in milliseconds.
func expiration(delay time.Duration) string {
	if delay < 0 {
		delay = 0
	}
	return strconv.FormatInt(delay.Milliseconds(), 10)
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
