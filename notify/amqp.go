package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/driver-requests/requests"
)

// DefaultExchange is the topic exchange events are published to.
// Routing keys are event types, e.g. "dayoff.auto_approved".
const DefaultExchange = "driver_requests"

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	now      func() time.Time
}

// ConnectAMQP dials url, declares the exchange and returns a publisher.
// It retries up to attempts times, waiting delay between tries.
func ConnectAMQP(ctx context.Context, url, exchange string, attempts int, delay time.Duration, logger *slog.Logger) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			var ch *amqp.Channel
			ch, err = conn.Channel()
			if err == nil {
				err = ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
				if err == nil {
					logger.Info("connected to rabbitmq", "exchange", exchange)
					p := NewAMQPPublisher(ch, exchange)
					p.conn = conn
					return p, nil
				}
			}
			conn.Close()
		}
		logger.Warn("rabbitmq not ready, retrying", "attempt", i+1, "of", attempts, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
}

// NewAMQPPublisher wraps an open channel. The exchange must already exist.
func NewAMQPPublisher(ch channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, now: time.Now}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e requests.Event) error {
	now := p.now()
	body, err := Encode(e, now)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", e.EventType(), err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		e.EventType(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    now,
		})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.EventType(), err)
	}
	return nil
}

// Close closes the channel and the connection, if the publisher owns one.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
