/*
Package events publishes workshop domain events to RabbitMQ.

PURPOSE:
  Job transitions, adjustments and stock-take commits are announced on a
  topic exchange after their transaction commits, so downstream systems
  (dashboards, ERP sync) can follow the workshop without polling.

ROUTING:
  The routing key is the event type, e.g. "job.transitioned" or
  "stock.reconciled". The body is the JSON-encoded workshop.DomainEvent.

FAILURES:
  Publishing retries with exponential backoff. A publish that still fails
  returns an error; the services log it and keep the committed change.

QUEUEING:
  cmd/server wraps the publisher in a Queue (queue.go). Services hand events
  to the queue and return; a single worker sends them to the broker, so a
  broker outage never delays HTTP responses. Close drains the queue.

SEE ALSO:
  - workshop/store.go: EventPublisher interface
  - events/queue.go: Background delivery
*/
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/workshop-engine/workshop"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ExchangeName      string
	ExchangeType      string
	ExchangeDurable   bool
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// URL is the AMQP connection URL for c.
func (c Config) URL() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, vhost)
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher implements workshop.EventPublisher.
type AMQPPublisher struct {
	config Config
	logger *slog.Logger

	mu      sync.Mutex // amqp channels are not safe for concurrent publishes
	conn    *amqp.Connection
	channel channel
}

var errClosed = errors.New("event publisher is closed")

// NewAMQPPublisher connects, retrying up to config.RetryAttempts times, and
// declares the exchange.
func NewAMQPPublisher(config Config, logger *slog.Logger) (*AMQPPublisher, error) {
	p := &AMQPPublisher{config: config, logger: logger}
	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	return p, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (p *AMQPPublisher) connect() error {
	attempts := p.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	amqpConfig := amqp.Config{
		Heartbeat: p.config.Heartbeat,
		Locale:    "en_US",
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		p.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(p.config.URL(), amqpConfig)
		if err == nil {
			break
		}

		p.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)
		if attempt < attempts {
			time.Sleep(p.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		p.config.ExchangeName,    // name
		p.config.ExchangeType,    // type
		p.config.ExchangeDurable, // durable
		false,                    // auto-deleted
		false,                    // internal
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	p.conn = conn
	p.channel = ch
	p.logger.Info("Event publisher connected",
		slog.String("exchange", p.config.ExchangeName),
	)
	return nil
}

// Publish sends ev to the exchange with its type as routing key. The channel
// lock is held per attempt only, so backoff never blocks other publishers.
func (p *AMQPPublisher) Publish(ctx context.Context, ev workshop.DomainEvent) error {
	msg, err := newPublishing(ev)
	if err != nil {
		return err
	}

	retries := p.config.PublishRetries
	delay := p.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		lastErr = p.send(ctx, string(ev.Type), msg)
		if lastErr == nil {
			p.logger.Debug("Domain event published",
				slog.String("type", string(ev.Type)),
				slog.String("job_id", string(ev.JobID)),
			)
			return nil
		}
		if errors.Is(lastErr, errClosed) {
			return lastErr
		}
		if attempt == retries {
			break
		}

		backoff := delay * time.Duration(uint(1)<<uint(attempt))
		p.logger.Warn("Failed to publish domain event, retrying",
			slog.Int("attempt", attempt+1),
			slog.Duration("retry_after", backoff),
			slog.Any("error", lastErr),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("failed to publish %s after %d attempts: %w", ev.Type, retries+1, lastErr)
}

func (p *AMQPPublisher) send(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return errClosed
	}
	return p.channel.PublishWithContext(ctx,
		p.config.ExchangeName, // exchange
		key,                   // routing key
		false,                 // mandatory
		false,                 // immediate
		msg,
	)
}

func newPublishing(ev workshop.DomainEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to encode event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		Type:         string(ev.Type),
	}, nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
		p.conn = nil
	}
	p.logger.Info("Event publisher closed")
	return nil
}
