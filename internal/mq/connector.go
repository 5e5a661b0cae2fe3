package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one consumed message. Returning an error nacks
// the delivery without requeueing it.
type DeliveryHandler func(ctx context.Context, body []byte) error

// Logger matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type consumerSpec struct {
	queue   string
	handler DeliveryHandler
}

// Connector maintains one AMQP connection with a publishing channel and any
// number of queue consumers. Dialing retries with exponential backoff so a
// broker restart does not take Conveyor down with it.
type Connector struct {
	service string
	cfg     Config
	logger  Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	consumers []consumerSpec
	cancel    context.CancelFunc
	done      sync.WaitGroup
}

// ConnectorOption customizes a Connector during construction.
type ConnectorOption func(*Connector)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) ConnectorOption {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConnector builds a connector identified on the broker as service.
func NewConnector(service string, cfg Config, opts ...ConnectorOption) (*Connector, error) {
	if service == "" {
		service = "conveyor-" + uuid.NewString()[:8]
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Connector{
		service: service,
		cfg:     cfg,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Service returns the connector's broker identity.
func (c *Connector) Service() string {
	return c.service
}

// Connect dials the broker, retrying with exponential backoff until ctx is
// cancelled or the backoff gives up.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 2 * time.Minute
	dial := func() error {
		conn, err := amqp.DialConfig(c.cfg.URL(), amqp.Config{
			Properties: amqp.Table{"connection_name": c.service},
		})
		if err != nil {
			c.logger.Printf("mq: dial %s: %v", c.cfg.Server, err)
			return err
		}
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return err
		}
		c.conn = conn
		c.channel = channel
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("mq: connect: %w", err)
	}
	c.logger.Printf("mq: connected to %s as %s", c.cfg.Server, c.service)
	return nil
}

// DeclareExchange ensures a durable topic exchange exists.
func (c *Connector) DeclareExchange(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return fmt.Errorf("mq: not connected")
	}
	if err := c.channel.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("mq: declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish marshals payload as JSON and publishes it to the exchange with the
// given routing key. Every message carries a unique message id.
func (c *Connector) Publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mq: encode payload: %w", err)
	}
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return fmt.Errorf("mq: not connected")
	}
	err = channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		AppId:       c.service,
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("mq: publish %s: %w", routingKey, err)
	}
	return nil
}

// RegisterConsumer records a queue consumer to start with Run.
func (c *Connector) RegisterConsumer(queue string, handler DeliveryHandler) error {
	if queue == "" {
		return fmt.Errorf("mq: queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("mq: handler is required for queue %s", queue)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = append(c.consumers, consumerSpec{queue: queue, handler: handler})
	return nil
}

// Run declares the registered queues and consumes them until ctx is
// cancelled or Close is called.
func (c *Connector) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.channel == nil {
		c.mu.Unlock()
		return fmt.Errorf("mq: not connected")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	consumers := append([]consumerSpec{}, c.consumers...)
	channel := c.channel
	c.mu.Unlock()

	for _, spec := range consumers {
		if _, err := channel.QueueDeclare(spec.queue, true, false, false, false, nil); err != nil {
			cancel()
			return fmt.Errorf("mq: declare queue %s: %w", spec.queue, err)
		}
		deliveries, err := channel.Consume(spec.queue, c.service+"."+spec.queue, false, false, false, false, nil)
		if err != nil {
			cancel()
			return fmt.Errorf("mq: consume %s: %w", spec.queue, err)
		}
		c.done.Add(1)
		go c.consumeLoop(runCtx, spec, deliveries)
	}
	return nil
}

func (c *Connector) consumeLoop(ctx context.Context, spec consumerSpec, deliveries <-chan amqp.Delivery) {
	defer c.done.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			if err := spec.handler(ctx, delivery.Body); err != nil {
				c.logger.Printf("mq: handler for %s: %v", spec.queue, err)
				_ = delivery.Nack(false, false)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

// Close stops consumers and tears down the AMQP connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	channel := c.channel
	c.conn = nil
	c.channel = nil
	c.mu.Unlock()

	c.done.Wait()
	if channel != nil {
		_ = channel.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
