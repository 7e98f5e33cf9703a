// Package pubsub is the RabbitMQ layer for the messaging gateway: a
// connection with a pooled publisher side and supervised consumers that
// survive channel and connection loss.
package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client owns one AMQP connection, a publisher channel pool, and the set
// of running consumers.
type Client struct {
	conn   *amqp.Connection
	pool   *ChannelPool
	config Config
	logger *slog.Logger

	consumerWG     sync.WaitGroup
	consumerClosed chan string
	consumerSpecs  map[string]ConsumerSpec
}

func (c *Client) Config() Config { return c.config }

func NewClient(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	const op = "pubsub.NewClient"

	if config.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	u, _ := url.Parse(config.URL)
	host := ""
	if u != nil {
		host = u.Host
	}
	logger.With("op", op).Info("connecting to rabbitmq", slog.String("host", host))

	conn, err := dial(ctx, config)
	if err != nil {
		logger.With("op", op).Error("dial failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	client := &Client{
		conn:   conn,
		config: config,
		logger: logger,
	}

	// Declare the gateway topology once on a throwaway channel.
	tempCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := client.declareTopology(tempCh); err != nil {
		tempCh.Close()
		client.Close()
		return nil, err
	}
	_ = tempCh.Close()

	pool, err := NewChannelPool(conn, config.PublishPoolSize)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create channel pool: %w", err)
	}
	client.pool = pool

	logger.With("op", op).Info("client ready")
	return client, nil
}

func dial(ctx context.Context, config Config) (*amqp.Connection, error) {
	if config.Dialer != nil {
		return config.Dialer(ctx, config.URL)
	}
	return DialWithRetry(ctx, DialOptions{
		URL:           config.URL,
		RetryAttempts: 3,
		Delay:         time.Second,
	})
}

// declareTopology declares the optional exchange and both durable queues.
// Queues must exist before first use so persistent messages survive a
// broker restart even when nobody is consuming yet.
func (c *Client) declareTopology(ch *amqp.Channel) error {
	if c.config.Exchange != "" {
		if err := ch.ExchangeDeclare(c.config.Exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange: %w", err)
		}
	}
	for _, q := range []string{c.config.IncomingQueue, c.config.OutgoingQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", q, err)
		}
		if c.config.Exchange != "" {
			if err := ch.QueueBind(q, q, c.config.Exchange, false, nil); err != nil {
				return fmt.Errorf("bind queue %q: %w", q, err)
			}
		}
	}
	return nil
}

// Close stops consumers, then closes the pool and connection.
func (c *Client) Close() {
	done := make(chan struct{})
	go func() {
		c.consumerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	if c.pool != nil {
		c.pool.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// reconnect replaces the whole stack and re-declares the topology.
func (c *Client) reconnect(ctx context.Context) error {
	const op = "pubsub.reconnect"

	if c.pool != nil {
		c.pool.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}

	conn, err := dial(ctx, c.config)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	tempCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	next := &Client{conn: conn, config: c.config}
	if err := next.declareTopology(tempCh); err != nil {
		tempCh.Close()
		conn.Close()
		return fmt.Errorf("declare topology: %w", err)
	}
	tempCh.Close()

	pool, err := NewChannelPool(conn, c.config.PublishPoolSize)
	if err != nil {
		conn.Close()
		return fmt.Errorf("new pool: %w", err)
	}

	c.conn = conn
	c.pool = pool
	c.logger.With("op", op).Info("reconnected")
	return nil
}
