package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RetrySpec configures the DLX-based retry pipeline for a consumer.
type RetrySpec struct {
	Enabled     bool
	TTL         time.Duration
	MaxAttempts int

	DeadExchange  string
	DeadQueue     string
	FinalExchange string
	FinalQueue    string
}

// ConsumerSpec defines a single supervised consumer.
type ConsumerSpec struct {
	Name     string
	Queue    string
	Prefetch int // 0 => use the client default
	Retry    *RetrySpec

	// If true, poison messages are copied to the final DLQ before being
	// acked away; otherwise they are just acked.
	PoisonToFinal bool

	Consume func(ctx context.Context, d amqp.Delivery) error
}

// ErrPoison marks non-retriable bad content (e.g. an undecodable payload).
// The consumer acks it away instead of requeueing, so one malformed
// envelope never stalls the queue.
var ErrPoison = errors.New("poison message")

// RunWithConsumers starts the given consumers and supervises them until the
// context ends: individual consumer channels are restarted in place, and a
// lost connection triggers a full reconnect with jittered backoff.
func (c *Client) RunWithConsumers(ctx context.Context, specs ...ConsumerSpec) error {
	c.consumerClosed = make(chan string, len(specs)*2)
	c.consumerSpecs = make(map[string]ConsumerSpec, len(specs))

	for _, s := range specs {
		c.consumerSpecs[s.Name] = s
		if err := c.startConsumer(ctx, s); err != nil {
			return fmt.Errorf("start %s: %w", s.Name, err)
		}
	}

	errCh := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	base := dsec(c.config.ReconnectBackoffBaseSeconds, 1)
	capd := dsec(c.config.ReconnectBackoffCapSeconds, 30)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case name := <-c.consumerClosed:
			if s, ok := c.consumerSpecs[name]; ok {
				if err := c.startConsumer(ctx, s); err != nil {
					c.logger.Error("restart consumer failed", slog.String("name", name), slog.Any("error", err))
				}
			}

		case err, ok := <-errCh:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			c.logger.Error("amqp connection closed, reconnecting", slog.Any("error", err))
			backoff := base
			for {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if rerr := c.reconnect(ctx); rerr != nil {
					wait := jitteredDelay(backoff, capd, c.config.ReconnectJitterPercent)
					c.logger.Error("reconnect failed", slog.Any("error", rerr), slog.Duration("retry_in", wait))
					time.Sleep(wait)
					if backoff*2 < capd {
						backoff *= 2
					}
					continue
				}

				for _, s := range c.consumerSpecs {
					if err := c.startConsumer(ctx, s); err != nil {
						c.logger.Error("restart consumer after reconnect failed", slog.String("name", s.Name), slog.Any("error", err))
					}
				}
				errCh = c.conn.NotifyClose(make(chan *amqp.Error, 1))
				break
			}
		}
	}
}

// startConsumer declares the per-consumer topology and runs the delivery loop.
func (c *Client) startConsumer(ctx context.Context, spec ConsumerSpec) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}

	pf := spec.Prefetch
	if pf <= 0 {
		pf = c.config.ConsumerPrefetch
	}
	if err := ch.Qos(pf, 0, false); err != nil {
		_ = ch.Close()
		return err
	}

	if err := c.declareConsumerTopology(ch, spec); err != nil {
		_ = ch.Close()
		return err
	}

	msgs, err := ch.Consume(spec.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.consumerWG.Add(1)
	go func() {
		defer c.consumerWG.Done()
		for {
			select {
			case <-ctx.Done():
				_ = ch.Close()
				return

			case <-closeCh:
				// best-effort drain so pending deliveries requeue faster
				for {
					select {
					case d, ok := <-msgs:
						if !ok {
							goto drained
						}
						_ = d.Nack(false, true)
					default:
						goto drained
					}
				}
			drained:
				select {
				case c.consumerClosed <- spec.Name:
				default:
				}
				_ = ch.Close()
				return

			case d, ok := <-msgs:
				if !ok {
					_ = ch.Close()
					return
				}

				if spec.Retry != nil && spec.Retry.Enabled && spec.Retry.MaxAttempts > 0 {
					if deathCount(d, spec.Queue) >= spec.Retry.MaxAttempts {
						_ = publishFinal(ch, finalExchange(spec), d)
						_ = d.Ack(false)
						continue
					}
				}

				err := spec.Consume(ctx, d)
				switch {
				case errors.Is(err, ErrPoison):
					if spec.PoisonToFinal {
						_ = publishFinal(ch, finalExchange(spec), d)
					}
					_ = d.Ack(false)

				case err != nil:
					if spec.Retry != nil && spec.Retry.Enabled {
						_ = d.Nack(false, false) // to DLX
					} else {
						_ = d.Nack(false, true) // immediate requeue
					}

				default:
					_ = d.Ack(false)
				}
			}
		}
	}()

	c.logger.Info("consumer started",
		slog.String("name", spec.Name),
		slog.String("queue", spec.Queue),
		slog.Int("prefetch", pf),
	)
	return nil
}

// declareConsumerTopology declares the main queue plus the DLX/TTL retry
// stage and final DLQ when enabled.
func (c *Client) declareConsumerTopology(ch *amqp.Channel, s ConsumerSpec) error {
	mainArgs := amqp.Table{}
	if s.Retry != nil && s.Retry.Enabled {
		mainArgs["x-dead-letter-exchange"] = deadExchange(s)
	}
	if _, err := ch.QueueDeclare(s.Queue, true, false, false, false, mainArgs); err != nil {
		return err
	}
	if c.config.Exchange != "" {
		if err := ch.QueueBind(s.Queue, s.Queue, c.config.Exchange, false, nil); err != nil {
			return err
		}
	}

	if s.Retry != nil && s.Retry.Enabled {
		deadEx := deadExchange(s)
		deadQ := firstNonEmpty(s.Retry.DeadQueue, s.Queue+".dead")
		if err := ch.ExchangeDeclare(deadEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		dArgs := amqp.Table{
			"x-message-ttl":             int32(s.Retry.TTL / time.Millisecond),
			"x-dead-letter-exchange":    firstNonEmpty(c.config.Exchange, ""),
			"x-dead-letter-routing-key": s.Queue,
		}
		if _, err := ch.QueueDeclare(deadQ, true, false, false, false, dArgs); err != nil {
			return err
		}
		if err := ch.QueueBind(deadQ, "", deadEx, false, nil); err != nil {
			return err
		}
	}

	if (s.Retry != nil && s.Retry.Enabled) || s.PoisonToFinal {
		finalEx := finalExchange(s)
		finalQ := finalQueue(s)
		if err := ch.ExchangeDeclare(finalEx, "fanout", true, false, false, false, nil); err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(finalQ, true, false, false, false, nil); err != nil {
			return err
		}
		if err := ch.QueueBind(finalQ, "", finalEx, false, nil); err != nil {
			return err
		}
	}

	return nil
}

func deadExchange(s ConsumerSpec) string {
	if s.Retry != nil && s.Retry.DeadExchange != "" {
		return s.Retry.DeadExchange
	}
	return s.Queue + ".dead"
}

func finalExchange(s ConsumerSpec) string {
	if s.Retry != nil && s.Retry.FinalExchange != "" {
		return s.Retry.FinalExchange
	}
	return s.Queue + ".final"
}

func finalQueue(s ConsumerSpec) string {
	if s.Retry != nil && s.Retry.FinalQueue != "" {
		return s.Retry.FinalQueue
	}
	return s.Queue + ".final"
}
