// Package gateway is the store-and-forward glue between the broker queues
// and the in-process core: inbound deliveries are decoded and dispatched to
// the attendance router and the session machine; outbound chat replies and
// control commands are published durably to the outgoing queue.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/attendance"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/codec"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/pubsub"
	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/session"
)

var (
	// ErrSessionNotReady rejects a send while the messaging client is not
	// paired; callers surface it instead of queueing indefinitely.
	ErrSessionNotReady = errors.New("session not ready")
	// ErrPublishFailed wraps a broker publish that kept failing after
	// retries. The envelope is returned to the caller, never dropped.
	ErrPublishFailed = errors.New("publish failed")
)

// Publisher is the slice of the broker client the gateway needs.
// *pubsub.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg pubsub.Message) error
}

type Config struct {
	OutgoingQueue  string
	PublishRetries int
	RetryDelay     time.Duration
}

func (c Config) withDefaults() Config {
	if c.OutgoingQueue == "" {
		c.OutgoingQueue = pubsub.DefaultOutgoingQueue
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

type Gateway struct {
	pub     Publisher
	router  *attendance.Router
	machine *session.Machine
	cfg     Config
	log     *slog.Logger
}

func New(pub Publisher, router *attendance.Router, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		pub:    pub,
		router: router,
		cfg:    cfg.withDefaults(),
		log:    logger,
	}
	g.machine = session.NewMachine(g, logger)
	return g
}

// Session exposes the state machine for the API layer (QR display,
// connection status).
func (g *Gateway) Session() *session.Machine { return g.machine }

// Router exposes the attendance router for the API layer.
func (g *Gateway) Router() *attendance.Router { return g.router }

// ConsumerSpec builds the supervised consumer for the incoming queue.
func (g *Gateway) ConsumerSpec(queue string) pubsub.ConsumerSpec {
	if queue == "" {
		queue = pubsub.DefaultIncomingQueue
	}
	return pubsub.ConsumerSpec{
		Name:  "gateway-inbound",
		Queue: queue,
		Consume: func(ctx context.Context, d amqp.Delivery) error {
			return g.HandleInbound(ctx, d.Body)
		},
	}
}

// Run consumes the incoming queue until ctx ends.
func (g *Gateway) Run(ctx context.Context, client *pubsub.Client) error {
	return client.RunWithConsumers(ctx, g.ConsumerSpec(client.Config().IncomingQueue))
}

// HandleInbound decodes one delivery and dispatches it. A payload that
// cannot be decoded is poison: logged and acked away so the loop keeps
// processing subsequent envelopes.
func (g *Gateway) HandleInbound(ctx context.Context, body []byte) error {
	env, err := codec.Decode(body)
	if err != nil {
		g.log.Warn("dropping undecodable envelope", slog.Any("error", err))
		return pubsub.ErrPoison
	}

	// Status may ride alone or piggyback on a message.
	if env.Status != nil {
		g.machine.Observe(*env.Status)
	}

	switch env.Kind {
	case chatv1.KindMessage:
		msg := *env.Message
		if msg.IsFromMe {
			return nil
		}
		if _, err := g.router.Enqueue(ctx, msg.From, msg); err != nil {
			return fmt.Errorf("enqueue %s: %w", msg.ID, err)
		}

	case chatv1.KindStatus:
		// handled above

	case chatv1.KindCommand:
		// commands only travel outbound; a stray one is ignored
		g.log.Warn("ignoring inbound command", slog.String("command", env.Command.Command))
	}
	return nil
}

// SendMessage publishes an outbound chat reply. It fails fast while the
// session is not connected, and retries transient publish errors with the
// same external id so the resend stays idempotent.
func (g *Gateway) SendMessage(ctx context.Context, msg chatv1.MessageEnvelope) error {
	if g.machine.State() != chatv1.StateConnected {
		return ErrSessionNotReady
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	msg.IsFromMe = true
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	body, err := codec.Encode(chatv1.Envelope{Kind: chatv1.KindMessage, Message: &msg})
	if err != nil {
		return fmt.Errorf("encode outbound message: %w", err)
	}
	return g.publishWithRetry(ctx, pubsub.Message{
		ID:        msg.ID,
		Type:      string(msg.Type),
		Body:      body,
		Timestamp: msg.Timestamp,
	})
}

// PublishCommand implements session.CommandPublisher over the outgoing
// queue with the same durability and retry semantics as chat replies.
func (g *Gateway) PublishCommand(ctx context.Context, cmd chatv1.CommandEnvelope) error {
	body, err := codec.Encode(chatv1.Envelope{Kind: chatv1.KindCommand, Command: &cmd})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return g.publishWithRetry(ctx, pubsub.Message{
		ID:        cmd.RequestID,
		Type:      cmd.Command,
		Body:      body,
		Timestamp: cmd.Timestamp,
	})
}

func (g *Gateway) publishWithRetry(ctx context.Context, msg pubsub.Message) error {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.PublishRetries; attempt++ {
		lastErr = g.pub.Publish(ctx, g.cfg.OutgoingQueue, msg)
		if lastErr == nil {
			return nil
		}
		g.log.Warn("outbound publish failed",
			slog.String("id", msg.ID),
			slog.Int("attempt", attempt),
			slog.Any("error", lastErr),
		)
		if attempt == g.cfg.PublishRetries {
			break
		}
		timer := time.NewTimer(g.cfg.RetryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPublishFailed, msg.ID, lastErr)
}
