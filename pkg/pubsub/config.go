package pubsub

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config defines the broker client and the gateway topology defaults.
//
// With an empty Exchange, publishes go to the default exchange with the
// queue name as routing key (direct-to-queue), which is the gateway's
// native topology: two durable queues, no fanout.
type Config struct {
	URL      string
	Exchange string // optional topic exchange; "" means direct-to-queue

	IncomingQueue string // messages and status events from the client
	OutgoingQueue string // chat replies and control commands

	PublishPoolSize    int
	ConsumerPrefetch   int
	ConnTimeoutSeconds int
	PoolRetryDelayMs   int

	ReconnectBackoffBaseSeconds int
	ReconnectBackoffCapSeconds  int
	ReconnectJitterPercent      int

	// Dialer is injectable for tests.
	Dialer func(ctx context.Context, url string) (*amqp.Connection, error)
}

const (
	DefaultIncomingQueue = "whatsapp.incoming"
	DefaultOutgoingQueue = "whatsapp.outgoing"
)

// withDefaults fills the zero values.
func (c Config) withDefaults() Config {
	if c.IncomingQueue == "" {
		c.IncomingQueue = DefaultIncomingQueue
	}
	if c.OutgoingQueue == "" {
		c.OutgoingQueue = DefaultOutgoingQueue
	}
	if c.PublishPoolSize <= 0 {
		c.PublishPoolSize = 16
	}
	if c.ConsumerPrefetch <= 0 {
		c.ConsumerPrefetch = 10
	}
	if c.ConnTimeoutSeconds <= 0 {
		c.ConnTimeoutSeconds = 30
	}
	return c
}
