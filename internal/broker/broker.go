// Package broker defines the publish/subscribe transport the RPC layer runs
// on: a direct-routed exchange where queues are bound under their own names.
package broker

import "context"

// Delivery is one message moving through the exchange. Body carries the
// encoded RPC envelope; CorrelationID and ReplyTo are transport metadata.
type Delivery struct {
	RoutingKey    string
	CorrelationID string
	ReplyTo       string
	Body          []byte
}

// Subscription is a live consumer on a single queue. Deliveries is closed when
// the subscription or the queue goes away.
type Subscription interface {
	Deliveries() <-chan Delivery
	Close() error
}

// Broker is the transport boundary. Publish routes by key to the queue bound
// under that name, creating it when absent; Subscribe consumes from a queue.
// Delivery is at-least-once with no ordering guarantee across distinct
// messages.
type Broker interface {
	Publish(ctx context.Context, routingKey string, d Delivery) error
	Subscribe(queue string) (Subscription, error)
	// DeleteQueue removes an exclusive queue once its owner is done with it.
	DeleteQueue(queue string) error
	Close() error
}
