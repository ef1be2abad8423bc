// Package memory provides the in-process broker used by tests and
// single-binary deployments. It implements the direct-routed exchange
// semantics of the broker boundary without any external dependency.
package memory

import (
	"context"
	"errors"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/farmd/internal/broker"
	"pkt.systems/farmd/internal/svcfields"
)

// ErrClosed is returned once the broker has been shut down.
var ErrClosed = errors.New("memory broker: closed")

const queueDepth = 256

// Broker is an in-memory direct exchange. Queues are created on first use by
// either a publisher or a subscriber, so messages published before the
// consumer attaches are retained.
type Broker struct {
	logger pslog.Logger

	mu     sync.Mutex
	queues map[string]chan broker.Delivery
	closed bool
}

// Option configures the memory broker.
type Option func(*Broker)

// WithLogger supplies a custom logger.
func WithLogger(logger pslog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New constructs an empty exchange.
func New(opts ...Option) *Broker {
	b := &Broker{
		logger: pslog.NoopLogger(),
		queues: make(map[string]chan broker.Delivery),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = svcfields.WithSubsystem(b.logger, "broker.memory")
	return b
}

func (b *Broker) queue(name string) (chan broker.Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q, ok := b.queues[name]
	if !ok {
		q = make(chan broker.Delivery, queueDepth)
		b.queues[name] = q
		b.logger.Trace("queue declared", "queue", name)
	}
	return q, nil
}

// Publish routes d to the queue bound under routingKey, blocking while the
// queue is full until ctx is done.
func (b *Broker) Publish(ctx context.Context, routingKey string, d broker.Delivery) error {
	q, err := b.queue(routingKey)
	if err != nil {
		return err
	}
	d.RoutingKey = routingKey
	select {
	case q <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe attaches a consumer to queue, declaring it when absent. Multiple
// subscriptions on the same queue compete for deliveries.
func (b *Broker) Subscribe(queue string) (broker.Subscription, error) {
	q, err := b.queue(queue)
	if err != nil {
		return nil, err
	}
	sub := &subscription{
		out:  make(chan broker.Delivery),
		stop: make(chan struct{}),
	}
	go sub.pump(q)
	return sub, nil
}

// DeleteQueue unbinds queue from the exchange. In-flight deliveries on
// existing subscriptions drain normally; new publishes recreate the queue.
func (b *Broker) DeleteQueue(queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, queue)
	return nil
}

// Close marks the broker as shut down. Subsequent publishes and subscribes
// fail with ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.queues = make(map[string]chan broker.Delivery)
	return nil
}

type subscription struct {
	out       chan broker.Delivery
	stop      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) pump(q chan broker.Delivery) {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case d := <-q:
			select {
			case s.out <- d:
			case <-s.stop:
				return
			}
		}
	}
}

// Deliveries returns the subscription's message channel.
func (s *subscription) Deliveries() <-chan broker.Delivery {
	return s.out
}

// Close detaches the consumer. The deliveries channel is closed shortly after.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
