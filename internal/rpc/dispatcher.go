package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/pslog"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/broker"
	"pkt.systems/farmd/internal/correlation"
	"pkt.systems/farmd/internal/svcfields"
	"pkt.systems/farmd/internal/transport"
)

// HandlerFunc processes one request payload and returns the reply value. The
// returned value is JSON-encoded into the reply envelope. Errors become
// rejection replies; business rejections should instead return a result with
// IsAccepted=false.
type HandlerFunc func(ctx context.Context, payload []byte) (any, error)

// Dispatcher consumes the shared inbound queue, routes each message to its
// registered action handler and publishes the correlated reply to the
// requester's private queue. Each delivery is handled on its own goroutine so
// a slow handler never blocks the queue.
type Dispatcher struct {
	broker   broker.Broker
	queue    string
	logger   pslog.Logger
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	sub      broker.Subscription
	wg       sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger supplies a custom logger.
func WithDispatcherLogger(logger pslog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher consuming from queue. Register
// handlers before calling Start.
func NewDispatcher(b broker.Broker, queue string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		broker:   b,
		queue:    queue,
		logger:   pslog.NoopLogger(),
		handlers: make(map[string]HandlerFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = svcfields.WithSubsystem(d.logger, "rpc.dispatcher").With("queue", queue)
	return d
}

// Register binds an action name to its handler. Registering after Start is
// allowed but racing registrations against in-flight deliveries is the
// caller's problem.
func (d *Dispatcher) Register(action string, fn HandlerFunc) {
	d.mu.Lock()
	d.handlers[action] = fn
	d.mu.Unlock()
}

// Start subscribes to the inbound queue and begins dispatching. It returns
// once the subscription is established; deliveries are processed in the
// background until Close.
func (d *Dispatcher) Start() error {
	sub, err := d.broker.Subscribe(d.queue)
	if err != nil {
		return fmt.Errorf("rpc: subscribe %s: %w", d.queue, err)
	}
	d.sub = sub
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for delivery := range sub.Deliveries() {
			delivery := delivery
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.handle(delivery)
			}()
		}
	}()
	d.logger.Info("dispatcher started")
	return nil
}

// Close stops consuming and waits for in-flight handlers to finish.
func (d *Dispatcher) Close() error {
	if d.sub != nil {
		d.sub.Close()
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) handle(delivery broker.Delivery) {
	env, err := unmarshalEnvelope(delivery.Body)
	if err != nil {
		// Nothing to correlate a reply with; drop it.
		d.logger.Warn("dropping undecodable request",
			"correlation_id", delivery.CorrelationID,
			"error", err,
		)
		return
	}

	logger := d.logger.With(
		"action", env.Action,
		"correlation_id", delivery.CorrelationID,
	)
	ctx := correlation.Set(context.Background(), delivery.CorrelationID)

	result := d.invoke(ctx, env, logger)

	if delivery.ReplyTo == "" {
		logger.Trace("fire-and-forget request, no reply published")
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		logger.Error("encode reply", "error", err)
		return
	}
	body, err := marshalEnvelope(Envelope{
		Action: env.Action + api.ResponseSuffix,
		Data:   string(data),
	})
	if err != nil {
		logger.Error("encode reply envelope", "error", err)
		return
	}
	err = d.broker.Publish(ctx, delivery.ReplyTo, broker.Delivery{
		CorrelationID: delivery.CorrelationID,
		Body:          body,
	})
	if err != nil {
		logger.Warn("publish reply", "reply_to", delivery.ReplyTo, "error", err)
		return
	}
	logger.Trace("reply published", "reply_to", delivery.ReplyTo)
}

// invoke runs the action handler with panic containment. Whatever goes wrong,
// the caller still gets a reply value.
func (d *Dispatcher) invoke(ctx context.Context, env Envelope, logger pslog.Logger) (result any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panic", "panic", r)
			result = api.SubmitResult{
				IsAccepted: false,
				FailReason: fmt.Sprintf("Internal error handling %s", env.Action),
			}
		}
	}()

	d.mu.Lock()
	fn, ok := d.handlers[env.Action]
	d.mu.Unlock()
	if !ok {
		logger.Warn("unknown action")
		return api.SubmitResult{
			IsAccepted: false,
			FailReason: "Unknown action: " + env.Action,
		}
	}

	value, err := fn(ctx, []byte(env.Data))
	if err != nil {
		logger.Warn("handler failed", "error", err)
		reason := "Internal error handling " + env.Action
		var failure transport.Failure
		if errors.As(err, &failure) {
			reason = failure.Error()
		}
		return api.SubmitResult{IsAccepted: false, FailReason: reason}
	}
	return value
}
