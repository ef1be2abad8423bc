package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pkt.systems/pslog"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/broker"
	"pkt.systems/farmd/internal/correlation"
	"pkt.systems/farmd/internal/svcfields"
	"pkt.systems/farmd/internal/uuidv7"
)

// DefaultReplyQueuePrefix names exclusive per-client reply queues; the client
// identifier is appended.
const DefaultReplyQueuePrefix = "farm.reply."

// ErrReplyChannelClosed indicates the transport went away while a call was
// waiting for its reply.
var ErrReplyChannelClosed = errors.New("rpc: reply subscription closed")

// Client issues synchronous calls over the broker. A single Client is not
// safe for concurrent overlapping calls; give each logical caller its own
// instance or serialize externally. Sequential calls tear down their reply
// subscription before the next call begins, so no cross-call message leakage
// occurs.
type Client struct {
	broker       broker.Broker
	inboundQueue string
	replyQueue   string
	logger       pslog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger supplies a custom logger.
func WithClientLogger(logger pslog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReplyQueue overrides the generated reply queue name.
func WithReplyQueue(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.replyQueue = name
		}
	}
}

// NewClient constructs a client publishing requests to inboundQueue. The
// private reply queue is named from DefaultReplyQueuePrefix plus a fresh
// client identifier.
func NewClient(b broker.Broker, inboundQueue string, opts ...ClientOption) *Client {
	c := &Client{
		broker:       b,
		inboundQueue: inboundQueue,
		replyQueue:   DefaultReplyQueuePrefix + uuidv7.NewString(),
		logger:       pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = svcfields.WithSubsystem(c.logger, "rpc.client").With("reply_queue", c.replyQueue)
	return c
}

// ReplyQueue returns the client's private reply queue name.
func (c *Client) ReplyQueue() string {
	return c.replyQueue
}

// Call publishes an action request and blocks until the matching reply
// arrives, returning the reply payload bytes. There is no internal timeout: a
// call waits as long as ctx allows. Replies whose correlation ID or action do
// not match the outstanding call are ignored; the first match wins and every
// later one is discarded with the subscription.
func (c *Client) Call(ctx context.Context, action string, payload any) ([]byte, error) {
	// Subscribe before publishing so a fast reply cannot race the listener.
	sub, err := c.broker.Subscribe(c.replyQueue)
	if err != nil {
		return nil, fmt.Errorf("rpc: subscribe reply queue: %w", err)
	}
	defer sub.Close()

	corrID := correlation.Generate()
	if err := c.publish(ctx, action, payload, corrID, c.replyQueue); err != nil {
		return nil, err
	}

	wantAction := action + api.ResponseSuffix
	for {
		select {
		case d, ok := <-sub.Deliveries():
			if !ok {
				return nil, ErrReplyChannelClosed
			}
			env, err := unmarshalEnvelope(d.Body)
			if err != nil {
				c.logger.Warn("ignoring undecodable reply", "error", err)
				continue
			}
			if d.CorrelationID != corrID || env.Action != wantAction {
				c.logger.Debug("ignoring stale reply",
					"correlation_id", d.CorrelationID,
					"action", env.Action,
				)
				continue
			}
			return []byte(env.Data), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Send publishes an action request without expecting a reply.
func (c *Client) Send(ctx context.Context, action string, payload any) error {
	return c.publish(ctx, action, payload, correlation.Generate(), "")
}

func (c *Client) publish(ctx context.Context, action string, payload any, corrID, replyTo string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rpc: encode %s payload: %w", action, err)
	}
	body, err := marshalEnvelope(Envelope{Action: action, Data: string(data)})
	if err != nil {
		return err
	}
	err = c.broker.Publish(ctx, c.inboundQueue, broker.Delivery{
		CorrelationID: corrID,
		ReplyTo:       replyTo,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("rpc: publish %s: %w", action, err)
	}
	c.logger.Trace("request published", "action", action, "correlation_id", corrID)
	return nil
}

// Close releases the client's reply queue.
func (c *Client) Close() error {
	return c.broker.DeleteQueue(c.replyQueue)
}
