package rpc_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/broker"
	"pkt.systems/farmd/internal/broker/memory"
	"pkt.systems/farmd/internal/farm"
	"pkt.systems/farmd/internal/rpc"
	"pkt.systems/farmd/internal/transport"
)

const testQueue = "farm.submit"

// staleReply builds a syntactically valid reply envelope a real dispatcher
// could have produced for some earlier, abandoned call.
func staleReply(action string) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"action": action,
		"data":   `{"isAccepted":false,"failReason":"stale"}`,
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func newDispatcher(t *testing.T, b broker.Broker, ledger *farm.Ledger) *rpc.Dispatcher {
	t.Helper()
	d := rpc.NewDispatcher(b, testQueue)
	d.Register(api.ActionSubmitFood, submitHandler(ledger, farm.Food))
	d.Register(api.ActionSubmitWater, submitHandler(ledger, farm.Water))
	if err := d.Start(); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func submitHandler(ledger *farm.Ledger, kind farm.Kind) rpc.HandlerFunc {
	return func(_ context.Context, payload []byte) (any, error) {
		var req api.SubmitRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, transport.Failure{Code: "invalid_payload", Detail: err.Error()}
		}
		return ledger.Submit(kind, req.Amount), nil
	}
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()
	ledger := farm.NewLedger(farm.Config{})
	newDispatcher(t, b, ledger)

	c := rpc.NewClient(b, testQueue)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Call(ctx, api.ActionSubmitFood, api.SubmitRequest{Amount: 10})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var result api.SubmitResult
	if err := json.Unmarshal(reply, &result); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !result.IsAccepted {
		t.Fatalf("expected acceptance, got %+v", result)
	}
	if got := ledger.Snapshot().AccumulatedFood; got != 10 {
		t.Fatalf("expected 10 food accumulated, got %v", got)
	}
}

func TestCallIgnoresStaleReplies(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()
	ledger := farm.NewLedger(farm.Config{})
	newDispatcher(t, b, ledger)

	c := rpc.NewClient(b, testQueue)
	defer c.Close()

	// Park stale garbage on the reply queue: a wrong-correlation reply and an
	// undecodable body. Both must be skipped.
	staleBody, err := staleReply(api.ActionSubmitWater + api.ResponseSuffix)
	if err != nil {
		t.Fatalf("build stale reply: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Publish(ctx, c.ReplyQueue(), broker.Delivery{
		CorrelationID: "stale-correlation-id",
		Body:          staleBody,
	}); err != nil {
		t.Fatalf("publish stale reply: %v", err)
	}
	if err := b.Publish(ctx, c.ReplyQueue(), broker.Delivery{
		CorrelationID: "garbage",
		Body:          []byte{0xff, 0xfe, 0x01},
	}); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	reply, err := c.Call(ctx, api.ActionSubmitWater, api.SubmitRequest{Amount: 3})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var result api.SubmitResult
	if err := json.Unmarshal(reply, &result); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if !result.IsAccepted {
		t.Fatalf("expected acceptance, got %+v", result)
	}
}

func TestCallUnknownAction(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()
	ledger := farm.NewLedger(farm.Config{})
	newDispatcher(t, b, ledger)

	c := rpc.NewClient(b, testQueue)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Call(ctx, "SubmitGold", api.SubmitRequest{Amount: 1})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var result api.SubmitResult
	if err := json.Unmarshal(reply, &result); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if result.IsAccepted {
		t.Fatalf("expected rejection, got %+v", result)
	}
	if result.FailReason != "Unknown action: SubmitGold" {
		t.Fatalf("unexpected fail reason: %q", result.FailReason)
	}
}

func TestCallHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()
	// No dispatcher: the call can never be answered.

	c := rpc.NewClient(b, testQueue)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, api.ActionSubmitFood, api.SubmitRequest{Amount: 1})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSendFireAndForget(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()
	ledger := farm.NewLedger(farm.Config{})
	newDispatcher(t, b, ledger)

	c := rpc.NewClient(b, testQueue)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Send(ctx, api.ActionSubmitFood, api.SubmitRequest{Amount: 4}); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ledger.Snapshot().AccumulatedFood != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("ledger never received fire-and-forget submission")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandlerFailureBecomesRejection(t *testing.T) {
	t.Parallel()

	b := memory.New()
	defer b.Close()

	d := rpc.NewDispatcher(b, testQueue)
	d.Register("Explode", func(context.Context, []byte) (any, error) {
		return nil, transport.Failure{Code: "storage_down", Detail: "backend offline"}
	})
	d.Register("Panic", func(context.Context, []byte) (any, error) {
		panic("boom")
	})
	if err := d.Start(); err != nil {
		t.Fatalf("start dispatcher: %v", err)
	}
	defer d.Close()

	c := rpc.NewClient(b, testQueue)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := c.Call(ctx, "Explode", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var result api.SubmitResult
	if err := json.Unmarshal(reply, &result); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if result.IsAccepted || result.FailReason != "storage_down: backend offline" {
		t.Fatalf("unexpected result: %+v", result)
	}

	reply, err = c.Call(ctx, "Panic", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := json.Unmarshal(reply, &result); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if result.IsAccepted || result.FailReason != "Internal error handling Panic" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
