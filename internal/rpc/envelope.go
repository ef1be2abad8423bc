// Package rpc layers synchronous request/reply semantics over the async
// broker transport: correlation IDs pair requests with replies, and each
// client blocks on its own exclusive reply queue.
package rpc

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope is the wire-level message for both requests and replies. Data
// carries the JSON-encoded action payload; replies use the request action
// suffixed with api.ResponseSuffix.
type Envelope struct {
	Action string
	Data   string
}

func marshalEnvelope(env Envelope) ([]byte, error) {
	msg, err := structpb.NewStruct(map[string]any{
		"action": env.Action,
		"data":   env.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("rpc: encode envelope: %w", err)
	}
	return proto.Marshal(msg)
}

func unmarshalEnvelope(payload []byte) (Envelope, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return Envelope{}, fmt.Errorf("rpc: decode envelope protobuf: %w", err)
	}
	fields := msg.GetFields()
	env := Envelope{
		Action: fields["action"].GetStringValue(),
		Data:   fields["data"].GetStringValue(),
	}
	if env.Action == "" {
		return Envelope{}, errors.New("rpc: envelope missing action")
	}
	return env, nil
}
