package transport_test

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pkt.systems/farmd/internal/transport"
)

func TestFailureError(t *testing.T) {
	t.Parallel()

	f := transport.Failure{Code: "invalid_payload", Detail: "amount missing"}
	if got := f.Error(); got != "invalid_payload: amount missing" {
		t.Fatalf("unexpected error string: %q", got)
	}
	if got := (transport.Failure{Code: "internal"}).Error(); got != "internal" {
		t.Fatalf("unexpected error string: %q", got)
	}
}

func TestToGRPCMapsStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		httpStatus int
		want       codes.Code
	}{
		{0, codes.InvalidArgument},
		{400, codes.InvalidArgument},
		{404, codes.NotFound},
		{500, codes.Internal},
		{503, codes.Unavailable},
	}
	for _, tc := range cases {
		err := transport.ToGRPC(transport.Failure{Code: "x", HTTPStatus: tc.httpStatus})
		st, ok := status.FromError(err)
		if !ok {
			t.Fatalf("expected gRPC status for http %d", tc.httpStatus)
		}
		if st.Code() != tc.want {
			t.Fatalf("http %d: expected %v, got %v", tc.httpStatus, tc.want, st.Code())
		}
	}
}

func TestToGRPCPassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	plain := fmt.Errorf("boom")
	if got := transport.ToGRPC(plain); !errors.Is(got, plain) {
		t.Fatalf("expected passthrough, got %v", got)
	}
	wrapped := fmt.Errorf("outer: %w", transport.Failure{Code: "inner", HTTPStatus: 404})
	st, ok := status.FromError(transport.ToGRPC(wrapped))
	if !ok || st.Code() != codes.NotFound {
		t.Fatalf("expected wrapped failure to map, got %v", st)
	}
}
