package transport

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToGRPC maps a Failure to a gRPC status so a generated gRPC front-end can
// surface adapter failures without knowing farmd internals.
func ToGRPC(err error) error {
	var failure Failure
	if !errors.As(err, &failure) {
		return err
	}
	code := codes.InvalidArgument
	switch failure.HTTPStatus {
	case 0, 400:
		code = codes.InvalidArgument
	case 404:
		code = codes.NotFound
	case 500:
		code = codes.Internal
	case 503:
		code = codes.Unavailable
	}
	msg := failure.Code
	if failure.Detail != "" {
		msg += ": " + failure.Detail
	}
	return status.New(code, msg).Err()
}
